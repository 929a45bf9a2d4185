// Package storage persists accepted ingest requests.
//
// A RecordSink turns each request into a backend operation: create and
// update write a StoredRecord envelope under the record id, delete removes
// it. The envelope keeps the request's trace id and properties next to the
// record:
//
//	{
//	  "id": "r-1",
//	  "trace_id": "...",
//	  "stored_at": "2025-03-01T08:00:00Z",
//	  "properties": {"source": "harbor-feed"},
//	  "record": {"id": "r-1", "schema": "core", "attributes": {...}}
//	}
//
// Backends are pluggable. Memory ships here; natskv and badgerstore provide
// JetStream KV and Badger implementations.
//
//	sink := storage.NewRecordSink(storage.NewMemory(),
//		storage.WithKeys(storage.PrefixKeys("records.")),
//		storage.WithMetrics(registry, "memory"),
//	)
//	if err := sink.Store(ctx, req); err != nil { ... }
//	stored, err := sink.Load(ctx, "r-1", schema)
package storage
