// Package service runs the ingest pipeline.
//
// A Pipeline moves one document through every step:
//
//	document bytes -> handler.Delegate -> record.Record -> ingest.Request
//	              -> ingest.Chain -> storage.Sink
//
// Synchronous entry points are IngestDocument, Update, Delete and
// IngestBatch. Start launches a worker pool so jobs can be queued with
// Submit and their results observed through WithResultHandler.
//
// Build assembles a Runtime from a config.Config: schema registry, handler
// factories, stage chain, storage backend and pipeline.
package service
