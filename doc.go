// Package metaingest ingests structured metadata documents into
// schema-governed records.
//
// # Architecture
//
// A document passes through three layers before it is stored:
//
//	┌─────────────────────────────────────┐
//	│        Parse (document, handler)    │  XML events → Delegate
//	│   handlers claim elements by path   │  → attribute values
//	└─────────────────────────────────────┘
//	           ↓ builds
//	┌─────────────────────────────────────┐
//	│        Record (record, schema)      │  Typed attributes checked
//	│   type, multiplicity, conflicts     │  against the loaded Schema
//	└─────────────────────────────────────┘
//	           ↓ wrapped in a Request
//	┌─────────────────────────────────────┐
//	│        Chain (ingest, plugin)       │  Ordered stages: continue,
//	│   validators, extraction, dedupe    │  veto or fail
//	└─────────────────────────────────────┘
//	           ↓ accepted requests
//	┌─────────────────────────────────────┐
//	│        Sink (storage)               │  memory, NATS KV, Badger
//	└─────────────────────────────────────┘
//
// service.Build assembles the whole pipeline from a config.Config and
// returns a Runtime with its health monitor and metrics registry.
//
// # Packages
//
// Core:
//   - record: Schema, AttributeDefinition, Value and the dynamic Record
//   - schema: schema definition files (YAML or JSON) and the Registry
//   - document: parse events plus the reference XML reader and encoder
//   - handler: element handlers (text, GML geometry, metadata) and the Delegate
//   - validator: Checkers and attribute Validators
//   - ingest: Request kinds, Stage, Outcome and the Chain
//   - plugin: built-in stages and the stage Registry
//   - storage: RecordSink with memory, natskv and badgerstore backends
//   - service: Pipeline, worker pool integration and Build
//
// Infrastructure:
//   - config: layered JSON/YAML configuration with env overrides
//   - errors: classified errors (transient, invalid, fatal)
//   - metric: Prometheus registry and metrics HTTP server
//   - health: component health checks behind /health
//   - natsclient: NATS connection with circuit breaker and KV helpers
//   - pkg/retry, pkg/worker, pkg/tlsutil: retry, worker pool and TLS helpers
//
// # Binary
//
// cmd/metaingest is the command line front end:
//
//	metaingest --config metaingest.yaml ingest docs/*.xml
//	metaingest records list
//	metaingest schema validate schema/taxonomy.yaml
package metaingest
