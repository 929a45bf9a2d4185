// Package config loads the metaingest configuration.
//
// Configuration starts from Default and is overlaid by JSON or YAML files,
// then by METAINGEST_* environment variables:
//
//	loader := config.NewLoader()
//	loader.AddLayer("metaingest.yaml")
//	cfg, err := loader.Load()
//
// A minimal YAML layer:
//
//	schema:
//	  path: taxonomy.yaml
//	storage:
//	  backend: badger
//	  badger:
//	    dir: /var/lib/metaingest
//	pipeline:
//	  workers: 8
//	  timeout: 10s
//	stages:
//	  - type: property
//	    config: {source: harbor-feed}
//	  - type: duplicate
//	    config: {ttl: 1h}
//	  - type: validator
//
// Durations are strings such as "30s" or "14d". Lists replace the default
// list; objects merge field by field.
//
// Environment overrides:
//
//	METAINGEST_SCHEMA_PATH, METAINGEST_STORAGE_BACKEND, METAINGEST_STORAGE_KEY_PREFIX,
//	METAINGEST_BADGER_DIR, METAINGEST_NATS_URL, METAINGEST_NATS_TLS_ENABLED,
//	METAINGEST_NATS_USERNAME,
//	METAINGEST_NATS_PASSWORD, METAINGEST_NATS_TOKEN, METAINGEST_NATSKV_BUCKET,
//	METAINGEST_PIPELINE_WORKERS, METAINGEST_PIPELINE_QUEUE_SIZE,
//	METAINGEST_PIPELINE_TIMEOUT, METAINGEST_METRICS_ENABLED,
//	METAINGEST_METRICS_PORT, METAINGEST_LOG_LEVEL, METAINGEST_LOG_FORMAT
//
// SafeConfig wraps a Config for concurrent readers; Update validates before
// swapping.
package config
