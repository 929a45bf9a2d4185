// Package metric wraps a Prometheus registry for metaingest components.
//
// Components build their own collectors (see ingest/metrics.go and
// service/metrics.go) and register them through MetricsRegistry, which rejects
// duplicate (service, metric) pairs. Every component treats a nil registry as
// "metrics disabled".
//
// Server exposes the registry on /metrics together with a /health probe.
package metric
