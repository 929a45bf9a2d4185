package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/metric"
)

// Request outcomes as reported in metrics and logs.
const (
	resultStored   = "stored"
	resultVetoed   = "vetoed"
	resultRejected = "rejected"
	resultFailed   = "failed"
	resultTimeout  = "timeout"
)

type pipelineMetrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	abandoned prometheus.Counter
}

func newPipelineMetrics(registry *metric.MetricsRegistry) (*pipelineMetrics, error) {
	m := &pipelineMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Ingest requests by kind and result",
		}, []string{"kind", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "request_duration_seconds",
			Help:      "Time from chain start to stored request",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "abandoned_chains_total",
			Help:      "Chain runs left running after the ingest timeout",
		}),
	}
	if err := registry.RegisterCounterVec("pipeline", "requests_total", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("pipeline", "request_duration_seconds", m.duration); err != nil {
		registry.Unregister("pipeline", "requests_total")
		return nil, err
	}
	if err := registry.RegisterCounter("pipeline", "abandoned_chains_total", m.abandoned); err != nil {
		registry.Unregister("pipeline", "requests_total")
		registry.Unregister("pipeline", "request_duration_seconds")
		return nil, err
	}
	return m, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultStored
	case errors.Is(err, errors.ErrVetoed):
		return resultVetoed
	case errors.Is(err, errors.ErrIngestTimeout):
		return resultTimeout
	case errors.IsInvalid(err):
		return resultRejected
	default:
		return resultFailed
	}
}

func (m *pipelineMetrics) observe(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, resultOf(err)).Inc()
	if err == nil {
		m.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (m *pipelineMetrics) abandon() {
	if m != nil {
		m.abandoned.Inc()
	}
}
