package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/record"
)

// RecordSink stores requests in a Backend.
//
// A create fails with ErrAlreadyExists when the id is taken, an update or
// delete of an unknown id fails with ErrNotFound. The existence check and
// the write are separate backend calls, so concurrent writers of the same id
// race; the last write wins.
type RecordSink struct {
	backend Backend
	keys    KeyFunc
	logger  *slog.Logger
	clock   func() time.Time
	metrics *sinkMetrics
}

// SinkOption configures a RecordSink.
type SinkOption func(*RecordSink) error

func WithKeys(fn KeyFunc) SinkOption {
	return func(s *RecordSink) error {
		if fn == nil {
			return fmt.Errorf("nil key function")
		}
		s.keys = fn
		return nil
	}
}

func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *RecordSink) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

func WithClock(clock func() time.Time) SinkOption {
	return func(s *RecordSink) error {
		if clock != nil {
			s.clock = clock
		}
		return nil
	}
}

// WithMetrics registers operation counters and latencies labelled with the
// backend name.
func WithMetrics(registry *metric.MetricsRegistry, backend string) SinkOption {
	return func(s *RecordSink) error {
		if registry == nil {
			return nil
		}
		m, err := newSinkMetrics(registry, backend)
		if err != nil {
			return err
		}
		s.metrics = m
		return nil
	}
}

// NewRecordSink returns a sink over backend. Keys default to the record id.
func NewRecordSink(backend Backend, opts ...SinkOption) (*RecordSink, error) {
	if backend == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: nil backend", errors.ErrInvalidConfig),
			"RecordSink", "NewRecordSink", "validate backend")
	}
	s := &RecordSink{
		backend: backend,
		keys:    PrefixKeys(""),
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.WrapFatal(err, "RecordSink", "NewRecordSink", "apply option")
		}
	}
	return s, nil
}

// Store applies req to the backend.
func (s *RecordSink) Store(ctx context.Context, req *ingest.Request) (err error) {
	if req == nil {
		return errors.WrapInvalid(errors.ErrInvalidRequest, "RecordSink", "Store", "store nil request")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.metrics.observe(req.Kind().String(), start, err) }()

	key := s.keys(req.ID())
	switch req.Kind() {
	case ingest.KindCreate:
		exists, err := s.exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return errors.WrapInvalid(fmt.Errorf("%w: record %s", errors.ErrAlreadyExists, req.ID()),
				"RecordSink", "Store", "create record")
		}
		return s.put(ctx, key, req)
	case ingest.KindUpdate:
		if err := s.mustExist(ctx, key, req.ID(), "update record"); err != nil {
			return err
		}
		return s.put(ctx, key, req)
	default:
		if err := s.mustExist(ctx, key, req.ID(), "delete record"); err != nil {
			return err
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "RecordSink", "Store", "delete record")
		}
		s.logger.Debug("Record deleted", "id", req.ID(), "trace_id", req.TraceID())
		return nil
	}
}

func (s *RecordSink) put(ctx context.Context, key string, req *ingest.Request) error {
	data, err := Encode(req, s.clock())
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return errors.Wrap(err, "RecordSink", "Store", "write record")
	}
	s.logger.Debug("Record stored", "id", req.ID(), "kind", req.Kind(), "trace_id", req.TraceID(), "bytes", len(data))
	return nil
}

func (s *RecordSink) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errors.ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrap(err, "RecordSink", "Store", "check record")
	}
}

func (s *RecordSink) mustExist(ctx context.Context, key, id, action string) error {
	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return errors.WrapInvalid(fmt.Errorf("%w: record %s", errors.ErrNotFound, id), "RecordSink", "Store", action)
	}
	return nil
}

// Load reads the stored record with the given id, binding it to sch.
func (s *RecordSink) Load(ctx context.Context, id string, sch *record.Schema) (*StoredRecord, error) {
	data, err := s.backend.Get(ctx, s.keys(id))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.WrapInvalid(err, "RecordSink", "Load", "read record")
		}
		return nil, errors.Wrap(err, "RecordSink", "Load", "read record")
	}
	return Decode(data, sch)
}

// Ping checks the backend when it implements Pinger.
func (s *RecordSink) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// IDs lists the ids of stored records.
func (s *RecordSink) IDs(ctx context.Context) ([]string, error) {
	prefix := s.keys("")
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "RecordSink", "IDs", "list keys")
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(prefix):]
	}
	return ids, nil
}

type sinkMetrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newSinkMetrics(registry *metric.MetricsRegistry, backend string) (*sinkMetrics, error) {
	m := &sinkMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "storage",
			Name:        "operations_total",
			Help:        "Sink operations by request kind and result",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"kind", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "storage",
			Name:        "operation_duration_seconds",
			Help:        "Sink operation latency",
			ConstLabels: prometheus.Labels{"backend": backend},
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}),
	}
	service := "storage_" + backend
	if err := registry.RegisterCounterVec(service, "operations_total", m.ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "operation_duration_seconds", m.duration); err != nil {
		registry.Unregister(service, "operations_total")
		return nil, err
	}
	return m, nil
}

func (m *sinkMetrics) observe(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case err == nil:
	case errors.IsInvalid(err):
		result = "rejected"
	default:
		result = "error"
	}
	m.ops.WithLabelValues(kind, result).Inc()
	m.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
