package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metaingest/metric"
)

// Pool runs a fixed number of workers over a bounded queue of T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)
	logger    *slog.Logger

	workChan chan T
	wg       sync.WaitGroup
	busy     atomic.Int64

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsName     string
	metrics         *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	busy       prometheus.Gauge
	items      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under the given name, which
// becomes the metric subsystem ("metaingest_<name>_queue_depth").
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsName = name
	}
}

// WithErrorHandler is called with every item whose processing failed.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// WithLogger sets the pool logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool. Non-positive workers or queueSize take defaults
// of 4 and 256. It panics when processor is nil.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metricsRegistry != nil && p.metricsName != "" {
		if err := p.initMetrics(); err != nil {
			p.logger.Warn("Worker pool metrics disabled", "pool", p.metricsName, "error", err)
		}
	}
	return p
}

func (p *Pool[T]) initMetrics() error {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: p.metricsName,
			Name: "queue_depth", Help: "Items waiting in the queue",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: p.metricsName,
			Name: "busy_workers", Help: "Workers currently processing an item",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: p.metricsName,
			Name: "items_total", Help: "Items by result: submitted, processed, failed or dropped",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: p.metricsName,
			Name: "processing_duration_seconds", Help: "Time spent processing one item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"status"}),
	}

	service := "worker_" + p.metricsName
	registered := []string{}
	rollback := func(err error) error {
		for _, name := range registered {
			p.metricsRegistry.Unregister(service, name)
		}
		return err
	}
	for name, c := range map[string]prometheus.Collector{
		"queue_depth":                 m.queueDepth,
		"busy_workers":                m.busy,
		"items_total":                 m.items,
		"processing_duration_seconds": m.duration,
	} {
		var err error
		switch c := c.(type) {
		case prometheus.Gauge:
			err = p.metricsRegistry.RegisterGauge(service, name, c)
		case *prometheus.CounterVec:
			err = p.metricsRegistry.RegisterCounterVec(service, name, c)
		case *prometheus.HistogramVec:
			err = p.metricsRegistry.RegisterHistogramVec(service, name, c)
		}
		if err != nil {
			return rollback(err)
		}
		registered = append(registered, name)
	}
	p.metrics = m
	return nil
}

func (p *Pool[T]) count(result string) {
	if p.metrics != nil {
		p.metrics.items.WithLabelValues(result).Inc()
	}
}

// Submit queues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()
	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.count("submitted")
		return nil
	default:
		p.dropped.Add(1)
		p.count("dropped")
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for queue space until ctx is done.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()
	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.count("submitted")
		return nil
	case <-ctx.Done():
		p.dropped.Add(1)
		p.count("dropped")
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	}
}

func (p *Pool[T]) accepting() error {
	switch {
	case p.stopped:
		return ErrPoolStopped
	case !p.started:
		return ErrPoolNotStarted
	}
	return nil
}

// Start launches the workers. Workers exit when ctx is cancelled or the
// pool is stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	p.logger.Debug("Worker pool started", "workers", p.workers, "queue_size", p.queueSize)
	return nil
}

// Stop closes the queue and waits until queued work drains or ctx is done.
// It is safe to call more than once.
func (p *Pool[T]) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("Worker pool stopped", "processed", p.processed.Load(), "failed", p.failed.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busy.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
	start := time.Now()
	err := p.process(ctx, work)
	elapsed := time.Since(start)
	p.busy.Add(-1)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
		if p.onError != nil {
			p.onError(work, err)
		}
	}
	if p.metrics != nil {
		p.metrics.busy.Dec()
		p.metrics.items.WithLabelValues("processed").Inc()
		if err != nil {
			p.metrics.items.WithLabelValues("failed").Inc()
		}
		p.metrics.duration.WithLabelValues(status).Observe(elapsed.Seconds())
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()
	return p.processor(ctx, work)
}
