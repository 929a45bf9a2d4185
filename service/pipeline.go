package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/handler"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/pkg/worker"
	"github.com/c360/metaingest/record"
	"github.com/c360/metaingest/schema"
	"github.com/c360/metaingest/storage"
)

const idAttribute = "id"

// Pipeline turns documents into records, runs them through the ingest chain
// and hands accepted requests to a sink.
//
// Each chain run is bounded by the pipeline timeout. A run that exceeds it
// is abandoned, not interrupted: the caller gets ErrIngestTimeout while the
// stalled stage keeps its goroutine until it returns.
type Pipeline struct {
	schemas  *schema.Registry
	delegate *handler.Delegate
	chain    *ingest.Chain
	sink     storage.Sink

	timeout          time.Duration
	workers          int
	queueSize        int
	batchConcurrency int
	limiter          *rate.Limiter

	logger          *slog.Logger
	metricsRegistry *metric.MetricsRegistry
	metrics         *pipelineMetrics
	onResult        func(Result)

	mu     sync.Mutex
	status atomic.Int32
	pool   *worker.Pool[Job]
}

// Job is a unit of asynchronous work submitted to a running pipeline.
type Job struct {
	Kind     ingest.Kind
	ID       string // required for update and delete
	Document []byte // unused for delete
}

// Result reports the outcome of one batch item or job.
type Result struct {
	Index   int
	Job     Job
	Request *ingest.Request
	Err     error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds each chain run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithWorkers sizes the asynchronous worker pool.
func WithWorkers(workers, queueSize int) Option {
	return func(p *Pipeline) { p.workers, p.queueSize = workers, queueSize }
}

// WithBatchConcurrency limits concurrent items in IngestBatch.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) { p.batchConcurrency = n }
}

// WithRateLimit admits at most perSecond requests per second with bursts of
// burst. A non-positive perSecond disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pipeline) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics registers pipeline and worker pool metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) { p.metricsRegistry = registry }
}

// WithResultHandler receives the result of every submitted job.
func WithResultHandler(fn func(Result)) Option {
	return func(p *Pipeline) { p.onResult = fn }
}

// NewPipeline wires the collaborators. The schema registry must hold a
// schema before documents are transformed.
func NewPipeline(schemas *schema.Registry, delegate *handler.Delegate, chain *ingest.Chain, sink storage.Sink, opts ...Option) (*Pipeline, error) {
	if schemas == nil || delegate == nil || chain == nil || sink == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: pipeline needs schemas, delegate, chain and sink", errors.ErrMissingConfig),
			"Pipeline", "NewPipeline", "validate collaborators")
	}
	p := &Pipeline{
		schemas:          schemas,
		delegate:         delegate,
		chain:            chain,
		sink:             sink,
		timeout:          30 * time.Second,
		workers:          4,
		queueSize:        256,
		batchConcurrency: 8,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.metricsRegistry != nil {
		m, err := newPipelineMetrics(p.metricsRegistry)
		if err != nil {
			return nil, errors.WrapFatal(err, "Pipeline", "NewPipeline", "register metrics")
		}
		p.metrics = m
	}
	return p, nil
}

// Schemas returns the registry documents are transformed against.
func (p *Pipeline) Schemas() *schema.Registry { return p.schemas }

// Transform parses one document into a record bound to the current schema.
func (p *Pipeline) Transform(ctx context.Context, r io.Reader) (*record.Record, error) {
	s := p.schemas.Current()
	if s == nil {
		return nil, errors.WrapFatal(errors.ErrSchemaNotLoaded, "Pipeline", "Transform", "resolve schema")
	}
	return p.delegate.TransformDocument(ctx, r, s)
}

// Ingest runs req through the chain and stores the result. The returned
// request is what the sink received, or on veto the request as it stood
// before the vetoing stage.
func (p *Pipeline) Ingest(ctx context.Context, req *ingest.Request) (out *ingest.Request, err error) {
	if req == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "Pipeline", "Ingest", "ingest nil request")
	}
	start := time.Now()
	defer func() {
		p.metrics.observe(req.Kind().String(), start, err)
		p.logResult(req, err)
	}()

	if p.limiter != nil {
		if err = p.limiter.Wait(ctx); err != nil {
			return nil, errors.WrapTransient(err, "Pipeline", "Ingest", "wait for rate limit")
		}
	}

	out, err = p.runChain(ctx, req)
	if err != nil {
		return out, err
	}
	if err := p.sink.Store(ctx, out); err != nil {
		return out, errors.Wrap(err, "Pipeline", "Ingest", "store request")
	}
	return out, nil
}

func (p *Pipeline) logResult(req *ingest.Request, err error) {
	attrs := []any{"id", req.ID(), "kind", req.Kind(), "trace_id", req.TraceID(), "result", resultOf(err)}
	switch {
	case err == nil:
		p.logger.Debug("Request stored", attrs...)
	case errors.IsInvalid(err):
		if stage, ok := ingest.FailedStage(err); ok {
			attrs = append(attrs, "stage", stage)
		}
		p.logger.Info("Request rejected", append(attrs, "error", err)...)
	default:
		if component, operation := errors.Origin(err); component != "" {
			attrs = append(attrs, "component", component, "operation", operation)
		}
		p.logger.Warn("Request failed", append(attrs, "error", err)...)
	}
}

type chainOutcome struct {
	req *ingest.Request
	err error
}

func (p *Pipeline) runChain(ctx context.Context, req *ingest.Request) (*ingest.Request, error) {
	if p.timeout <= 0 {
		return p.chain.Run(ctx, req)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan chainOutcome, 1)
	go func() {
		out, err := p.chain.Run(runCtx, req)
		done <- chainOutcome{out, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) &&
			errors.Is(o.err, context.DeadlineExceeded) {
			return nil, p.timedOut(req)
		}
		return o.req, o.err
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapTransient(err, "Pipeline", "Ingest", "run chain")
		}
		p.metrics.abandon()
		return nil, p.timedOut(req)
	}
}

func (p *Pipeline) timedOut(req *ingest.Request) error {
	return errors.WrapTransient(fmt.Errorf("%w: request %s after %s", errors.ErrIngestTimeout, req.ID(), p.timeout),
		"Pipeline", "Ingest", "run chain")
}

// IngestDocument transforms a document and ingests it as a create. The
// record is stored under its "id" attribute when the document carries one.
func (p *Pipeline) IngestDocument(ctx context.Context, r io.Reader) (*ingest.Request, error) {
	rec, err := p.Transform(ctx, r)
	if err != nil {
		return nil, err
	}
	if rec.ID() == "" {
		if v, ok := rec.First(idAttribute); ok {
			if id, ok := v.AsString(); ok && id != "" {
				rec.SetID(id)
			}
		}
	}
	return p.Ingest(ctx, ingest.NewCreate(rec))
}

// Update transforms a document and ingests it as an update of id.
func (p *Pipeline) Update(ctx context.Context, id string, r io.Reader) (*ingest.Request, error) {
	rec, err := p.Transform(ctx, r)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, ingest.NewUpdate(id, rec))
}

// Delete ingests a delete of id.
func (p *Pipeline) Delete(ctx context.Context, id string) (*ingest.Request, error) {
	return p.Ingest(ctx, ingest.NewDelete(id))
}

// IngestBatch ingests documents concurrently as creates. Results are in
// input order; one failing document does not stop the others.
func (p *Pipeline) IngestBatch(ctx context.Context, docs []io.Reader) []Result {
	results := make([]Result, len(docs))
	var g errgroup.Group
	if p.batchConcurrency > 0 {
		g.SetLimit(p.batchConcurrency)
	}
	for i, doc := range docs {
		g.Go(func() error {
			req, err := p.IngestDocument(ctx, doc)
			results[i] = Result{Index: i, Request: req, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Process runs one job synchronously.
func (p *Pipeline) Process(ctx context.Context, job Job) (*ingest.Request, error) {
	switch job.Kind {
	case ingest.KindCreate:
		return p.IngestDocument(ctx, bytes.NewReader(job.Document))
	case ingest.KindUpdate:
		return p.Update(ctx, job.ID, bytes.NewReader(job.Document))
	case ingest.KindDelete:
		return p.Delete(ctx, job.ID)
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown job kind %s", errors.ErrInvalidRequest, job.Kind),
			"Pipeline", "Process", "dispatch job")
	}
}

// Status returns the worker pool state.
func (p *Pipeline) Status() Status { return Status(p.status.Load()) }

// Start launches the worker pool serving Submit.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status() != StatusStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Start", "check status")
	}
	p.status.Store(int32(StatusStarting))

	opts := []worker.Option[Job]{worker.WithLogger[Job](p.logger)}
	if p.metricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[Job](p.metricsRegistry, "ingest_pool"))
	}
	pool := worker.NewPool(p.workers, p.queueSize, p.runJob, opts...)
	if err := pool.Start(ctx); err != nil {
		p.status.Store(int32(StatusStopped))
		return errors.Wrap(err, "Pipeline", "Start", "start worker pool")
	}
	p.pool = pool
	p.status.Store(int32(StatusRunning))
	p.logger.Info("Pipeline started", "workers", p.workers, "queue_size", p.queueSize, "timeout", p.timeout)
	return nil
}

func (p *Pipeline) runJob(ctx context.Context, job Job) error {
	req, err := p.Process(ctx, job)
	if p.onResult != nil {
		p.onResult(Result{Job: job, Request: req, Err: err})
	}
	return err
}

// Submit queues a job, waiting for queue space until ctx is done.
func (p *Pipeline) Submit(ctx context.Context, job Job) error {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil || p.Status() != StatusRunning {
		return errors.WrapInvalid(errors.ErrNotStarted, "Pipeline", "Submit", "check status")
	}
	if err := pool.SubmitWait(ctx, job); err != nil {
		return errors.WrapTransient(err, "Pipeline", "Submit", "queue job")
	}
	return nil
}

// Stats returns counters of the current or last worker pool; zero before
// Start.
func (p *Pipeline) Stats() worker.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return worker.PoolStats{}
	}
	return p.pool.Stats()
}

// Stop drains queued jobs and stops the workers.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status() != StatusRunning {
		return nil
	}
	p.status.Store(int32(StatusStopping))
	err := p.pool.Stop(ctx)
	stats := p.pool.Stats()
	p.status.Store(int32(StatusStopped))
	p.logger.Info("Pipeline stopped", "processed", stats.Processed, "failed", stats.Failed)
	if err != nil {
		return errors.WrapTransient(err, "Pipeline", "Stop", "drain worker pool")
	}
	return nil
}
