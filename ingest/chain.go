package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/metric"
)

// Chain runs stages over a request strictly in order.
//
// The chain imposes no timeout and never retries. A stage that blocks stalls
// only the Run call processing its request; callers needing bounded latency
// wrap Run themselves. Stages holding shared state do their own locking.
type Chain struct {
	stages  []Stage
	logger  *slog.Logger
	metrics *chainMetrics
}

type chainMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func (m *chainMetrics) observe(stage string, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(stage, outcome).Inc()
	m.duration.WithLabelValues(stage).Observe(d.Seconds())
}

// ChainOption configures a Chain.
type ChainOption func(*Chain) error

// WithChainLogger sets the logger used for per-stage debug logs.
func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithChainMetrics registers stage outcome and duration metrics.
func WithChainMetrics(registry *metric.MetricsRegistry) ChainOption {
	return func(c *Chain) error {
		if registry == nil {
			return nil
		}
		m := &chainMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: "ingest",
				Name:      "stage_results_total",
				Help:      "Stage results by stage and outcome",
			}, []string{"stage", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metric.Namespace,
				Subsystem: "ingest",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each stage",
				Buckets:   prometheus.DefBuckets,
			}, []string{"stage"}),
		}
		if err := registry.RegisterCounterVec("ingest", "stage_results_total", m.outcomes); err != nil {
			return err
		}
		if err := registry.RegisterHistogramVec("ingest", "stage_duration_seconds", m.duration); err != nil {
			registry.Unregister("ingest", "stage_results_total")
			return err
		}
		c.metrics = m
		return nil
	}
}

// NewChain builds a chain over stages in the given order. Stage names must
// be non-empty and unique.
func NewChain(stages []Stage, opts ...ChainOption) (*Chain, error) {
	seen := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: stage %d is nil", errors.ErrInvalidConfig, i),
				"Chain", "NewChain", "check stages")
		}
		name := s.Name()
		if name == "" {
			return nil, errors.WrapFatal(fmt.Errorf("%w: stage %d has no name", errors.ErrInvalidConfig, i),
				"Chain", "NewChain", "check stages")
		}
		if _, dup := seen[name]; dup {
			return nil, errors.WrapFatal(fmt.Errorf("%w: duplicate stage %q", errors.ErrInvalidConfig, name),
				"Chain", "NewChain", "check stages")
		}
		seen[name] = struct{}{}
	}

	c := &Chain{stages: slices.Clone(stages), logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "Chain", "NewChain", "apply option")
		}
	}
	return c, nil
}

// Stages returns the stage names in execution order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the chain.
//
// On success it returns the request produced by the last stage. On a veto it
// returns the request as of the last stage that continued, together with a
// *VetoError. On a stage failure it returns nil and a *PluginExecutionError.
// The caller's request is never modified.
func (c *Chain) Run(ctx context.Context, req *Request) (*Request, error) {
	if req == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil request", errors.ErrInvalidRequest),
			"Chain", "Run", "check request")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current := req
	for _, stage := range c.stages {
		name := stage.Name()
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapTransient(err, "Chain", "Run", fmt.Sprintf("enter stage %s", name))
		}
		if !stage.Kinds().Has(current.Kind()) {
			c.logger.Debug("Stage skipped", "stage", name, "kind", current.Kind(), "trace_id", current.TraceID())
			continue
		}

		in := current.Clone()
		start := time.Now()
		res := process(ctx, stage, in)
		elapsed := time.Since(start)
		c.metrics.observe(name, res.Outcome.String(), elapsed)

		switch res.Outcome {
		case OutcomeContinue:
			next := res.Request
			if next == nil {
				next = in
			}
			if next.Kind() != current.Kind() || next.ID() != current.ID() {
				return nil, c.fail(name, current, fmt.Errorf("stage replaced %s with %s", current, next))
			}
			if err := next.Validate(); err != nil {
				return nil, c.fail(name, current, err)
			}
			current = next
			c.logger.Debug("Stage continued", "stage", name, "trace_id", current.TraceID(), "duration", elapsed)
		case OutcomeVeto:
			c.logger.Debug("Stage vetoed request", "stage", name, "trace_id", current.TraceID(), "reason", res.Reason)
			return current, errors.WrapInvalid(&VetoError{Stage: name, Reason: res.Reason},
				"Chain", "Run", fmt.Sprintf("run stage %s", name))
		case OutcomeFail:
			return nil, c.fail(name, current, res.Err)
		default:
			return nil, c.fail(name, current, fmt.Errorf("unknown outcome %s", res.Outcome))
		}
	}
	return current, nil
}

func (c *Chain) fail(stage string, req *Request, cause error) error {
	c.logger.Debug("Stage failed", "stage", stage, "trace_id", req.TraceID(), "error", cause)
	return errors.WrapFatal(&PluginExecutionError{Stage: stage, Err: cause},
		"Chain", "Run", fmt.Sprintf("run stage %s", stage))
}

func process(ctx context.Context, stage Stage, req *Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("panic: %v", r))
		}
	}()
	return stage.Process(ctx, req)
}
