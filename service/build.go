package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/metaingest/config"
	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/handler"
	"github.com/c360/metaingest/health"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/natsclient"
	"github.com/c360/metaingest/pkg/retry"
	"github.com/c360/metaingest/pkg/tlsutil"
	"github.com/c360/metaingest/plugin"
	"github.com/c360/metaingest/schema"
	"github.com/c360/metaingest/storage"
	"github.com/c360/metaingest/storage/badgerstore"
	"github.com/c360/metaingest/storage/natskv"
)

// Runtime is a pipeline built from configuration together with the
// resources it owns.
type Runtime struct {
	Pipeline *Pipeline
	Sink     *storage.RecordSink
	Schemas  *schema.Registry
	Health   *health.Monitor

	closers []func(context.Context) error
}

// Close releases storage connections in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return stderrors.Join(errs...)
}

// Build assembles the schema registry, handlers, stages, sink and pipeline
// described by cfg. registry may be nil.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.Schemas = schema.NewRegistry(schema.WithLogger(logger))
	if cfg.Schema.Path != "" {
		_, err = rt.Schemas.LoadFile(cfg.Schema.Path)
	} else {
		_, err = rt.Schemas.LoadDefault()
	}
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "Build", "load schema")
	}

	factories, err := handler.BuildFactories(cfg.Handlers, logger)
	if err != nil {
		return nil, err
	}
	delegate := handler.NewDelegate(factories, handler.WithLogger(logger), handler.WithMetrics(registry))

	stages, err := plugin.DefaultRegistry().Build(cfg.Stages, plugin.Dependencies{
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	chainOpts := []ingest.ChainOption{ingest.WithChainLogger(logger)}
	if registry != nil {
		chainOpts = append(chainOpts, ingest.WithChainMetrics(registry))
	}
	chain, err := ingest.NewChain(stages, chainOpts...)
	if err != nil {
		return nil, err
	}

	backend, err := rt.openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Sink, err = storage.NewRecordSink(backend,
		storage.WithKeys(storage.PrefixKeys(cfg.Storage.KeyPrefix)),
		storage.WithLogger(logger),
		storage.WithMetrics(registry, cfg.Storage.Backend),
	)
	if err != nil {
		return nil, err
	}

	rt.Pipeline, err = NewPipeline(rt.Schemas, delegate, chain, rt.Sink,
		WithTimeout(cfg.Pipeline.Timeout.Duration()),
		WithWorkers(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize),
		WithBatchConcurrency(cfg.Pipeline.BatchConcurrency),
		WithRateLimit(cfg.Pipeline.RateLimit, cfg.Pipeline.RateBurst),
		WithLogger(logger),
		WithMetrics(registry),
	)
	if err != nil {
		return nil, err
	}
	rt.Health = newHealthMonitor(rt)
	logger.Info("Pipeline built",
		"schema", rt.Schemas.Current().Name(),
		"handlers", len(factories),
		"stages", chain.Stages(),
		"backend", cfg.Storage.Backend)
	return rt, nil
}

func (rt *Runtime) openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		store, err := badgerstore.Open(badgerstore.Config{
			Dir:      cfg.Storage.Badger.Dir,
			InMemory: cfg.Storage.Badger.InMemory,
			TTL:      cfg.Storage.Badger.TTL.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		return store, nil

	case config.BackendNATS:
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(logger),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
			natsclient.WithToken(cfg.NATS.Token),
		}
		if cfg.NATS.Name != "" {
			opts = append(opts, natsclient.WithName(cfg.NATS.Name))
		}
		if d := cfg.NATS.Timeout.Duration(); d > 0 {
			opts = append(opts, natsclient.WithTimeout(d))
		}
		if d := cfg.NATS.ReconnectWait.Duration(); d > 0 {
			opts = append(opts, natsclient.WithReconnectWait(d))
		}
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.NATS.TLS)
		if err != nil {
			return nil, err
		}
		if tlsConfig != nil {
			opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
		}
		client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			err := client.Connect(ctx)
			if err != nil && !errors.IsTransient(err) {
				return retry.NonRetryable(err)
			}
			return err
		}); err != nil {
			return nil, errors.Wrap(err, "Runtime", "Build", fmt.Sprintf("connect to %s", cfg.NATS.URL))
		}
		rt.closers = append(rt.closers, client.Close)

		kv := cfg.Storage.NATSKV
		store, err := natskv.New(ctx, client, natskv.Config{
			Bucket:       kv.Bucket,
			Replicas:     kv.Replicas,
			History:      kv.History,
			TTL:          kv.TTL.Duration(),
			Compress:     kv.Compress,
			MaxValueSize: kv.MaxValueSize,
			Retry:        kv.Retry.Policy().ToRetryConfig(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return storage.NewMemory(), nil
	}
}

func newHealthMonitor(rt *Runtime) *health.Monitor {
	m := health.NewMonitor("metaingest", 2*time.Second)
	m.Register("schema", func(context.Context) health.Status {
		s := rt.Schemas.Current()
		if s == nil {
			return health.NewUnhealthy("schema", errors.ErrSchemaNotLoaded)
		}
		return health.NewHealthy("schema", fmt.Sprintf("%s %s, %d attributes", s.Name(), s.Version(), s.Len()))
	})
	m.Register("storage", func(ctx context.Context) health.Status {
		if err := rt.Sink.Ping(ctx); err != nil {
			if errors.IsTransient(err) {
				return health.NewDegraded("storage", health.Sanitize(err.Error()))
			}
			return health.NewUnhealthy("storage", err)
		}
		return health.NewHealthy("storage", "available")
	})
	m.Register("pipeline", func(context.Context) health.Status {
		p := rt.Pipeline
		if p.Status() != StatusRunning {
			return health.NewHealthy("pipeline", p.Status().String())
		}
		stats := p.Stats()
		if stats.QueueSize > 0 && stats.QueueDepth >= stats.QueueSize {
			return health.NewDegraded("pipeline", fmt.Sprintf("queue full (%d)", stats.QueueDepth))
		}
		return health.NewHealthy("pipeline", fmt.Sprintf("running, %d busy, %d queued", stats.Busy, stats.QueueDepth))
	})
	return m
}
