package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/service"
)

// openRuntime builds the pipeline from the loaded configuration and, when
// metrics are enabled, serves them with /health for the lifetime of the
// command. The
// returned func releases both.
func (a *app) openRuntime(ctx context.Context, serveMetrics bool) (*service.Runtime, func(), error) {
	var (
		registry *metric.MetricsRegistry
		server   *metric.Server
	)
	if serveMetrics || a.cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
	}

	rt, err := service.Build(ctx, a.cfg, a.logger, registry)
	if err != nil {
		return nil, nil, err
	}

	if registry != nil {
		server = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, registry)
		server.SetHealthHandler(rt.Health.Handler())
		go func() {
			if err := server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
		a.logger.Info("Serving metrics", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
	}

	release := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			a.logger.Warn("Closing storage failed", "error", err)
		}
		if server != nil {
			stopServer(server)
		}
	}
	return rt, release, nil
}

func stopServer(server *metric.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Stop(ctx)
}
