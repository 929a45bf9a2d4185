// Package health aggregates component health for the /health endpoint.
//
// Components register a Check with a Monitor; the monitor runs them on each
// request and combines the results: any unhealthy check makes the whole
// system unhealthy, otherwise any degraded check makes it degraded.
//
//	monitor := health.NewMonitor("metaingest", 2*time.Second)
//	monitor.Register("storage", func(ctx context.Context) health.Status {
//		if !client.IsHealthy() {
//			return health.NewUnhealthy("storage", err)
//		}
//		return health.NewHealthy("storage", "connected")
//	})
//	mux.Handle("/health", monitor.Handler())
//
// Messages built from errors go through Sanitize so URLs, paths, addresses
// and credentials are not served to clients.
package health
