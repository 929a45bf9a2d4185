// Package worker provides a generic bounded worker pool.
//
// Usage:
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, job Job) error {
//		return handle(ctx, job)
//	}, worker.WithErrorHandler(func(job Job, err error) {
//		logger.Warn("Job failed", "job", job.ID, "error", err)
//	}))
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(stopCtx)
//
// Submit never blocks and reports ErrQueueFull as backpressure; SubmitWait
// waits for queue space until its context ends. Stop drains queued work.
// Counters in Stats are always maintained; Prometheus metrics are registered
// only with WithMetricsRegistry. A panicking processor counts as a failure
// wrapping ErrProcessorPanic.
package worker
