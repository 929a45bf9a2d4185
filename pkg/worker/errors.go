package worker

import "errors"

// Pool errors are plain sentinels: they signal misuse or backpressure, never
// a problem with the submitted work.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
	ErrProcessorPanic     = errors.New("processor panicked")
)
