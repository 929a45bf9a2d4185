package storage

import (
	"context"

	"github.com/c360/metaingest/ingest"
)

// Sink accepts requests that passed the ingest chain.
type Sink interface {
	Store(ctx context.Context, req *ingest.Request) error
}

// Backend is a flat key-value store holding encoded records.
//
// Get returns an error wrapping errors.ErrNotFound for a missing key.
// Delete of a missing key is not an error. List returns keys in
// lexicographic order. Implementations are safe for concurrent use.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by backends that can report their availability.
// Transient errors mean the backend is expected to recover on its own.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyFunc maps a record id to a backend key.
type KeyFunc func(id string) string

// PrefixKeys returns a KeyFunc that prepends prefix to every id.
func PrefixKeys(prefix string) KeyFunc {
	return func(id string) string { return prefix + id }
}
