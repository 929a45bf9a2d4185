// Package natskv is a storage.Backend over a NATS JetStream key-value bucket.
package natskv

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/natsclient"
	"github.com/c360/metaingest/pkg/retry"
)

// Values carry a one-byte codec header.
const (
	codecRaw byte = 0
	codecS2  byte = 1
)

// Config describes the bucket backing a Store.
type Config struct {
	Bucket       string        `json:"bucket" yaml:"bucket"`
	Replicas     int           `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	History      uint8         `json:"history,omitempty" yaml:"history,omitempty"`
	TTL          time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Compress     bool          `json:"compress,omitempty" yaml:"compress,omitempty"`
	MaxValueSize int           `json:"max_value_size,omitempty" yaml:"max_value_size,omitempty"`
	Retry        retry.Config  `json:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Bucket:       "METAINGEST_RECORDS",
		Replicas:     1,
		History:      1,
		MaxValueSize: 1024 * 1024,
		Retry:        retry.DefaultConfig(),
	}
}

// Store persists values in a JetStream KV bucket, retrying transient
// failures and optionally compressing values with s2.
type Store struct {
	client *natsclient.Client
	kv     *natsclient.KVStore
	cfg    Config
	logger *slog.Logger
}

// New opens or creates the configured bucket on a connected client.
func New(ctx context.Context, client *natsclient.Client, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.WrapFatal(fmt.Errorf("%w: bucket name", errors.ErrMissingConfig), "Store", "New", "validate config")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "metaingest records",
		Replicas:    max(cfg.Replicas, 1),
		History:     max(cfg.History, 1),
		TTL:         cfg.TTL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Store", "New", "open bucket")
	}
	kv := client.NewKVStore(bucket, func(o *natsclient.KVOptions) {
		o.MaxValueSize = cfg.MaxValueSize
	})
	return &Store{client: client, kv: kv, cfg: cfg, logger: logger.With("bucket", cfg.Bucket)}, nil
}

// Ping reports the connection state. A reconnecting client is a transient
// failure; a closed one is fatal.
func (s *Store) Ping(context.Context) error {
	switch status := s.client.Status(); status {
	case natsclient.StatusConnected:
		return nil
	case natsclient.StatusClosed:
		return errors.WrapFatal(fmt.Errorf("%w: NATS connection %s", errors.ErrStorageUnavailable, status),
			"Store", "Ping", "check connection")
	default:
		return errors.WrapTransient(fmt.Errorf("%w: NATS connection %s", errors.ErrStorageUnavailable, status),
			"Store", "Ping", "check connection")
	}
}

// ValidKey reports whether key is usable as a KV key.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '/', r == '=', r == '.':
		default:
			return false
		}
	}
	return true
}

func (s *Store) checkKey(method, key string) error {
	if !ValidKey(key) {
		return errors.WrapInvalid(fmt.Errorf("%w: invalid key %q", errors.ErrInvalidRequest, key), "Store", method, "validate key")
	}
	return nil
}

func (s *Store) encode(data []byte) []byte {
	if !s.cfg.Compress {
		return append([]byte{codecRaw}, data...)
	}
	return append([]byte{codecS2}, s2.Encode(nil, data)...)
}

func decode(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch value[0] {
	case codecRaw:
		return value[1:], nil
	case codecS2:
		return s2.Decode(nil, value[1:])
	default:
		return nil, fmt.Errorf("unknown codec %d", value[0])
	}
}

// do runs fn with retry. Errors fn marks permanent stop the retry loop and
// come back unwrapped; anything left after the attempts is transient.
func (s *Store) do(ctx context.Context, method, action string, fn func() error) error {
	var permanent error
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		err := fn()
		if err != nil && isPermanent(err) {
			permanent = err
			return retry.NonRetryable(err)
		}
		if err != nil {
			s.logger.Debug("KV operation failed, retrying", "method", method, "error", err)
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case permanent != nil:
		return permanent
	default:
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err), "Store", method, action)
	}
}

func isPermanent(err error) bool {
	return natsclient.IsKVNotFoundError(err) || errors.Is(err, natsclient.ErrKVValueTooLarge)
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.checkKey("Put", key); err != nil {
		return err
	}
	value := s.encode(data)
	err := s.do(ctx, "Put", "put value", func() error {
		_, err := s.kv.Put(ctx, key, value)
		return err
	})
	if errors.Is(err, natsclient.ErrKVValueTooLarge) {
		return errors.WrapInvalid(err, "Store", "Put", "check size")
	}
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkKey("Get", key); err != nil {
		return nil, err
	}
	var entry *natsclient.KVEntry
	err := s.do(ctx, "Get", "get value", func() error {
		var err error
		entry, err = s.kv.Get(ctx, key)
		return err
	})
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: key %s", errors.ErrNotFound, key)
		}
		return nil, err
	}
	data, err := decode(entry.Value)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Get", "decode value")
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.do(ctx, "List", "list keys", func() error {
		var err error
		keys, err = s.kv.Keys(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return !strings.HasPrefix(k, prefix) })
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkKey("Delete", key); err != nil {
		return err
	}
	err := s.do(ctx, "Delete", "delete key", func() error {
		return s.kv.Delete(ctx, key)
	})
	if natsclient.IsKVNotFoundError(err) {
		return nil
	}
	return err
}
