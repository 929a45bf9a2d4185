// Package badgerstore is a storage.Backend over an embedded Badger database.
package badgerstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/c360/metaingest/errors"
)

// Config selects the database location. InMemory ignores Dir.
type Config struct {
	Dir      string        `json:"dir,omitempty" yaml:"dir,omitempty"`
	InMemory bool          `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// Store keeps values in Badger. Entries expire after TTL when it is set.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open opens or creates the database.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.WrapFatal(fmt.Errorf("%w: badger dir", errors.ErrMissingConfig), "Store", "Open", "validate config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "open badger")
	}
	logger.Info("Badger store opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return &Store{db: db, ttl: cfg.TTL, logger: logger}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "Store", "Close", "close badger")
	}
	return nil
}

// Ping fails once the database is closed.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.WrapFatal(fmt.Errorf("%w: badger closed", errors.ErrStorageUnavailable), "Store", "Ping", "check database")
	}
	return nil
}

func ctxErr(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Store", method, "check context")
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctxErr(ctx, "Put"); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "Put", "write entry")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx, "Get"); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: key %s", errors.ErrNotFound, key)
		}
		return nil, errors.WrapTransient(err, "Store", "Get", "read entry")
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx, "List"); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "List", "iterate keys")
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx, "Delete"); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return errors.WrapTransient(err, "Store", "Delete", "delete entry")
	}
	return nil
}
