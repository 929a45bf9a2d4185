package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/handler"
	"github.com/c360/metaingest/pkg/tlsutil"
	"github.com/c360/metaingest/plugin"
	"github.com/c360/metaingest/schema"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendBadger = "badger"
)

// Config is the complete application configuration.
type Config struct {
	Version  string               `json:"version,omitempty"`
	Schema   SchemaConfig         `json:"schema"`
	Handlers []handler.Config     `json:"handlers,omitempty"`
	Stages   []plugin.StageConfig `json:"stages,omitempty"`
	Storage  StorageConfig        `json:"storage"`
	NATS     NATSConfig           `json:"nats"`
	Pipeline PipelineConfig       `json:"pipeline"`
	Metrics  MetricsConfig        `json:"metrics"`
	Log      LogConfig            `json:"log"`
}

// SchemaConfig points at a schema definition file. An empty path selects the
// built-in taxonomy.
type SchemaConfig struct {
	Path string `json:"path,omitempty"`
}

type StorageConfig struct {
	Backend   string       `json:"backend"`
	KeyPrefix string       `json:"key_prefix,omitempty"`
	NATSKV    NATSKVConfig `json:"natskv"`
	Badger    BadgerConfig `json:"badger"`
}

type NATSKVConfig struct {
	Bucket       string   `json:"bucket"`
	Replicas     int      `json:"replicas,omitempty"`
	History      uint8    `json:"history,omitempty"`
	TTL          Duration `json:"ttl,omitempty"`
	Compress     bool     `json:"compress,omitempty"`
	MaxValueSize int      `json:"max_value_size,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`
}

// RetryConfig bounds retries of transient KV failures. Zero fields take
// the values of errors.DefaultRetryConfig.
type RetryConfig struct {
	MaxRetries    int      `json:"max_retries,omitempty"`
	InitialDelay  Duration `json:"initial_delay,omitempty"`
	MaxDelay      Duration `json:"max_delay,omitempty"`
	BackoffFactor float64  `json:"backoff_factor,omitempty"`
}

// Policy returns the retry policy with defaults filled in.
func (r RetryConfig) Policy() errors.RetryConfig {
	p := errors.DefaultRetryConfig()
	if r.MaxRetries > 0 {
		p.MaxRetries = r.MaxRetries
	}
	if r.InitialDelay > 0 {
		p.InitialDelay = r.InitialDelay.Duration()
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay.Duration()
	}
	if r.BackoffFactor > 0 {
		p.BackoffFactor = r.BackoffFactor
	}
	return p
}

func (r RetryConfig) validate() error {
	switch {
	case r.MaxRetries < 0 || r.InitialDelay < 0 || r.MaxDelay < 0:
		return fmt.Errorf("values must not be negative")
	case r.BackoffFactor != 0 && r.BackoffFactor < 1:
		return fmt.Errorf("backoff_factor must be at least 1")
	}
	if p := r.Policy(); p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("max_delay %s is below initial_delay %s", p.MaxDelay, p.InitialDelay)
	}
	return nil
}

type BadgerConfig struct {
	Dir      string   `json:"dir,omitempty"`
	InMemory bool     `json:"in_memory,omitempty"`
	TTL      Duration `json:"ttl,omitempty"`
}

// NATSConfig is used when the storage backend is nats.
type NATSConfig struct {
	URL           string   `json:"url"`
	Name          string   `json:"name,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls,omitempty"`
}

// PipelineConfig sizes the ingest pipeline. Timeout bounds one chain run;
// zero disables it. RateLimit is requests per second, zero for unlimited.
type PipelineConfig struct {
	Workers          int      `json:"workers"`
	QueueSize        int      `json:"queue_size"`
	Timeout          Duration `json:"timeout"`
	BatchConcurrency int      `json:"batch_concurrency"`
	RateLimit        float64  `json:"rate_limit,omitempty"`
	RateBurst        int      `json:"rate_burst,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a time.Duration written as a string ("30s", "14d") in JSON.
// Plain numbers are read as nanoseconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// parseDurationWithDays parses durations that may use a day suffix ("14d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Handlers: handler.DefaultConfigs(),
		Stages: []plugin.StageConfig{
			{Type: plugin.TypeProperty, Config: json.RawMessage(`{"source":"metaingest"}`)},
			{Type: plugin.TypeValidator},
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			NATSKV: NATSKVConfig{
				Bucket:       "METAINGEST_RECORDS",
				Replicas:     1,
				History:      1,
				MaxValueSize: 1024 * 1024,
			},
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "metaingest",
			Timeout:       Duration(5 * time.Second),
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:          4,
			QueueSize:        256,
			Timeout:          Duration(30 * time.Second),
			BatchConcurrency: 8,
		},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Schema.Path != "" {
		if _, err := schema.FormatFromPath(c.Schema.Path); err != nil {
			add("schema.path: %v", err)
		}
	}
	for i, h := range c.Handlers {
		if err := h.Validate(); err != nil {
			add("handlers[%d]: %v", i, err)
		}
	}
	names := map[string]bool{}
	for i, s := range c.Stages {
		if s.Type == "" {
			add("stages[%d]: type is required", i)
			continue
		}
		name := s.Name
		if name == "" {
			name = s.Type
		}
		if s.IsEnabled() && names[name] {
			add("stages[%d]: duplicate stage name %q", i, name)
		}
		names[name] = true
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.NATS.URL == "" {
			add("nats.url is required for the nats backend")
		}
		if c.Storage.NATSKV.Bucket == "" {
			add("storage.natskv.bucket is required for the nats backend")
		}
		if err := c.Storage.NATSKV.Retry.validate(); err != nil {
			add("storage.natskv.retry: %v", err)
		}
		if c.NATS.TLS.Enabled {
			if err := c.NATS.TLS.Validate(); err != nil {
				add("nats.tls: %v", err)
			}
		}
	case BackendBadger:
		if c.Storage.Badger.Dir == "" && !c.Storage.Badger.InMemory {
			add("storage.badger.dir is required unless in_memory is set")
		}
	default:
		add("storage.backend %q must be one of memory, nats, badger", c.Storage.Backend)
	}

	if c.Pipeline.Workers < 0 || c.Pipeline.QueueSize < 0 || c.Pipeline.BatchConcurrency < 0 {
		add("pipeline sizes must not be negative")
	}
	if c.Pipeline.RateLimit < 0 || c.Pipeline.RateBurst < 0 {
		add("pipeline rate limit must not be negative")
	}
	if c.Pipeline.Timeout < 0 {
		add("pipeline.timeout must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		add("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.Log.Format)) {
		add("log.format %q must be json or text", c.Log.Format)
	}

	if len(errs) > 0 {
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(errs...)),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the configuration as JSON with secrets masked.
func (c *Config) String() string {
	redacted := c.Clone()
	for _, s := range []*string{&redacted.NATS.Password, &redacted.NATS.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// SafeConfig guards a Config for concurrent readers. Get returns a copy.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update swaps in cfg after validating it.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "update with nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
