package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/c360/metaingest/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "METAINGEST"

// Loader merges configuration layers over Default, then applies
// environment overrides. Later layers win; objects merge key by key, lists
// are replaced whole.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix, validation: true, lookupEnv: os.LookupEnv}
}

func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads Default overlaid with a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}
	for _, path := range l.layers {
		layer, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "load layer")
		}
		merged = deepMergeMaps(merged, layer)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "apply environment")
	}
	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads a JSON or YAML layer into a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	format, err := layerFormat(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if err := validateValueDepth(raw); err != nil {
			return nil, fmt.Errorf("invalid YAML structure: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

func deepMergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if baseMap, ok := out[k].(map[string]any); ok {
			if overMap, ok := v.(map[string]any); ok {
				out[k] = deepMergeMaps(baseMap, overMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// applyEnvOverrides reads <prefix>_<SECTION>_<FIELD> variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		*dst = val
		return nil
	}
	num := func(name string, dst *int) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst *bool) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = b
		return nil
	}
	duration := func(name string, dst *Duration) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = Duration(d)
		return nil
	}

	for _, err := range []error{
		str("SCHEMA_PATH", &cfg.Schema.Path),
		str("STORAGE_BACKEND", &cfg.Storage.Backend),
		str("STORAGE_KEY_PREFIX", &cfg.Storage.KeyPrefix),
		str("BADGER_DIR", &cfg.Storage.Badger.Dir),
		str("NATS_URL", &cfg.NATS.URL),
		boolean("NATS_TLS_ENABLED", &cfg.NATS.TLS.Enabled),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("NATSKV_BUCKET", &cfg.Storage.NATSKV.Bucket),
		num("PIPELINE_WORKERS", &cfg.Pipeline.Workers),
		num("PIPELINE_QUEUE_SIZE", &cfg.Pipeline.QueueSize),
		duration("PIPELINE_TIMEOUT", &cfg.Pipeline.Timeout),
		boolean("METRICS_ENABLED", &cfg.Metrics.Enabled),
		num("METRICS_PORT", &cfg.Metrics.Port),
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
