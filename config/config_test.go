package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/handler"
	"github.com/c360/metaingest/plugin"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.Timeout.Duration())
	assert.Equal(t, handler.DefaultConfigs(), cfg.Handlers)
}

func TestLoader_YAMLLayer(t *testing.T) {
	path := writeFile(t, "metaingest.yaml", `
schema:
  path: taxonomy.yaml
storage:
  backend: badger
  badger:
    dir: /var/lib/metaingest
    ttl: 14d
pipeline:
  workers: 8
  timeout: 10s
stages:
  - type: property
    config: {source: harbor-feed}
  - type: duplicate
    enabled: false
  - type: validator
    name: geometry
    config:
      attributes: [location]
      require: true
`)
	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "taxonomy.yaml", cfg.Schema.Path)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, 14*24*time.Hour, cfg.Storage.Badger.TTL.Duration())
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 256, cfg.Pipeline.QueueSize, "unset fields keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Pipeline.Timeout.Duration())

	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, plugin.TypeProperty, cfg.Stages[0].Type)
	assert.JSONEq(t, `{"source":"harbor-feed"}`, string(cfg.Stages[0].Config))
	assert.False(t, cfg.Stages[1].IsEnabled())
	assert.JSONEq(t, `{"attributes":["location"],"require":true}`, string(cfg.Stages[2].Config))

	stages, err := plugin.DefaultRegistry().Build(cfg.Stages, plugin.Dependencies{})
	require.NoError(t, err)
	assert.Len(t, stages, 2)
}

func TestLoader_JSONLayersAndEnv(t *testing.T) {
	base := writeFile(t, "base.json", `{"storage":{"backend":"nats","natskv":{"bucket":"RECORDS"}},"log":{"level":"debug"}}`)
	over := writeFile(t, "over.json", `{"storage":{"natskv":{"compress":true}},"metrics":{"enabled":true}}`)

	l := newTestLoader(map[string]string{
		"METAINGEST_NATS_URL":         "nats://nats:4222",
		"METAINGEST_NATS_TOKEN":       "secret",
		"METAINGEST_PIPELINE_WORKERS": "2",
		"METAINGEST_PIPELINE_TIMEOUT": "250ms",
		"METAINGEST_METRICS_PORT":     "9191",
	})
	l.AddLayer(base)
	l.AddLayer(over)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, BackendNATS, cfg.Storage.Backend)
	assert.Equal(t, "RECORDS", cfg.Storage.NATSKV.Bucket)
	assert.True(t, cfg.Storage.NATSKV.Compress)
	assert.Equal(t, 1, cfg.Storage.NATSKV.Replicas)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.Timeout.Duration())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)

	assert.NotContains(t, cfg.String(), "secret")
	assert.Equal(t, "secret", cfg.NATS.Token, "String does not mutate")
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		env  map[string]string
	}{
		{"bad json", "a.json", `{"storage":`, nil},
		{"bad yaml", "a.yaml", "storage: [", nil},
		{"bad extension", "a.toml", `x = 1`, nil},
		{"bad duration", "a.json", `{"pipeline":{"timeout":"soon"}}`, nil},
		{"unknown backend", "a.json", `{"storage":{"backend":"s3"}}`, nil},
		{"bad env int", "a.json", `{}`, map[string]string{"METAINGEST_PIPELINE_WORKERS": "many"}},
		{"bad env bool", "a.json", `{}`, map[string]string{"METAINGEST_METRICS_ENABLED": "maybe"}},
		{"too deep", "a.json", strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1), nil},
		{"too deep yaml", "a.yaml", "x: " + strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(tt.env).LoadFile(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"schema extension", func(c *Config) { c.Schema.Path = "schema.txt" }, "schema.path"},
		{"handler", func(c *Config) { c.Handlers = []handler.Config{{Type: "xpath"}} }, "handlers[0]"},
		{"stage type", func(c *Config) { c.Stages = []plugin.StageConfig{{}} }, "stages[0]"},
		{"duplicate stage", func(c *Config) {
			c.Stages = []plugin.StageConfig{{Type: "validator"}, {Type: "validator"}}
		}, "duplicate stage"},
		{"nats bucket", func(c *Config) {
			c.Storage.Backend = BackendNATS
			c.Storage.NATSKV.Bucket = ""
		}, "bucket"},
		{"nats tls pair", func(c *Config) {
			c.Storage.Backend = BackendNATS
			c.NATS.TLS.Enabled = true
			c.NATS.TLS.CertFile = "client.pem"
		}, "nats.tls"},
		{"nats retry backoff", func(c *Config) {
			c.Storage.Backend = BackendNATS
			c.Storage.NATSKV.Retry.BackoffFactor = 0.5
		}, "storage.natskv.retry"},
		{"nats retry delays", func(c *Config) {
			c.Storage.Backend = BackendNATS
			c.Storage.NATSKV.Retry.InitialDelay = Duration(10 * time.Second)
		}, "max_delay"},
		{"badger dir", func(c *Config) { c.Storage.Backend = BackendBadger }, "badger.dir"},
		{"negative workers", func(c *Config) { c.Pipeline.Workers = -1 }, "pipeline sizes"},
		{"negative rate", func(c *Config) { c.Pipeline.RateLimit = -1 }, "rate limit"},
		{"metrics port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 0
		}, "metrics.port"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	off := false
	cfg.Stages = []plugin.StageConfig{{Type: "validator"}, {Type: "validator", Enabled: &off}}
	assert.NoError(t, cfg.Validate(), "disabled stages may share a name")
}

func TestRetryConfig_Policy(t *testing.T) {
	path := writeFile(t, "retry.yaml", `
storage:
  backend: nats
  natskv:
    bucket: RECORDS
    retry:
      max_retries: 5
      initial_delay: 250ms
`)
	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	policy := cfg.Storage.NATSKV.Retry.Policy()
	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, policy.InitialDelay)
	assert.Equal(t, errors.DefaultRetryConfig().MaxDelay, policy.MaxDelay, "unset fields take defaults")
	assert.Equal(t, 2.0, policy.BackoffFactor)

	rc := policy.ToRetryConfig()
	assert.Equal(t, 6, rc.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, rc.InitialDelay)

	assert.Equal(t, errors.DefaultRetryConfig(), RetryConfig{}.Policy())
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration())
	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Duration())
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(data))
}

func TestConfig_CloneAndSave(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Stages[0].Name = "changed"
	clone.Handlers = nil
	assert.Empty(t, cfg.Stages[0].Name)
	assert.NotEmpty(t, cfg.Handlers)

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))
	loaded, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
