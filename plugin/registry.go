package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/validator"
)

// Dependencies are shared by every stage a Registry builds.
type Dependencies struct {
	Validators      *validator.Set          // validators by attribute (nil means validator.DefaultSet)
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil, defaults to slog.Default()
	Clock           func() time.Time        // can be nil, defaults to time.Now
}

// GetLogger returns the configured logger or the default logger.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithStage returns a logger tagged with the stage name.
func (d *Dependencies) GetLoggerWithStage(name string) *slog.Logger {
	return d.GetLogger().With("stage", name)
}

// GetValidators returns the configured validator set or the default one.
func (d *Dependencies) GetValidators() *validator.Set {
	if d.Validators != nil {
		return d.Validators
	}
	return validator.DefaultSet()
}

// Now reads the configured clock.
func (d *Dependencies) Now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// Factory creates a stage from its raw JSON configuration. Factories parse
// their own config and must not perform I/O.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (ingest.Stage, error)

// RegistrationConfig describes a stage type.
type RegistrationConfig struct {
	Type        string  // stage type used in configuration, e.g. "validator"
	Factory     Factory // builds stage instances
	Description string
}

// StageConfig is one entry of the ordered stage list.
type StageConfig struct {
	Type    string          `json:"type" yaml:"type"`
	Name    string          `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Config  json.RawMessage `json:"config,omitempty" yaml:"-"`
}

// IsEnabled reports whether the stage should be built. Stages are enabled
// unless explicitly disabled.
func (c StageConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Registry maps stage types to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RegistrationConfig
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]RegistrationConfig)}
}

// Register adds a stage type. Registering a type twice is an error.
func (r *Registry) Register(cfg RegistrationConfig) error {
	if cfg.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "stage type validation")
	}
	if cfg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory function validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[cfg.Type]; exists {
		return errors.WrapInvalid(fmt.Errorf("stage type %q is already registered", cfg.Type),
			"Registry", "Register", "duplicate type check")
	}
	r.factories[cfg.Type] = cfg
	return nil
}

// Types lists the registered stage types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Describe returns the registration of a stage type.
func (r *Registry) Describe(stageType string) (RegistrationConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.factories[stageType]
	return cfg, ok
}

// Create builds one stage. A configured name overrides the stage's own.
func (r *Registry) Create(cfg StageConfig, deps Dependencies) (ingest.Stage, error) {
	reg, ok := r.Describe(cfg.Type)
	if !ok {
		return nil, errors.WrapFatal(fmt.Errorf("%w: unknown stage type %q", errors.ErrInvalidConfig, cfg.Type),
			"Registry", "Create", "lookup factory")
	}
	stage, err := reg.Factory(cfg.Config, deps)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: stage %s: %w", errors.ErrInvalidConfig, cfg.Type, err),
			"Registry", "Create", "build stage")
	}
	if cfg.Name != "" && cfg.Name != stage.Name() {
		stage = renamed{Stage: stage, name: cfg.Name}
	}
	return stage, nil
}

// Build creates the enabled stages of cfgs in order.
func (r *Registry) Build(cfgs []StageConfig, deps Dependencies) ([]ingest.Stage, error) {
	stages := make([]ingest.Stage, 0, len(cfgs))
	for i, cfg := range cfgs {
		if !cfg.IsEnabled() {
			deps.GetLogger().Debug("Stage disabled", "index", i, "type", cfg.Type, "name", cfg.Name)
			continue
		}
		stage, err := r.Create(cfg, deps)
		if err != nil {
			return nil, errors.Wrap(err, "Registry", "Build", fmt.Sprintf("build stages[%d]", i))
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

type renamed struct {
	ingest.Stage
	name string
}

func (s renamed) Name() string { return s.name }

func (s renamed) Process(ctx context.Context, req *ingest.Request) ingest.Result {
	return s.Stage.Process(ctx, req)
}

// Stage types registered by DefaultRegistry.
const (
	TypeValidator      = "validator"
	TypeTextExtraction = "text-extraction"
	TypeDuplicate      = "duplicate"
	TypeProperty       = "property"
)

// DefaultRegistry returns a registry holding the built-in stages.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, cfg := range []RegistrationConfig{
		{Type: TypeValidator, Factory: newValidatorStage, Description: "Veto records whose attributes fail validation"},
		{Type: TypeTextExtraction, Factory: newTextExtractionStage, Description: "Collect searchable text into one attribute"},
		{Type: TypeDuplicate, Factory: newDuplicateStage, Description: "Veto creates whose content was recently ingested"},
		{Type: TypeProperty, Factory: newPropertyStage, Description: "Stamp request properties and modification time"},
	} {
		if err := r.Register(cfg); err != nil {
			panic(err)
		}
	}
	return r
}

func decode(raw json.RawMessage, into any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
