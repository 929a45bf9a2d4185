package plugin

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/record"
)

// PropertyIngestedAt holds the time a PropertyStage processed the request.
const PropertyIngestedAt = "ingested-at"

// PropertyConfig configures a property stage.
type PropertyConfig struct {
	Source     string         `json:"source,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	// StampModified sets the modified attribute on creates and updates.
	StampModified     bool   `json:"stamp_modified,omitempty"`
	ModifiedAttribute string `json:"modified_attribute,omitempty"`
}

// PropertyStage stamps request properties and, optionally, the record's
// modification time.
type PropertyStage struct {
	name string
	cfg  PropertyConfig
	deps Dependencies
}

// NewPropertyStage returns a property stage.
func NewPropertyStage(name string, cfg PropertyConfig, deps Dependencies) *PropertyStage {
	if name == "" {
		name = TypeProperty
	}
	if cfg.ModifiedAttribute == "" {
		cfg.ModifiedAttribute = "modified"
	}
	cfg.Properties = maps.Clone(cfg.Properties)
	return &PropertyStage{name: name, cfg: cfg, deps: deps}
}

func (s *PropertyStage) Name() string           { return s.name }
func (s *PropertyStage) Kinds() ingest.KindSet { return ingest.AllKinds }

func (s *PropertyStage) Process(_ context.Context, req *ingest.Request) ingest.Result {
	now := s.deps.Now().UTC()
	for k, v := range s.cfg.Properties {
		req.SetProperty(k, v)
	}
	if s.cfg.Source != "" {
		req.SetProperty(ingest.PropertySource, s.cfg.Source)
	}
	req.SetProperty(PropertyIngestedAt, now)

	if s.cfg.StampModified && req.Record() != nil {
		if err := req.Record().Set(s.cfg.ModifiedAttribute, record.DateValue(now)); err != nil {
			return ingest.Fail(err)
		}
	}
	return ingest.Continue(req)
}

func newPropertyStage(raw json.RawMessage, deps Dependencies) (ingest.Stage, error) {
	var cfg PropertyConfig
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return NewPropertyStage(TypeProperty, cfg, deps), nil
}
