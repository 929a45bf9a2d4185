package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/validator"
)

// ValidatorStage vetoes creates and updates whose attributes fail their
// validators. With Require set, a missing attribute vetoes as well.
type ValidatorStage struct {
	name       string
	validators []*validator.AttributeValidator
	require    bool
}

// NewValidatorStage returns a stage running validators in order.
func NewValidatorStage(name string, require bool, validators ...*validator.AttributeValidator) *ValidatorStage {
	if name == "" {
		name = TypeValidator
	}
	return &ValidatorStage{name: name, validators: validators, require: require}
}

func (s *ValidatorStage) Name() string { return s.name }

func (s *ValidatorStage) Kinds() ingest.KindSet {
	return ingest.Kinds(ingest.KindCreate, ingest.KindUpdate)
}

func (s *ValidatorStage) Process(_ context.Context, req *ingest.Request) ingest.Result {
	rec := req.Record()
	for _, v := range s.validators {
		values := rec.Get(v.Attribute())
		if len(values) == 0 {
			if s.require {
				return ingest.Vetof("%s: required attribute %q is missing", v.ID(), v.Attribute())
			}
			continue
		}
		for _, val := range values {
			if ok, reason := v.IsValid(val); !ok {
				return ingest.Vetof("%s: %s", v.ID(), reason)
			}
		}
	}
	return ingest.Continue(req)
}

// ValidatorConfig configures a validator stage.
type ValidatorConfig struct {
	// Attributes selects validators from the dependency set. Empty means all.
	Attributes []string `json:"attributes,omitempty"`
	Require    bool     `json:"require,omitempty"`
}

func newValidatorStage(raw json.RawMessage, deps Dependencies) (ingest.Stage, error) {
	var cfg ValidatorConfig
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	set := deps.GetValidators()
	var validators []*validator.AttributeValidator
	if len(cfg.Attributes) == 0 {
		validators = set.All()
	}
	for _, attr := range cfg.Attributes {
		found := set.For(attr)
		if len(found) == 0 {
			return nil, fmt.Errorf("no validator registered for attribute %q", attr)
		}
		validators = append(validators, found...)
	}
	if len(validators) == 0 {
		return nil, fmt.Errorf("validator stage has no validators")
	}
	return NewValidatorStage(TypeValidator, cfg.Require, validators...), nil
}
