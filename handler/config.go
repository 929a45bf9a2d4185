package handler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/validator"
)

// Handler types accepted in configuration.
const (
	TypeText      = "text"
	TypeAttribute = "attribute"
	TypeGML       = "gml"
	TypeMetadata  = "metadata"
)

// Config describes one handler in the ordered handler list.
type Config struct {
	Type     string    `json:"type" yaml:"type"`
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Mappings []Mapping `json:"mappings,omitempty" yaml:"mappings,omitempty"`

	// gml and metadata
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"`

	// metadata
	ContentTypeAttribute string `json:"content_type_attribute,omitempty" yaml:"content_type_attribute,omitempty"`

	// gml
	ValidateGeometry bool `json:"validate,omitempty" yaml:"validate,omitempty"`
	SwapAxes         bool `json:"swap_axes,omitempty" yaml:"swap_axes,omitempty"`
}

// Validate checks the configuration without building anything.
func (c Config) Validate() error {
	switch strings.ToLower(c.Type) {
	case TypeText, TypeAttribute:
		if len(c.Mappings) == 0 {
			return fmt.Errorf("%s handler needs at least one mapping", c.Type)
		}
		for i, m := range c.Mappings {
			if strings.TrimSpace(m.Path) == "" || strings.TrimSpace(m.Attribute) == "" {
				return fmt.Errorf("mapping %d needs both path and attribute", i)
			}
			if strings.EqualFold(c.Type, TypeAttribute) {
				if _, _, err := splitAttrPath(m.Path); err != nil {
					return fmt.Errorf("mapping %d: %w", i, err)
				}
			}
		}
	case TypeGML, TypeMetadata:
	case "":
		return fmt.Errorf("handler type is required")
	default:
		return fmt.Errorf("unknown handler type %q", c.Type)
	}
	return nil
}

// BuildFactories turns configuration into handler factories, preserving order.
func BuildFactories(cfgs []Config, logger *slog.Logger) ([]Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	factories := make([]Factory, 0, len(cfgs))
	for i, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: handlers[%d]: %v", errors.ErrInvalidConfig, i, err),
				"handler", "BuildFactories", "validate handler config")
		}
		// gml and metadata handlers name themselves after their attribute.
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", strings.ToLower(c.Type), i)
		}

		switch strings.ToLower(c.Type) {
		case TypeText:
			factories = append(factories, NewTextHandler(name, c.Mappings))
		case TypeAttribute:
			f, err := NewAttributeHandler(name, c.Mappings)
			if err != nil {
				return nil, errors.WrapFatal(err, "handler", "BuildFactories", "build attribute handler")
			}
			factories = append(factories, f)
		case TypeGML:
			opts := GMLOptions{Name: c.Name, Attribute: c.Attribute, SwapAxes: c.SwapAxes, Logger: logger}
			if c.ValidateGeometry {
				attr := c.Attribute
				if attr == "" {
					attr = "location"
				}
				opts.Validator = validator.NewGeometryValidator(attr)
			}
			factories = append(factories, NewGMLHandler(opts))
		case TypeMetadata:
			factories = append(factories, NewMetadataHandler(c.Name, c.Attribute, c.ContentTypeAttribute))
		}
	}
	return factories, nil
}

// DefaultConfigs maps a simple resource document onto the core taxonomy.
func DefaultConfigs() []Config {
	return []Config{
		{
			Type: TypeText,
			Name: "core-text",
			Mappings: []Mapping{
				{Path: "Resource/title", Attribute: "title"},
				{Path: "Resource/description", Attribute: "description"},
				{Path: "Resource/created", Attribute: "created"},
				{Path: "Resource/modified", Attribute: "modified"},
				{Path: "Resource/keywords/keyword", Attribute: "keywords"},
				{Path: "Resource/language", Attribute: "language"},
				{Path: "Resource/contact", Attribute: "point-of-contact"},
				{Path: "Resource/uri", Attribute: "resource-uri"},
				{Path: "Resource/size", Attribute: "resource-size"},
			},
		},
		{
			Type:     TypeAttribute,
			Name:     "core-attributes",
			Mappings: []Mapping{{Path: "/Resource@id", Attribute: "id"}},
		},
		{Type: TypeGML, Attribute: "location", ValidateGeometry: true},
		{Type: TypeMetadata, ContentTypeAttribute: "metadata-content-type"},
	}
}
