package record

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/c360/metaingest/errors"
)

// Multiplicity bounds how many values an attribute may hold.
type Multiplicity string

const (
	MultiplicityOne  Multiplicity = "ONE"
	MultiplicityMany Multiplicity = "MANY"
)

// ParseMultiplicity resolves a multiplicity token. An empty token means MultiplicityOne.
func ParseMultiplicity(token string) (Multiplicity, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "", "ONE", "SINGLE":
		return MultiplicityOne, nil
	case "MANY", "MULTI", "MULTIPLE":
		return MultiplicityMany, nil
	default:
		return "", fmt.Errorf("unknown multiplicity %q", token)
	}
}

// AttributeDefinition declares one attribute of a schema.
type AttributeDefinition struct {
	Name         string       `json:"name"`
	Type         ValueType    `json:"type"`
	Multiplicity Multiplicity `json:"multiplicity"`
	Indexed      bool         `json:"indexed"`
	// Overridable lets a later single-valued contribution replace an earlier one
	// instead of conflicting.
	Overridable bool   `json:"overridable,omitempty"`
	Description string `json:"description,omitempty"`
}

// IsMany reports whether the attribute accepts more than one value.
func (d AttributeDefinition) IsMany() bool {
	return d.Multiplicity == MultiplicityMany
}

// SchemaError reports a problem with a schema definition. Location points
// into the definition source when known.
type SchemaError struct {
	Location  string
	Attribute string
	Err       error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema")
	if e.Location != "" {
		b.WriteString(" at ")
		b.WriteString(e.Location)
	}
	if e.Attribute != "" {
		fmt.Fprintf(&b, " (attribute %q)", e.Attribute)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap exposes both the cause and errors.ErrSchema.
func (e *SchemaError) Unwrap() []error {
	return []error{errors.ErrSchema, e.Err}
}

// Schema is an immutable, ordered set of attribute definitions.
// Reloading a schema produces a new Schema; existing records keep the one
// they were created with.
type Schema struct {
	name    string
	version string
	defs    []AttributeDefinition
	index   map[string]int
}

// NewSchema validates defs and builds a Schema. Definitions are normalized:
// an empty multiplicity becomes MultiplicityOne.
func NewSchema(name, version string, defs []AttributeDefinition) (*Schema, error) {
	s := &Schema{
		name:    name,
		version: version,
		defs:    make([]AttributeDefinition, 0, len(defs)),
		index:   make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		loc := fmt.Sprintf("attributes[%d]", i)
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, &SchemaError{Location: loc, Err: fmt.Errorf("empty attribute name")}
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, &SchemaError{Location: loc, Attribute: d.Name, Err: fmt.Errorf("duplicate attribute name")}
		}
		if !d.Type.Valid() {
			return nil, &SchemaError{Location: loc, Attribute: d.Name, Err: fmt.Errorf("unknown value type %q", d.Type)}
		}
		switch d.Multiplicity {
		case "":
			d.Multiplicity = MultiplicityOne
		case MultiplicityOne, MultiplicityMany:
		default:
			return nil, &SchemaError{Location: loc, Attribute: d.Name, Err: fmt.Errorf("unknown multiplicity %q", d.Multiplicity)}
		}
		s.index[d.Name] = len(s.defs)
		s.defs = append(s.defs, d)
	}
	return s, nil
}

func (s *Schema) Name() string    { return s.name }
func (s *Schema) Version() string { return s.version }
func (s *Schema) Len() int        { return len(s.defs) }

// Describe returns the definition for name.
func (s *Schema) Describe(name string) (AttributeDefinition, bool) {
	i, ok := s.index[name]
	if !ok {
		return AttributeDefinition{}, false
	}
	return s.defs[i], true
}

// Has reports whether name is defined.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Attributes returns the definitions in source order.
func (s *Schema) Attributes() []AttributeDefinition {
	out := make([]AttributeDefinition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Suggest returns the defined name closest to name, or "" when nothing is
// reasonably close.
func (s *Schema) Suggest(name string) string {
	best, bestDist := "", -1
	for _, d := range s.defs {
		dist := levenshtein.Distance(name, d.Name, nil)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = d.Name, dist
		}
	}
	// Anything needing more edits than half the name is noise.
	if bestDist < 0 || bestDist > max(2, len(name)/2) {
		return ""
	}
	return best
}

// NewRecord returns an empty record bound to s.
func (s *Schema) NewRecord() *Record {
	return &Record{schema: s, attrs: make(map[string][]Value)}
}

// Option configures an attribute added through a Builder.
type Option func(*AttributeDefinition)

// Many marks the attribute multi-valued.
func Many() Option {
	return func(d *AttributeDefinition) { d.Multiplicity = MultiplicityMany }
}

// Indexed marks the attribute as indexed by downstream search.
func Indexed() Option {
	return func(d *AttributeDefinition) { d.Indexed = true }
}

// Overridable lets later single-valued contributions replace earlier ones.
func Overridable() Option {
	return func(d *AttributeDefinition) { d.Overridable = true }
}

// WithDescription sets the human-readable description.
func WithDescription(desc string) Option {
	return func(d *AttributeDefinition) { d.Description = desc }
}

// Builder assembles a Schema in code.
//
//	s, err := record.NewBuilder("core").
//	    Add("title", record.TypeString, record.Indexed()).
//	    Add("keywords", record.TypeString, record.Many()).
//	    Build()
type Builder struct {
	name    string
	version string
	defs    []AttributeDefinition
}

// NewBuilder starts a schema called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Version sets the schema version.
func (b *Builder) Version(v string) *Builder {
	b.version = v
	return b
}

// Add appends an attribute definition.
func (b *Builder) Add(name string, t ValueType, opts ...Option) *Builder {
	d := AttributeDefinition{Name: name, Type: t, Multiplicity: MultiplicityOne}
	for _, opt := range opts {
		opt(&d)
	}
	b.defs = append(b.defs, d)
	return b
}

// Build validates the accumulated definitions.
func (b *Builder) Build() (*Schema, error) {
	return NewSchema(b.name, b.version, b.defs)
}

// MustBuild is Build for static schemas; it panics on error.
func (b *Builder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
