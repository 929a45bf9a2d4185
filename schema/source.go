package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/metaingest/record"
)

// Format identifies the syntax of a definition source.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("cannot infer schema format from %q", path)
	}
}

// ParseFormat resolves a format name as used in configuration.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown schema format %q", name)
	}
}

//go:embed definition.schema.json
var metaSchema []byte

var compiledMetaSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(metaSchema))
})

// Source mirrors the on-disk definition document.
type Source struct {
	Name       string            `json:"name" yaml:"name"`
	Version    string            `json:"version" yaml:"version"`
	Attributes []SourceAttribute `json:"attributes" yaml:"attributes"`
}

// SourceAttribute is one attribute entry of a definition document.
type SourceAttribute struct {
	Name         string `json:"name" yaml:"name"`
	Type         string `json:"type" yaml:"type"`
	Multiplicity string `json:"multiplicity,omitempty" yaml:"multiplicity,omitempty"`
	Indexed      bool   `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Overridable  bool   `json:"overridable,omitempty" yaml:"overridable,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Parse reads a definition document and builds a Schema. Every failure is a
// *record.SchemaError wrapping errors.ErrSchema, with a location hint such as
// "attributes[3].type (line 14)" when one is known.
func Parse(r io.Reader, format Format) (*record.Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &record.SchemaError{Location: "source", Err: fmt.Errorf("read definition: %w", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &record.SchemaError{Location: "source", Err: fmt.Errorf("empty definition")}
	}

	var (
		generic any
		src     Source
		lines   []int
	)
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, &record.SchemaError{Location: jsonLocation(err), Err: err}
		}
	case FormatYAML:
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, &record.SchemaError{Location: "source", Err: err}
		}
		if err := root.Decode(&generic); err != nil {
			return nil, &record.SchemaError{Location: "source", Err: err}
		}
		lines = attributeLines(&root)
	default:
		return nil, &record.SchemaError{Location: "source", Err: fmt.Errorf("unsupported format %q", format)}
	}

	if err := metaValidate(generic, lines); err != nil {
		return nil, err
	}

	// The generic tree already passed the meta-schema, so re-encoding is safe
	// and gives both formats one decode path.
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, &record.SchemaError{Location: "source", Err: err}
	}
	if err := json.Unmarshal(normalized, &src); err != nil {
		return nil, &record.SchemaError{Location: "source", Err: err}
	}
	return src.Build(lines)
}

// SourceOf renders s as a definition document that Parse reads back into an
// equal schema.
func SourceOf(s *record.Schema) Source {
	src := Source{Name: s.Name(), Version: s.Version()}
	for _, d := range s.Attributes() {
		src.Attributes = append(src.Attributes, SourceAttribute{
			Name:         d.Name,
			Type:         d.Type.String(),
			Multiplicity: string(d.Multiplicity),
			Indexed:      d.Indexed,
			Overridable:  d.Overridable,
			Description:  d.Description,
		})
	}
	return src
}

// Build converts the source into a Schema. lines optionally maps attribute
// indexes to source line numbers.
func (s Source) Build(lines []int) (*record.Schema, error) {
	defs := make([]record.AttributeDefinition, 0, len(s.Attributes))
	for i, a := range s.Attributes {
		t, err := record.ParseValueType(a.Type)
		if err != nil {
			return nil, &record.SchemaError{Location: location(fmt.Sprintf("attributes[%d].type", i), lines, i), Attribute: a.Name, Err: err}
		}
		m, err := record.ParseMultiplicity(a.Multiplicity)
		if err != nil {
			return nil, &record.SchemaError{Location: location(fmt.Sprintf("attributes[%d].multiplicity", i), lines, i), Attribute: a.Name, Err: err}
		}
		defs = append(defs, record.AttributeDefinition{
			Name:         a.Name,
			Type:         t,
			Multiplicity: m,
			Indexed:      a.Indexed,
			Overridable:  a.Overridable,
			Description:  a.Description,
		})
	}

	sch, err := record.NewSchema(s.Name, s.Version, defs)
	if err != nil {
		var se *record.SchemaError
		if stderrors.As(err, &se) {
			var idx int
			if _, scanErr := fmt.Sscanf(se.Location, "attributes[%d]", &idx); scanErr == nil {
				se.Location = location(se.Location, lines, idx)
			}
		}
		return nil, err
	}
	return sch, nil
}

func metaValidate(doc any, lines []int) error {
	meta, err := compiledMetaSchema()
	if err != nil {
		return &record.SchemaError{Location: "meta-schema", Err: err}
	}
	result, err := meta.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &record.SchemaError{Location: "source", Err: fmt.Errorf("meta-schema validation: %w", err)}
	}
	if result.Valid() {
		return nil
	}
	desc := result.Errors()[0]
	field := fieldLocation(desc.Field())
	idx := -1
	if _, err := fmt.Sscanf(field, "attributes[%d]", &idx); err != nil {
		idx = -1
	}
	se := &record.SchemaError{Location: location(field, lines, idx), Err: fmt.Errorf("%s", desc.Description())}
	if len(result.Errors()) > 1 {
		se.Err = fmt.Errorf("%s (and %d more problems)", desc.Description(), len(result.Errors())-1)
	}
	return se
}

var indexSegment = regexp.MustCompile(`\.(\d+)`)

// fieldLocation rewrites gojsonschema paths (attributes.2.type) into
// attributes[2].type.
func fieldLocation(field string) string {
	if field == "(root)" {
		return "document"
	}
	return indexSegment.ReplaceAllString(field, "[$1]")
}

func location(loc string, lines []int, idx int) string {
	if idx >= 0 && idx < len(lines) && lines[idx] > 0 {
		return fmt.Sprintf("%s (line %d)", loc, lines[idx])
	}
	return loc
}

func jsonLocation(err error) string {
	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return fmt.Sprintf("offset %d", syntaxErr.Offset)
	}
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return fmt.Sprintf("offset %d", typeErr.Offset)
	}
	return "source"
}

// attributeLines returns the line of each entry of the top-level
// "attributes" sequence.
func attributeLines(root *yaml.Node) []int {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "attributes" {
			continue
		}
		seq := doc.Content[i+1]
		if seq.Kind != yaml.SequenceNode {
			return nil
		}
		lines := make([]int, len(seq.Content))
		for j, item := range seq.Content {
			lines[j] = item.Line
		}
		return lines
	}
	return nil
}
