package handler

import (
	"fmt"
	"strings"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/record"
)

// Mapping binds a path pattern to a record attribute. For text mappings the
// pattern names an element ("Resource/title"); for XML attribute mappings it
// names an element and attribute ("Resource@id").
type Mapping struct {
	Path      string `json:"path" yaml:"path"`
	Attribute string `json:"attribute" yaml:"attribute"`
}

// convert turns document text into a value for attr, using the declared type
// when s defines attr. Unknown attributes yield a STRING value so the record
// reports them.
func convert(s *record.Schema, attr, text string) (record.Value, error) {
	def, ok := s.Describe(attr)
	if !ok {
		return record.StringValue(text), nil
	}
	v, err := record.ParseValue(def.Type, text)
	if err != nil {
		return record.Value{}, fmt.Errorf("attribute %q: %w", attr, err)
	}
	return v, nil
}

type capture struct {
	mapping int
	depth   int
	buf     strings.Builder
}

// TextHandler collects the text content of mapped elements. Content of nested
// elements is included. Whitespace-only content is ignored.
type TextHandler struct {
	name     string
	schema   *record.Schema
	mappings []Mapping
	open     []*capture
	values   [][]record.Value
}

// NewTextHandler returns a factory for text handlers over mappings.
func NewTextHandler(name string, mappings []Mapping) Factory {
	return func(s *record.Schema) Handler {
		return &TextHandler{
			name:     name,
			schema:   s,
			mappings: mappings,
			values:   make([][]record.Value, len(mappings)),
		}
	}
}

func (h *TextHandler) Name() string { return h.name }

func (h *TextHandler) Interested(k document.Kind) bool {
	return k == document.KindElementStart || k == document.KindText || k == document.KindElementEnd
}

func (h *TextHandler) Handle(ev document.Event, path Path) error {
	switch ev.Kind {
	case document.KindElementStart:
		for i, m := range h.mappings {
			if path.Match(m.Path) {
				h.open = append(h.open, &capture{mapping: i, depth: len(path)})
			}
		}
	case document.KindText:
		for _, c := range h.open {
			c.buf.WriteString(ev.Text)
		}
	case document.KindElementEnd:
		for len(h.open) > 0 {
			c := h.open[len(h.open)-1]
			if c.depth != len(path) {
				break
			}
			h.open = h.open[:len(h.open)-1]
			if err := h.finish(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *TextHandler) finish(c *capture) error {
	text := strings.TrimSpace(c.buf.String())
	if text == "" {
		return nil
	}
	attr := h.mappings[c.mapping].Attribute
	v, err := convert(h.schema, attr, text)
	if err != nil {
		return err
	}
	h.values[c.mapping] = append(h.values[c.mapping], v)
	return nil
}

// Contributions are returned in mapping order.
func (h *TextHandler) Contributions() []Contribution {
	var out []Contribution
	for i, vals := range h.values {
		if len(vals) > 0 {
			out = append(out, Contribution{Attribute: h.mappings[i].Attribute, Values: vals})
		}
	}
	return out
}

// AttributeHandler copies XML attribute values of mapped elements.
type AttributeHandler struct {
	name     string
	schema   *record.Schema
	mappings []attrMapping
	values   [][]record.Value
}

type attrMapping struct {
	element   string
	attr      string
	attribute string
}

// splitAttrPath splits "Resource/item@id" into its element pattern and
// attribute name.
func splitAttrPath(p string) (element, attr string, err error) {
	i := strings.LastIndex(p, "@")
	if i <= 0 || i == len(p)-1 {
		return "", "", fmt.Errorf("path %q must have the form element@attribute", p)
	}
	return p[:i], p[i+1:], nil
}

// NewAttributeHandler returns a factory for attribute handlers. Every mapping
// path must have the form element@attribute.
func NewAttributeHandler(name string, mappings []Mapping) (Factory, error) {
	parsed := make([]attrMapping, 0, len(mappings))
	for _, m := range mappings {
		el, attr, err := splitAttrPath(m.Path)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, attrMapping{element: el, attr: attr, attribute: m.Attribute})
	}
	return func(s *record.Schema) Handler {
		return &AttributeHandler{
			name:     name,
			schema:   s,
			mappings: parsed,
			values:   make([][]record.Value, len(parsed)),
		}
	}, nil
}

func (h *AttributeHandler) Name() string { return h.name }

func (h *AttributeHandler) Interested(k document.Kind) bool {
	return k == document.KindElementStart
}

func (h *AttributeHandler) Handle(ev document.Event, path Path) error {
	for i, m := range h.mappings {
		if !path.Match(m.element) {
			continue
		}
		raw, ok := ev.Attr(m.attr)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := convert(h.schema, m.attribute, raw)
		if err != nil {
			return err
		}
		h.values[i] = append(h.values[i], v)
	}
	return nil
}

func (h *AttributeHandler) Contributions() []Contribution {
	var out []Contribution
	for i, vals := range h.values {
		if len(vals) > 0 {
			out = append(out, Contribution{Attribute: h.mappings[i].attribute, Values: vals})
		}
	}
	return out
}
