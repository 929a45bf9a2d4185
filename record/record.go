package record

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/c360/metaingest/errors"
)

// AttributeError reports a rejected attribute operation. Err wraps one of the
// record sentinels in the errors package.
type AttributeError struct {
	Attribute  string
	Suggestion string
	Err        error
}

func (e *AttributeError) Error() string {
	msg := fmt.Sprintf("attribute %q: %v", e.Attribute, e.Err)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

func (e *AttributeError) Unwrap() error {
	return e.Err
}

// Record is a schema-checked metadata container mapping attribute names to
// ordered values. Every stored attribute exists in the bound schema, every
// value matches its declared type and single-valued attributes hold at most
// one value.
//
// A Record is not safe for concurrent mutation.
type Record struct {
	schema *Schema
	id     string
	attrs  map[string][]Value
}

// Schema returns the schema the record was created against.
func (r *Record) Schema() *Schema {
	return r.schema
}

// ID returns the record identifier, empty until assigned.
func (r *Record) ID() string {
	return r.id
}

// SetID assigns the record identifier.
func (r *Record) SetID(id string) {
	r.id = id
}

// Set replaces the values of name. Passing no values removes the attribute.
func (r *Record) Set(name string, values ...Value) error {
	def, err := r.check(name, values)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		delete(r.attrs, name)
		return nil
	}
	if !def.IsMany() && len(values) > 1 {
		return &AttributeError{
			Attribute: name,
			Err:       fmt.Errorf("%w: %d values for single-valued attribute", errors.ErrMultiplicityViolation, len(values)),
		}
	}
	r.attrs[name] = slices.Clone(values)
	return nil
}

// Append adds value to name. A single-valued attribute that already holds a
// value rejects the append with ErrAttributeConflict, unless its definition is
// overridable in which case value replaces the existing one.
func (r *Record) Append(name string, value Value) error {
	return r.AppendAll(name, value)
}

// AppendAll appends values to name in order with the checks of Append.
// Supplying more than one value for a single-valued attribute fails with
// ErrMultiplicityViolation.
func (r *Record) AppendAll(name string, values ...Value) error {
	def, err := r.check(name, values)
	if err != nil || len(values) == 0 {
		return err
	}
	if def.IsMany() {
		r.attrs[name] = append(r.attrs[name], values...)
		return nil
	}
	if len(values) > 1 {
		return &AttributeError{
			Attribute: name,
			Err:       fmt.Errorf("%w: %d values for single-valued attribute", errors.ErrMultiplicityViolation, len(values)),
		}
	}
	if existing, ok := r.attrs[name]; ok && !def.Overridable {
		return &AttributeError{
			Attribute: name,
			Err:       fmt.Errorf("%w: already holds %s", errors.ErrAttributeConflict, existing[0]),
		}
	}
	r.attrs[name] = []Value{values[0]}
	return nil
}

// check resolves the definition for name and type-checks values.
func (r *Record) check(name string, values []Value) (AttributeDefinition, error) {
	def, ok := r.schema.Describe(name)
	if !ok {
		return def, &AttributeError{
			Attribute:  name,
			Suggestion: r.schema.Suggest(name),
			Err:        errors.ErrUnknownAttribute,
		}
	}
	for i, v := range values {
		if v.Kind() != def.Type {
			got := string(v.Kind())
			if v.IsZero() {
				got = "empty value"
			}
			return def, &AttributeError{
				Attribute: name,
				Err:       fmt.Errorf("%w: value %d is %s, want %s", errors.ErrTypeMismatch, i, got, def.Type),
			}
		}
	}
	return def, nil
}

// Get returns a copy of the values of name, empty when unset.
func (r *Record) Get(name string) []Value {
	return slices.Clone(r.attrs[name])
}

// First returns the first value of name.
func (r *Record) First(name string) (Value, bool) {
	vals := r.attrs[name]
	if len(vals) == 0 {
		return Value{}, false
	}
	return vals[0], true
}

// Has reports whether name holds at least one value.
func (r *Record) Has(name string) bool {
	return len(r.attrs[name]) > 0
}

// Remove deletes name and reports whether it was present.
func (r *Record) Remove(name string) bool {
	_, ok := r.attrs[name]
	delete(r.attrs, name)
	return ok
}

// Names returns the set attribute names in lexical order.
func (r *Record) Names() []string {
	names := make([]string, 0, len(r.attrs))
	for n := range r.attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of set attributes.
func (r *Record) Len() int {
	return len(r.attrs)
}

// Clone returns an independent copy bound to the same schema.
func (r *Record) Clone() *Record {
	c := &Record{schema: r.schema, id: r.id, attrs: make(map[string][]Value, len(r.attrs))}
	for n, vals := range r.attrs {
		c.attrs[n] = slices.Clone(vals)
	}
	return c
}

// Equal reports content equality: same attribute names with equal values in
// the same order. The ID and schema identity are not compared.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.attrs) != len(o.attrs) {
		return false
	}
	for n, vals := range r.attrs {
		other, ok := o.attrs[n]
		if !ok || !slices.EqualFunc(vals, other, Value.Equal) {
			return false
		}
	}
	return true
}

// String renders the record for logs.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteString("Record{")
	if r.id != "" {
		fmt.Fprintf(&b, "id=%s ", r.id)
	}
	for i, n := range r.Names() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", n, r.attrs[n])
	}
	b.WriteByte('}')
	return b.String()
}
