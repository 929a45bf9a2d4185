package validator

import (
	"fmt"
	"sync"

	"github.com/c360/metaingest/record"
)

// ID names a validator in diagnostics, e.g. "geometry:isr.frame-center".
type ID string

// Validator checks single values. Implementations are pure: they never
// mutate records and hold no per-call state.
type Validator interface {
	ID() ID
	// IsValid reports whether v passes and, when it does not, why.
	IsValid(v record.Value) (bool, string)
}

// Violation is one failed check against a record.
type Violation struct {
	Validator ID
	Attribute string
	Value     record.Value
	Reason    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s rejected %s=%s: %s", v.Validator, v.Attribute, v.Value.Text(), v.Reason)
}

// AttributeValidator binds a Checker to one attribute.
type AttributeValidator struct {
	attribute string
	checker   Checker
}

// ForAttribute specializes c for attr.
func ForAttribute(attr string, c Checker) *AttributeValidator {
	return &AttributeValidator{attribute: attr, checker: c}
}

// NewGeometryValidator checks WKT geometry on attr.
func NewGeometryValidator(attr string) *AttributeValidator {
	return ForAttribute(attr, GeometryChecker{})
}

// NewLocationValidator checks the location footprint.
func NewLocationValidator() *AttributeValidator {
	return NewGeometryValidator("location")
}

// NewFrameCenterValidator checks the sensor frame center.
func NewFrameCenterValidator() *AttributeValidator {
	return NewGeometryValidator("isr.frame-center")
}

func (v *AttributeValidator) ID() ID {
	return ID(v.checker.Name() + ":" + v.attribute)
}

// Attribute returns the attribute the validator is bound to.
func (v *AttributeValidator) Attribute() string {
	return v.attribute
}

func (v *AttributeValidator) IsValid(val record.Value) (bool, string) {
	if err := v.checker.Check(val); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// ValidateRecord checks every value of the bound attribute. An unset
// attribute produces no violations.
func (v *AttributeValidator) ValidateRecord(rec *record.Record) []Violation {
	var out []Violation
	for _, val := range rec.Get(v.attribute) {
		if ok, reason := v.IsValid(val); !ok {
			out = append(out, Violation{Validator: v.ID(), Attribute: v.attribute, Value: val, Reason: reason})
		}
	}
	return out
}

// Set is a registry of attribute validators, safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	byAttr map[string][]*AttributeValidator
	order  []string
}

// NewSet returns a Set holding vs.
func NewSet(vs ...*AttributeValidator) *Set {
	s := &Set{byAttr: make(map[string][]*AttributeValidator)}
	for _, v := range vs {
		s.Register(v)
	}
	return s
}

// Register adds v. Validators for the same attribute run in registration order.
func (s *Set) Register(v *AttributeValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAttr[v.attribute]; !ok {
		s.order = append(s.order, v.attribute)
	}
	s.byAttr[v.attribute] = append(s.byAttr[v.attribute], v)
}

// For returns the validators bound to attr.
func (s *Set) For(attr string) []*AttributeValidator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*AttributeValidator(nil), s.byAttr[attr]...)
}

// All returns every validator in registration order.
func (s *Set) All() []*AttributeValidator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AttributeValidator
	for _, attr := range s.order {
		out = append(out, s.byAttr[attr]...)
	}
	return out
}

// ValidateRecord runs every registered validator against rec.
func (s *Set) ValidateRecord(rec *record.Record) []Violation {
	var out []Violation
	for _, v := range s.All() {
		out = append(out, v.ValidateRecord(rec)...)
	}
	return out
}

// DefaultSet holds the geometry validators for the core taxonomy.
func DefaultSet() *Set {
	return NewSet(NewLocationValidator(), NewFrameCenterValidator())
}
