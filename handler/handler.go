package handler

import (
	"fmt"
	"strings"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/record"
)

// Handler reacts to parse events of one document and contributes attribute
// values once the document ends. A Handler instance serves exactly one parse.
type Handler interface {
	// Name identifies the handler in errors and logs.
	Name() string
	// Interested reports whether the handler wants events of kind k.
	Interested(k document.Kind) bool
	// Handle receives an event together with the open element path. For
	// ElementStart, Text and ElementEnd events the path ends with the
	// current element.
	Handle(ev document.Event, path Path) error
	// Contributions returns the values to apply after DocumentEnd.
	Contributions() []Contribution
}

// Finisher is implemented by handlers that can tell the delegate they need no
// further events. Handlers that do not implement it receive events until the
// document ends.
type Finisher interface {
	Finished() bool
}

// Contribution is a set of values for one attribute.
type Contribution struct {
	Attribute string
	Values    []record.Value
}

// Factory creates a fresh Handler for one parse against schema s.
type Factory func(s *record.Schema) Handler

// Path is the stack of open element local names, outermost first.
type Path []string

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Last returns the innermost element name.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Match reports whether the path ends with pattern, a slash separated list
// of local names. A leading slash anchors the pattern at the document root.
// "*" matches any single element.
func (p Path) Match(pattern string) bool {
	anchored := strings.HasPrefix(pattern, "/")
	parts := splitPattern(pattern)
	if len(parts) == 0 || len(parts) > len(p) {
		return false
	}
	if anchored && len(parts) != len(p) {
		return false
	}
	offset := len(p) - len(parts)
	for i, part := range parts {
		if part != "*" && part != p[offset+i] {
			return false
		}
	}
	return true
}

// Within reports whether some ancestor-or-self of the path matches pattern.
func (p Path) Within(pattern string) bool {
	for i := len(p); i > 0; i-- {
		if p[:i].Match(pattern) {
			return true
		}
	}
	return false
}

func splitPattern(pattern string) []string {
	var parts []string
	for _, part := range strings.Split(strings.Trim(pattern, "/"), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// TransformError reports a failure tied to a handler, and to an attribute
// when the record rejected a contribution.
type TransformError struct {
	Handler   string
	Attribute string
	Err       error
}

func (e *TransformError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("handler %q attribute %q: %v", e.Handler, e.Attribute, e.Err)
	}
	return fmt.Sprintf("handler %q: %v", e.Handler, e.Err)
}

// Unwrap exposes errors.ErrTransformFailure and the cause.
func (e *TransformError) Unwrap() []error {
	return []error{errors.ErrTransformFailure, e.Err}
}
