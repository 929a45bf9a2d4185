package ingest

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/record"
)

// Kind is the operation an ingest request performs.
type Kind uint8

const (
	KindCreate Kind = 1 << iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind reads a kind name, ignoring case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return KindCreate, nil
	case "update":
		return KindUpdate, nil
	case "delete":
		return KindDelete, nil
	}
	return 0, fmt.Errorf("unknown request kind %q", s)
}

// KindSet is a set of request kinds a stage reacts to.
type KindSet uint8

// AllKinds contains create, update and delete.
const AllKinds = KindSet(KindCreate | KindUpdate | KindDelete)

// Kinds builds a set from kinds.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= KindSet(k)
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return s&KindSet(k) != 0
}

func (s KindSet) String() string {
	var names []string
	for _, k := range []Kind{KindCreate, KindUpdate, KindDelete} {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ParseKindSet reads a list of kind names. An empty list means AllKinds.
func ParseKindSet(names []string) (KindSet, error) {
	if len(names) == 0 {
		return AllKinds, nil
	}
	var s KindSet
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return 0, err
		}
		s |= KindSet(k)
	}
	return s, nil
}

// Well-known request properties.
const (
	PropertySource     = "source"
	PropertyReceivedAt = "received-at"
)

// Request is one create, update or delete travelling through a Chain.
// Stages treat the request they receive as their own copy.
type Request struct {
	kind       Kind
	id         string
	record     *record.Record
	traceID    string
	properties map[string]any
}

// NewCreate wraps a new record. The record keeps its ID when it has one;
// otherwise a random UUID is assigned to both.
func NewCreate(rec *record.Record) *Request {
	id := ""
	if rec != nil {
		id = rec.ID()
		if id == "" {
			id = uuid.NewString()
			rec.SetID(id)
		}
	}
	return newRequest(KindCreate, id, rec)
}

// NewUpdate replaces the record stored under id.
func NewUpdate(id string, rec *record.Record) *Request {
	if rec != nil {
		rec.SetID(id)
	}
	return newRequest(KindUpdate, id, rec)
}

// NewDelete removes the record stored under id.
func NewDelete(id string) *Request {
	return newRequest(KindDelete, id, nil)
}

func newRequest(kind Kind, id string, rec *record.Record) *Request {
	return &Request{
		kind:       kind,
		id:         id,
		record:     rec,
		traceID:    uuid.NewString(),
		properties: map[string]any{PropertyReceivedAt: time.Now().UTC()},
	}
}

func (r *Request) Kind() Kind      { return r.kind }
func (r *Request) ID() string      { return r.id }
func (r *Request) TraceID() string { return r.traceID }

// Record returns the request record. It is nil for deletes.
func (r *Request) Record() *record.Record { return r.record }

// Property returns a request property.
func (r *Request) Property(key string) (any, bool) {
	v, ok := r.properties[key]
	return v, ok
}

// SetProperty sets a request property.
func (r *Request) SetProperty(key string, value any) {
	r.properties[key] = value
}

// Properties returns a copy of all properties.
func (r *Request) Properties() map[string]any {
	return maps.Clone(r.properties)
}

// Clone copies the request, its record and its property map. Property values
// themselves are shared.
func (r *Request) Clone() *Request {
	c := *r
	if r.record != nil {
		c.record = r.record.Clone()
	}
	c.properties = maps.Clone(r.properties)
	if c.properties == nil {
		c.properties = map[string]any{}
	}
	return &c
}

// WithRecord returns a copy of the request carrying rec. The record takes the
// request ID.
func (r *Request) WithRecord(rec *record.Record) *Request {
	c := r.Clone()
	if rec != nil {
		rec.SetID(r.id)
	}
	c.record = rec
	return c
}

// Validate checks that the request is well formed for its kind.
func (r *Request) Validate() error {
	var problem string
	switch {
	case r.id == "":
		problem = "missing id"
	case r.kind == KindDelete && r.record != nil:
		problem = "delete carries a record"
	case r.kind != KindDelete && r.record == nil:
		problem = r.kind.String() + " without a record"
	case r.record != nil && r.record.ID() != r.id:
		problem = fmt.Sprintf("record id %q differs from request id %q", r.record.ID(), r.id)
	case r.kind != KindCreate && r.kind != KindUpdate && r.kind != KindDelete:
		problem = "unknown kind " + r.kind.String()
	}
	if problem == "" {
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidRequest, problem),
		"Request", "Validate", "check request")
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s (trace %s)", r.kind, r.id, r.traceID)
}
