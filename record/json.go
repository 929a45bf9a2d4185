package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/metaingest/errors"
)

type jsonValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

type jsonRecord struct {
	ID         string                 `json:"id,omitempty"`
	Schema     string                 `json:"schema,omitempty"`
	Version    string                 `json:"version,omitempty"`
	Attributes map[string][]jsonValue `json:"attributes"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case TypeString, TypeGeometry:
		payload = v.str
	case TypeInteger:
		payload = v.i
	case TypeDouble:
		payload = v.f
	case TypeDate:
		payload = v.t.Format(time.RFC3339Nano)
	case TypeBoolean:
		payload = v.b
	case TypeBinary:
		payload = v.bin
	case TypeObject:
		payload = v.obj
	default:
		return nil, fmt.Errorf("marshal empty value")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonValue{Type: v.kind, Value: raw})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	decoded, err := decodeValue(jv)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func decodeValue(jv jsonValue) (Value, error) {
	var err error
	switch jv.Type {
	case TypeString, TypeGeometry:
		var s string
		if err = json.Unmarshal(jv.Value, &s); err == nil {
			if jv.Type == TypeGeometry {
				return GeometryValue(s), nil
			}
			return StringValue(s), nil
		}
	case TypeInteger:
		var i int64
		if err = json.Unmarshal(jv.Value, &i); err == nil {
			return IntegerValue(i), nil
		}
	case TypeDouble:
		var f float64
		if err = json.Unmarshal(jv.Value, &f); err == nil {
			return DoubleValue(f), nil
		}
	case TypeDate:
		var s string
		if err = json.Unmarshal(jv.Value, &s); err == nil {
			return ParseValue(TypeDate, s)
		}
	case TypeBoolean:
		var b bool
		if err = json.Unmarshal(jv.Value, &b); err == nil {
			return BooleanValue(b), nil
		}
	case TypeBinary:
		var b []byte
		if err = json.Unmarshal(jv.Value, &b); err == nil {
			return BinaryValue(b), nil
		}
	case TypeObject:
		var m map[string]any
		if err = json.Unmarshal(jv.Value, &m); err == nil {
			return Value{kind: TypeObject, obj: m}, nil
		}
	default:
		err = fmt.Errorf("unknown value type %q", jv.Type)
	}
	return Value{}, fmt.Errorf("%w: %v", errors.ErrInvalidAttributeValue, err)
}

// MarshalJSON encodes the record with its schema name and version.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         string             `json:"id,omitempty"`
		Schema     string             `json:"schema,omitempty"`
		Version    string             `json:"version,omitempty"`
		Attributes map[string][]Value `json:"attributes"`
	}{
		ID:         r.id,
		Schema:     r.schema.Name(),
		Version:    r.schema.Version(),
		Attributes: r.attrs,
	})
}

// UnmarshalRecord decodes data into a new record bound to s. A record that
// names another schema fails with ErrRecordSchemaMismatched; the version may
// differ. Every attribute goes through Set, so unnamed data written against
// another schema fails with the usual attribute errors.
func UnmarshalRecord(data []byte, s *Schema) (*Record, error) {
	var in jsonRecord
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.WrapInvalid(err, "Record", "UnmarshalRecord", "decode record")
	}
	if in.Schema != "" && in.Schema != s.Name() {
		err := fmt.Errorf("%w: %q, want %q", errors.ErrRecordSchemaMismatched, in.Schema, s.Name())
		return nil, errors.WrapInvalid(err, "Record", "UnmarshalRecord", "bind record")
	}
	rec := s.NewRecord()
	rec.id = in.ID
	for name, encoded := range in.Attributes {
		vals := make([]Value, 0, len(encoded))
		for _, jv := range encoded {
			v, err := decodeValue(jv)
			if err != nil {
				return nil, &AttributeError{Attribute: name, Err: err}
			}
			vals = append(vals, v)
		}
		if err := rec.Set(name, vals...); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
