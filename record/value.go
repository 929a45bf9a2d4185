package record

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/c360/metaingest/errors"
)

// ValueType is the declared type of an attribute.
type ValueType string

// Value types understood by the schema. Definition sources use these tokens
// case-insensitively.
const (
	TypeString   ValueType = "STRING"
	TypeInteger  ValueType = "INTEGER"
	TypeDouble   ValueType = "DOUBLE"
	TypeDate     ValueType = "DATE"
	TypeBoolean  ValueType = "BOOLEAN"
	TypeBinary   ValueType = "BINARY"
	TypeGeometry ValueType = "GEOMETRY"
	TypeObject   ValueType = "OBJECT"
)

// typeAliases maps every accepted token to its canonical type.
var typeAliases = map[string]ValueType{
	"STRING":   TypeString,
	"XML":      TypeString,
	"INTEGER":  TypeInteger,
	"INT":      TypeInteger,
	"LONG":     TypeInteger,
	"SHORT":    TypeInteger,
	"DOUBLE":   TypeDouble,
	"FLOAT":    TypeDouble,
	"DATE":     TypeDate,
	"DATETIME": TypeDate,
	"BOOLEAN":  TypeBoolean,
	"BOOL":     TypeBoolean,
	"BINARY":   TypeBinary,
	"GEOMETRY": TypeGeometry,
	"OBJECT":   TypeObject,
}

// ParseValueType resolves a type token. Tokens are case-insensitive and a few
// aliases (LONG, FLOAT, XML...) collapse onto the canonical types.
func ParseValueType(token string) (ValueType, error) {
	t, ok := typeAliases[strings.ToUpper(strings.TrimSpace(token))]
	if !ok {
		return "", fmt.Errorf("unknown value type %q", token)
	}
	return t, nil
}

// Valid reports whether t is one of the canonical value types.
func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeDouble, TypeDate, TypeBoolean, TypeBinary, TypeGeometry, TypeObject:
		return true
	default:
		return false
	}
}

func (t ValueType) String() string {
	return string(t)
}

// Value is an immutable tagged union holding one attribute value.
// The zero Value has no kind and is rejected by Record.
type Value struct {
	kind ValueType
	str  string
	i    int64
	f    float64
	t    time.Time
	b    bool
	bin  []byte
	obj  map[string]any
}

// StringValue returns a STRING value.
func StringValue(s string) Value {
	return Value{kind: TypeString, str: s}
}

// IntegerValue returns an INTEGER value.
func IntegerValue(i int64) Value {
	return Value{kind: TypeInteger, i: i}
}

// DoubleValue returns a DOUBLE value.
func DoubleValue(f float64) Value {
	return Value{kind: TypeDouble, f: f}
}

// DateValue returns a DATE value normalized to UTC.
func DateValue(t time.Time) Value {
	return Value{kind: TypeDate, t: t.UTC()}
}

// BooleanValue returns a BOOLEAN value.
func BooleanValue(b bool) Value {
	return Value{kind: TypeBoolean, b: b}
}

// BinaryValue returns a BINARY value holding a copy of b.
func BinaryValue(b []byte) Value {
	return Value{kind: TypeBinary, bin: bytes.Clone(b)}
}

// GeometryValue returns a GEOMETRY value from WKT text. The text is not
// checked here; geometry validators own well-formedness.
func GeometryValue(wkt string) Value {
	return Value{kind: TypeGeometry, str: strings.TrimSpace(wkt)}
}

// ObjectValue returns an OBJECT value holding a shallow copy of m.
func ObjectValue(m map[string]any) Value {
	return Value{kind: TypeObject, obj: maps.Clone(m)}
}

// Kind returns the value's type.
func (v Value) Kind() ValueType {
	return v.kind
}

// IsZero reports whether v was never constructed.
func (v Value) IsZero() bool {
	return v.kind == ""
}

// AsString returns the payload of a STRING or GEOMETRY value.
func (v Value) AsString() (string, bool) {
	if v.kind != TypeString && v.kind != TypeGeometry {
		return "", false
	}
	return v.str, true
}

func (v Value) AsInteger() (int64, bool) {
	return v.i, v.kind == TypeInteger
}

func (v Value) AsDouble() (float64, bool) {
	return v.f, v.kind == TypeDouble
}

func (v Value) AsDate() (time.Time, bool) {
	return v.t, v.kind == TypeDate
}

func (v Value) AsBoolean() (bool, bool) {
	return v.b, v.kind == TypeBoolean
}

// AsBinary returns a copy of the payload.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != TypeBinary {
		return nil, false
	}
	return bytes.Clone(v.bin), true
}

// AsGeometry returns the WKT text of a GEOMETRY value.
func (v Value) AsGeometry() (string, bool) {
	return v.str, v.kind == TypeGeometry
}

// AsObject returns a shallow copy of the payload.
func (v Value) AsObject() (map[string]any, bool) {
	if v.kind != TypeObject {
		return nil, false
	}
	return maps.Clone(v.obj), true
}

// Number returns INTEGER and DOUBLE payloads as float64.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case TypeInteger:
		return float64(v.i), true
	case TypeDouble:
		return v.f, true
	default:
		return 0, false
	}
}

// Text renders the value in its canonical textual form. ParseValue(v.Kind(), v.Text())
// reproduces v for every kind.
func (v Value) Text() string {
	switch v.kind {
	case TypeString, TypeGeometry:
		return v.str
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeDate:
		return v.t.Format(time.RFC3339Nano)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeBinary:
		return base64.StdEncoding.EncodeToString(v.bin)
	case TypeObject:
		data, err := json.Marshal(v.obj)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.IsZero() {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", v.kind, v.Text())
}

// Equal reports content equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case TypeString, TypeGeometry:
		return v.str == o.str
	case TypeInteger:
		return v.i == o.i
	case TypeDouble:
		return v.f == o.f
	case TypeDate:
		return v.t.Equal(o.t)
	case TypeBoolean:
		return v.b == o.b
	case TypeBinary:
		return bytes.Equal(v.bin, o.bin)
	case TypeObject:
		return reflect.DeepEqual(v.obj, o.obj)
	default:
		return true
	}
}

// dateLayouts are tried in order by ParseValue for DATE attributes.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseValue converts document text into a value of type t.
// Leading and trailing whitespace is ignored for every type except STRING.
func ParseValue(t ValueType, text string) (Value, error) {
	trimmed := strings.TrimSpace(text)
	switch t {
	case TypeString:
		return StringValue(text), nil
	case TypeGeometry:
		return GeometryValue(trimmed), nil
	case TypeInteger:
		i, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return Value{}, invalidValue(t, text, err)
		}
		return IntegerValue(i), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, invalidValue(t, text, err)
		}
		return DoubleValue(f), nil
	case TypeDate:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return DateValue(ts), nil
			}
		}
		return Value{}, invalidValue(t, text, fmt.Errorf("no matching date layout"))
	case TypeBoolean:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return Value{}, invalidValue(t, text, err)
		}
		return BooleanValue(b), nil
	case TypeBinary:
		b, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return Value{}, invalidValue(t, text, err)
		}
		return BinaryValue(b), nil
	case TypeObject:
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
			return Value{}, invalidValue(t, text, err)
		}
		return Value{kind: TypeObject, obj: m}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value type %q", errors.ErrInvalidAttributeValue, t)
	}
}

func invalidValue(t ValueType, text string, cause error) error {
	const maxShown = 64
	if len(text) > maxShown {
		text = text[:maxShown] + "..."
	}
	return fmt.Errorf("%w: %q is not a valid %s: %v", errors.ErrInvalidAttributeValue, text, t, cause)
}
