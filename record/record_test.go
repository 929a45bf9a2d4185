package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/errors"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewBuilder("test").Version("1").
		Add("title", TypeString, Indexed()).
		Add("keywords", TypeString, Many()).
		Add("resource-size", TypeInteger).
		Add("created", TypeDate).
		Add("location", TypeGeometry).
		Add("thumbnail", TypeBinary).
		Add("score", TypeDouble, Overridable()).
		Add("extra", TypeObject).
		Build()
	require.NoError(t, err)
	return s
}

func TestRecord_UnknownAttribute(t *testing.T) {
	rec := testSchema(t).NewRecord()

	for _, name := range []string{"titel", "nope", ""} {
		err := rec.Set(name, StringValue("x"))
		assert.ErrorIs(t, err, errors.ErrUnknownAttribute, name)
		assert.True(t, errors.IsInvalid(err))

		err = rec.Append(name, StringValue("x"))
		assert.ErrorIs(t, err, errors.ErrUnknownAttribute, name)
	}

	var attrErr *AttributeError
	require.ErrorAs(t, rec.Set("titel", StringValue("x")), &attrErr)
	assert.Equal(t, "titel", attrErr.Attribute)
	assert.Equal(t, "title", attrErr.Suggestion)
	assert.Zero(t, rec.Len())
}

func TestRecord_TypeMismatch(t *testing.T) {
	rec := testSchema(t).NewRecord()

	tests := []struct {
		name  string
		attr  string
		value Value
	}{
		{"integer into string", "title", IntegerValue(1)},
		{"string into integer", "resource-size", StringValue("12")},
		{"string into geometry", "location", StringValue("POINT(1 1)")},
		{"zero value", "title", Value{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rec.Set(tt.attr, tt.value)
			assert.ErrorIs(t, err, errors.ErrTypeMismatch)
			assert.False(t, rec.Has(tt.attr))
		})
	}
}

func TestRecord_Multiplicity(t *testing.T) {
	rec := testSchema(t).NewRecord()

	err := rec.Set("title", StringValue("a"), StringValue("b"))
	assert.ErrorIs(t, err, errors.ErrMultiplicityViolation)

	require.NoError(t, rec.Append("title", StringValue("a")))
	err = rec.Append("title", StringValue("b"))
	assert.ErrorIs(t, err, errors.ErrAttributeConflict)
	assert.Equal(t, []Value{StringValue("a")}, rec.Get("title"))

	// Set always replaces.
	require.NoError(t, rec.Set("title", StringValue("c")))
	assert.Equal(t, []Value{StringValue("c")}, rec.Get("title"))

	err = rec.AppendAll("resource-size", IntegerValue(1), IntegerValue(2))
	assert.ErrorIs(t, err, errors.ErrMultiplicityViolation)
}

func TestRecord_OverridableReplaces(t *testing.T) {
	rec := testSchema(t).NewRecord()

	require.NoError(t, rec.Append("score", DoubleValue(0.5)))
	require.NoError(t, rec.Append("score", DoubleValue(0.9)))

	v, ok := rec.First("score")
	require.True(t, ok)
	f, _ := v.AsDouble()
	assert.Equal(t, 0.9, f)
	assert.Len(t, rec.Get("score"), 1)
}

func TestRecord_ManyAppendsInOrder(t *testing.T) {
	rec := testSchema(t).NewRecord()

	require.NoError(t, rec.Append("keywords", StringValue("a")))
	require.NoError(t, rec.AppendAll("keywords", StringValue("b"), StringValue("c")))
	assert.Equal(t, []Value{StringValue("a"), StringValue("b"), StringValue("c")}, rec.Get("keywords"))

	require.NoError(t, rec.Set("keywords"))
	assert.False(t, rec.Has("keywords"))
}

func TestRecord_GetReturnsCopy(t *testing.T) {
	rec := testSchema(t).NewRecord()
	require.NoError(t, rec.Set("keywords", StringValue("a"), StringValue("b")))

	vals := rec.Get("keywords")
	vals[0] = StringValue("mutated")

	assert.Equal(t, StringValue("a"), rec.Get("keywords")[0])
	assert.Empty(t, rec.Get("title"))
}

func TestRecord_CloneAndEqual(t *testing.T) {
	rec := testSchema(t).NewRecord()
	rec.SetID("abc")
	require.NoError(t, rec.Set("title", StringValue("Doc1")))
	require.NoError(t, rec.Set("keywords", StringValue("a"), StringValue("b")))
	require.NoError(t, rec.Set("thumbnail", BinaryValue([]byte{1, 2, 3})))

	clone := rec.Clone()
	assert.True(t, rec.Equal(clone))
	assert.Equal(t, "abc", clone.ID())

	require.NoError(t, clone.Append("keywords", StringValue("c")))
	assert.False(t, rec.Equal(clone))
	assert.Len(t, rec.Get("keywords"), 2)

	// Order of MANY values is significant.
	other := testSchema(t).NewRecord()
	require.NoError(t, other.Set("title", StringValue("Doc1")))
	require.NoError(t, other.Set("keywords", StringValue("b"), StringValue("a")))
	require.NoError(t, other.Set("thumbnail", BinaryValue([]byte{1, 2, 3})))
	assert.False(t, rec.Equal(other))

	assert.Equal(t, []string{"keywords", "thumbnail", "title"}, rec.Names())
	assert.True(t, rec.Remove("thumbnail"))
	assert.False(t, rec.Remove("thumbnail"))
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	s := testSchema(t)
	rec := s.NewRecord()
	rec.SetID("id-1")
	created := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, rec.Set("title", StringValue("Doc1")))
	require.NoError(t, rec.Set("keywords", StringValue("a"), StringValue("b")))
	require.NoError(t, rec.Set("resource-size", IntegerValue(42)))
	require.NoError(t, rec.Set("created", DateValue(created)))
	require.NoError(t, rec.Set("location", GeometryValue("POINT (50 50)")))
	require.NoError(t, rec.Set("thumbnail", BinaryValue([]byte("png"))))
	require.NoError(t, rec.Set("extra", ObjectValue(map[string]any{"k": "v"})))

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"schema":"test"`)

	decoded, err := UnmarshalRecord(data, s)
	require.NoError(t, err)
	assert.Equal(t, "id-1", decoded.ID())
	assert.True(t, rec.Equal(decoded), "decoded %s", decoded)
}

func TestUnmarshalRecord_RejectsForeignAttributes(t *testing.T) {
	data := []byte(`{"attributes":{"unknown":[{"type":"STRING","value":"x"}]}}`)
	_, err := UnmarshalRecord(data, testSchema(t))
	assert.ErrorIs(t, err, errors.ErrUnknownAttribute)

	data = []byte(`{"attributes":{"title":[{"type":"WHAT","value":"x"}]}}`)
	_, err = UnmarshalRecord(data, testSchema(t))
	assert.ErrorIs(t, err, errors.ErrInvalidAttributeValue)
}

func TestUnmarshalRecord_SchemaName(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"same schema", `{"schema":"test","version":"1","attributes":{"title":[{"type":"STRING","value":"x"}]}}`, nil},
		{"other version", `{"schema":"test","version":"7","attributes":{"title":[{"type":"STRING","value":"x"}]}}`, nil},
		{"unnamed", `{"attributes":{"title":[{"type":"STRING","value":"x"}]}}`, nil},
		{"other schema", `{"schema":"imagery","attributes":{"title":[{"type":"STRING","value":"x"}]}}`, errors.ErrRecordSchemaMismatched},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := UnmarshalRecord([]byte(tt.data), testSchema(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			v, _ := rec.First("title")
			assert.Equal(t, StringValue("x"), v)
		})
	}
}
