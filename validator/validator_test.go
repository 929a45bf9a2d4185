package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/record"
)

func TestGeometryFamily(t *testing.T) {
	validators := []Validator{
		NewGeometryValidator("location"),
		NewLocationValidator(),
		NewFrameCenterValidator(),
		ForAttribute("custom.footprint", GeometryChecker{}),
	}

	tests := []struct {
		wkt   string
		valid bool
	}{
		{"POINT(50 50)", true},
		{"POINT(250 250)", false},
		{"POINT (-180 -90)", true},
		{"POINT(10 95)", false},
		{"LINESTRING(0 0, 10 10)", true},
		{"LINESTRING(0 0)", false},
		{"POLYGON((0 0, 10 0, 10 10, 0 0))", true},
		{"POLYGON((0 0, 10 0, 10 10, 0 10))", false},
		{"MULTIPOINT ((1 1), (2 2))", true},
		{"POINT EMPTY", false},
		{"POINT(50", false},
		{"not a geometry", false},
		{"", false},
	}

	for _, v := range validators {
		for _, tt := range tests {
			for _, val := range []record.Value{record.GeometryValue(tt.wkt), record.StringValue(tt.wkt)} {
				ok, reason := v.IsValid(val)
				assert.Equal(t, tt.valid, ok, "%s %s %q", v.ID(), val.Kind(), tt.wkt)
				if !tt.valid {
					assert.NotEmpty(t, reason)
				}
			}
		}
	}
}

func TestGeometryChecker_RejectsNonText(t *testing.T) {
	ok, reason := NewFrameCenterValidator().IsValid(record.IntegerValue(5))
	assert.False(t, ok)
	assert.Contains(t, reason, "INTEGER")
}

func TestValidatorIDs(t *testing.T) {
	assert.Equal(t, ID("geometry:isr.frame-center"), NewFrameCenterValidator().ID())
	assert.Equal(t, ID("geometry:location"), NewLocationValidator().ID())
	assert.Equal(t, "isr.frame-center", NewFrameCenterValidator().Attribute())

	pc, err := NewPatternChecker(`^[a-z]{2}$`)
	require.NoError(t, err)
	assert.Equal(t, ID("pattern:language"), ForAttribute("language", pc).ID())
}

func TestPatternAndRange(t *testing.T) {
	pc, err := NewPatternChecker(`^[a-z]{2}$`)
	require.NoError(t, err)
	lang := ForAttribute("language", pc)

	ok, _ := lang.IsValid(record.StringValue("en"))
	assert.True(t, ok)
	ok, reason := lang.IsValid(record.StringValue("english"))
	assert.False(t, ok)
	assert.Contains(t, reason, "does not match")

	_, err = NewPatternChecker(`(`)
	assert.Error(t, err)

	size := ForAttribute("resource-size", RangeChecker{Min: 0, Max: 1 << 20})
	ok, _ = size.IsValid(record.IntegerValue(1024))
	assert.True(t, ok)
	ok, _ = size.IsValid(record.IntegerValue(-1))
	assert.False(t, ok)
	ok, _ = size.IsValid(record.StringValue("1"))
	assert.False(t, ok)
}

func TestSet_ValidateRecord(t *testing.T) {
	s := record.NewBuilder("t").
		Add("location", record.TypeGeometry).
		Add("isr.frame-center", record.TypeGeometry).
		Add("keywords", record.TypeString, record.Many()).
		MustBuild()
	rec := s.NewRecord()
	require.NoError(t, rec.Set("location", record.GeometryValue("POINT(50 50)")))
	require.NoError(t, rec.Set("isr.frame-center", record.GeometryValue("POINT(250 250)")))
	before := rec.Clone()

	set := DefaultSet()
	assert.Len(t, set.For("location"), 1)
	assert.Empty(t, set.For("keywords"))

	violations := set.ValidateRecord(rec)
	require.Len(t, violations, 1)
	assert.Equal(t, ID("geometry:isr.frame-center"), violations[0].Validator)
	assert.Equal(t, "isr.frame-center", violations[0].Attribute)
	assert.Contains(t, violations[0].String(), "out of range")

	// Validation never touches the record.
	assert.True(t, before.Equal(rec))

	empty := s.NewRecord()
	assert.Empty(t, set.ValidateRecord(empty))
}
