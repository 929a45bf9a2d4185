package handler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/record"
	"github.com/c360/metaingest/validator"
)

func TestPath_Match(t *testing.T) {
	p := Path{"Resource", "keywords", "keyword"}
	tests := []struct {
		pattern string
		want    bool
	}{
		{"keyword", true},
		{"keywords/keyword", true},
		{"Resource/keywords/keyword", true},
		{"/Resource/keywords/keyword", true},
		{"/keywords/keyword", false},
		{"Resource/*/keyword", true},
		{"*", true},
		{"title", false},
		{"Other/Resource/keywords/keyword", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Match(tt.pattern))
		})
	}

	assert.True(t, p.Within("keywords"))
	assert.False(t, p.Within("title"))
	assert.Equal(t, "keyword", p.Last())
	assert.Equal(t, "Resource/keywords/keyword", p.String())
}

func gmlSchema() *record.Schema {
	return record.NewBuilder("geo").
		Add("location", record.TypeGeometry, record.Many()).
		Add("single", record.TypeGeometry).
		MustBuild()
}

func TestGMLHandler(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		opts GMLOptions
		want []string
	}{
		{
			name: "point",
			doc:  `<r xmlns:gml="http://www.opengis.net/gml"><gml:Point><gml:pos>10 20</gml:pos></gml:Point></r>`,
			want: []string{"POINT(10 20)"},
		},
		{
			name: "point without namespace",
			doc:  `<r><Point><pos>-77.5 38.25</pos></Point></r>`,
			want: []string{"POINT(-77.5 38.25)"},
		},
		{
			name: "swap axes",
			doc:  `<r><Point><pos>20 10</pos></Point></r>`,
			opts: GMLOptions{SwapAxes: true},
			want: []string{"POINT(10 20)"},
		},
		{
			name: "line string",
			doc:  `<r><LineString><posList>0 0 1 1 2 2</posList></LineString></r>`,
			want: []string{"LINESTRING(0 0,1 1,2 2)"},
		},
		{
			name: "polygon",
			doc: `<r><Polygon><exterior><LinearRing>
				<posList>0 0 10 0 10 10 0 10 0 0</posList>
				</LinearRing></exterior></Polygon></r>`,
			want: []string{"POLYGON((0 0,10 0,10 10,0 10,0 0))"},
		},
		{
			name: "envelope",
			doc:  `<r><Envelope><lowerCorner>0 0</lowerCorner><upperCorner>5 5</upperCorner></Envelope></r>`,
			want: []string{"POLYGON((0 0,5 0,5 5,0 5,0 0))"},
		},
		{
			name: "invalid geometry dropped",
			doc:  `<r><Point><pos>250 250</pos></Point><Point><pos>50 50</pos></Point></r>`,
			opts: GMLOptions{Validator: validator.NewGeometryValidator("location")},
			want: []string{"POINT(50 50)"},
		},
		{
			name: "unrelated pos left alone",
			doc:  `<Resource><staff><pos>Manager</pos></staff><Point><pos>1 2</pos></Point></Resource>`,
			want: []string{"POINT(1 2)"},
		},
		{
			name: "srsDimension drops z",
			doc: `<r xmlns:gml="http://www.opengis.net/gml"><gml:Point srsDimension="3">
				<gml:pos>10 20 5</gml:pos></gml:Point></r>`,
			want: []string{"POINT(10 20)"},
		},
		{
			name: "three number pos",
			doc:  `<r><Point><pos>1 2 3</pos></Point></r>`,
			want: []string{"POINT(1 2)"},
		},
		{
			name: "posList srsDimension",
			doc:  `<r><LineString><posList srsDimension="3">0 0 1 1 1 2 2 2 3</posList></LineString></r>`,
			want: []string{"LINESTRING(0 0,1 1,2 2)"},
		},
		{
			name: "polygon dimension inherited by rings",
			doc: `<r><Polygon srsDimension="3"><exterior><LinearRing>
				<posList>0 0 9 4 0 9 4 4 9 0 0 9</posList>
				</LinearRing></exterior></Polygon></r>`,
			want: []string{"POLYGON((0 0,4 0,4 4,0 0))"},
		},
		{
			name: "other namespace ignored",
			doc:  `<r xmlns:x="urn:other"><x:Point><x:pos>1 1</x:pos></x:Point></r>`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDelegate([]Factory{NewGMLHandler(tt.opts)})
			rec, err := d.TransformDocument(context.Background(), strings.NewReader(tt.doc), gmlSchema())
			require.NoError(t, err)

			var got []string
			for _, v := range rec.Get("location") {
				s, ok := v.AsGeometry()
				require.True(t, ok)
				got = append(got, normWKT(s))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGMLHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler string
		opts    GMLOptions
		doc     string
	}{
		{"odd posList", "gml:location", GMLOptions{}, `<r><LineString><posList>0 0 1 1 2</posList></LineString></r>`},
		{"single number", "gml:location", GMLOptions{}, `<r><Point><pos>1</pos></Point></r>`},
		{"bad srsDimension", "footprint", GMLOptions{Name: "footprint"}, `<r><Point srsDimension="x"><pos>1 2</pos></Point></r>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDelegate([]Factory{NewGMLHandler(tt.opts)})
			_, err := d.TransformDocument(context.Background(), strings.NewReader(tt.doc), gmlSchema())
			var te *TransformError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.handler, te.Handler)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	d := NewDelegate([]Factory{NewGMLHandler(GMLOptions{Attribute: "single"})})
	_, err := d.TransformDocument(context.Background(),
		strings.NewReader(`<r><Point><pos>1 2</pos></Point><Point><pos>3 4</pos></Point></r>`), gmlSchema())
	assert.ErrorIs(t, err, errors.ErrMultiplicityViolation)
}

func TestAttributeHandler(t *testing.T) {
	s := record.NewBuilder("t").
		Add("id", record.TypeString).
		Add("refs", record.TypeString, record.Many()).
		MustBuild()
	f, err := NewAttributeHandler("attrs", []Mapping{
		{Path: "/doc@id", Attribute: "id"},
		{Path: "ref@href", Attribute: "refs"},
	})
	require.NoError(t, err)

	rec, err := NewDelegate([]Factory{f}).TransformDocument(context.Background(),
		strings.NewReader(`<doc id="d-1"><ref href="a"/><inner id="ignored"><ref href="b"/><ref/></inner></doc>`), s)
	require.NoError(t, err)
	assert.Equal(t, []record.Value{record.StringValue("d-1")}, rec.Get("id"))
	assert.Equal(t, []record.Value{record.StringValue("a"), record.StringValue("b")}, rec.Get("refs"))

	_, err = NewAttributeHandler("bad", []Mapping{{Path: "doc", Attribute: "id"}})
	assert.Error(t, err)
}

func TestTextHandler_NestedAndWhitespace(t *testing.T) {
	s := record.NewBuilder("t").
		Add("summary", record.TypeString).
		Add("note", record.TypeString, record.Many()).
		MustBuild()
	d := NewDelegate([]Factory{NewTextHandler("text", []Mapping{
		{Path: "summary", Attribute: "summary"},
		{Path: "note", Attribute: "note"},
	})})

	rec, err := d.TransformDocument(context.Background(),
		strings.NewReader(`<r><summary>  plain <b>bold</b></summary><note>   </note><note>kept</note></r>`), s)
	require.NoError(t, err)
	assert.Equal(t, []record.Value{record.StringValue("plain bold")}, rec.Get("summary"))
	assert.Equal(t, []record.Value{record.StringValue("kept")}, rec.Get("note"))
}

func TestBuildFactories_NamesAndValidation(t *testing.T) {
	factories, err := BuildFactories([]Config{
		{Type: TypeGML, Name: "footprint", ValidateGeometry: true},
		{Type: TypeMetadata, Name: "raw-document"},
		{Type: TypeGML, Attribute: "single"},
		{Type: TypeMetadata},
	}, nil)
	require.NoError(t, err)

	s := gmlSchema()
	var names []string
	for _, f := range factories {
		names = append(names, f(s).Name())
	}
	assert.Equal(t, []string{"footprint", "raw-document", "gml:single", "metadata"}, names)

	d := NewDelegate(factories[:1])
	rec, err := d.TransformDocument(context.Background(),
		strings.NewReader(`<r><Point><pos>250 250</pos></Point><Point><pos>5 5</pos></Point></r>`), s)
	require.NoError(t, err)
	require.Len(t, rec.Get("location"), 1)
	got, _ := rec.Get("location")[0].AsGeometry()
	assert.Equal(t, "POINT(5 5)", normWKT(got))
}

func TestBuildFactories(t *testing.T) {
	factories, err := BuildFactories(DefaultConfigs(), nil)
	require.NoError(t, err)
	assert.Len(t, factories, len(DefaultConfigs()))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing type", Config{}},
		{"unknown type", Config{Type: "xpath"}},
		{"text without mappings", Config{Type: TypeText}},
		{"mapping without attribute", Config{Type: TypeText, Mappings: []Mapping{{Path: "a"}}}},
		{"attribute path without @", Config{Type: TypeAttribute, Mappings: []Mapping{{Path: "a", Attribute: "id"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFactories([]Config{tt.cfg}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsFatal(err))
		})
	}
}
