package ingest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/record"
)

func TestNewCreate_AssignsID(t *testing.T) {
	rec := titled(t, "Doc1")
	req := NewCreate(rec)

	_, err := uuid.Parse(req.ID())
	require.NoError(t, err)
	assert.Equal(t, req.ID(), rec.ID())
	assert.Equal(t, KindCreate, req.Kind())
	assert.NotEmpty(t, req.TraceID())
	assert.NoError(t, req.Validate())

	at, ok := req.Property(PropertyReceivedAt)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), at.(time.Time), time.Minute)

	keep := titled(t, "Doc2")
	keep.SetID("doc-2")
	assert.Equal(t, "doc-2", NewCreate(keep).ID())
}

func TestRequest_Clone(t *testing.T) {
	req := NewUpdate("doc-1", titled(t, "Doc1"))
	req.SetProperty(PropertySource, "test")

	c := req.Clone()
	require.NoError(t, c.Record().Set("title", record.StringValue("changed")))
	c.SetProperty(PropertySource, "other")

	title, _ := req.Record().First("title")
	assert.Equal(t, record.StringValue("Doc1"), title)
	src, _ := req.Property(PropertySource)
	assert.Equal(t, "test", src)
	assert.Equal(t, req.TraceID(), c.TraceID())

	other := titled(t, "Doc3")
	w := req.WithRecord(other)
	assert.Equal(t, "doc-1", other.ID())
	assert.Same(t, other, w.Record())
	assert.NotSame(t, other, req.Record())
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, NewDelete("x").Validate())
	assert.Error(t, NewDelete("").Validate())
	assert.Error(t, NewUpdate("x", nil).Validate())

	rec := titled(t, "Doc1")
	req := NewUpdate("x", rec)
	rec.SetID("y")
	assert.Error(t, req.Validate())
}

func TestKindSet(t *testing.T) {
	s := Kinds(KindCreate, KindDelete)
	assert.True(t, s.Has(KindCreate))
	assert.False(t, s.Has(KindUpdate))
	assert.Equal(t, "{create,delete}", s.String())

	parsed, err := ParseKindSet([]string{"Create", " update "})
	require.NoError(t, err)
	assert.Equal(t, Kinds(KindCreate, KindUpdate), parsed)

	all, err := ParseKindSet(nil)
	require.NoError(t, err)
	assert.Equal(t, AllKinds, all)

	_, err = ParseKindSet([]string{"upsert"})
	assert.Error(t, err)
}
