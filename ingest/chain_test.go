package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/record"
	"github.com/c360/metaingest/validator"
)

func testSchema() *record.Schema {
	return record.NewBuilder("test").
		Add("title", record.TypeString).
		Add("ext.extracted.text", record.TypeString, record.Overridable()).
		Add("location", record.TypeGeometry).
		MustBuild()
}

func titled(t *testing.T, title string) *record.Record {
	t.Helper()
	rec := testSchema().NewRecord()
	require.NoError(t, rec.Set("title", record.StringValue(title)))
	return rec
}

func mustChain(t *testing.T, stages ...Stage) *Chain {
	t.Helper()
	c, err := NewChain(stages)
	require.NoError(t, err)
	return c
}

// The chain stops at a vetoing stage and hands back what the stages before
// it produced.
func TestChain_VetoStopsChain(t *testing.T) {
	extract := StageFunc("extract", Kinds(KindCreate, KindUpdate), func(_ context.Context, req *Request) Result {
		title, _ := req.Record().First("title")
		if err := req.Record().Append("ext.extracted.text", record.StringValue(title.Text()+" body")); err != nil {
			return Fail(err)
		}
		return Continue(req)
	})

	geometry := validator.NewLocationValidator()
	checkGeometry := StageFunc("geometry", Kinds(KindCreate), func(_ context.Context, req *Request) Result {
		v, ok := req.Record().First("location")
		if !ok {
			return Veto("no geometry attribute present")
		}
		if valid, reason := geometry.IsValid(v); !valid {
			return Veto(reason)
		}
		return Continue(req)
	})

	called := false
	last := StageFunc("last", AllKinds, func(_ context.Context, req *Request) Result {
		called = true
		req.SetProperty("last", true)
		return Continue(req)
	})

	req := NewCreate(titled(t, "Doc1"))
	out, err := mustChain(t, extract, checkGeometry, last).Run(context.Background(), req)

	require.Error(t, err)
	assert.True(t, IsVetoed(err))
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, errors.IsFatal(err))

	var ve *VetoError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "geometry", ve.Stage)
	assert.Equal(t, "no geometry attribute present", ve.Reason)
	stage, ok := FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, "geometry", stage)

	assert.False(t, called)
	require.NotNil(t, out)
	text, ok := out.Record().First("ext.extracted.text")
	require.True(t, ok)
	assert.Equal(t, record.StringValue("Doc1 body"), text)
	_, ok = out.Property("last")
	assert.False(t, ok)

	_, ok = req.Record().First("ext.extracted.text")
	assert.False(t, ok, "caller request is not modified")
}

func TestChain_VetoDiscardsStageChanges(t *testing.T) {
	mutateThenVeto := StageFunc("mutate", AllKinds, func(_ context.Context, req *Request) Result {
		_ = req.Record().Set("title", record.StringValue("changed"))
		req.SetProperty("touched", true)
		return Veto("no")
	})

	out, err := mustChain(t, mutateThenVeto).Run(context.Background(), NewCreate(titled(t, "Doc1")))
	require.True(t, IsVetoed(err))
	title, _ := out.Record().First("title")
	assert.Equal(t, record.StringValue("Doc1"), title)
	_, touched := out.Property("touched")
	assert.False(t, touched)
}

func TestChain_Fail(t *testing.T) {
	cause := fmt.Errorf("index unavailable")
	tests := []struct {
		name  string
		stage Stage
		cause error
	}{
		{
			name:  "fail result",
			stage: StageFunc("broken", AllKinds, func(context.Context, *Request) Result { return Fail(cause) }),
			cause: cause,
		},
		{
			name:  "panic",
			stage: StageFunc("broken", AllKinds, func(context.Context, *Request) Result { panic("nil map") }),
		},
		{
			name: "replaced identity",
			stage: StageFunc("broken", AllKinds, func(context.Context, *Request) Result {
				return Continue(NewDelete("other"))
			}),
		},
		{
			name:  "unknown outcome",
			stage: StageFunc("broken", AllKinds, func(context.Context, *Request) Result { return Result{Outcome: 42} }),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after := false
			next := StageFunc("next", AllKinds, func(_ context.Context, req *Request) Result {
				after = true
				return Continue(req)
			})

			out, err := mustChain(t, tt.stage, next).Run(context.Background(), NewCreate(titled(t, "Doc1")))
			assert.Nil(t, out)
			assert.False(t, after)
			assert.ErrorIs(t, err, errors.ErrPluginExecution)
			assert.True(t, errors.IsFatal(err))
			assert.False(t, IsVetoed(err))

			var pe *PluginExecutionError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "broken", pe.Stage)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestChain_KindDispatch(t *testing.T) {
	var seen []string
	track := func(name string, kinds KindSet) Stage {
		return StageFunc(name, kinds, func(_ context.Context, req *Request) Result {
			seen = append(seen, name)
			return Continue(nil)
		})
	}
	c := mustChain(t,
		track("create-only", Kinds(KindCreate)),
		track("delete-only", Kinds(KindDelete)),
		track("all", AllKinds),
	)

	req := NewDelete("abc")
	out, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete-only", "all"}, seen)
	assert.Equal(t, "abc", out.ID())
	assert.Equal(t, KindDelete, out.Kind())
}

func TestChain_ContinueWithNilKeepsRequest(t *testing.T) {
	c := mustChain(t,
		StageFunc("stamp", AllKinds, func(_ context.Context, req *Request) Result {
			req.SetProperty("stamped", "yes")
			return Continue(req)
		}),
		StageFunc("noop", AllKinds, func(context.Context, *Request) Result { return Continue(nil) }),
	)
	out, err := c.Run(context.Background(), NewCreate(titled(t, "Doc1")))
	require.NoError(t, err)
	v, ok := out.Property("stamped")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}

func TestChain_ContinueWithNilKeepsStageChanges(t *testing.T) {
	c := mustChain(t,
		StageFunc("stamp", AllKinds, func(_ context.Context, req *Request) Result {
			req.SetProperty("stamped", "yes")
			require.NoError(t, req.Record().Set("ext.extracted.text", record.StringValue("Doc1")))
			return Continue(nil)
		}),
	)
	in := NewCreate(titled(t, "Doc1"))
	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)

	v, ok := out.Property("stamped")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
	assert.True(t, out.Record().Has("ext.extracted.text"))

	_, ok = in.Property("stamped")
	assert.False(t, ok, "caller's request is untouched")
	assert.False(t, in.Record().Has("ext.extracted.text"))
}

func TestChain_ContinueWithNilRevalidates(t *testing.T) {
	c := mustChain(t,
		StageFunc("rename", AllKinds, func(_ context.Context, req *Request) Result {
			req.Record().SetID("other")
			return Continue(nil)
		}),
	)
	_, err := c.Run(context.Background(), NewCreate(titled(t, "Doc1")))
	assert.ErrorIs(t, err, errors.ErrPluginExecution)
	stage, ok := FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, "rename", stage)
}

func TestChain_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	c := mustChain(t,
		StageFunc("cancel", AllKinds, func(_ context.Context, req *Request) Result {
			cancel()
			return Continue(req)
		}),
		StageFunc("after", AllKinds, func(_ context.Context, req *Request) Result {
			ran = true
			return Continue(req)
		}),
	)
	_, err := c.Run(ctx, NewCreate(titled(t, "Doc1")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, ran)
}

func TestChain_BlockingStageNeedsCallerTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := mustChain(t, StageFunc("hang", AllKinds, func(_ context.Context, req *Request) Result {
		<-release
		return Continue(req)
	}))

	req := NewCreate(titled(t, "Doc1"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Run(context.Background(), req)
	}()

	select {
	case <-done:
		t.Fatal("chain returned while its stage was blocked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewChain_Rejects(t *testing.T) {
	noop := func(name string) Stage {
		return StageFunc(name, AllKinds, func(_ context.Context, req *Request) Result { return Continue(req) })
	}
	_, err := NewChain([]Stage{noop("a"), noop("a")})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	_, err = NewChain([]Stage{noop("")})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	_, err = NewChain([]Stage{nil})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	c, err := NewChain([]Stage{noop("a"), noop("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Stages())
}

func TestChain_InvalidRequest(t *testing.T) {
	c := mustChain(t)
	_, err := c.Run(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	_, err = c.Run(context.Background(), NewCreate(nil))
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
	assert.True(t, errors.IsInvalid(err))

	_, err = c.Run(context.Background(), NewUpdate("", titled(t, "x")))
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestChain_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewChain([]Stage{
		StageFunc("ok", AllKinds, func(_ context.Context, req *Request) Result { return Continue(req) }),
		StageFunc("veto", AllKinds, func(context.Context, *Request) Result { return Veto("nope") }),
	}, WithChainMetrics(registry))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), NewCreate(titled(t, "Doc1")))
	require.True(t, IsVetoed(err))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "metaingest_ingest_stage_results_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			key := ""
			for _, l := range m.GetLabel() {
				key += l.GetName() + "=" + l.GetValue() + ";"
			}
			counts[key] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counts["outcome=continue;stage=ok;"])
	assert.Equal(t, 1.0, counts["outcome=veto;stage=veto;"])

	_, err = NewChain(nil, WithChainMetrics(registry))
	assert.Error(t, err, "metrics register once per registry")
}
