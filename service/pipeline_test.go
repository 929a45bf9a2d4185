package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/handler"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/plugin"
	"github.com/c360/metaingest/record"
	"github.com/c360/metaingest/schema"
	"github.com/c360/metaingest/storage"
	"github.com/c360/metaingest/validator"
)

func resourceDoc(id, title, pos string) string {
	return fmt.Sprintf(`<Resource id=%q xmlns:gml="http://www.opengis.net/gml">
  <title>%s</title>
  <description>Harbor survey</description>
  <footprint><gml:Point><gml:pos>%s</gml:pos></gml:Point></footprint>
</Resource>`, id, title, pos)
}

type fixture struct {
	pipeline *Pipeline
	sink     *storage.RecordSink
	backend  *storage.Memory
	schemas  *schema.Registry
}

func newFixture(t *testing.T, stages []ingest.Stage, opts ...Option) *fixture {
	t.Helper()
	schemas := schema.NewRegistry()
	_, err := schemas.LoadDefault()
	require.NoError(t, err)

	factories, err := handler.BuildFactories(handler.DefaultConfigs(), nil)
	require.NoError(t, err)

	chain, err := ingest.NewChain(stages)
	require.NoError(t, err)

	backend := storage.NewMemory()
	sink, err := storage.NewRecordSink(backend)
	require.NoError(t, err)

	p, err := NewPipeline(schemas, handler.NewDelegate(factories), chain, sink, opts...)
	require.NoError(t, err)
	return &fixture{pipeline: p, sink: sink, backend: backend, schemas: schemas}
}

func geometryStage() ingest.Stage {
	return plugin.NewValidatorStage("geometry", true, validator.NewLocationValidator())
}

func TestPipeline_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []ingest.Stage{
		plugin.NewTextExtractionStage("extract", plugin.TextExtractionConfig{}),
		geometryStage(),
	})

	req, err := f.pipeline.IngestDocument(ctx, strings.NewReader(resourceDoc("r-1", "Doc1", "50 50")))
	require.NoError(t, err)
	assert.Equal(t, "r-1", req.ID())

	stored, err := f.sink.Load(ctx, "r-1", f.schemas.Current())
	require.NoError(t, err)
	title, _ := stored.Record.First("title")
	assert.Equal(t, record.StringValue("Doc1"), title)
	assert.True(t, stored.Record.Has(plugin.DefaultExtractionTarget))

	_, err = f.pipeline.Update(ctx, "r-1", strings.NewReader(resourceDoc("r-1", "Doc1 v2", "51 51")))
	require.NoError(t, err)
	stored, err = f.sink.Load(ctx, "r-1", f.schemas.Current())
	require.NoError(t, err)
	title, _ = stored.Record.First("title")
	assert.Equal(t, record.StringValue("Doc1 v2"), title)

	_, err = f.pipeline.Delete(ctx, "r-1")
	require.NoError(t, err)
	assert.Zero(t, f.backend.Len())
}

func TestPipeline_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []ingest.Stage{geometryStage()})

	tests := []struct {
		name   string
		run    func() error
		target error
	}{
		{"vetoed geometry", func() error {
			_, err := f.pipeline.IngestDocument(ctx, strings.NewReader(resourceDoc("r-2", "Doc2", "250 250")))
			return err
		}, errors.ErrVetoed},
		{"malformed document", func() error {
			_, err := f.pipeline.IngestDocument(ctx, strings.NewReader("<Resource><title>"))
			return err
		}, nil},
		{"update unknown", func() error {
			_, err := f.pipeline.Update(ctx, "ghost", strings.NewReader(resourceDoc("ghost", "x", "1 1")))
			return err
		}, errors.ErrNotFound},
		{"delete unknown", func() error {
			_, err := f.pipeline.Delete(ctx, "ghost")
			return err
		}, errors.ErrNotFound},
		{"nil request", func() error {
			_, err := f.pipeline.Ingest(ctx, nil)
			return err
		}, errors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "%v", err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
	assert.Zero(t, f.backend.Len())
}

func TestPipeline_StageFailureIsFatal(t *testing.T) {
	boom := ingest.StageFunc("boom", ingest.AllKinds, func(context.Context, *ingest.Request) ingest.Result {
		panic("boom")
	})
	f := newFixture(t, []ingest.Stage{boom})

	_, err := f.pipeline.IngestDocument(context.Background(), strings.NewReader(resourceDoc("r-1", "Doc1", "1 1")))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrPluginExecution)
	stage, _ := ingest.FailedStage(err)
	assert.Equal(t, "boom", stage)
}

func TestPipeline_FailureLogNamesOrigin(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := ingest.StageFunc("boom", ingest.AllKinds, func(context.Context, *ingest.Request) ingest.Result {
		return ingest.Fail(fmt.Errorf("disk full"))
	})
	f := newFixture(t, []ingest.Stage{boom}, WithLogger(logger))

	_, err := f.pipeline.IngestDocument(context.Background(), strings.NewReader(resourceDoc("r-1", "Doc1", "1 1")))
	require.Error(t, err)

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		if e["msg"] == "Request failed" {
			entry = e
		}
	}
	require.NotNil(t, entry, "no failure logged:\n%s", logs.String())
	assert.Equal(t, "Chain", entry["component"])
	assert.Equal(t, "Run", entry["operation"])
	assert.Equal(t, "r-1", entry["id"])
}

func TestPipeline_TimeoutAbandonsStalledStage(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	stall := ingest.StageFunc("stall", ingest.AllKinds, func(_ context.Context, req *ingest.Request) ingest.Result {
		defer close(finished)
		<-release
		return ingest.Continue(req)
	})
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, []ingest.Stage{stall}, WithTimeout(30*time.Millisecond), WithMetrics(registry))

	start := time.Now()
	_, err := f.pipeline.IngestDocument(context.Background(), strings.NewReader(resourceDoc("r-1", "Doc1", "1 1")))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrIngestTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-finished:
		t.Fatal("stalled stage was interrupted")
	default:
	}
	close(release)
	<-finished
	assert.Zero(t, f.backend.Len(), "abandoned request is never stored")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var abandoned float64
	for _, fam := range families {
		if fam.GetName() == "metaingest_pipeline_abandoned_chains_total" {
			abandoned = fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), abandoned)
}

func TestPipeline_CallerCancellation(t *testing.T) {
	f := newFixture(t, []ingest.Stage{geometryStage()}, WithTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := f.schemas.NewRecord()
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, ingest.NewCreate(rec))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.NotErrorIs(t, err, errors.ErrIngestTimeout)
}

func TestPipeline_RateLimit(t *testing.T) {
	f := newFixture(t, nil, WithRateLimit(0.5, 1))

	rec, err := f.schemas.NewRecord()
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(context.Background(), ingest.NewCreate(rec))
	require.NoError(t, err, "burst admits the first request")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec, err = f.schemas.NewRecord()
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, ingest.NewCreate(rec))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, f.backend.Len())
}

func TestPipeline_IngestBatch(t *testing.T) {
	f := newFixture(t, []ingest.Stage{geometryStage()}, WithBatchConcurrency(3))

	docs := make([]io.Reader, 10)
	for i := range docs {
		pos := "10 10"
		if i == 4 {
			pos = "500 500"
		}
		docs[i] = strings.NewReader(resourceDoc(fmt.Sprintf("r-%d", i), fmt.Sprintf("Doc%d", i), pos))
	}
	results := f.pipeline.IngestBatch(context.Background(), docs)
	require.Len(t, results, 10)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		if i == 4 {
			assert.ErrorIs(t, res.Err, errors.ErrVetoed)
			continue
		}
		require.NoError(t, res.Err)
		assert.Equal(t, fmt.Sprintf("r-%d", i), res.Request.ID())
	}
	assert.Equal(t, 9, f.backend.Len())
}

func TestPipeline_WorkerPool(t *testing.T) {
	var (
		mu      sync.Mutex
		results []Result
	)
	f := newFixture(t, []ingest.Stage{geometryStage()}, WithWorkers(2, 8), WithResultHandler(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}))
	ctx := context.Background()

	assert.ErrorIs(t, f.pipeline.Submit(ctx, Job{Kind: ingest.KindCreate}), errors.ErrNotStarted)
	require.NoError(t, f.pipeline.Start(ctx))
	assert.Equal(t, StatusRunning, f.pipeline.Status())
	assert.ErrorIs(t, f.pipeline.Start(ctx), errors.ErrAlreadyStarted)

	for i := range 5 {
		require.NoError(t, f.pipeline.Submit(ctx, Job{
			Kind:     ingest.KindCreate,
			Document: []byte(resourceDoc(fmt.Sprintf("job-%d", i), "Doc", "5 5")),
		}))
	}
	require.NoError(t, f.pipeline.Submit(ctx, Job{Kind: ingest.KindDelete, ID: "missing"}))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.pipeline.Stop(stopCtx))
	assert.Equal(t, StatusStopped, f.pipeline.Status())

	stats := f.pipeline.Stats()
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	mu.Lock()
	assert.Len(t, results, 6)
	mu.Unlock()
	assert.Equal(t, 5, f.backend.Len())
}

func TestPipeline_Process_UnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.pipeline.Process(context.Background(), Job{Kind: ingest.Kind(9)})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestNewPipeline_MissingCollaborator(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil, nil)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestPipeline_TransformWithoutSchema(t *testing.T) {
	f := newFixture(t, nil)
	p, err := NewPipeline(schema.NewRegistry(), f.pipeline.delegate, f.pipeline.chain, f.sink)
	require.NoError(t, err)
	_, err = p.Transform(context.Background(), strings.NewReader(resourceDoc("a", "b", "1 1")))
	assert.ErrorIs(t, err, errors.ErrSchemaNotLoaded)
}
