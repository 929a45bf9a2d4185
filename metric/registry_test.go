package metric

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterAndGather(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_requests_total",
		Help: "A test counter",
	}, []string{"kind"})
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_stage_seconds",
		Help: "A test histogram",
	}, []string{"stage"})

	require.NoError(t, registry.RegisterCounterVec("chain", "requests", counter))
	require.NoError(t, registry.RegisterHistogramVec("chain", "stage_seconds", histogram))

	counter.WithLabelValues("create").Inc()
	histogram.WithLabelValues("a").Observe(0.01)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_requests_total"])
	assert.True(t, names["test_stage_seconds"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "help"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "help"})

	require.NoError(t, registry.RegisterCounter("service1", "dup_counter", counter1))

	err := registry.RegisterCounter("service1", "dup_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterCounter("service2", "dup_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "unregister_gauge", Help: "help"})
	require.NoError(t, registry.RegisterGauge("svc", "unregister_gauge", gauge))
	assert.True(t, gatheredNames(t, registry)["unregister_gauge"])

	assert.True(t, registry.Unregister("svc", "unregister_gauge"))
	assert.False(t, gatheredNames(t, registry)["unregister_gauge"])
	assert.False(t, registry.Unregister("svc", "unregister_gauge"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "help"})
			assert.NoError(t, registry.RegisterCounter("concurrent", name, counter))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < 10; i++ {
		assert.True(t, names[fmt.Sprintf("concurrent_counter_%d", i)])
	}
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	server := NewServer(0, "", registry)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	assert.Equal(t, "http://localhost:9090/metrics", server.Address())
}

func TestServer_HealthHandler(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	server.SetHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
