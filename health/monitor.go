package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Check reports the current health of one component.
type Check func(ctx context.Context) Status

// Monitor runs named checks on demand and aggregates their results.
type Monitor struct {
	name    string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor returns a monitor reporting as name. Each Check call is bounded
// by timeout when it is positive.
func NewMonitor(name string, timeout time.Duration) *Monitor {
	return &Monitor{name: name, timeout: timeout, checks: make(map[string]Check)}
}

// Register adds or replaces the check for component.
func (m *Monitor) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, component)
}

// Components lists the registered components in sorted order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check runs every registered check and aggregates the results. Sub-statuses
// are ordered by component name.
func (m *Monitor) Check(ctx context.Context) Status {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	names := m.Components()
	m.mu.RLock()
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = m.checks[name]
	}
	m.mu.RUnlock()

	subs := make([]Status, len(names))
	for i, check := range checks {
		s := check(ctx)
		s.Component = names[i]
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		subs[i] = s
	}
	return Aggregate(m.name, subs)
}

// Handler serves the aggregated status as JSON: 200 when healthy or
// degraded, 503 when unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
