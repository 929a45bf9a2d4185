package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/record"
)

// DuplicateConfig configures a duplicate detection stage.
type DuplicateConfig struct {
	// Attributes contribute to the checksum. Empty means every attribute.
	Attributes []string `json:"attributes,omitempty"`
	Size       int      `json:"size,omitempty"`
	// TTL is a Go duration string. Empty or "0" keeps entries until evicted.
	TTL string `json:"ttl,omitempty"`
}

// DuplicateStage vetoes creates whose content checksum matches a record
// created recently. The cache is shared by every chain using the stage.
type DuplicateStage struct {
	name       string
	attributes []string

	mu    sync.Mutex
	cache *expirable.LRU[string, string]

	duplicates prometheus.Counter
}

// NewDuplicateStage returns a stage remembering up to size checksums for ttl.
func NewDuplicateStage(name string, attributes []string, size int, ttl time.Duration) *DuplicateStage {
	if name == "" {
		name = TypeDuplicate
	}
	if size <= 0 {
		size = 1024
	}
	return &DuplicateStage{
		name:       name,
		attributes: attributes,
		cache:      expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (s *DuplicateStage) Name() string { return s.name }

func (s *DuplicateStage) Kinds() ingest.KindSet { return ingest.Kinds(ingest.KindCreate) }

func (s *DuplicateStage) Process(_ context.Context, req *ingest.Request) ingest.Result {
	sum := Checksum(req.Record(), s.attributes...)

	s.mu.Lock()
	original, seen := s.cache.Get(sum)
	if !seen {
		s.cache.Add(sum, req.ID())
	}
	s.mu.Unlock()

	if seen && original != req.ID() {
		if s.duplicates != nil {
			s.duplicates.Inc()
		}
		return ingest.Vetof("duplicate of %s", original)
	}
	return ingest.Continue(req)
}

// Forget drops the checksum of rec, so the same content may be created again.
func (s *DuplicateStage) Forget(rec *record.Record) {
	sum := Checksum(rec, s.attributes...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(sum)
}

// Len returns the number of remembered checksums.
func (s *DuplicateStage) Len() int {
	return s.cache.Len()
}

// Checksum hashes the values of attrs, or of every attribute when attrs is
// empty. The record ID does not contribute.
func Checksum(rec *record.Record, attrs ...string) string {
	if len(attrs) == 0 {
		attrs = rec.Names()
	}
	h := sha256.New()
	for _, name := range attrs {
		fmt.Fprintf(h, "%s\x00", name)
		for _, v := range rec.Get(name) {
			fmt.Fprintf(h, "%s\x00%s\x00", v.Kind(), v.Text())
		}
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func newDuplicateStage(raw json.RawMessage, deps Dependencies) (ingest.Stage, error) {
	var cfg DuplicateConfig
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	var ttl time.Duration
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("ttl: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("ttl must not be negative")
		}
		ttl = d
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("size must not be negative")
	}

	s := NewDuplicateStage(TypeDuplicate, cfg.Attributes, cfg.Size, ttl)
	if deps.MetricsRegistry != nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "duplicates_total",
			Help:      "Create requests vetoed as duplicates",
		})
		if err := deps.MetricsRegistry.RegisterCounter("ingest", "duplicates_total", counter); err != nil {
			deps.GetLoggerWithStage(s.name).Warn("Duplicate metrics disabled", "error", err)
		} else {
			s.duplicates = counter
		}
	}
	return s, nil
}
