package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/metric"
	"github.com/c360/metaingest/record"
)

// Delegate drives one document's events through a fixed, ordered set of
// handlers and merges their contributions into a record.
//
// Contributions are applied in handler registration order after DocumentEnd,
// so the resulting record does not depend on when handlers observed their
// events. A Delegate is safe for concurrent use: every Transform call gets
// its own handler instances.
type Delegate struct {
	factories []Factory
	logger    *slog.Logger
	metrics   *delegateMetrics
}

type delegateMetrics struct {
	documents *prometheus.CounterVec
	duration  prometheus.Histogram
}

// Option configures a Delegate.
type Option func(*Delegate)

// WithLogger sets the delegate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Delegate) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics registers parse metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(d *Delegate) {
		if registry == nil {
			return
		}
		m := &delegateMetrics{
			documents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: "parser",
				Name:      "documents_total",
				Help:      "Documents transformed, by outcome",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: metric.Namespace,
				Subsystem: "parser",
				Name:      "transform_duration_seconds",
				Help:      "Time to transform one document into a record",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		if err := registry.RegisterCounterVec("parser", "documents_total", m.documents); err != nil {
			d.logger.Warn("Parser metrics disabled", "error", err)
			return
		}
		if err := registry.RegisterHistogram("parser", "transform_duration_seconds", m.duration); err != nil {
			registry.Unregister("parser", "documents_total")
			d.logger.Warn("Parser metrics disabled", "error", err)
			return
		}
		d.metrics = m
	}
}

// NewDelegate returns a delegate over factories in the given order.
func NewDelegate(factories []Factory, opts ...Option) *Delegate {
	d := &Delegate{
		factories: slices.Clone(factories),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TransformDocument reads an XML document from r into a new record bound to s.
func (d *Delegate) TransformDocument(ctx context.Context, r io.Reader, s *record.Schema) (*record.Record, error) {
	rec := s.NewRecord()
	if err := d.Transform(ctx, document.NewXMLReader(r), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Transform consumes src and applies the handlers' contributions to rec.
// On error rec is left unchanged.
func (d *Delegate) Transform(ctx context.Context, src document.Source, rec *record.Record) (err error) {
	start := time.Now()
	defer func() {
		if d.metrics == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		d.metrics.documents.WithLabelValues(outcome).Inc()
		d.metrics.duration.Observe(time.Since(start).Seconds())
	}()

	handlers := make([]Handler, len(d.factories))
	for i, f := range d.factories {
		handlers[i] = f(rec.Schema())
	}

	var (
		stack   Path
		started bool
		ended   bool
		events  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Delegate", "Transform", "parse cancelled")
		}
		ev, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "Delegate", "Transform", "read event")
		}
		events++

		if ended {
			return malformed("%s after DocumentEnd", ev.Kind)
		}
		if ev.Kind == document.KindDocumentStart {
			if started {
				return malformed("repeated DocumentStart")
			}
			started = true
		} else if !started {
			return malformed("%s before DocumentStart", ev.Kind)
		}

		switch ev.Kind {
		case document.KindElementStart:
			stack = append(stack, ev.Name.Local)
		case document.KindElementEnd:
			if len(stack) == 0 {
				return malformed("end of %q without an open element", ev.Name.Local)
			}
			if open := stack.Last(); open != ev.Name.Local {
				return malformed("end of %q while %q is open", ev.Name.Local, open)
			}
		case document.KindDocumentEnd:
			if len(stack) > 0 {
				return malformed("document ended with open elements %s", stack)
			}
			ended = true
		}

		if err := d.dispatch(handlers, ev, slices.Clip(stack)); err != nil {
			return err
		}

		if ev.Kind == document.KindElementEnd {
			stack = stack[:len(stack)-1]
		}
	}

	if !ended {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stream ended after %d events without DocumentEnd", errors.ErrIncompleteDocument, events),
			"Delegate", "Transform", "read document")
	}

	work := rec.Clone()
	for _, h := range handlers {
		for _, c := range h.Contributions() {
			if len(c.Values) == 0 {
				continue
			}
			if err := work.AppendAll(c.Attribute, c.Values...); err != nil {
				return &TransformError{Handler: h.Name(), Attribute: c.Attribute, Err: err}
			}
		}
	}
	*rec = *work

	d.logger.Debug("Document transformed", "events", events, "handlers", len(handlers), "attributes", rec.Len())
	return nil
}

// dispatch hands ev to every interested handler. The path is only valid for
// the duration of the call.
func (d *Delegate) dispatch(handlers []Handler, ev document.Event, path Path) error {
	for _, h := range handlers {
		if f, ok := h.(Finisher); ok && f.Finished() {
			continue
		}
		if !h.Interested(ev.Kind) {
			continue
		}
		if err := safeHandle(h, ev, path); err != nil {
			return &TransformError{Handler: h.Name(), Err: err}
		}
	}
	return nil
}

func safeHandle(h Handler, ev document.Event, path Path) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Kind, r)
		}
	}()
	return h.Handle(ev, path)
}

func malformed(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMalformedStructure, fmt.Sprintf(format, args...)),
		"Delegate", "Transform", "check structure")
}
