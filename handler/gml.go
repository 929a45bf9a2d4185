package handler

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/record"
	"github.com/c360/metaingest/validator"
)

// GMLOptions configures a GMLHandler.
type GMLOptions struct {
	// Name identifies the handler in errors. Defaults to "gml:<attribute>".
	Name string
	// Attribute receives the WKT geometry. Defaults to "location".
	Attribute string
	// SwapAxes reads coordinate pairs as "lat lon" instead of "lon lat".
	SwapAxes bool
	// Validator, when set, drops geometries it rejects.
	Validator validator.Validator
	Logger    *slog.Logger
}

// GMLHandler converts GML Point, LineString, Polygon and Envelope elements
// into WKT. Elements are recognized by local name in the GML namespaces.
// Without a namespace, coordinate elements count only directly inside a
// geometry element, so an unrelated <pos> is left alone.
//
// srsDimension on a geometry or coordinate element sets the tuple size;
// coordinates beyond the first two are dropped.
type GMLHandler struct {
	opts   GMLOptions
	schema *record.Schema

	text     strings.Builder
	coords   bool
	dim      string // srsDimension of the open geometry
	coordDim string // srsDimension of the open coordinate element

	pos    []float64 // Point/pos
	line   []float64 // LineString/posList
	rings  [][]float64
	lower  []float64
	upper  []float64
	values []record.Value
}

// NewGMLHandler returns a factory for GML handlers.
func NewGMLHandler(opts GMLOptions) Factory {
	if opts.Attribute == "" {
		opts.Attribute = "location"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func(s *record.Schema) Handler {
		return &GMLHandler{opts: opts, schema: s}
	}
}

func (h *GMLHandler) Name() string {
	if h.opts.Name != "" {
		return h.opts.Name
	}
	return "gml:" + h.opts.Attribute
}

func (h *GMLHandler) Interested(k document.Kind) bool {
	return k == document.KindElementStart || k == document.KindText || k == document.KindElementEnd
}

// geometryParents directly contain coordinate elements.
var geometryParents = map[string]bool{"Point": true, "LineString": true, "LinearRing": true, "Envelope": true}

func isCoordinates(local string) bool {
	switch local {
	case "pos", "posList", "lowerCorner", "upperCorner", "coordinates":
		return true
	}
	return false
}

// isGML reports whether the element at the end of path belongs to a geometry.
func isGML(n document.Name, path Path) bool {
	if strings.Contains(n.Space, "opengis.net/gml") {
		return true
	}
	if n.Space != "" {
		return false
	}
	if !isCoordinates(n.Local) {
		return true
	}
	return len(path) > 1 && geometryParents[path[len(path)-2]]
}

func (h *GMLHandler) Handle(ev document.Event, path Path) error {
	switch ev.Kind {
	case document.KindElementStart:
		if !isGML(ev.Name, path) {
			return nil
		}
		srsDim, _ := ev.Attr("srsDimension")
		switch ev.Name.Local {
		case "pos", "posList", "lowerCorner", "upperCorner", "coordinates":
			h.coords = true
			h.text.Reset()
			h.coordDim = srsDim
			if h.coordDim == "" {
				h.coordDim = h.dim
			}
		case "Point":
			h.pos, h.dim = nil, srsDim
		case "LineString":
			h.line, h.dim = nil, srsDim
		case "Polygon":
			h.rings, h.dim = nil, srsDim
		case "Envelope":
			h.lower, h.upper, h.dim = nil, nil, srsDim
		case "LinearRing":
			if srsDim != "" {
				h.dim = srsDim
			}
		}
	case document.KindText:
		if h.coords {
			h.text.WriteString(ev.Text)
		}
	case document.KindElementEnd:
		if !isGML(ev.Name, path) {
			return nil
		}
		return h.end(ev.Name.Local, path)
	}
	return nil
}

func (h *GMLHandler) end(local string, path Path) error {
	switch local {
	case "pos", "posList", "lowerCorner", "upperCorner", "coordinates":
		h.coords = false
		flat, err := h.parseCoords(local, h.text.String(), h.coordDim)
		if err != nil {
			return fmt.Errorf("%s at %s: %w", local, path, err)
		}
		parent := ""
		if len(path) > 1 {
			parent = path[len(path)-2]
		}
		switch {
		case local == "lowerCorner":
			h.lower = flat
		case local == "upperCorner":
			h.upper = flat
		case parent == "Point":
			h.pos = flat
		case parent == "LineString":
			h.line = flat
		case parent == "LinearRing":
			h.rings = append(h.rings, flat)
		}
	case "Point":
		if len(h.pos) == 2 {
			return h.emit(geom.NewPointFlat(geom.XY, h.pos))
		}
	case "LineString":
		if len(h.line) > 0 {
			return h.emit(geom.NewLineStringFlat(geom.XY, h.line))
		}
	case "Polygon":
		if len(h.rings) > 0 {
			var flat []float64
			var ends []int
			for _, r := range h.rings {
				flat = append(flat, r...)
				ends = append(ends, len(flat))
			}
			return h.emit(geom.NewPolygonFlat(geom.XY, flat, ends))
		}
	case "Envelope":
		if len(h.lower) == 2 && len(h.upper) == 2 {
			minX, minY, maxX, maxY := h.lower[0], h.lower[1], h.upper[0], h.upper[1]
			flat := []float64{minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY}
			return h.emit(geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}))
		}
	}
	return nil
}

// parseCoords returns the XY pairs of text. A single pos of three numbers
// without srsDimension is read as XYZ.
func (h *GMLHandler) parseCoords(local, text, srsDim string) ([]float64, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	})
	dim := 2
	switch {
	case srsDim != "":
		n, err := strconv.Atoi(srsDim)
		if err != nil || n < 2 || n > 4 {
			return nil, fmt.Errorf("unsupported srsDimension %q", srsDim)
		}
		dim = n
	case local == "pos" && len(fields) == 3:
		dim = 3
	}
	if len(fields) == 0 || len(fields)%dim != 0 {
		return nil, fmt.Errorf("expected %d-dimensional coordinates, got %d numbers", dim, len(fields))
	}
	flat := make([]float64, 0, len(fields)/dim*2)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", f, err)
		}
		if i%dim < 2 {
			flat = append(flat, v)
		}
	}
	if h.opts.SwapAxes {
		for i := 0; i+1 < len(flat); i += 2 {
			flat[i], flat[i+1] = flat[i+1], flat[i]
		}
	}
	return flat, nil
}

func (h *GMLHandler) emit(g geom.T) error {
	text, err := wkt.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode WKT: %w", err)
	}
	if h.opts.Validator != nil {
		if ok, reason := h.opts.Validator.IsValid(record.GeometryValue(text)); !ok {
			h.opts.Logger.Debug("Dropping invalid geometry",
				"validator", h.opts.Validator.ID(), "wkt", text, "reason", reason)
			return nil
		}
	}
	v, err := convert(h.schema, h.opts.Attribute, text)
	if err != nil {
		return err
	}
	h.values = append(h.values, v)
	return nil
}

func (h *GMLHandler) Contributions() []Contribution {
	if len(h.values) == 0 {
		return nil
	}
	return []Contribution{{Attribute: h.opts.Attribute, Values: h.values}}
}
