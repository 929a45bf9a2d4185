package validator

import (
	"fmt"
	"math"
	"regexp"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/c360/metaingest/record"
)

// Checker is a reusable checking strategy. Validators bind a Checker to an
// attribute; the Checker itself knows nothing about attribute names.
type Checker interface {
	Name() string
	Check(v record.Value) error
}

// GeometryChecker accepts well-formed WKT in geographic coordinates:
// longitudes in [-180, 180], latitudes in [-90, 90], closed polygon rings.
// STRING and GEOMETRY values are both accepted.
type GeometryChecker struct{}

func (GeometryChecker) Name() string { return "geometry" }

func (GeometryChecker) Check(v record.Value) error {
	text, ok := v.AsString()
	if !ok {
		return fmt.Errorf("expected WKT text, got %s", v.Kind())
	}
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return fmt.Errorf("malformed WKT: %v", err)
	}
	return checkGeometry(g)
}

func checkGeometry(g geom.T) error {
	switch t := g.(type) {
	case *geom.Point, *geom.MultiPoint:
	case *geom.LineString:
		if t.NumCoords() < 2 {
			return fmt.Errorf("linestring needs at least 2 points")
		}
	case *geom.MultiLineString:
		for i := range t.NumLineStrings() {
			if t.LineString(i).NumCoords() < 2 {
				return fmt.Errorf("linestring %d needs at least 2 points", i)
			}
		}
	case *geom.Polygon:
		if err := checkRings(t); err != nil {
			return err
		}
	case *geom.MultiPolygon:
		for i := range t.NumPolygons() {
			if err := checkRings(t.Polygon(i)); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
	if len(g.FlatCoords()) == 0 {
		return fmt.Errorf("empty geometry")
	}
	return checkCoords(g.FlatCoords(), g.Stride())
}

func checkRings(p *geom.Polygon) error {
	for i := range p.NumLinearRings() {
		ring := p.LinearRing(i)
		n := ring.NumCoords()
		if n < 4 {
			return fmt.Errorf("ring %d has %d points, need at least 4", i, n)
		}
		first, last := ring.Coord(0), ring.Coord(n-1)
		if first.X() != last.X() || first.Y() != last.Y() {
			return fmt.Errorf("ring %d is not closed", i)
		}
	}
	return nil
}

func checkCoords(flat []float64, stride int) error {
	if stride < 2 {
		return fmt.Errorf("geometry has no coordinates")
	}
	for i := 0; i+1 < len(flat); i += stride {
		lon, lat := flat[i], flat[i+1]
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return fmt.Errorf("non-finite coordinate")
		}
		if lon < -180 || lon > 180 {
			return fmt.Errorf("longitude %g out of range [-180, 180]", lon)
		}
		if lat < -90 || lat > 90 {
			return fmt.Errorf("latitude %g out of range [-90, 90]", lat)
		}
	}
	return nil
}

// PatternChecker matches STRING values against a regular expression.
type PatternChecker struct {
	re *regexp.Regexp
}

// NewPatternChecker compiles expr.
func NewPatternChecker(expr string) (*PatternChecker, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return &PatternChecker{re: re}, nil
}

func (c *PatternChecker) Name() string { return "pattern" }

func (c *PatternChecker) Check(v record.Value) error {
	s, ok := v.AsString()
	if !ok {
		return fmt.Errorf("expected text, got %s", v.Kind())
	}
	if !c.re.MatchString(s) {
		return fmt.Errorf("%q does not match %s", s, c.re)
	}
	return nil
}

// RangeChecker bounds INTEGER and DOUBLE values, inclusive.
type RangeChecker struct {
	Min float64
	Max float64
}

func (c RangeChecker) Name() string { return "range" }

func (c RangeChecker) Check(v record.Value) error {
	n, ok := v.Number()
	if !ok {
		return fmt.Errorf("expected a number, got %s", v.Kind())
	}
	if n < c.Min || n > c.Max {
		return fmt.Errorf("%g outside [%g, %g]", n, c.Min, c.Max)
	}
	return nil
}
