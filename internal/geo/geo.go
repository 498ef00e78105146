package geo

import (
	"errors"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/campustrack/tracker/pkg/core"
)

// GEO POINTS
// Stored geometry is kept in EPSG:3857 WKB so the SQLite fallback, which has
// no spatial awareness, can round-trip it as an opaque blob while Postgres
// deployments can still index it.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidPosition reports whether the coordinates are inside WGS84 bounds.
func ValidPosition(p core.Position) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// PositionFromString parses a "lat,lon" string into a core.Position.
func PositionFromString(coords string) (core.Position, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return core.Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	p := core.Position{Lat: lat, Lon: lon}
	if !ValidPosition(p) {
		return core.Position{}, ErrInvalidCoordinates
	}
	return p, nil
}

// Point3857 projects a WGS84 position to EPSG:3857 and returns it as a
// geometry point.
func Point3857(p core.Position) geom.Point {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.Lon, p.Lat, 0)
	return geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: x, Y: y},
	})
}

// PathLineString builds a geometry line string from an ordered path.
// Returns an error for paths with fewer than two points.
func PathLineString(points []core.Position) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, ErrInvalidCoordinates
	}
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.Lon, p.Lat)
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	return geom.NewLineString(seq), nil
}
