package geo

import (
	"errors"
	"strings"

	"github.com/campustrack/tracker/pkg/core"
)

// Encoded polylines use the standard signed-delta, base-64-character scheme
// with 5-decimal fixed-point coordinates: each coordinate unit is 1e-5
// degrees, deltas are zigzag-encoded and emitted in 5-bit chunks offset by
// 63. This is the format returned by directions providers in the
// overview_polyline field.

const polylinePrecision = 1e5

// ErrTruncatedPolyline is returned when an encoded polyline ends mid-value.
var ErrTruncatedPolyline = errors.New("truncated polyline")

// DecodePolyline decodes an encoded polyline string into positions.
func DecodePolyline(encoded string) ([]core.Position, error) {
	var points []core.Position
	var lat, lon int64

	i := 0
	for i < len(encoded) {
		dLat, n, err := decodeValue(encoded[i:])
		if err != nil {
			return nil, err
		}
		i += n
		lat += dLat

		dLon, n, err := decodeValue(encoded[i:])
		if err != nil {
			return nil, err
		}
		i += n
		lon += dLon

		points = append(points, core.Position{
			Lat: float64(lat) / polylinePrecision,
			Lon: float64(lon) / polylinePrecision,
		})
	}
	return points, nil
}

// EncodePolyline encodes positions into the 5-decimal polyline format.
func EncodePolyline(points []core.Position) string {
	var b strings.Builder
	var prevLat, prevLon int64

	for _, p := range points {
		lat := round(p.Lat * polylinePrecision)
		lon := round(p.Lon * polylinePrecision)
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return b.String()
}

// decodeValue reads one zigzag-encoded signed delta. Returns the value and
// the number of bytes consumed.
func decodeValue(s string) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(s); i++ {
		c := int64(s[i]) - 63
		result |= (c & 0x1f) << shift
		shift += 5
		if c < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i + 1, nil
			}
			return result >> 1, i + 1, nil
		}
	}
	return 0, 0, ErrTruncatedPolyline
}

func encodeValue(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}

func round(f float64) int64 {
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}
