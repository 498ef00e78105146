package geo

import (
	"math"
	"testing"

	"github.com/campustrack/tracker/pkg/core"
)

func TestHaversine_KnownPair(t *testing.T) {
	// Two points ~10.6 km apart in Bangalore.
	a := core.Position{Lat: 12.9716, Lon: 77.5946}
	b := core.Position{Lat: 13.0358, Lon: 77.5970}

	d := Haversine(a, b)

	if math.Abs(d-7.14) > 0.05 {
		t.Errorf("expected ~7.14 km, got %f", d)
	}
}

func TestHaversine_ZeroDistance(t *testing.T) {
	p := core.Position{Lat: 51.5074, Lon: -0.1278}
	if d := Haversine(p, p); d != 0 {
		t.Errorf("expected 0, got %f", d)
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	a := core.Position{Lat: 48.8566, Lon: 2.3522}
	b := core.Position{Lat: 52.5200, Lon: 13.4050}

	if d1, d2 := Haversine(a, b), Haversine(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("expected symmetric distances, got %f and %f", d1, d2)
	}
}

func TestHaversine_Equator(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km with R=6371.
	a := core.Position{Lat: 0, Lon: 0}
	b := core.Position{Lat: 0, Lon: 1}

	d := Haversine(a, b)
	if math.Abs(d-111.19) > 0.05 {
		t.Errorf("expected ~111.19 km, got %f", d)
	}
}
