// pkg/core/location.go
package core

import "time"

// TombstoneTime is the timestamp written into a tombstone record. Any
// subscriber observing it computes an age far beyond the freshness
// threshold and goes stale immediately.
var TombstoneTime = time.Unix(0, 0).UTC()

// Position is a WGS84 coordinate pair in degrees.
type Position struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// LocationRecord is the last known position of one publisher. The store
// keeps at most one record per publisher; every publish overwrites it.
// Nil coordinates mark a tombstone written ahead of deletion.
type LocationRecord struct {
	PublisherID string     `json:"publisher_id"`
	Lat         *float64   `json:"latitude"`
	Lon         *float64   `json:"longitude"`
	CapturedAt  time.Time  `json:"captured_at"`
}

// NewLocationRecord builds a live record for the given publisher.
func NewLocationRecord(publisherID string, pos Position, capturedAt time.Time) LocationRecord {
	lat, lon := pos.Lat, pos.Lon
	return LocationRecord{
		PublisherID: publisherID,
		Lat:         &lat,
		Lon:         &lon,
		CapturedAt:  capturedAt.UTC(),
	}
}

// Tombstone builds the placeholder record written on stop. Coordinates are
// null and the timestamp is the epoch, so polling subscribers see "stale"
// within one cycle even before the physical delete lands.
func Tombstone(publisherID string) LocationRecord {
	return LocationRecord{
		PublisherID: publisherID,
		CapturedAt:  TombstoneTime,
	}
}

// IsTombstone reports whether the record carries no usable coordinates.
func (r LocationRecord) IsTombstone() bool {
	return r.Lat == nil || r.Lon == nil
}

// Position returns the record's coordinates. ok is false for tombstones.
func (r LocationRecord) Position() (pos Position, ok bool) {
	if r.IsTombstone() {
		return Position{}, false
	}
	return Position{Lat: *r.Lat, Lon: *r.Lon}, true
}

// Age returns how old the record is at the given observation time.
func (r LocationRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CapturedAt)
}
