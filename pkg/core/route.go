// pkg/core/route.go
package core

// RouteEstimate is a displayable distance/ETA plus the path to draw.
// It is derived state: recomputed on demand, never persisted.
type RouteEstimate struct {
	Points        []Position `json:"points"`
	DistanceLabel string     `json:"distance_label"`
	DurationLabel string     `json:"duration_label"`

	// Fallback is true when the estimate came from the great-circle
	// approximation rather than the directions provider.
	Fallback bool `json:"fallback"`
}
