// Package devloc abstracts the device location service. A Provider
// hands out one-shot readings and continuous watches; the concrete
// source may be real hardware or the simulated provider.
package devloc

import (
	"context"
	"errors"
	"time"

	"github.com/campustrack/tracker/pkg/core"
)

var (
	// ErrPermissionDenied is returned when the device refuses location access.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrWatchClosed is returned from Watch when the provider shuts down.
	ErrWatchClosed = errors.New("location watch closed")
)

// Reading is a single device location fix.
type Reading struct {
	Position   core.Position
	CapturedAt time.Time
}

// WatchOptions filter the stream of readings a watch emits.
type WatchOptions struct {
	// MinInterval is the minimum time between emitted readings.
	MinInterval time.Duration
	// MinDistance is the minimum movement in meters between emitted readings.
	MinDistance float64
}

// Watch is a running location subscription. Readings arrives in order;
// the channel closes when the watch stops.
type Watch interface {
	Readings() <-chan Reading
	Stop()
}

// Provider is the device location service.
type Provider interface {
	// RequestPermission asks for location access. ErrPermissionDenied
	// when the user or platform refuses.
	RequestPermission(ctx context.Context) error
	// Current returns a single fresh reading.
	Current(ctx context.Context) (Reading, error)
	// Watch streams readings filtered by opts until Stop is called.
	Watch(ctx context.Context, opts WatchOptions) (Watch, error)
}
