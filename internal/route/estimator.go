// internal/route/estimator.go
package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campustrack/tracker/internal/geo"
	"github.com/campustrack/tracker/pkg/core"
)

// fallbackSpeedKmh is the assumed average speed when no directions
// provider is reachable and the ETA comes from straight-line distance.
const fallbackSpeedKmh = 30.0

// DefaultThrottle bounds how often the directions provider is queried.
const DefaultThrottle = 15 * time.Second

// Provider is the route source the estimator queries. *Client satisfies it.
type Provider interface {
	Directions(ctx context.Context, from, to core.Position) (core.RouteEstimate, error)
}

// Estimator computes displayable route estimates, throttling provider
// calls and degrading to a great-circle approximation on failure.
type Estimator struct {
	provider Provider
	throttle time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	lastCall   time.Time
	lastResult core.RouteEstimate
	haveResult bool
	inFlight   bool

	// now is swappable for tests.
	now func() time.Time
}

// NewEstimator creates an estimator over the given provider. A zero
// throttle uses DefaultThrottle.
func NewEstimator(provider Provider, throttle time.Duration, logger *slog.Logger) *Estimator {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Estimator{
		provider: provider,
		throttle: throttle,
		logger:   logger,
		now:      time.Now,
	}
}

// Estimate returns a route estimate from origin to destination. Calls
// within the throttle window return the previous result unchanged; a
// provider failure yields the straight-line fallback instead of an error.
func (e *Estimator) Estimate(ctx context.Context, from, to core.Position) core.RouteEstimate {
	e.mu.Lock()
	if e.haveResult && e.now().Sub(e.lastCall) < e.throttle {
		cached := e.lastResult
		e.mu.Unlock()
		return cached
	}
	if e.inFlight {
		// Another call is already refreshing; do not double up on the
		// provider inside one window.
		if e.haveResult {
			cached := e.lastResult
			e.mu.Unlock()
			return cached
		}
		e.mu.Unlock()
		return Fallback(from, to)
	}
	e.inFlight = true
	e.mu.Unlock()

	est, err := e.provider.Directions(ctx, from, to)
	if err != nil {
		e.logger.Warn("Directions request failed, using fallback estimate", "error", err)
		est = Fallback(from, to)
	}

	e.mu.Lock()
	e.inFlight = false
	e.lastCall = e.now()
	e.lastResult = est
	e.haveResult = true
	e.mu.Unlock()

	return est
}

// Fallback builds a straight-line estimate: two points, great-circle
// distance and an ETA assuming fallbackSpeedKmh.
func Fallback(from, to core.Position) core.RouteEstimate {
	km := geo.Haversine(from, to)
	minutes := km / fallbackSpeedKmh * 60

	return core.RouteEstimate{
		Points:        []core.Position{from, to},
		DistanceLabel: fmt.Sprintf("%.1f km", km),
		DurationLabel: formatMinutes(minutes),
		Fallback:      true,
	}
}

func formatMinutes(minutes float64) string {
	if minutes < 1 {
		return "1 min"
	}
	if minutes >= 60 {
		h := int(minutes) / 60
		m := int(minutes) % 60
		if m == 0 {
			return fmt.Sprintf("%d hr", h)
		}
		return fmt.Sprintf("%d hr %d min", h, m)
	}
	return fmt.Sprintf("%.0f min", minutes)
}
