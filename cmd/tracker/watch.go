package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/devloc"
	"github.com/campustrack/tracker/internal/dispatch"
	"github.com/campustrack/tracker/internal/geo"
	"github.com/campustrack/tracker/internal/influx"
	"github.com/campustrack/tracker/internal/logging"
	"github.com/campustrack/tracker/internal/monitor"
	"github.com/campustrack/tracker/internal/realtime"
	"github.com/campustrack/tracker/internal/route"
	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/internal/subscriber"
	"github.com/campustrack/tracker/internal/tracking"
	"github.com/campustrack/tracker/pkg/core"
)

// studentSpot is where the demo student waits for the bus.
var studentSpot = []core.Position{
	{Lat: 12.9698, Lon: 77.5932},
	{Lat: 12.9699, Lon: 77.5933},
}

// runWatch resolves a driver identity and follows its location slot,
// logging every state change and a route estimate while fresh.
func runWatch(ctx context.Context) error {
	st, mgr, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	publisherID, err := resolveTarget(ctx, openDirectory(mgr))
	if err != nil {
		return err
	}

	d, err := dispatch.New(logging.NewDispatchLogger(ZLogger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	tracker := subscriber.NewTracker(st, d, config.GetTrackingConfig(), Logger)

	// Push channel. Polling alone is enough when the hub is down.
	client := realtime.NewClient(Logger)
	client.OnEnvelope(tracker.HandleEnvelope)
	if err := client.Dial(config.GetRealtimeConfig().ServerURL); err != nil {
		Logger.Warn("Realtime hub unreachable, tracking by poll only", "error", err)
	} else {
		tracker.SetPushClient(client)
		defer client.Close()
	}

	// Own position feeds the route origin.
	spot := studentSpot
	if *flagAt != "" {
		p, err := geo.PositionFromString(*flagAt)
		if err != nil {
			return fmt.Errorf("invalid -at position: %w", err)
		}
		spot = []core.Position{p}
	}

	var ownPos atomic.Pointer[core.Position]
	device := devloc.NewSimulated(spot, time.Second)
	if err := device.RequestPermission(ctx); err == nil {
		watchCfg := config.GetWatchConfig()
		w, err := device.Watch(ctx, devloc.WatchOptions{
			MinInterval: watchCfg.MinInterval,
			MinDistance: watchCfg.MinDistance,
		})
		if err == nil {
			defer w.Stop()
			go func() {
				for r := range w.Readings() {
					pos := r.Position
					ownPos.Store(&pos)
				}
			}()
		}
	}

	dirCfg := config.GetDirectionsConfig()
	estimator := route.NewEstimator(route.NewClient(dirCfg), dirCfg.Throttle, Logger)

	// Optional transition metrics.
	var metrics *influx.Manager
	if config.GetBool("influx.enabled") {
		metrics = influx.NewManager(ZLogger, statusDir()+"/influx_backup.gz")
		if err := metrics.Connect(); err != nil {
			Logger.Warn("InfluxDB unavailable, transition metrics disabled", "error", err)
			metrics = nil
		}
	}

	tracker.OnTransition(func(id string, tr tracking.Transition) {
		if metrics != nil && tr.From != tr.To {
			point := influx.TransitionPoint(id, tr.From.String(), tr.To.String(), tr.Notify, time.Now())
			if err := metrics.WritePoint(ctx, influx.BucketEvents, point); err != nil {
				Logger.Warn("Failed to write transition point", "error", err)
			}
		}
		switch tr.To {
		case tracking.StateFresh:
			Logger.Info("Driver location updated", "publisherId", id,
				"lat", tr.Position.Lat, "lon", tr.Position.Lon)
			if origin := ownPos.Load(); origin != nil {
				est := estimator.Estimate(ctx, *origin, tr.Position)
				Logger.Info("Route estimate", "publisherId", id,
					"distance", est.DistanceLabel,
					"duration", est.DurationLabel,
					"fallback", est.Fallback,
				)
				if ls, err := geo.PathLineString(est.Points); err == nil {
					Logger.Debug("Route geometry", "publisherId", id, "wkb", ls.AsBinary())
				}
			}
		case tracking.StateStale:
			Logger.Warn("Driver location is stale", "publisherId", id)
		}
	})
	tracker.OnStopped(func(id string) {
		Logger.Info("Driver stopped sharing", "publisherId", id)
	})

	status := monitor.NewService(monitor.Dependencies{
		Logger:    Logger,
		StatusDir: statusDir(),
		Interval:  time.Second,
	})
	status.AddSource("tracker", func() any {
		return map[string]any{
			"publisherId": tracker.PublisherID(),
			"state":       tracker.State().String(),
		}
	})
	if err := status.Start(); err != nil {
		Logger.Warn("Status monitor failed to start", "error", err)
	}
	defer status.Stop()

	tracker.Track(ctx, publisherID)
	defer tracker.Stop()

	<-ctx.Done()
	return nil
}

// resolveTarget turns the command line hints into a publisher identity.
// An explicit -publisher wins; otherwise the roster is consulted, with a
// student email first mapped to its allocated bus.
func resolveTarget(ctx context.Context, dir store.Directory) (string, error) {
	if *flagPublisher != "" {
		return *flagPublisher, nil
	}
	if dir == nil {
		return "", errors.New("roster lookups need the database; use -publisher with -demo")
	}

	hint := subscriber.Hint{Email: *flagEmail, BusNumber: *flagBus}
	if *flagStudent != "" && hint.BusNumber == "" {
		bus, ok, err := dir.StudentBusByEmail(ctx, *flagStudent)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no allocation found for student %q", *flagStudent)
		}
		hint.BusNumber = bus
	}
	if hint.Email == "" && hint.BusNumber == "" {
		return "", errors.New("watch mode requires -publisher, -email, -bus or -student")
	}

	resolver := subscriber.NewResolver(dir, Logger)
	p, err := resolver.ResolvePublisher(ctx, hint)
	if err != nil {
		return "", err
	}
	return p.PublisherID, nil
}
