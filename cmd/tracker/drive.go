package main

import (
	"context"
	"fmt"
	"time"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/devloc"
	"github.com/campustrack/tracker/internal/monitor"
	"github.com/campustrack/tracker/internal/publisher"
	"github.com/campustrack/tracker/internal/realtime"
	"github.com/campustrack/tracker/pkg/core"
)

// campusRoute is the demo path the simulated driver repeats: a loop
// between the main gate and the north campus.
var campusRoute = []core.Position{
	{Lat: 12.9716, Lon: 77.5946},
	{Lat: 12.9752, Lon: 77.5962},
	{Lat: 12.9789, Lon: 77.5981},
	{Lat: 12.9831, Lon: 77.5994},
	{Lat: 12.9874, Lon: 77.6009},
	{Lat: 12.9912, Lon: 77.6021},
	{Lat: 12.9874, Lon: 77.6009},
	{Lat: 12.9831, Lon: 77.5994},
	{Lat: 12.9789, Lon: 77.5981},
	{Lat: 12.9752, Lon: 77.5962},
}

// runDrive publishes a simulated driver location until interrupted or
// the session cap fires.
func runDrive(ctx context.Context) error {
	if *flagPublisher == "" {
		return fmt.Errorf("drive mode requires -publisher")
	}

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// Best effort: without the hub the store still carries the slot.
	var broadcaster publisher.Broadcaster
	client := realtime.NewClient(Logger)
	if err := client.Dial(config.GetRealtimeConfig().ServerURL); err != nil {
		Logger.Warn("Realtime hub unreachable, stop broadcast disabled", "error", err)
	} else {
		broadcaster = client
		defer client.Close()
	}

	provider := devloc.NewSimulated(campusRoute, 2*time.Second)

	pub := publisher.New(*flagPublisher, st, provider, publisher.Config{
		Tracking:    config.GetTrackingConfig(),
		Watch:       config.GetWatchConfig(),
		Broadcaster: broadcaster,
	}, Logger)

	if err := pub.StartSharing(ctx); err != nil {
		return fmt.Errorf("failed to start sharing: %w", err)
	}

	status := monitor.NewService(monitor.Dependencies{
		Logger:    Logger,
		StatusDir: statusDir(),
		Interval:  time.Second,
	})
	status.AddSource("publisher", func() any {
		return map[string]any{
			"publisherId": *flagPublisher,
			"sharing":     pub.Sharing(),
			"published":   pub.Published(),
		}
	})
	if err := status.Start(); err != nil {
		Logger.Warn("Status monitor failed to start", "error", err)
	}
	defer status.Stop()

	<-ctx.Done()
	pub.StopSharing()
	return nil
}
