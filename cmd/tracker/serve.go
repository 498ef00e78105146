package main

import (
	"context"
	"time"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/influx"
	"github.com/campustrack/tracker/internal/monitor"
	"github.com/campustrack/tracker/internal/realtime"
	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/pkg/streaming"
)

// runServe hosts the shared location store and the realtime hub. Store
// row changes fan out to every subscriber of the publisher's channel.
func runServe(ctx context.Context) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	hub := realtime.NewHub(Logger)

	if notifier, ok := st.(store.Notifier); ok {
		notifier.OnChange(hub.PublishRowChange)
	} else {
		Logger.Warn("Store emits no row changes, subscribers must rely on polling")
	}

	// Optional cadence metrics.
	if config.GetBool("influx.enabled") {
		metrics := influx.NewManager(ZLogger, statusDir()+"/influx_backup.gz")
		if err := metrics.Connect(); err != nil {
			Logger.Warn("InfluxDB unavailable, cadence metrics disabled", "error", err)
		} else if notifier, ok := st.(store.Notifier); ok {
			notifier.OnChange(func(change streaming.RowChangePayload) {
				if change.Record == nil {
					return
				}
				if pos, live := change.Record.Position(); live {
					point := influx.CadencePoint(change.PublisherID, pos.Lat, pos.Lon, change.Record.CapturedAt)
					if err := metrics.WritePoint(ctx, influx.BucketCadence, point); err != nil {
						Logger.Warn("Failed to write cadence point", "error", err)
					}
				}
			})
		}
	}

	go hub.Run(ctx)

	status := monitor.NewService(monitor.Dependencies{
		Logger:    Logger,
		StatusDir: statusDir(),
		Interval:  time.Second,
	})
	status.AddSource("uptime", func() any {
		return map[string]any{"seconds": int(time.Since(SessionStartTime).Seconds())}
	})
	if sized, ok := st.(interface{ Len() int }); ok {
		status.AddSource("store", func() any {
			return map[string]any{"slots": sized.Len()}
		})
	}
	if err := status.Start(); err != nil {
		Logger.Warn("Status monitor failed to start", "error", err)
	}
	defer status.Stop()

	addr := config.GetRealtimeConfig().ListenAddr
	srv := realtime.NewServer(hub, addr, Logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	Logger.Info("Realtime hub listening", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
