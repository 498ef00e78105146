// Package publisher runs the driver-side sharing loop: it takes device
// location readings and mirrors the latest one into the shared store,
// then cleans the slot up again when sharing stops.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campustrack/tracker/internal/cache"
	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/devloc"
	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/pkg/core"
	"github.com/campustrack/tracker/pkg/streaming"
)

// ErrNoIdentity is returned when sharing is started without a publisher id.
var ErrNoIdentity = errors.New("no publisher identity")

// ErrPermissionDenied mirrors the device-level refusal.
var ErrPermissionDenied = devloc.ErrPermissionDenied

// Broadcaster pushes ad hoc messages onto a realtime channel.
// *realtime.Client satisfies it.
type Broadcaster interface {
	Broadcast(msgType, channel string, payload any) error
}

// Config carries the publisher settings and optional collaborators.
type Config struct {
	Tracking config.TrackingConfig
	Watch    config.WatchConfig
	// Broadcaster, when set, receives the best-effort stop notification.
	Broadcaster Broadcaster
}

// Publisher owns one location slot in the store and keeps it current
// while sharing is active.
type Publisher struct {
	id       string
	store    store.Store
	provider devloc.Provider
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sharing  bool
	cancel   context.CancelFunc
	watch    devloc.Watch
	loopDone chan struct{}

	// published counts successful slot writes this session.
	published cache.SafeCounter

	now func() time.Time
}

// New creates a publisher for the given identity.
func New(publisherID string, st store.Store, provider devloc.Provider, cfg Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		id:       publisherID,
		store:    st,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Sharing reports whether the sharing loop is currently running.
func (p *Publisher) Sharing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sharing
}

// Published returns the number of fixes written this session.
func (p *Publisher) Published() int {
	return p.published.Value()
}

// StartSharing requests location permission, starts the device watch and
// begins upserting readings. The session ends automatically once the
// session cap elapses. Calling it while already sharing is a no-op.
func (p *Publisher) StartSharing(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sharing {
		return nil
	}
	if p.id == "" {
		return ErrNoIdentity
	}

	if err := p.provider.RequestPermission(ctx); err != nil {
		return fmt.Errorf("failed to get location permission: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	watch, err := p.provider.Watch(watchCtx, devloc.WatchOptions{
		MinInterval: p.cfg.Watch.MinInterval,
		MinDistance: p.cfg.Watch.MinDistance,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start location watch: %w", err)
	}

	done := make(chan struct{})
	p.sharing = true
	p.published.Set(0)
	p.cancel = cancel
	p.watch = watch
	p.loopDone = done

	p.logger.Info("Location sharing started", "publisherId", p.id)
	go p.run(watchCtx, watch, done)
	return nil
}

func (p *Publisher) run(ctx context.Context, watch devloc.Watch, done chan struct{}) {
	defer close(done)

	capTimer := time.NewTimer(p.cfg.Tracking.SessionCap)
	defer capTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-capTimer.C:
			p.logger.Info("Session cap reached, stopping location sharing", "publisherId", p.id)
			// StopSharing waits for this goroutine, so run it outside.
			go p.StopSharing()
			return
		case r, ok := <-watch.Readings():
			if !ok {
				// Provider shut the watch down on its own; fall through
				// to the normal stop path. No-op when already stopping.
				go p.StopSharing()
				return
			}
			rec := core.NewLocationRecord(p.id, r.Position, r.CapturedAt)
			if err := p.store.Upsert(ctx, rec); err != nil {
				// Transient write failures skip this reading; the next
				// one overwrites the slot anyway.
				p.logger.Warn("Failed to upsert location", "publisherId", p.id, "error", err)
			} else {
				p.published.Inc()
				p.broadcastRowChange(rec)
			}
		}
	}
}

// broadcastRowChange mirrors a slot write onto the publisher's realtime
// channel. The store and the hub usually live in different processes, so
// subscribers would otherwise see the write only on their next poll.
func (p *Publisher) broadcastRowChange(rec core.LocationRecord) {
	if p.cfg.Broadcaster == nil {
		return
	}
	payload := streaming.RowChangePayload{
		Kind:        streaming.RowUpdate,
		PublisherID: p.id,
		Record:      &rec,
	}
	if err := p.cfg.Broadcaster.Broadcast(streaming.TypeRowChange, streaming.ChannelForPublisher(p.id), payload); err != nil {
		p.logger.Debug("Failed to broadcast row change", "publisherId", p.id, "error", err)
	}
}

// StopSharing halts the watch and session timer, waits for the loop to
// drain, then runs the best-effort cleanup handshake: tombstone the
// slot, delete it, broadcast the stop. Cleanup failures are logged and
// swallowed. Calling it while not sharing is a no-op.
func (p *Publisher) StopSharing() {
	p.mu.Lock()
	if !p.sharing {
		p.mu.Unlock()
		return
	}
	p.sharing = false
	cancel, watch, done := p.cancel, p.watch, p.loopDone
	p.cancel, p.watch, p.loopDone = nil, nil, nil
	p.mu.Unlock()

	watch.Stop()
	cancel()
	<-done

	p.cleanup()
	p.logger.Info("Location sharing stopped", "publisherId", p.id,
		"published", p.published.Value())
}

// cleanup marks the slot stopped for anyone who polls between the
// tombstone and the delete, then removes the row and tells current
// subscribers directly. Each step is bounded and independent.
func (p *Publisher) cleanup() {
	tombCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Tracking.StopTombstoneWait)
	if err := p.store.WriteTombstone(tombCtx, p.id); err != nil {
		p.logger.Warn("Failed to write stop tombstone", "publisherId", p.id, "error", err)
	}
	cancel()

	delCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Tracking.StopDeleteWait)
	if err := p.store.Delete(delCtx, p.id); err != nil {
		p.logger.Warn("Failed to delete location slot", "publisherId", p.id, "error", err)
	}
	cancel()

	if p.cfg.Broadcaster != nil {
		payload := streaming.StoppedPayload{At: p.now().UTC()}
		if err := p.cfg.Broadcaster.Broadcast(streaming.TypeStopped, streaming.ChannelForPublisher(p.id), payload); err != nil {
			p.logger.Warn("Failed to broadcast stop", "publisherId", p.id, "error", err)
		}
	}
}
