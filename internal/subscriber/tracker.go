package subscriber

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/dispatch"
	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/internal/tracking"
	"github.com/campustrack/tracker/pkg/streaming"
)

// observationTopic is the dispatch topic all observation sources feed.
// The buffered handler is the single goroutine that touches the session,
// so poll and push results may arrive in any order.
const observationTopic = "subscriber.observations"

// PushClient is the realtime channel surface the tracker needs.
// *realtime.Client satisfies it.
type PushClient interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
}

// observation is the dispatch payload: one event about one publisher.
type observation struct {
	publisherID string
	obs         tracking.Observation
	at          time.Time
}

// Tracker follows one publisher at a time. Polling the store is the
// correctness backstop; the push channel only shortens latency.
type Tracker struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	cfg        config.TrackingConfig
	logger     *slog.Logger

	push         PushClient
	onTransition func(publisherID string, tr tracking.Transition)
	onStopped    func(publisherID string)

	mu         sync.Mutex
	session    *tracking.Session
	channel    string
	cancelPoll context.CancelFunc
	pollDone   chan struct{}

	now func() time.Time
}

// NewTracker creates a tracker and registers its observation handler on
// the dispatcher.
func NewTracker(st store.Store, d *dispatch.Dispatcher, cfg config.TrackingConfig, logger *slog.Logger) *Tracker {
	t := &Tracker{
		store:      st,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	d.Register(observationTopic, t.handleObservation, dispatch.Buffered(64))
	return t
}

// SetPushClient attaches the realtime client. Call before Track.
func (t *Tracker) SetPushClient(c PushClient) {
	t.push = c
}

// OnTransition registers the state change callback. Call before Track.
func (t *Tracker) OnTransition(fn func(publisherID string, tr tracking.Transition)) {
	t.onTransition = fn
}

// OnStopped registers the stop notification callback, fired exactly once
// per stop episode. Call before Track.
func (t *Tracker) OnStopped(fn func(publisherID string)) {
	t.onStopped = fn
}

// Track starts following a publisher. Any previous target is torn down
// first: its channel unsubscribed and its poll loop drained. A push
// subscribe failure is logged and swallowed; polling covers for it.
func (t *Tracker) Track(ctx context.Context, publisherID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.teardownLocked()

	t.session = tracking.NewSessionWith(publisherID, t.cfg.FreshnessThreshold, t.cfg.SessionCap)
	t.channel = streaming.ChannelForPublisher(publisherID)

	if t.push != nil {
		if err := t.push.Subscribe(t.channel); err != nil {
			t.logger.Warn("Push subscribe failed, tracking by poll only", "channel", t.channel, "error", err)
		}
	}

	t.startPollLocked(ctx, publisherID)
	t.logger.Info("Tracking publisher", "publisherId", publisherID)
}

// Stop ends tracking entirely and forgets the current target.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
	t.session = nil
	t.channel = ""
}

// Restart begins a new episode for the current publisher after a stop
// notification halted polling.
func (t *Tracker) Restart(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return
	}
	// A fresh session rather than an in-place reset: the observation
	// handler may still hold the old one.
	publisherID := t.session.PublisherID
	t.session = tracking.NewSessionWith(publisherID, t.cfg.FreshnessThreshold, t.cfg.SessionCap)
	// Cycle the poll loop: it may be running, already halted, or about
	// to be halted by a stop notification racing this restart.
	t.stopPollLocked()
	t.startPollLocked(ctx, publisherID)
}

// State returns the current session classification, or StateIdle when
// nothing is tracked.
func (t *Tracker) State() tracking.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return tracking.StateIdle
	}
	return t.session.State()
}

// PublisherID returns the currently tracked identity, if any.
func (t *Tracker) PublisherID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ""
	}
	return t.session.PublisherID
}

func (t *Tracker) teardownLocked() {
	if t.channel != "" && t.push != nil {
		if err := t.push.Unsubscribe(t.channel); err != nil {
			t.logger.Warn("Push unsubscribe failed", "channel", t.channel, "error", err)
		}
	}
	t.stopPollLocked()
}

func (t *Tracker) startPollLocked(ctx context.Context, publisherID string) {
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancelPoll = cancel
	t.pollDone = done
	go t.poll(pollCtx, publisherID, done)
}

func (t *Tracker) stopPollLocked() {
	if t.cancelPoll == nil {
		return
	}
	t.cancelPoll()
	<-t.pollDone
	t.cancelPoll = nil
	t.pollDone = nil
}

func (t *Tracker) poll(ctx context.Context, publisherID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec, ok, err := t.store.Get(ctx, publisherID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Read failures are not observations; the next tick retries.
			t.logger.Warn("Poll read failed", "publisherId", publisherID, "error", err)
			continue
		}

		if !ok {
			t.send(publisherID, tracking.Absent())
			continue
		}
		t.send(publisherID, tracking.Record(rec))
	}
}

// HandleEnvelope feeds push messages into the observation stream. Wire
// it as the realtime client's envelope callback.
func (t *Tracker) HandleEnvelope(env streaming.Envelope) {
	t.mu.Lock()
	channel := t.channel
	var publisherID string
	if t.session != nil {
		publisherID = t.session.PublisherID
	}
	t.mu.Unlock()

	if channel == "" || env.Channel != channel {
		return
	}

	switch env.Type {
	case streaming.TypeRowChange:
		var p streaming.RowChangePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.logger.Warn("Malformed row change payload", "error", err)
			return
		}
		if p.Kind == streaming.RowDelete || p.Record == nil {
			t.send(publisherID, tracking.Absent())
			return
		}
		t.send(publisherID, tracking.Record(*p.Record))

	case streaming.TypeStopped:
		t.send(publisherID, tracking.Stopped())
	}
}

func (t *Tracker) send(publisherID string, obs tracking.Observation) {
	_, err := t.dispatcher.Dispatch(dispatch.Event{
		Topic:     observationTopic,
		Payload:   observation{publisherID: publisherID, obs: obs, at: t.now()},
		Timestamp: t.now(),
	})
	if err != nil {
		t.logger.Warn("Observation dropped", "publisherId", publisherID, "error", err)
	}
}

// handleObservation runs on the dispatch actor goroutine; it is the only
// code that mutates the session.
func (t *Tracker) handleObservation(e dispatch.Event) (any, error) {
	o, ok := e.Payload.(observation)
	if !ok {
		return nil, nil
	}

	t.mu.Lock()
	sess := t.session
	// Late events for a previous target are dropped.
	if sess == nil || sess.PublisherID != o.publisherID {
		t.mu.Unlock()
		return nil, nil
	}
	// Observe under the lock so State() reads a settled session; the
	// callbacks below run outside it.
	tr := sess.Observe(o.obs, o.at)
	t.mu.Unlock()

	if t.onTransition != nil && (tr.From != tr.To || tr.To == tracking.StateFresh) {
		t.onTransition(o.publisherID, tr)
	}
	if tr.Notify {
		t.logger.Info("Publisher stopped sharing", "publisherId", o.publisherID)
		if t.onStopped != nil {
			t.onStopped(o.publisherID)
		}
		// Polling stays down until an explicit Restart; push events can
		// still arrive and re-arm the session with a fresh record.
		go t.haltPolling(sess)
	}
	return tr, nil
}

// haltPolling stops the poll loop for the episode that produced the
// stop. A Track or Restart in between swaps the session, which makes a
// stale halt a no-op.
func (t *Tracker) haltPolling(sess *tracking.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != sess {
		return
	}
	t.stopPollLocked()
}
