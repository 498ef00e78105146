// Package tracking implements the staleness and session state machine shared
// by the publisher and subscriber sides of live location sharing.
//
// Staleness is detected on read, not on write: the store gives no guaranteed
// delivery of a "going away" signal, so the age check against the freshness
// threshold is the correctness backstop. Tombstones and explicit stop
// broadcasts only shorten the latency between "driver stopped" and "student
// notified".
package tracking

import (
	"time"

	"github.com/campustrack/tracker/pkg/core"
)

// Default timing constants for live tracking.
const (
	// FreshnessThreshold is the maximum record age still considered live.
	FreshnessThreshold = 15 * time.Second

	// SessionCap is the maximum continuous sharing duration before a
	// session is force-stopped.
	SessionCap = 3 * time.Hour
)

// State classifies a tracked publisher's location.
type State int

const (
	// StateIdle means no record has ever been seen.
	StateIdle State = iota
	// StateFresh means the latest observed record is within the threshold.
	StateFresh
	// StateStale means the latest observation was too old.
	StateStale
	// StateStopped is terminal for the current episode: the record is gone
	// or is a tombstone, an explicit stop arrived, or the session cap
	// elapsed.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ObservationKind tags the event fed into the state machine.
type ObservationKind int

const (
	// ObservedRecord carries a location record read via poll or push.
	ObservedRecord ObservationKind = iota
	// ObservedAbsent means the store has no record for the publisher.
	ObservedAbsent
	// ObservedStopped is the explicit stop broadcast.
	ObservedStopped
)

// Observation is one input event. Poll and push are independent, unordered
// producers; both reduce to the same observation shape so interleaving
// order cannot change the outcome.
type Observation struct {
	Kind   ObservationKind
	Record core.LocationRecord
}

// Record wraps a read record as an observation.
func Record(r core.LocationRecord) Observation {
	return Observation{Kind: ObservedRecord, Record: r}
}

// Absent marks a missing store row.
func Absent() Observation {
	return Observation{Kind: ObservedAbsent}
}

// Stopped marks an explicit stop broadcast.
func Stopped() Observation {
	return Observation{Kind: ObservedStopped}
}

// Transition describes the outcome of one observation.
type Transition struct {
	From State
	To   State

	// Notify is true exactly once per stop episode, on the observation
	// that entered StateStopped.
	Notify bool

	// Position is the latest live position, valid when To == StateFresh.
	Position core.Position
}

// Session tracks one subscriber-publisher pair. Not safe for concurrent
// use; feed it from a single goroutine.
type Session struct {
	PublisherID string

	state            State
	lastFresh        *core.LocationRecord
	staleSince       time.Time
	stopNotified     bool
	sessionStartedAt time.Time

	threshold time.Duration
	cap       time.Duration
}

// NewSession creates a session with the default threshold and cap.
func NewSession(publisherID string) *Session {
	return NewSessionWith(publisherID, FreshnessThreshold, SessionCap)
}

// NewSessionWith creates a session with explicit timing, for callers that
// configure intervals.
func NewSessionWith(publisherID string, threshold, cap time.Duration) *Session {
	return &Session{
		PublisherID: publisherID,
		state:       StateIdle,
		threshold:   threshold,
		cap:         cap,
	}
}

// State returns the current classification.
func (s *Session) State() State {
	return s.state
}

// LastFresh returns the most recent live record, or false if none was seen
// this episode.
func (s *Session) LastFresh() (core.LocationRecord, bool) {
	if s.lastFresh == nil {
		return core.LocationRecord{}, false
	}
	return *s.lastFresh, true
}

// StaleSince returns when staleness was first detected, or zero when not
// stale.
func (s *Session) StaleSince() time.Time {
	return s.staleSince
}

// Observe feeds one event into the state machine and returns the resulting
// transition. now is the observation time used for age comparison.
func (s *Session) Observe(obs Observation, now time.Time) Transition {
	from := s.state

	switch obs.Kind {
	case ObservedAbsent, ObservedStopped:
		return s.stop(from)

	case ObservedRecord:
		rec := obs.Record

		// Session cap: measured from the first fresh sighting.
		if !s.sessionStartedAt.IsZero() && now.Sub(s.sessionStartedAt) > s.cap {
			return s.stop(from)
		}

		// A tombstone is the publisher's durable stop marker, left behind
		// for the case where the best-effort delete never lands. Treat it
		// exactly like an absent row.
		if rec.IsTombstone() {
			return s.stop(from)
		}

		if rec.Age(now) > s.threshold {
			return s.goStale(from, now)
		}

		return s.goFresh(from, rec)
	}

	return Transition{From: from, To: s.state}
}

func (s *Session) goFresh(from State, rec core.LocationRecord) Transition {
	// Last write wins: ignore a record older than what we already hold.
	if s.lastFresh != nil && rec.CapturedAt.Before(s.lastFresh.CapturedAt) {
		rec = *s.lastFresh
	}

	s.state = StateFresh
	s.lastFresh = &rec
	s.staleSince = time.Time{}
	s.stopNotified = false
	if s.sessionStartedAt.IsZero() {
		s.sessionStartedAt = rec.CapturedAt
	}

	pos, _ := rec.Position()
	return Transition{From: from, To: StateFresh, Position: pos}
}

func (s *Session) goStale(from State, now time.Time) Transition {
	// A session that already stopped stays stopped until restarted.
	if s.state == StateStopped {
		return Transition{From: from, To: StateStopped}
	}
	s.state = StateStale
	if s.staleSince.IsZero() {
		s.staleSince = now
	}
	return Transition{From: from, To: StateStale}
}

func (s *Session) stop(from State) Transition {
	s.state = StateStopped
	notify := !s.stopNotified
	s.stopNotified = true
	return Transition{From: from, To: StateStopped, Notify: notify}
}

// Restart clears the terminal state so tracking can begin a new episode.
func (s *Session) Restart() {
	s.state = StateIdle
	s.lastFresh = nil
	s.staleSince = time.Time{}
	s.stopNotified = false
	s.sessionStartedAt = time.Time{}
}
