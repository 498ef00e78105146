package devloc

import (
	"context"
	"sync"
	"time"

	"github.com/campustrack/tracker/internal/geo"
	"github.com/campustrack/tracker/pkg/core"
)

// Simulated replays a fixed path of positions at a configurable pace.
// Used by the demo drive mode and in tests.
type Simulated struct {
	path []core.Position
	step time.Duration

	// Deny makes RequestPermission fail, mimicking a refused prompt.
	Deny bool

	mu  sync.Mutex
	idx int
	now func() time.Time
}

// NewSimulated returns a provider that walks path, advancing one point
// per step. The path loops when exhausted; an empty path sits at the
// origin.
func NewSimulated(path []core.Position, step time.Duration) *Simulated {
	if step <= 0 {
		step = time.Second
	}
	if len(path) == 0 {
		path = []core.Position{{}}
	}
	return &Simulated{path: path, step: step, now: time.Now}
}

func (s *Simulated) RequestPermission(_ context.Context) error {
	if s.Deny {
		return ErrPermissionDenied
	}
	return nil
}

// Current returns the point the simulation currently sits on.
func (s *Simulated) Current(_ context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Reading{Position: s.path[s.idx%len(s.path)], CapturedAt: s.now()}, nil
}

// Watch emits one reading per step, skipping points closer than
// opts.MinDistance to the last emitted one. MinInterval below the
// simulation step has no effect.
func (s *Simulated) Watch(ctx context.Context, opts WatchOptions) (Watch, error) {
	w := &simulatedWatch{
		readings: make(chan Reading, 1),
		done:     make(chan struct{}),
	}
	go s.run(ctx, w, opts)
	return w, nil
}

func (s *Simulated) run(ctx context.Context, w *simulatedWatch, opts WatchOptions) {
	defer close(w.readings)

	interval := s.step
	if opts.MinInterval > interval {
		interval = opts.MinInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last core.Position
	emitted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		pos := s.path[s.idx%len(s.path)]
		s.idx++
		captured := s.now()
		s.mu.Unlock()

		if emitted && opts.MinDistance > 0 {
			if geo.Haversine(last, pos)*1000 < opts.MinDistance {
				continue
			}
		}
		last = pos
		emitted = true

		select {
		case w.readings <- Reading{Position: pos, CapturedAt: captured}:
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

type simulatedWatch struct {
	readings chan Reading
	done     chan struct{}
	once     sync.Once
}

func (w *simulatedWatch) Readings() <-chan Reading { return w.readings }

func (w *simulatedWatch) Stop() {
	w.once.Do(func() { close(w.done) })
}
