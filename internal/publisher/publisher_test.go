package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/devloc"
	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/internal/store/memory"
	"github.com/campustrack/tracker/pkg/core"
	"github.com/campustrack/tracker/pkg/streaming"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Tracking: config.TrackingConfig{
			SessionCap:        time.Hour,
			StopTombstoneWait: 500 * time.Millisecond,
			StopDeleteWait:    800 * time.Millisecond,
		},
		Watch: config.WatchConfig{MinInterval: time.Millisecond},
	}
}

// fakeWatch is a manually fed location watch.
type fakeWatch struct {
	ch   chan devloc.Reading
	once sync.Once
}

func newFakeWatch() *fakeWatch {
	return &fakeWatch{ch: make(chan devloc.Reading, 16)}
}

func (w *fakeWatch) Readings() <-chan devloc.Reading { return w.ch }
func (w *fakeWatch) Stop()                           { w.once.Do(func() { close(w.ch) }) }

func (w *fakeWatch) feed(lat, lon float64, at time.Time) {
	w.ch <- devloc.Reading{Position: core.Position{Lat: lat, Lon: lon}, CapturedAt: at}
}

type fakeDevice struct {
	deny    bool
	watch   *fakeWatch
	watches int
}

func (f *fakeDevice) RequestPermission(_ context.Context) error {
	if f.deny {
		return devloc.ErrPermissionDenied
	}
	return nil
}

func (f *fakeDevice) Current(_ context.Context) (devloc.Reading, error) {
	return devloc.Reading{}, nil
}

func (f *fakeDevice) Watch(_ context.Context, _ devloc.WatchOptions) (devloc.Watch, error) {
	f.watches++
	return f.watch, nil
}

// recordingStore wraps a Store and remembers the order of write calls.
type recordingStore struct {
	store.Store
	mu  sync.Mutex
	ops []string
	// failNext makes the next Upsert fail once.
	failNext bool
}

func (r *recordingStore) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingStore) writeOps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

func (r *recordingStore) Upsert(ctx context.Context, rec core.LocationRecord) error {
	r.mu.Lock()
	fail := r.failNext
	r.failNext = false
	r.mu.Unlock()
	if fail {
		return errors.New("transient write failure")
	}
	r.record("upsert")
	return r.Store.Upsert(ctx, rec)
}

func (r *recordingStore) WriteTombstone(ctx context.Context, publisherID string) error {
	r.record("tombstone")
	return r.Store.WriteTombstone(ctx, publisherID)
}

func (r *recordingStore) Delete(ctx context.Context, publisherID string) error {
	r.record("delete")
	return r.Store.Delete(ctx, publisherID)
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []struct {
		MsgType string
		Channel string
	}
}

func (b *fakeBroadcaster) Broadcast(msgType, channel string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, struct {
		MsgType string
		Channel string
	}{msgType, channel})
	return nil
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBroadcaster) countOf(msgType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.MsgType == msgType {
			n++
		}
	}
	return n
}

func (b *fakeBroadcaster) last() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.calls[len(b.calls)-1]
	return c.MsgType, c.Channel
}

func TestStartSharing_NoIdentity(t *testing.T) {
	p := New("", memory.New(), &fakeDevice{watch: newFakeWatch()}, testConfig(), testLogger())
	err := p.StartSharing(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestStartSharing_PermissionDenied(t *testing.T) {
	dev := &fakeDevice{deny: true, watch: newFakeWatch()}
	p := New("driver-1", memory.New(), dev, testConfig(), testLogger())

	err := p.StartSharing(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, p.Sharing())
}

func TestStartSharing_UpsertsReadings(t *testing.T) {
	backend := memory.New()
	watch := newFakeWatch()
	dev := &fakeDevice{watch: watch}
	p := New("driver-1", backend, dev, testConfig(), testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	defer p.StopSharing()

	t1 := time.Now().UTC()
	watch.feed(12.9716, 77.5946, t1)
	watch.feed(12.9800, 77.6000, t1.Add(3*time.Second))

	require.Eventually(t, func() bool {
		rec, ok, err := backend.Get(context.Background(), "driver-1")
		if err != nil || !ok {
			return false
		}
		pos, live := rec.Position()
		return live && pos.Lat == 12.9800 && rec.CapturedAt.Equal(t1.Add(3*time.Second))
	}, time.Second, 5*time.Millisecond, "latest reading should win the slot")
}

func TestStartSharing_BroadcastsRowChanges(t *testing.T) {
	watch := newFakeWatch()
	bc := &fakeBroadcaster{}
	cfg := testConfig()
	cfg.Broadcaster = bc
	p := New("driver-1", memory.New(), &fakeDevice{watch: watch}, cfg, testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	defer p.StopSharing()

	watch.feed(12.9716, 77.5946, time.Now())
	watch.feed(12.9800, 77.6000, time.Now())

	require.Eventually(t, func() bool {
		return bc.countOf(streaming.TypeRowChange) == 2
	}, time.Second, 5*time.Millisecond, "each slot write should reach the realtime channel")
	_, channel := bc.last()
	assert.Equal(t, "drivers_latest_driver-1", channel)
}

func TestPublished_CountsSuccessfulWrites(t *testing.T) {
	rs := &recordingStore{Store: memory.New(), failNext: true}
	watch := newFakeWatch()
	p := New("driver-1", rs, &fakeDevice{watch: watch}, testConfig(), testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	defer p.StopSharing()

	watch.feed(12.9716, 77.5946, time.Now()) // fails, not counted
	watch.feed(12.9800, 77.6000, time.Now())
	watch.feed(12.9850, 77.6050, time.Now())

	require.Eventually(t, func() bool {
		return p.Published() == 2
	}, time.Second, 5*time.Millisecond, "only successful slot writes should count")
}

func TestStartSharing_Idempotent(t *testing.T) {
	dev := &fakeDevice{watch: newFakeWatch()}
	p := New("driver-1", memory.New(), dev, testConfig(), testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	require.NoError(t, p.StartSharing(context.Background()))
	assert.Equal(t, 1, dev.watches)

	p.StopSharing()
}

func TestStartSharing_TransientUpsertFailure(t *testing.T) {
	rs := &recordingStore{Store: memory.New(), failNext: true}
	watch := newFakeWatch()
	p := New("driver-1", rs, &fakeDevice{watch: watch}, testConfig(), testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	defer p.StopSharing()

	watch.feed(12.9716, 77.5946, time.Now()) // fails, skipped
	watch.feed(12.9800, 77.6000, time.Now()) // retried slot write

	require.Eventually(t, func() bool {
		_, ok, _ := rs.Get(context.Background(), "driver-1")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestStopSharing_Handshake(t *testing.T) {
	rs := &recordingStore{Store: memory.New()}
	watch := newFakeWatch()
	bc := &fakeBroadcaster{}
	cfg := testConfig()
	cfg.Broadcaster = bc
	p := New("driver-1", rs, &fakeDevice{watch: watch}, cfg, testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	watch.feed(12.9716, 77.5946, time.Now())

	require.Eventually(t, func() bool {
		_, ok, _ := rs.Get(context.Background(), "driver-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	p.StopSharing()

	// Tombstone marks the slot before the row disappears.
	ops := rs.writeOps()
	require.GreaterOrEqual(t, len(ops), 3)
	assert.Equal(t, []string{"tombstone", "delete"}, ops[len(ops)-2:])

	_, ok, err := rs.Get(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.False(t, ok, "slot should be gone after the handshake")

	require.Equal(t, 1, bc.countOf(streaming.TypeStopped))
	lastType, lastChannel := bc.last()
	assert.Equal(t, streaming.TypeStopped, lastType, "stop broadcast must come last")
	assert.Equal(t, "drivers_latest_driver-1", lastChannel)

	assert.False(t, p.Sharing())
}

func TestStopSharing_Idempotent(t *testing.T) {
	bc := &fakeBroadcaster{}
	cfg := testConfig()
	cfg.Broadcaster = bc
	p := New("driver-1", memory.New(), &fakeDevice{watch: newFakeWatch()}, cfg, testLogger())

	require.NoError(t, p.StartSharing(context.Background()))
	p.StopSharing()
	p.StopSharing()

	assert.Equal(t, 1, bc.countOf(streaming.TypeStopped), "cleanup must run once per session")
}

func TestStopSharing_BeforeStart(t *testing.T) {
	p := New("driver-1", memory.New(), &fakeDevice{watch: newFakeWatch()}, testConfig(), testLogger())
	p.StopSharing() // must not panic or write anything
}

func TestSessionCap_AutoStops(t *testing.T) {
	bc := &fakeBroadcaster{}
	cfg := testConfig()
	cfg.Tracking.SessionCap = 20 * time.Millisecond
	cfg.Broadcaster = bc
	p := New("driver-1", memory.New(), &fakeDevice{watch: newFakeWatch()}, cfg, testLogger())

	require.NoError(t, p.StartSharing(context.Background()))

	require.Eventually(t, func() bool {
		return !p.Sharing() && bc.countOf(streaming.TypeStopped) == 1
	}, time.Second, 5*time.Millisecond, "cap expiry should run the full stop path")
}
