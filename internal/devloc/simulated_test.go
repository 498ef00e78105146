package devloc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campustrack/tracker/pkg/core"
)

var testPath = []core.Position{
	{Lat: 12.9716, Lon: 77.5946},
	{Lat: 12.9800, Lon: 77.6000},
	{Lat: 12.9900, Lon: 77.6100},
}

func TestSimulated_RequestPermission(t *testing.T) {
	s := NewSimulated(testPath, time.Millisecond)
	require.NoError(t, s.RequestPermission(context.Background()))

	s.Deny = true
	err := s.RequestPermission(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSimulated_Current(t *testing.T) {
	s := NewSimulated(testPath, time.Millisecond)

	r, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testPath[0], r.Position)
	assert.WithinDuration(t, time.Now(), r.CapturedAt, time.Second)
}

func TestSimulated_EmptyPath(t *testing.T) {
	s := NewSimulated(nil, time.Millisecond)

	r, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Position{}, r.Position)
}

func TestSimulated_WatchWalksPath(t *testing.T) {
	s := NewSimulated(testPath, time.Millisecond)

	w, err := s.Watch(context.Background(), WatchOptions{})
	require.NoError(t, err)
	defer w.Stop()

	var got []core.Position
	for i := 0; i < 4; i++ {
		select {
		case r := <-w.Readings():
			got = append(got, r.Position)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for reading")
		}
	}

	// Path loops once exhausted.
	assert.Equal(t, []core.Position{testPath[0], testPath[1], testPath[2], testPath[0]}, got)
}

func TestSimulated_WatchMinDistanceFilter(t *testing.T) {
	// Second point is under a meter from the first; it must be skipped.
	path := []core.Position{
		{Lat: 12.9716, Lon: 77.5946},
		{Lat: 12.9716001, Lon: 77.5946001},
		{Lat: 12.9800, Lon: 77.6000},
	}
	s := NewSimulated(path, time.Millisecond)

	w, err := s.Watch(context.Background(), WatchOptions{MinDistance: 5})
	require.NoError(t, err)
	defer w.Stop()

	first := <-w.Readings()
	second := <-w.Readings()
	assert.Equal(t, path[0], first.Position)
	assert.Equal(t, path[2], second.Position)
}

func TestSimulated_WatchStop(t *testing.T) {
	s := NewSimulated(testPath, time.Millisecond)

	w, err := s.Watch(context.Background(), WatchOptions{})
	require.NoError(t, err)

	<-w.Readings()
	w.Stop()
	w.Stop() // idempotent

	select {
	case _, open := <-drain(w.Readings()):
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("readings channel did not close")
	}
}

func TestSimulated_WatchContextCancel(t *testing.T) {
	s := NewSimulated(testPath, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	w, err := s.Watch(ctx, WatchOptions{})
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-drain(w.Readings()):
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("readings channel did not close")
	}
}

// drain consumes buffered readings until the channel closes or goes
// quiet, then forwards the closed channel for the final receive.
func drain(ch <-chan Reading) <-chan Reading {
	for {
		select {
		case _, open := <-ch:
			if !open {
				closed := make(chan Reading)
				close(closed)
				return closed
			}
		case <-time.After(100 * time.Millisecond):
			return ch
		}
	}
}
