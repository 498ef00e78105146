package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campustrack/tracker/pkg/core"
	"github.com/campustrack/tracker/pkg/streaming"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHub runs a hub behind an httptest server and returns its ws URL.
func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// envelopeCollector gathers envelopes delivered to a client.
type envelopeCollector struct {
	mu        sync.Mutex
	envelopes []streaming.Envelope
}

func (e *envelopeCollector) add(env streaming.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.envelopes = append(e.envelopes, env)
}

func (e *envelopeCollector) all() []streaming.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]streaming.Envelope, len(e.envelopes))
	copy(cp, e.envelopes)
	return cp
}

func (e *envelopeCollector) waitFor(t *testing.T, n int) []streaming.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := e.all(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d envelopes, have %d", n, len(e.all()))
	return nil
}

func TestSubscribeAndReceiveRowChange(t *testing.T) {
	hub, url := startHub(t)

	collector := &envelopeCollector{}
	c := NewClient(testLogger())
	c.OnEnvelope(collector.add)
	require.NoError(t, c.Dial(url))
	defer c.Close()

	channel := streaming.ChannelForPublisher("driver-1")
	require.NoError(t, c.Subscribe(channel))

	rec := core.NewLocationRecord("driver-1", core.Position{Lat: 12.9, Lon: 77.6}, time.Now().UTC())
	hub.PublishRowChange(streaming.RowChangePayload{
		Kind:        streaming.RowUpdate,
		PublisherID: "driver-1",
		Record:      &rec,
	})

	got := collector.waitFor(t, 1)
	assert.Equal(t, streaming.TypeRowChange, got[0].Type)
	assert.Equal(t, channel, got[0].Channel)

	var change streaming.RowChangePayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &change))
	assert.Equal(t, streaming.RowUpdate, change.Kind)
	require.NotNil(t, change.Record)
	require.NotNil(t, change.Record.Lat)
	assert.Equal(t, 12.9, *change.Record.Lat)
}

func TestUnsubscribedChannelsNotDelivered(t *testing.T) {
	hub, url := startHub(t)

	collector := &envelopeCollector{}
	c := NewClient(testLogger())
	c.OnEnvelope(collector.add)
	require.NoError(t, c.Dial(url))
	defer c.Close()

	require.NoError(t, c.Subscribe(streaming.ChannelForPublisher("driver-1")))

	// Change for a different publisher should not reach this client.
	hub.PublishRowChange(streaming.RowChangePayload{
		Kind:        streaming.RowDelete,
		PublisherID: "driver-2",
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, collector.all())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, url := startHub(t)

	collector := &envelopeCollector{}
	c := NewClient(testLogger())
	c.OnEnvelope(collector.add)
	require.NoError(t, c.Dial(url))
	defer c.Close()

	channel := streaming.ChannelForPublisher("driver-1")
	require.NoError(t, c.Subscribe(channel))
	require.NoError(t, c.Unsubscribe(channel))

	hub.PublishRowChange(streaming.RowChangePayload{
		Kind:        streaming.RowDelete,
		PublisherID: "driver-1",
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, collector.all())
}

func TestStoppedBroadcastReachesPeers(t *testing.T) {
	_, url := startHub(t)

	channel := streaming.ChannelForPublisher("driver-1")

	collector := &envelopeCollector{}
	watcher := NewClient(testLogger())
	watcher.OnEnvelope(collector.add)
	require.NoError(t, watcher.Dial(url))
	defer watcher.Close()
	require.NoError(t, watcher.Subscribe(channel))

	publisher := NewClient(testLogger())
	require.NoError(t, publisher.Dial(url))
	defer publisher.Close()

	require.NoError(t, publisher.Broadcast(streaming.TypeStopped, channel, streaming.StoppedPayload{
		At: time.Now().UTC(),
	}))

	got := collector.waitFor(t, 1)
	assert.Equal(t, streaming.TypeStopped, got[0].Type)
	assert.Equal(t, channel, got[0].Channel)
}

func TestRowChangeBroadcastReachesPeers(t *testing.T) {
	_, url := startHub(t)

	channel := streaming.ChannelForPublisher("driver-1")

	collector := &envelopeCollector{}
	watcher := NewClient(testLogger())
	watcher.OnEnvelope(collector.add)
	require.NoError(t, watcher.Dial(url))
	defer watcher.Close()
	require.NoError(t, watcher.Subscribe(channel))

	publisher := NewClient(testLogger())
	require.NoError(t, publisher.Dial(url))
	defer publisher.Close()

	rec := core.NewLocationRecord("driver-1", core.Position{Lat: 12.9, Lon: 77.6}, time.Now().UTC())
	require.NoError(t, publisher.Broadcast(streaming.TypeRowChange, channel, streaming.RowChangePayload{
		Kind:        streaming.RowUpdate,
		PublisherID: "driver-1",
		Record:      &rec,
	}))

	got := collector.waitFor(t, 1)
	assert.Equal(t, streaming.TypeRowChange, got[0].Type)
	assert.Equal(t, channel, got[0].Channel)

	var change streaming.RowChangePayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &change))
	require.NotNil(t, change.Record)
	assert.Equal(t, 12.9, *change.Record.Lat)
}

func TestClient_ConcurrentFailuresReconnectOnce(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	var upgrades atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrades.Add(1)
		hub.ServeWS(w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := NewClient(testLogger())
	require.NoError(t, c.Dial(url))
	defer c.Close()
	require.NoError(t, c.Subscribe(streaming.ChannelForPublisher("driver-1")))

	// Read and write loop failures land at the same time; only one
	// reconnect run may dial.
	go c.reconnect()
	go c.reconnect()

	require.Eventually(t, func() bool {
		return upgrades.Load() == 2
	}, 5*time.Second, 50*time.Millisecond, "client should come back on a new connection")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), upgrades.Load(), "duplicate reconnect must not dial again")
}

func TestSubscriberCount(t *testing.T) {
	hub, url := startHub(t)

	channel := streaming.ChannelForPublisher("driver-1")
	assert.Equal(t, 0, hub.SubscriberCount(channel))

	c1 := NewClient(testLogger())
	require.NoError(t, c1.Dial(url))
	defer c1.Close()
	require.NoError(t, c1.Subscribe(channel))

	c2 := NewClient(testLogger())
	require.NoError(t, c2.Dial(url))
	defer c2.Close()
	require.NoError(t, c2.Subscribe(channel))

	assert.Equal(t, 2, hub.SubscriberCount(channel))
}
