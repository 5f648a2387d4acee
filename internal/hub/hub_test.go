package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnvlive/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ClientCount() == n
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribedClientReceivesSnapshot(t *testing.T) {
	h := runHub(t)

	c := NewClient("c1", 8)
	h.Register(c)
	waitForClients(t, h, 1)
	h.Subscribe(c, []string{"trip-1"})

	snap := domain.TrackingSnapshot{TripID: "trip-1", Phase: domain.PhaseDuringJourney, NextStopName: "Paradeplatz"}
	h.PublishSnapshot(snap)

	select {
	case data := <-c.Send:
		var msg SnapshotMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "snapshot", msg.Type)
		assert.Equal(t, "trip-1", msg.Payload.TripID)
		assert.Equal(t, domain.PhaseDuringJourney, msg.Payload.Phase)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestSnapshotOnlyReachesSubscribers(t *testing.T) {
	h := runHub(t)

	sub := NewClient("sub", 8)
	other := NewClient("other", 8)
	h.Register(sub)
	h.Register(other)
	waitForClients(t, h, 2)
	h.Subscribe(sub, []string{"trip-1"})
	h.Subscribe(other, []string{"trip-2"})

	h.PublishSnapshot(domain.TrackingSnapshot{TripID: "trip-1"})

	select {
	case <-sub.Send:
	case <-time.After(time.Second):
		t.Fatal("subscriber got nothing")
	}

	select {
	case <-other.Send:
		t.Fatal("unsubscribed client received a snapshot")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := runHub(t)

	c := NewClient("c1", 8)
	h.Register(c)
	waitForClients(t, h, 1)
	h.Subscribe(c, []string{"trip-1"})
	h.Unsubscribe(c, []string{"trip-1"})

	h.PublishSnapshot(domain.TrackingSnapshot{TripID: "trip-1"})

	select {
	case <-c.Send:
		t.Fatal("received after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, c.HasTrip("trip-1"))
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := runHub(t)

	c := NewClient("c1", 8)
	h.Register(c)
	waitForClients(t, h, 1)
	h.Subscribe(c, []string{"trip-1"})

	h.Unregister(c)
	waitForClients(t, h, 0)

	_, open := <-c.Send
	assert.False(t, open)
}
