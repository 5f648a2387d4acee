package tracker

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

	"rnvlive/internal/domain"
	"rnvlive/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tripWithRide(id string, departIn time.Duration) domain.Trip {
	dep := time.Now().Add(departIn)
	return domain.Trip{
		ID:        id,
		StartTime: dep,
		EndTime:   dep.Add(30 * time.Minute),
		Legs: []domain.Leg{
			{
				Kind:               domain.LegTimedRide,
				BoardStopName:      "Hauptbahnhof",
				AlightStopName:     "Paradeplatz",
				ScheduledDeparture: dep,
				ScheduledArrival:   dep.Add(30 * time.Minute),
				ServiceKind:        domain.ServiceTram,
				LineLabel:          "5",
				DestinationLabel:   "Weinheim",
			},
		},
	}
}

func walkOnlyTrip(id string) domain.Trip {
	return domain.Trip{
		ID:   id,
		Legs: []domain.Leg{{Kind: domain.LegTransfer, Mode: "WALK"}},
	}
}

type collectSink struct {
	mu    sync.Mutex
	snaps []domain.TrackingSnapshot
}

func (s *collectSink) PublishSnapshot(snap domain.TrackingSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func newTestCoordinator(st store.Store, sinks ...Sink) *Coordinator {
	return New(st, sinks, Config{TickInterval: 10 * time.Millisecond}, testLogger())
}

func TestStartTrackingPublishesAndPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	sink := &collectSink{}
	c := newTestCoordinator(st, sink)
	defer c.StopAll(ctx)

	trip := tripWithRide("t1", 5*time.Minute)
	require.NoError(t, c.StartTracking(ctx, trip, "token"))

	active, err := c.IsTracking(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, active)

	rec, found, err := st.Record(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.IsActive)
	assert.Equal(t, "Hauptbahnhof", rec.StartStation)
	assert.Equal(t, "Paradeplatz", rec.EndStation)

	// the initial snapshot is pushed synchronously at start
	assert.Greater(t, sink.count(), 0)

	snap, found, err := c.LatestSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.PhaseBeforeDeparture, snap.Phase)
}

func TestStartTrackingNoTrackableLeg(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)

	err := c.StartTracking(ctx, walkOnlyTrip("t1"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoTrackableLeg))

	// no partial state: nothing written, nothing running
	ids, err := st.ActiveTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, found, err := st.Record(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, c.SessionCount())
}

func TestStartTrackingIncompleteLegData(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)

	trip := tripWithRide("t1", 5*time.Minute)
	trip.Legs[0].LineLabel = ""
	err := c.StartTracking(ctx, trip, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompleteLegData))
	assert.Equal(t, 0, c.SessionCount())
}

type denyGate struct{}

func (denyGate) Allow(context.Context) error { return errors.New("surface disabled in settings") }

func TestStartTrackingSurfaceDenied(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := New(st, nil, Config{TickInterval: 10 * time.Millisecond, Gate: denyGate{}}, testLogger())

	err := c.StartTracking(ctx, tripWithRide("t1", 5*time.Minute), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSurfaceDenied))

	ids, err := st.ActiveTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 0, c.SessionCount())
}

func TestNewTripSupersedesOldOne(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)
	defer c.StopAll(ctx)

	require.NoError(t, c.StartTracking(ctx, tripWithRide("tripA", 5*time.Minute), ""))
	require.NoError(t, c.StartTracking(ctx, tripWithRide("tripB", 10*time.Minute), ""))

	activeA, err := c.IsTracking(ctx, "tripA")
	require.NoError(t, err)
	assert.False(t, activeA)

	activeB, err := c.IsTracking(ctx, "tripB")
	require.NoError(t, err)
	assert.True(t, activeB)

	ids, err := c.ActiveTrips(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tripB"}, ids)
	assert.Equal(t, 1, c.SessionCount())
}

func TestAtMostOneActiveAcrossManyStarts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)
	defer c.StopAll(ctx)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.StartTracking(ctx, tripWithRide(id, 5*time.Minute), ""))
		ids, err := c.ActiveTrips(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	}
}

func TestStopTrackingIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)

	require.NoError(t, c.StartTracking(ctx, tripWithRide("t1", 5*time.Minute), ""))

	require.NoError(t, c.StopTracking(ctx, "t1"))
	require.NoError(t, c.StopTracking(ctx, "t1"))
	require.NoError(t, c.StopTracking(ctx, "never-started"))

	active, err := c.IsTracking(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 0, c.SessionCount())
}

func TestStopAll(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)

	require.NoError(t, c.StartTracking(ctx, tripWithRide("t1", 5*time.Minute), ""))
	// an active flag left behind by another process sharing the store
	require.NoError(t, st.SetTripActive(ctx, "orphan", true))

	require.NoError(t, c.StopAll(ctx))

	ids, err := st.ActiveTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 0, c.SessionCount())
}

// failingStore wraps a MemoryStore and fails deactivation for one trip id.
type failingStore struct {
	*store.MemoryStore
	failID string
}

func (f *failingStore) SetTripActive(ctx context.Context, tripID string, active bool) error {
	if tripID == f.failID && !active {
		return store.ErrUnavailable
	}
	return f.MemoryStore.SetTripActive(ctx, tripID, active)
}

func TestStopAllCollectsPartialFailures(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore(), failID: "bad"}
	c := newTestCoordinator(st)

	require.NoError(t, st.SetTripActive(ctx, "bad", true))
	require.NoError(t, c.StartTracking(ctx, tripWithRide("good", 5*time.Minute), ""))

	err := c.StopAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	// the failure on one trip did not prevent stopping the other
	active, err := c.IsTracking(ctx, "good")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 0, c.SessionCount())
}

func TestStartTrackingSurvivesStoreOutage(t *testing.T) {
	ctx := context.Background()
	st := &brokenStore{}
	sink := &collectSink{}
	c := newTestCoordinator(st, sink)

	// the store is down, but the in-memory session still starts and publishes
	require.NoError(t, c.StartTracking(ctx, tripWithRide("t1", 5*time.Minute), ""))
	assert.Equal(t, 1, c.SessionCount())
	assert.Greater(t, sink.count(), 0)

	c.mu.Lock()
	r := c.sessions["t1"]
	c.mu.Unlock()
	require.NotNil(t, r)
	r.sched.Stop()
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) SetTripActive(context.Context, string, bool) error { return store.ErrUnavailable }
func (brokenStore) IsTripActive(context.Context, string) (bool, error) {
	return false, store.ErrUnavailable
}
func (brokenStore) ActiveTrips(context.Context) ([]string, error) { return nil, store.ErrUnavailable }
func (brokenStore) SaveRecord(context.Context, domain.TrackedTripRecord) error {
	return store.ErrUnavailable
}
func (brokenStore) Record(context.Context, string) (domain.TrackedTripRecord, bool, error) {
	return domain.TrackedTripRecord{}, false, store.ErrUnavailable
}
func (brokenStore) RemoveRecord(context.Context, string) error { return store.ErrUnavailable }
func (brokenStore) SaveSnapshot(context.Context, domain.TrackingSnapshot) error {
	return store.ErrUnavailable
}
func (brokenStore) Snapshot(context.Context, string) (domain.TrackingSnapshot, bool, error) {
	return domain.TrackingSnapshot{}, false, store.ErrUnavailable
}

func TestPurgeTripRemovesPersistedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestCoordinator(st)

	require.NoError(t, c.StartTracking(ctx, tripWithRide("t1", 5*time.Minute), ""))
	require.NoError(t, c.PurgeTrip(ctx, "t1"))

	_, found, err := st.Record(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = st.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, c.SessionCount())
}
