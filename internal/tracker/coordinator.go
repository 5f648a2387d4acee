// Package tracker exposes the public tracking operations: start, stop,
// stop-all and status. It enforces the at-most-one-active-trip invariant and
// owns the scheduler lifecycle for the active session.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rnvlive/internal/domain"
	"rnvlive/internal/metrics"
	"rnvlive/internal/scheduler"
	"rnvlive/internal/session"
	"rnvlive/internal/store"
)

// SurfaceGate answers whether the platform allows a live tracking surface to
// be shown. A denial fails StartTracking before any state is written.
type SurfaceGate interface {
	Allow(ctx context.Context) error
}

// AllowAll is the default gate.
type AllowAll struct{}

func (AllowAll) Allow(context.Context) error { return nil }

// Sink receives every published snapshot. Implementations must tolerate
// seeing the same snapshot twice.
type Sink interface {
	PublishSnapshot(snap domain.TrackingSnapshot)
}

type runner struct {
	trip  domain.Trip
	sched *scheduler.Scheduler
}

type Coordinator struct {
	store   store.Store
	gate    SurfaceGate
	sinks   []Sink
	metrics *metrics.Collector
	logger  *slog.Logger

	tickInterval time.Duration
	clock        func() time.Time

	mu       sync.Mutex
	sessions map[string]*runner
}

type Config struct {
	TickInterval time.Duration
	Clock        func() time.Time
	Gate         SurfaceGate
	Metrics      *metrics.Collector
}

func New(st store.Store, sinks []Sink, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = scheduler.DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Gate == nil {
		cfg.Gate = AllowAll{}
	}
	return &Coordinator{
		store:        st,
		gate:         cfg.Gate,
		sinks:        sinks,
		metrics:      cfg.Metrics,
		logger:       logger.With("component", "tracker"),
		tickInterval: cfg.TickInterval,
		clock:        cfg.Clock,
		sessions:     make(map[string]*runner),
	}
}

// StartTracking begins live tracking for trip, superseding any trip tracked
// so far. The access token is carried for the live-update fetch; it may be
// empty, which simply leaves that fetch unauthenticated.
//
// Fatal preconditions are checked before any side effect, so a failed start
// leaves no partial state: no timers, no store write, no session.
func (c *Coordinator) StartTracking(ctx context.Context, trip domain.Trip, accessToken string) error {
	if err := trip.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNoTrackableLeg, err)
	}
	first, _, ok := trip.FirstTimedLeg()
	if !ok {
		return fmt.Errorf("trip %s: %w", trip.ID, domain.ErrNoTrackableLeg)
	}
	if !first.HasDisplayFields() {
		return fmt.Errorf("trip %s first ride: %w", trip.ID, domain.ErrIncompleteLegData)
	}
	if err := c.gate.Allow(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSurfaceDenied, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// supersede: the previous trip's timers are cancelled before we return
	for id := range c.sessions {
		if id != trip.ID {
			c.stopLocked(ctx, id)
		}
	}
	if _, exists := c.sessions[trip.ID]; exists {
		c.stopLocked(ctx, trip.ID)
	}

	// persistence is best-effort: a store outage must not stop live tracking
	if err := c.store.SaveRecord(ctx, domain.NewTrackedTripRecord(trip, true)); err != nil {
		c.logger.Warn("persisting tracked trip failed, continuing in memory", "trip_id", trip.ID, "error", err)
		if c.metrics != nil {
			c.metrics.StoreErrors.Inc()
		}
	}

	sess := session.New(trip)
	sched := scheduler.New(sess, c.publishFunc(trip.ID), scheduler.Options{
		TickInterval: c.tickInterval,
		Clock:        c.clock,
		OnTransition: c.transitionFunc(trip.ID),
		ObserveTick:  c.observeTickFunc(),
	}, c.logger)

	c.sessions[trip.ID] = &runner{trip: trip, sched: sched}
	// the session outlives the caller's request context; shutdown goes
	// through StopTracking/StopAll
	sched.Start(context.Background())

	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
		c.metrics.ActiveSessions.Set(float64(len(c.sessions)))
	}
	c.logger.Info("tracking started",
		"trip_id", trip.ID,
		"timed_legs", trip.TimedLegCount(),
		"interchanges", trip.InterchangeCount,
		"authenticated", accessToken != "",
	)
	return nil
}

// StopTracking ends tracking for tripID. Stopping an unknown or already
// stopped trip is a no-op; the store deactivation still runs so a flag left
// behind by another process gets cleared.
func (c *Coordinator) StopTracking(ctx context.Context, tripID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx, tripID)
}

func (c *Coordinator) stopLocked(ctx context.Context, tripID string) error {
	if r, ok := c.sessions[tripID]; ok {
		r.sched.Stop()
		delete(c.sessions, tripID)
		if c.metrics != nil {
			c.metrics.SessionsStopped.Inc()
			c.metrics.ActiveSessions.Set(float64(len(c.sessions)))
		}
		c.logger.Info("tracking stopped", "trip_id", tripID)
	}

	if err := c.store.SetTripActive(ctx, tripID, false); err != nil {
		if c.metrics != nil {
			c.metrics.StoreErrors.Inc()
		}
		return fmt.Errorf("deactivating trip %s: %w", tripID, err)
	}
	return nil
}

// PurgeTrip stops tracking and deletes the persisted record and snapshot,
// so the trip disappears from status queries entirely.
func (c *Coordinator) PurgeTrip(ctx context.Context, tripID string) error {
	if err := c.StopTracking(ctx, tripID); err != nil {
		return err
	}
	return c.store.RemoveRecord(ctx, tripID)
}

// StopAll stops every active session independently. A failure on one trip
// does not stop the cleanup of the others; failures are collected.
func (c *Coordinator) StopAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	// also clear active flags set by other processes sharing the store
	if stored, err := c.store.ActiveTrips(ctx); err == nil {
		for _, id := range stored {
			found := false
			for _, known := range ids {
				if known == id {
					found = true
					break
				}
			}
			if !found {
				ids = append(ids, id)
			}
		}
	}

	var errs []error
	for _, id := range ids {
		if err := c.StopTracking(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsTracking reads the cross-process active flag. During a store outage the
// answer may be stale; it is advisory display state, not a transaction.
func (c *Coordinator) IsTracking(ctx context.Context, tripID string) (bool, error) {
	return c.store.IsTripActive(ctx, tripID)
}

func (c *Coordinator) ActiveTrips(ctx context.Context) ([]string, error) {
	return c.store.ActiveTrips(ctx)
}

// LatestSnapshot returns the last snapshot persisted for tripID.
func (c *Coordinator) LatestSnapshot(ctx context.Context, tripID string) (domain.TrackingSnapshot, bool, error) {
	return c.store.Snapshot(ctx, tripID)
}

// SessionCount reports the in-memory sessions, at most one by design.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Coordinator) publishFunc(tripID string) func(domain.TrackingSnapshot) {
	return func(snap domain.TrackingSnapshot) {
		if err := c.store.SaveSnapshot(context.Background(), snap); err != nil {
			c.logger.Debug("snapshot persist failed", "trip_id", tripID, "error", err)
			if c.metrics != nil {
				c.metrics.StoreErrors.Inc()
			}
		}
		for _, sink := range c.sinks {
			sink.PublishSnapshot(snap)
		}
		if c.metrics != nil {
			c.metrics.SnapshotsPublished.Inc()
		}
	}
}

func (c *Coordinator) transitionFunc(tripID string) func(from, to domain.Phase) {
	return func(from, to domain.Phase) {
		if c.metrics != nil {
			c.metrics.PhaseTransitions.WithLabelValues(string(to)).Inc()
		}
		c.logger.Info("trip phase changed", "trip_id", tripID, "from", string(from), "to", string(to))
	}
}

func (c *Coordinator) observeTickFunc() func(time.Duration) {
	if c.metrics == nil {
		return nil
	}
	return func(d time.Duration) {
		c.metrics.TickDuration.Observe(d.Seconds())
	}
}
