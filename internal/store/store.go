// Package store holds the durable tracking state shared between this process
// and the tracking-surface renderer: which trips are actively tracked, the
// denormalized record of each tracked trip, and the last known snapshot.
package store

import (
	"context"
	"errors"

	"rnvlive/internal/domain"
)

// ErrUnavailable marks a backing-store failure. Persistence is best-effort:
// an in-memory session keeps running through an outage, but reads during one
// may be stale.
var ErrUnavailable = errors.New("tracking state store unavailable")

// Store is the narrow cross-process interface. Every call is a short,
// self-contained read or write; callers never hold a lock across calls.
// Readers in another process must treat the values as advisory: a write from
// one side may not be instantly visible on the other.
type Store interface {
	SetTripActive(ctx context.Context, tripID string, active bool) error
	IsTripActive(ctx context.Context, tripID string) (bool, error)
	ActiveTrips(ctx context.Context) ([]string, error)

	SaveRecord(ctx context.Context, rec domain.TrackedTripRecord) error
	Record(ctx context.Context, tripID string) (domain.TrackedTripRecord, bool, error)
	RemoveRecord(ctx context.Context, tripID string) error

	SaveSnapshot(ctx context.Context, snap domain.TrackingSnapshot) error
	Snapshot(ctx context.Context, tripID string) (domain.TrackingSnapshot, bool, error)
}
