// Package session derives what the tracking surface should show for one trip
// at one instant: the current leg, the delay against the timetable and the
// lifecycle phase.
package session

import (
	"fmt"
	"time"

	"rnvlive/internal/domain"
	"rnvlive/internal/timemath"
)

// CurrentLeg picks the TimedRide leg relevant right now: the first one whose
// scheduled departure is still ahead, or the final ride once everything has
// nominally departed, so a just-missed timer never orphans the display.
func CurrentLeg(trip domain.Trip, now time.Time) (domain.Leg, int, bool) {
	for i, l := range trip.Legs {
		if !l.IsTimedRide() {
			continue
		}
		if !l.ScheduledDeparture.IsZero() && l.ScheduledDeparture.After(now) {
			return l, i, true
		}
	}
	return trip.LastTimedLeg()
}

// BuildSnapshot computes the snapshot for (trip, now, phase). It is a pure
// function of its arguments: two calls with the same inputs yield identical
// output. A current leg missing required display fields fails with
// domain.ErrIncompleteLegData; nothing partial is ever returned.
func BuildSnapshot(trip domain.Trip, now time.Time, phase domain.Phase) (domain.TrackingSnapshot, error) {
	leg, idx, ok := CurrentLeg(trip, now)
	if !ok {
		return domain.TrackingSnapshot{}, fmt.Errorf("trip %s: %w", trip.ID, domain.ErrNoTrackableLeg)
	}
	if !leg.HasDisplayFields() {
		return domain.TrackingSnapshot{}, fmt.Errorf("trip %s leg %d: %w", trip.ID, idx, domain.ErrIncompleteLegData)
	}

	snap := domain.TrackingSnapshot{
		TripID:          trip.ID,
		Phase:           phase,
		CurrentLegIndex: idx,
		NextStopName:    leg.BoardStopName,
		NextStopTime:    timemath.FormatClock(leg.ScheduledDeparture),
		DelayMinutes:    timemath.DelayMinutes(leg.ScheduledDeparture, leg.EstimatedDeparture),
		Destination:     leg.DestinationLabel,
		LineLabel:       leg.LineLabel,
		ServiceKind:     leg.ServiceKind,
		GeneratedAt:     now,
	}
	if leg.EstimatedDeparture != nil {
		snap.EstimatedTime = timemath.FormatClock(*leg.EstimatedDeparture)
	}

	switch phase {
	case domain.PhaseArrived:
		snap.Progress = 1
	case domain.PhaseDuringJourney:
		if !trip.StartTime.IsZero() && !trip.EndTime.IsZero() {
			snap.Progress = timemath.ProgressFraction(trip.StartTime, trip.EndTime, now)
		}
	}
	return snap, nil
}

// Session is the live state machine for exactly one trip. All mutation
// happens on the owning scheduler goroutine; Session itself is not locked.
type Session struct {
	trip  domain.Trip
	phase domain.Phase
	last  *domain.TrackingSnapshot
}

func New(trip domain.Trip) *Session {
	return &Session{
		trip:  trip,
		phase: domain.PhaseBeforeDeparture,
	}
}

func (s *Session) Trip() domain.Trip {
	return s.trip
}

func (s *Session) Phase() domain.Phase {
	return s.phase
}

// Advance moves the phase forward. A transition backwards or to the current
// phase is refused; phases never regress.
func (s *Session) Advance(p domain.Phase) bool {
	if !p.Valid() || !s.phase.Before(p) {
		return false
	}
	s.phase = p
	if s.last != nil {
		s.last.Phase = p
	}
	return true
}

// Recompute rebuilds the snapshot for now under the current phase. When the
// build fails the previous good snapshot stays in place so the surface never
// shows garbled fields; the caller should simply not publish anything.
func (s *Session) Recompute(now time.Time) (domain.TrackingSnapshot, error) {
	snap, err := BuildSnapshot(s.trip, now, s.phase)
	if err != nil {
		return domain.TrackingSnapshot{}, err
	}
	s.last = &snap
	return snap, nil
}

// Snapshot returns the last good snapshot, if any recompute has succeeded.
func (s *Session) Snapshot() (domain.TrackingSnapshot, bool) {
	if s.last == nil {
		return domain.TrackingSnapshot{}, false
	}
	return *s.last, true
}
