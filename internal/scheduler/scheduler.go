// Package scheduler drives one tracking session forward in real time: a
// periodic re-evaluation tick plus one-shot departure and arrival deadline
// timers. Everything runs on a single goroutine, so ticks and deadline fires
// can never interleave half-applied updates; a tick computed against an old
// phase simply never happens.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rnvlive/internal/domain"
	"rnvlive/internal/session"
)

const DefaultTickInterval = time.Second

// Options tune a scheduler. The zero value gives the production behavior.
type Options struct {
	TickInterval time.Duration
	Clock        func() time.Time
	OnTransition func(from, to domain.Phase)
	ObserveTick  func(d time.Duration)
}

type Scheduler struct {
	sess     *session.Session
	publish  func(domain.TrackingSnapshot)
	interval time.Duration
	clock    func() time.Time
	onTrans  func(from, to domain.Phase)
	observe  func(time.Duration)
	logger   *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func New(sess *session.Session, publish func(domain.TrackingSnapshot), opts Options, logger *slog.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		sess:     sess,
		publish:  publish,
		interval: opts.TickInterval,
		clock:    opts.Clock,
		onTrans:  opts.OnTransition,
		observe:  opts.ObserveTick,
		logger:   logger.With("component", "scheduler", "trip_id", sess.Trip().ID),
		done:     make(chan struct{}),
	}
}

// Start corrects the phase for deadlines that already lie in the past,
// publishes the initial snapshot, and then hands the session to the run loop.
// The past-deadline check happens here, synchronously, so a trip started
// mid-journey never waits for a timer that would not fire.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	now := s.clock()
	s.applyDeadlines(now)
	s.recomputeAndPublish(now)

	go s.run(runCtx)
}

// Stop cancels the run loop and waits for it to exit. After Stop returns no
// further snapshots are published for this trip. Safe to call repeatedly and
// after the session has already arrived.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.stopOnce.Do(s.cancel)
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	if s.sess.Phase().Terminal() {
		return
	}

	trip := s.sess.Trip()
	now := s.clock()

	// Deadline timers fire exactly once. A timer for an instant that slipped
	// into the past since setup fires immediately rather than being dropped.
	// When a deadline cannot be resolved at all, no timer is set and the
	// per-tick comparison below remains the safety net.
	var depC, arrC <-chan time.Time
	if dep, ok := departureDeadline(trip); ok && s.sess.Phase() == domain.PhaseBeforeDeparture {
		timer := time.NewTimer(dep.Sub(now))
		defer timer.Stop()
		depC = timer.C
	} else if !ok {
		s.logger.Warn("departure deadline unknown, relying on tick detection")
	}
	if arr, ok := arrivalDeadline(trip); ok {
		timer := time.NewTimer(arr.Sub(now))
		defer timer.Stop()
		arrC = timer.C
	} else {
		s.logger.Warn("arrival deadline unknown, relying on tick detection")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-depC:
			depC = nil
			s.transition(domain.PhaseDuringJourney)
			s.recomputeAndPublish(s.clock())

		case <-arrC:
			s.transition(domain.PhaseArrived)
			s.recomputeAndPublish(s.clock())
			// Arrived is terminal: returning stops the periodic tick for good.
			return

		case <-ticker.C:
			tickStart := time.Now()
			now := s.clock()

			if arr, ok := arrivalDeadline(trip); ok && !now.Before(arr) {
				s.transition(domain.PhaseArrived)
				s.recomputeAndPublish(now)
				if s.observe != nil {
					s.observe(time.Since(tickStart))
				}
				return
			}
			if s.sess.Phase() == domain.PhaseBeforeDeparture {
				if dep, ok := departureDeadline(trip); ok && !now.Before(dep) {
					s.transition(domain.PhaseDuringJourney)
				}
			}

			s.recomputeAndPublish(now)
			if s.observe != nil {
				s.observe(time.Since(tickStart))
			}
		}
	}
}

// applyDeadlines advances the phase for deadlines that have already passed.
func (s *Scheduler) applyDeadlines(now time.Time) {
	trip := s.sess.Trip()
	if arr, ok := arrivalDeadline(trip); ok && !now.Before(arr) {
		s.transition(domain.PhaseArrived)
		return
	}
	if dep, ok := departureDeadline(trip); ok && !now.Before(dep) {
		s.transition(domain.PhaseDuringJourney)
	}
}

func (s *Scheduler) transition(to domain.Phase) {
	from := s.sess.Phase()
	if !s.sess.Advance(to) {
		return
	}
	s.logger.Info("phase transition", "from", string(from), "to", string(to))
	if s.onTrans != nil {
		s.onTrans(from, to)
	}
}

func (s *Scheduler) recomputeAndPublish(now time.Time) {
	snap, err := s.sess.Recompute(now)
	if err != nil {
		// last good snapshot stays on the surface
		s.logger.Debug("snapshot recompute skipped", "error", err)
		return
	}
	if s.publish != nil {
		s.publish(snap)
	}
}

// departureDeadline is the scheduled departure of the first ride. The phase
// transition is keyed to the timetable, not the live estimate.
func departureDeadline(trip domain.Trip) (time.Time, bool) {
	leg, _, ok := trip.FirstTimedLeg()
	if !ok || leg.ScheduledDeparture.IsZero() {
		return time.Time{}, false
	}
	return leg.ScheduledDeparture, true
}

// arrivalDeadline is the scheduled arrival of the last ride, falling back to
// the itinerary end when the leg carries no arrival time.
func arrivalDeadline(trip domain.Trip) (time.Time, bool) {
	if leg, _, ok := trip.LastTimedLeg(); ok && !leg.ScheduledArrival.IsZero() {
		return leg.ScheduledArrival, true
	}
	if !trip.EndTime.IsZero() {
		return trip.EndTime, true
	}
	return time.Time{}, false
}
