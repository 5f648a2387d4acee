package domain

import "time"

// Phase is the coarse lifecycle stage of a tracked trip. Transitions only
// ever move forward; Arrived is terminal.
type Phase string

const (
	PhaseBeforeDeparture Phase = "beforeDeparture"
	PhaseDuringJourney   Phase = "duringJourney"
	PhaseArrived         Phase = "arrived"
)

var phaseRank = map[Phase]int{
	PhaseBeforeDeparture: 0,
	PhaseDuringJourney:   1,
	PhaseArrived:         2,
}

func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

func (p Phase) Terminal() bool {
	return p == PhaseArrived
}

// Before reports whether p comes strictly earlier than q in the lifecycle.
func (p Phase) Before(q Phase) bool {
	return phaseRank[p] < phaseRank[q]
}

// TrackingSnapshot is the complete set of display fields describing tracking
// status at one instant. It is recomputed on every tick and deadline fire and
// pushed as a whole; renderers derive their own countdowns from it.
type TrackingSnapshot struct {
	TripID          string      `json:"tripId"`
	Phase           Phase       `json:"phase"`
	CurrentLegIndex int         `json:"currentLegIndex"`
	NextStopName    string      `json:"nextStopName"`
	NextStopTime    string      `json:"nextStopTime"`
	EstimatedTime   string      `json:"estimatedTime,omitempty"`
	DelayMinutes    *int        `json:"delay,omitempty"`
	Progress        float64     `json:"progress"`
	Destination     string      `json:"destination"`
	LineLabel       string      `json:"lineName"`
	ServiceKind     ServiceKind `json:"serviceType"`
	GeneratedAt     time.Time   `json:"generatedAt"`
}

// TrackedLegRecord is the denormalized per-leg slice persisted alongside a
// tracked trip, enough to rebuild a coarse display without the full itinerary.
type TrackedLegRecord struct {
	ServiceKind      ServiceKind `json:"serviceType,omitempty"`
	LineLabel        string      `json:"lineName,omitempty"`
	DestinationLabel string      `json:"destinationLabel,omitempty"`
}

// TrackedTripRecord is what the cross-process state store holds per trip.
type TrackedTripRecord struct {
	TripID           string             `json:"tripId"`
	IsActive         bool               `json:"isActive"`
	StartTime        time.Time          `json:"startTime"`
	EndTime          time.Time          `json:"endTime"`
	InterchangeCount int                `json:"interchangeCount"`
	StartStation     string             `json:"startStation"`
	EndStation       string             `json:"endStation"`
	Legs             []TrackedLegRecord `json:"legs"`
}

// NewTrackedTripRecord denormalizes a trip for persistence.
func NewTrackedTripRecord(trip Trip, active bool) TrackedTripRecord {
	rec := TrackedTripRecord{
		TripID:           trip.ID,
		IsActive:         active,
		StartTime:        trip.StartTime,
		EndTime:          trip.EndTime,
		InterchangeCount: trip.InterchangeCount,
		Legs:             make([]TrackedLegRecord, 0, len(trip.Legs)),
	}
	if first, _, ok := trip.FirstTimedLeg(); ok {
		rec.StartStation = first.BoardStopName
	}
	if last, _, ok := trip.LastTimedLeg(); ok {
		rec.EndStation = last.AlightStopName
	}
	for _, l := range trip.Legs {
		rec.Legs = append(rec.Legs, TrackedLegRecord{
			ServiceKind:      l.ServiceKind,
			LineLabel:        l.LineLabel,
			DestinationLabel: l.DestinationLabel,
		})
	}
	return rec
}
