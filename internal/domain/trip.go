package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fatal preconditions of starting a tracking session. Everything else is
// recovered locally and never reaches the caller.
var (
	ErrNoTrackableLeg    = errors.New("trip has no timed ride leg")
	ErrIncompleteLegData = errors.New("leg is missing required display fields")
	ErrSurfaceDenied     = errors.New("tracking surface denied by platform")
)

// LegKind distinguishes rides on a transit line from walks and interchanges
type LegKind int

const (
	LegTimedRide LegKind = 1
	LegTransfer  LegKind = 2
)

func (k LegKind) String() string {
	switch k {
	case LegTimedRide:
		return "timed_ride"
	case LegTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// ServiceKind is the coarse vehicle category shown on the tracking surface
type ServiceKind string

const (
	ServiceTram         ServiceKind = "tram"
	ServiceBus          ServiceKind = "bus"
	ServiceSuburbanRail ServiceKind = "suburban-rail"
	ServiceOther        ServiceKind = "other"
)

// ServiceKindFromAPI normalizes the service type strings the RNV API emits
func ServiceKindFromAPI(s string) ServiceKind {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case strings.Contains(v, "tram"), strings.Contains(v, "stra"):
		return ServiceTram
	case strings.Contains(v, "bus"):
		return ServiceBus
	case strings.Contains(v, "s-bahn"), strings.Contains(v, "rail"), strings.Contains(v, "train"):
		return ServiceSuburbanRail
	default:
		return ServiceOther
	}
}

// Leg is one segment of an itinerary. A TimedRide carries stop names, a
// timetable and possibly live estimates; a Transfer only carries its mode.
// A zero scheduled time means the field was absent or unparseable upstream;
// it is never a guessed value.
type Leg struct {
	Kind LegKind `json:"kind"`
	Mode string  `json:"mode,omitempty"`

	BoardStopName      string     `json:"boardStopName,omitempty"`
	AlightStopName     string     `json:"alightStopName,omitempty"`
	ScheduledDeparture time.Time  `json:"scheduledDeparture"`
	ScheduledArrival   time.Time  `json:"scheduledArrival"`
	EstimatedDeparture *time.Time `json:"estimatedDeparture,omitempty"`
	EstimatedArrival   *time.Time `json:"estimatedArrival,omitempty"`

	ServiceKind      ServiceKind `json:"serviceKind,omitempty"`
	LineLabel        string      `json:"lineLabel,omitempty"`
	DestinationLabel string      `json:"destinationLabel,omitempty"`
}

func (l Leg) IsTimedRide() bool {
	return l.Kind == LegTimedRide
}

// HasDisplayFields reports whether the leg carries everything the tracking
// surface needs. A leg failing this check must not be rendered partially.
func (l Leg) HasDisplayFields() bool {
	return l.BoardStopName != "" &&
		!l.ScheduledDeparture.IsZero() &&
		l.LineLabel != "" &&
		l.ServiceKind != "" &&
		l.DestinationLabel != ""
}

// Trip is one fetched itinerary. Legs are in travel order and the order is
// significant.
type Trip struct {
	ID               string    `json:"id"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	InterchangeCount int       `json:"interchangeCount"`
	Legs             []Leg     `json:"legs"`
}

// FirstTimedLeg returns the first TimedRide leg and its index in Legs.
func (t Trip) FirstTimedLeg() (Leg, int, bool) {
	for i, l := range t.Legs {
		if l.IsTimedRide() {
			return l, i, true
		}
	}
	return Leg{}, 0, false
}

// LastTimedLeg returns the last TimedRide leg and its index in Legs.
func (t Trip) LastTimedLeg() (Leg, int, bool) {
	for i := len(t.Legs) - 1; i >= 0; i-- {
		if t.Legs[i].IsTimedRide() {
			return t.Legs[i], i, true
		}
	}
	return Leg{}, 0, false
}

func (t Trip) TimedLegCount() int {
	n := 0
	for _, l := range t.Legs {
		if l.IsTimedRide() {
			n++
		}
	}
	return n
}

// Validate checks the invariants a trip must satisfy before tracking starts.
func (t Trip) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trip has no id")
	}
	if len(t.Legs) == 0 {
		return fmt.Errorf("trip %s has no legs", t.ID)
	}
	if t.InterchangeCount < 0 {
		return fmt.Errorf("trip %s has negative interchange count", t.ID)
	}
	return nil
}
