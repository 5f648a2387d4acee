package store

import (
	"sync"
	"time"

	"rnvlive/internal/domain"
)

type catalogEntry struct {
	trip     domain.Trip
	storedAt time.Time
}

// TripCatalog holds the trips returned by the latest connection searches so
// tracking can be started by trip id. It is process-local; the durable
// tracking state lives in Store.
type TripCatalog struct {
	mu         sync.RWMutex
	trips      map[string]catalogEntry
	staleAfter time.Duration
}

func NewTripCatalog(staleAfter time.Duration) *TripCatalog {
	return &TripCatalog{
		trips:      make(map[string]catalogEntry),
		staleAfter: staleAfter,
	}
}

func (c *TripCatalog) Put(trips []domain.Trip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, t := range trips {
		if t.ID == "" {
			continue
		}
		c.trips[t.ID] = catalogEntry{trip: t, storedAt: now}
	}
}

func (c *TripCatalog) Get(tripID string) (domain.Trip, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.trips[tripID]
	if !ok {
		return domain.Trip{}, false
	}
	return e.trip, true
}

func (c *TripCatalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.trips)
}

// PruneStale drops trips older than staleAfter and returns how many went.
func (c *TripCatalog) PruneStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.staleAfter)
	pruned := 0
	for id, e := range c.trips {
		if e.storedAt.Before(cutoff) {
			delete(c.trips, id)
			pruned++
		}
	}
	return pruned
}
