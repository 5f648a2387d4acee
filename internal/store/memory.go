package store

import (
	"context"
	"sync"

	"rnvlive/internal/domain"
)

// MemoryStore is the single-process Store used when Redis is disabled and in
// tests. Records and snapshots are copied on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	active    map[string]struct{}
	records   map[string]domain.TrackedTripRecord
	snapshots map[string]domain.TrackingSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active:    make(map[string]struct{}),
		records:   make(map[string]domain.TrackedTripRecord),
		snapshots: make(map[string]domain.TrackingSnapshot),
	}
}

func (s *MemoryStore) SetTripActive(_ context.Context, tripID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.active[tripID] = struct{}{}
	} else {
		delete(s.active, tripID)
	}
	if rec, ok := s.records[tripID]; ok {
		rec.IsActive = active
		s.records[tripID] = rec
	}
	return nil
}

func (s *MemoryStore) IsTripActive(_ context.Context, tripID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[tripID]
	return ok, nil
}

func (s *MemoryStore) ActiveTrips(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec domain.TrackedTripRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Legs = append([]domain.TrackedLegRecord(nil), rec.Legs...)
	s.records[rec.TripID] = rec
	if rec.IsActive {
		s.active[rec.TripID] = struct{}{}
	} else {
		delete(s.active, rec.TripID)
	}
	return nil
}

func (s *MemoryStore) Record(_ context.Context, tripID string) (domain.TrackedTripRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[tripID]
	if !ok {
		return domain.TrackedTripRecord{}, false, nil
	}
	rec.Legs = append([]domain.TrackedLegRecord(nil), rec.Legs...)
	return rec, true, nil
}

func (s *MemoryStore) RemoveRecord(_ context.Context, tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tripID)
	delete(s.snapshots, tripID)
	delete(s.active, tripID)
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap domain.TrackingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.DelayMinutes != nil {
		v := *snap.DelayMinutes
		snap.DelayMinutes = &v
	}
	s.snapshots[snap.TripID] = snap
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, tripID string) (domain.TrackingSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[tripID]
	if !ok {
		return domain.TrackingSnapshot{}, false, nil
	}
	if snap.DelayMinutes != nil {
		v := *snap.DelayMinutes
		snap.DelayMinutes = &v
	}
	return snap, true, nil
}
