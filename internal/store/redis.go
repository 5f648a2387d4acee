package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"rnvlive/internal/domain"
)

// RedisStore backs the tracking state with Redis so the main process and the
// tracking-surface renderer can share it. The active-trip flag lives in a set,
// which keeps add/remove an atomic read-modify-write on the Redis side.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "rnvlive:",
		ttl:    ttl,
		logger: logger.With("component", "redis_store"),
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) SetTripActive(ctx context.Context, tripID string, active bool) error {
	var err error
	if active {
		err = s.client.SAdd(ctx, s.key(KeyActiveTrips), tripID).Err()
	} else {
		err = s.client.SRem(ctx, s.key(KeyActiveTrips), tripID).Err()
	}
	if err != nil {
		s.logger.Error("set trip active failed", "trip_id", tripID, "active", active, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) IsTripActive(ctx context.Context, tripID string) (bool, error) {
	active, err := s.client.SIsMember(ctx, s.key(KeyActiveTrips), tripID).Result()
	if err != nil {
		s.logger.Error("is trip active failed", "trip_id", tripID, "error", err)
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return active, nil
}

func (s *RedisStore) ActiveTrips(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key(KeyActiveTrips)).Result()
	if err != nil {
		s.logger.Error("active trips failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

func (s *RedisStore) SaveRecord(ctx context.Context, rec domain.TrackedTripRecord) error {
	if err := s.setJSON(ctx, KeyTripRecord(rec.TripID), rec); err != nil {
		return err
	}
	return s.SetTripActive(ctx, rec.TripID, rec.IsActive)
}

func (s *RedisStore) Record(ctx context.Context, tripID string) (domain.TrackedTripRecord, bool, error) {
	var rec domain.TrackedTripRecord
	found, err := s.getJSON(ctx, KeyTripRecord(tripID), &rec)
	return rec, found, err
}

func (s *RedisStore) RemoveRecord(ctx context.Context, tripID string) error {
	if err := s.client.Del(ctx, s.key(KeyTripRecord(tripID)), s.key(KeyTripSnapshot(tripID))).Err(); err != nil {
		s.logger.Error("remove record failed", "trip_id", tripID, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.SetTripActive(ctx, tripID, false)
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap domain.TrackingSnapshot) error {
	return s.setJSON(ctx, KeyTripSnapshot(snap.TripID), snap)
}

func (s *RedisStore) Snapshot(ctx context.Context, tripID string) (domain.TrackingSnapshot, bool, error) {
	var snap domain.TrackingSnapshot
	found, err := s.getJSON(ctx, KeyTripSnapshot(tripID), &snap)
	return snap, found, err
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	start := time.Now()
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		s.logger.Error("store set failed", "key", key, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.logger.Debug("store set", "key", key, "size_bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		s.logger.Debug("store miss", "key", key)
		return false, nil
	}
	if err != nil {
		s.logger.Error("store get failed", "key", key, "error", err)
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("json unmarshal: %w", err)
	}
	return true, nil
}
