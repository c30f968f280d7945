// Package redisstore keeps live session snapshots in Redis so the stats
// API survives restarts and can be shared by several instances.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"polycopy/internal/storage"
)

const (
	keyPrefix  = "polycopy:session:"
	DefaultTTL = 24 * time.Hour
)

// SnapshotStore implements storage.SnapshotStore on Redis.
type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotStore parses a redis:// URL and pings the server.
func NewSnapshotStore(ctx context.Context, url string) (*SnapshotStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewSnapshotStoreWithClient(rdb, DefaultTTL), nil
}

// NewSnapshotStoreWithClient wraps an existing client. A non-positive ttl
// uses DefaultTTL.
func NewSnapshotStoreWithClient(rdb *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotStore{rdb: rdb, ttl: ttl}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

func (s *SnapshotStore) Save(ctx context.Context, snap *storage.SessionSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return storage.ErrInvalidInput
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+snap.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, sessionID string) (*storage.SessionSnapshot, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap storage.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// SessionIDs lists the sessions that currently have a snapshot.
func (s *SnapshotStore) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return ids, nil
}

// Close closes the underlying client.
func (s *SnapshotStore) Close() error {
	return s.rdb.Close()
}
