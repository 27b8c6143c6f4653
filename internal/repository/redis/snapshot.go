package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/redis/go-redis/v9"
)

const snapshotPrefix = "snapshot:"

// SnapshotStore keeps the active session of each slot in Redis
type SnapshotStore struct {
	client *Client
	ttl    time.Duration
}

// NewSnapshotStore creates a snapshot store whose entries expire after ttl
func NewSnapshotStore(client *Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func snapshotKey(slot string) string {
	return snapshotPrefix + slot
}

// Save writes the snapshot for slot, refreshing its expiry
func (s *SnapshotStore) Save(ctx context.Context, slot string, snap *domain.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.rdb.Set(ctx, snapshotKey(slot), data, s.ttl).Err()
}

// Load returns the snapshot for slot, or nil when there is none
func (s *SnapshotStore) Load(ctx context.Context, slot string) (*domain.SessionSnapshot, error) {
	data, err := s.client.rdb.Get(ctx, snapshotKey(slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap domain.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete clears the slot
func (s *SnapshotStore) Delete(ctx context.Context, slot string) error {
	return s.client.rdb.Del(ctx, snapshotKey(slot)).Err()
}
