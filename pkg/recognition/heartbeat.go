package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// HeartbeatStore persists liveness pings. Liveness is ephemeral data, so
// stores may expire entries freely.
type HeartbeatStore interface {
	Record(ctx context.Context, hb contracts.Heartbeat) error
	Last(ctx context.Context, instanceID, userID string) (contracts.Heartbeat, bool, error)
}

// MemoryHeartbeats keeps the latest heartbeat per instance/user pair.
type MemoryHeartbeats struct {
	mu   sync.RWMutex
	last map[string]contracts.Heartbeat
}

// NewMemoryHeartbeats creates an empty in-memory store.
func NewMemoryHeartbeats() *MemoryHeartbeats {
	return &MemoryHeartbeats{last: make(map[string]contracts.Heartbeat)}
}

func (m *MemoryHeartbeats) Record(_ context.Context, hb contracts.Heartbeat) error {
	if hb.InstanceID == "" || hb.UserID == "" {
		return errors.New("recognition: heartbeat requires instance and user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[heartbeatKey(hb.InstanceID, hb.UserID)] = hb
	return nil
}

func (m *MemoryHeartbeats) Last(_ context.Context, instanceID, userID string) (contracts.Heartbeat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hb, ok := m.last[heartbeatKey(instanceID, userID)]
	return hb, ok, nil
}

// RedisHeartbeats stores heartbeats in Redis with a TTL so silent
// instances age out on their own.
type RedisHeartbeats struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHeartbeats wraps a Redis client. ttl of zero keeps entries
// forever.
func NewRedisHeartbeats(client *redis.Client, ttl time.Duration) *RedisHeartbeats {
	return &RedisHeartbeats{client: client, ttl: ttl}
}

func (r *RedisHeartbeats) Record(ctx context.Context, hb contracts.Heartbeat) error {
	if hb.InstanceID == "" || hb.UserID == "" {
		return errors.New("recognition: heartbeat requires instance and user")
	}
	raw, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("recognition: marshal heartbeat: %w", err)
	}
	key := heartbeatKey(hb.InstanceID, hb.UserID)
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("recognition: redis set: %w", err)
	}
	return nil
}

func (r *RedisHeartbeats) Last(ctx context.Context, instanceID, userID string) (contracts.Heartbeat, bool, error) {
	raw, err := r.client.Get(ctx, heartbeatKey(instanceID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return contracts.Heartbeat{}, false, nil
	}
	if err != nil {
		return contracts.Heartbeat{}, false, fmt.Errorf("recognition: redis get: %w", err)
	}
	var hb contracts.Heartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		return contracts.Heartbeat{}, false, fmt.Errorf("recognition: decode heartbeat: %w", err)
	}
	return hb, true, nil
}

func heartbeatKey(instanceID, userID string) string {
	return "mirror:heartbeat:" + instanceID + ":" + userID
}
