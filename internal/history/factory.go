package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreType selects the history store driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a history store of the given type. The Redis driver
// requires the WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return &inMemoryStore{
			records: make(map[string][]TurnRecord),
		}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisStore{
			client: config.redisClient,
			ttl:    ttl,
		}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

type inMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]TurnRecord
}

// Append implements Store.
func (s *inMemoryStore) Append(ctx context.Context, sessionID string, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[sessionID] = append(s.records[sessionID], record)
	return nil
}

// List implements Store.
func (s *inMemoryStore) List(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.records[sessionID]
	records := make([]TurnRecord, len(stored))
	copy(records, stored)
	return records, nil
}

// Clear implements Store.
func (s *inMemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, sessionID)
	return nil
}

// Close implements Store.
func (s *inMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	return nil
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func historyKey(sessionID string) string {
	return "history:" + sessionID
}

// Append implements Store.
func (s *redisStore) Append(ctx context.Context, sessionID string, record TurnRecord) error {
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := historyKey(sessionID)
	if err := s.client.RPush(ctx, key, val).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// List implements Store.
func (s *redisStore) List(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	vals, err := s.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return []TurnRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	records := make([]TurnRecord, 0, len(vals))
	for _, val := range vals {
		var record TurnRecord
		if err := json.Unmarshal([]byte(val), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Clear implements Store.
func (s *redisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, historyKey(sessionID)).Err()
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}
