// Package storage implements the narrow persistence contract for rooms and
// player tokens. The core functions fully in-memory when the redis-backed
// store is absent.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// MemoryStore keeps room records and tokens in process memory. It is the
// default store and doubles as the test fixture.
type MemoryStore struct {
	mu     sync.RWMutex
	rooms  map[types.RoomCode]types.RoomRecord
	tokens map[types.RoomCode][]types.PlayerToken
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[types.RoomCode]types.RoomRecord),
		tokens: make(map[types.RoomCode][]types.PlayerToken),
	}
}

func (m *MemoryStore) LoadActiveRooms(_ context.Context) ([]types.RoomRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	recs := make([]types.RoomRecord, 0, len(m.rooms))
	for _, rec := range m.rooms {
		if rec.ExpiresAt.After(now) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (m *MemoryStore) UpsertRoom(_ context.Context, rec types.RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[rec.Code] = rec
	return nil
}

func (m *MemoryStore) DeleteRoom(_ context.Context, code types.RoomCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
	delete(m.tokens, code)
	return nil
}

func (m *MemoryStore) LoadPlayerTokens(_ context.Context, code types.RoomCode) ([]types.PlayerToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	toks := make([]types.PlayerToken, len(m.tokens[code]))
	copy(toks, m.tokens[code])
	return toks, nil
}

func (m *MemoryStore) SavePlayerToken(_ context.Context, tok types.PlayerToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.RoomCode] = append(m.tokens[tok.RoomCode], tok)
	return nil
}

// RedisStore persists rooms and tokens in Redis hashes so restarted instances
// can restore active rooms.
type RedisStore struct {
	client *redis.Client
}

const (
	roomsHashKey    = "party:store:rooms"
	tokensKeyPrefix = "party:store:tokens:"
)

// NewRedisStore wraps an existing redis client (shared with the bus).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) LoadActiveRooms(ctx context.Context) ([]types.RoomRecord, error) {
	raw, err := s.client.HGetAll(ctx, roomsHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}

	now := time.Now()
	var recs []types.RoomRecord
	for code, blob := range raw {
		var rec types.RoomRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			// Skip corrupt entries rather than failing the whole restore.
			continue
		}
		if rec.ExpiresAt.After(now) {
			recs = append(recs, rec)
		} else {
			_ = s.client.HDel(ctx, roomsHashKey, code).Err()
		}
	}
	return recs, nil
}

func (s *RedisStore) UpsertRoom(ctx context.Context, rec types.RoomRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal room record: %w", err)
	}
	if err := s.client.HSet(ctx, roomsHashKey, string(rec.Code), blob).Err(); err != nil {
		return fmt.Errorf("failed to upsert room %s: %w", rec.Code, err)
	}
	return nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, code types.RoomCode) error {
	if err := s.client.HDel(ctx, roomsHashKey, string(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	if err := s.client.Del(ctx, tokensKeyPrefix+string(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete tokens for room %s: %w", code, err)
	}
	return nil
}

func (s *RedisStore) LoadPlayerTokens(ctx context.Context, code types.RoomCode) ([]types.PlayerToken, error) {
	raw, err := s.client.HGetAll(ctx, tokensKeyPrefix+string(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load player tokens: %w", err)
	}

	var toks []types.PlayerToken
	for _, blob := range raw {
		var tok types.PlayerToken
		if err := json.Unmarshal([]byte(blob), &tok); err != nil {
			continue
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

func (s *RedisStore) SavePlayerToken(ctx context.Context, tok types.PlayerToken) error {
	blob, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal player token: %w", err)
	}
	key := tokensKeyPrefix + string(tok.RoomCode)
	if err := s.client.HSet(ctx, key, tok.Token, blob).Err(); err != nil {
		return fmt.Errorf("failed to save player token: %w", err)
	}
	// Tokens live at most as long as the longest room TTL.
	_ = s.client.Expire(ctx, key, 168*time.Hour).Err()
	return nil
}
