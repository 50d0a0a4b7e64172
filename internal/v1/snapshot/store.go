// Package snapshot stores compressed, versioned captures of room state.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// Store keeps up to maxPerRoom snapshots per room, evicting the oldest.
type Store struct {
	mu         sync.RWMutex
	rooms      map[types.RoomCode]map[uint64]*types.Snapshot
	versions   map[types.RoomCode][]uint64 // ascending
	maxPerRoom int
	compress   bool
}

// New creates a snapshot store. When compress is set, payloads are gzipped;
// compression failures fall back to storing the raw bytes.
func New(maxPerRoom int, compress bool) *Store {
	return &Store{
		rooms:      make(map[types.RoomCode]map[uint64]*types.Snapshot),
		versions:   make(map[types.RoomCode][]uint64),
		maxPerRoom: maxPerRoom,
		compress:   compress,
	}
}

// Capture serializes state and stores it as the snapshot for (room, version).
// The trigger label feeds the snapshot metrics (interval, transition, resync).
func (s *Store) Capture(code types.RoomCode, version uint64, state map[string]any, trigger string) (*types.Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state for snapshot: %w", err)
	}

	data := raw
	compressed := false
	if s.compress {
		if gz, err := gzipBytes(raw); err != nil {
			logging.Warn(context.Background(), "Snapshot compression failed, storing raw",
				zap.String("roomCode", string(code)), zap.Error(err))
		} else {
			data = gz
			compressed = true
		}
	}

	snap := &types.Snapshot{
		RoomCode:   code,
		Version:    version,
		Timestamp:  time.Now(),
		Compressed: compressed,
		Data:       data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byVersion, ok := s.rooms[code]
	if !ok {
		byVersion = make(map[uint64]*types.Snapshot)
		s.rooms[code] = byVersion
	}

	if _, exists := byVersion[version]; !exists {
		s.versions[code] = append(s.versions[code], version)
		sort.Slice(s.versions[code], func(i, j int) bool { return s.versions[code][i] < s.versions[code][j] })
	}
	byVersion[version] = snap

	// Evict oldest beyond the cap.
	for len(s.versions[code]) > s.maxPerRoom {
		oldest := s.versions[code][0]
		s.versions[code] = s.versions[code][1:]
		delete(byVersion, oldest)
	}

	metrics.SnapshotsTaken.WithLabelValues(string(code), trigger).Inc()
	return snap, nil
}

// Get returns the snapshot at an exact version.
func (s *Store) Get(code types.RoomCode, version uint64) (*types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.rooms[code][version]
	return snap, ok
}

// Latest returns the newest snapshot for the room.
func (s *Store) Latest(code types.RoomCode) (*types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[code]
	if len(vs) == 0 {
		return nil, false
	}
	return s.rooms[code][vs[len(vs)-1]], true
}

// ClosestAtOrBelow returns the newest snapshot with version <= target. When
// none qualifies, the earliest available snapshot is returned so a client can
// always be rebased somewhere.
func (s *Store) ClosestAtOrBelow(code types.RoomCode, target uint64) (*types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[code]
	if len(vs) == 0 {
		return nil, false
	}

	best := -1
	for i, v := range vs {
		if v <= target {
			best = i
		}
	}
	if best == -1 {
		return s.rooms[code][vs[0]], true
	}
	return s.rooms[code][vs[best]], true
}

// Decode unpacks a snapshot's payload back into a state map.
func Decode(snap *types.Snapshot) (map[string]any, error) {
	raw := snap.Data
	if snap.Compressed {
		gr, err := gzip.NewReader(bytes.NewReader(snap.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot gzip stream: %w", err)
		}
		defer gr.Close()
		raw, err = io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
		}
	}

	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot state: %w", err)
	}
	return state, nil
}

// Clear drops all snapshots for a room. Called on room destruction.
func (s *Store) Clear(code types.RoomCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	delete(s.versions, code)
}

// Count returns how many snapshots a room currently holds.
func (s *Store) Count(code types.RoomCode) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[code])
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		_ = gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
