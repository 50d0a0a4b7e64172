// Package replay keeps a bounded, time-ordered log of events per room.
// It is the source of truth for catch-up between a snapshot and current state.
package replay

import (
	"sync"
	"time"

	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// Buffer is an append-only per-room event log with bounded capacity; the
// oldest event is evicted when a room's log is full.
type Buffer struct {
	mu       sync.RWMutex
	rooms    map[types.RoomCode][]types.Event
	capacity int
	ttl      time.Duration
}

// New creates a Buffer holding up to capacity events per room, each retained
// for at most ttl.
func New(capacity int, ttl time.Duration) *Buffer {
	return &Buffer{
		rooms:    make(map[types.RoomCode][]types.Event),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Append adds an event to the room's log, evicting the oldest when full.
// Events arrive in version order from the single-writer room loop.
func (b *Buffer) Append(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.rooms[ev.RoomCode]
	if len(log) >= b.capacity {
		log = log[1:]
	}
	b.rooms[ev.RoomCode] = append(log, ev)
}

// All returns a copy of the room's full log in order.
func (b *Buffer) All(code types.RoomCode) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.rooms[code]
	out := make([]types.Event, len(log))
	copy(out, log)
	return out
}

// After returns events with version strictly greater than v, in order.
func (b *Buffer) After(code types.RoomCode, v uint64) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.Event
	for _, ev := range b.rooms[code] {
		if ev.Version > v {
			out = append(out, ev)
		}
	}
	return out
}

// Range returns events with version in [from, to], in order.
func (b *Buffer) Range(code types.RoomCode, from, to uint64) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.Event
	for _, ev := range b.rooms[code] {
		if ev.Version >= from && ev.Version <= to {
			out = append(out, ev)
		}
	}
	return out
}

// Latest returns the most recent event, if any.
func (b *Buffer) Latest(code types.RoomCode) (types.Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.rooms[code]
	if len(log) == 0 {
		return types.Event{}, false
	}
	return log[len(log)-1], true
}

// LatestVersion returns the version of the most recent event, or 0.
func (b *Buffer) LatestVersion(code types.RoomCode) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.rooms[code]
	if len(log) == 0 {
		return 0
	}
	return log[len(log)-1].Version
}

// Clear drops a room's log entirely. Called on room destruction.
func (b *Buffer) Clear(code types.RoomCode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, code)
}

// Sweep evicts events older than the TTL and removes empty rooms.
func (b *Buffer) Sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.ttl)
	for code, log := range b.rooms {
		i := 0
		for i < len(log) && log[i].Timestamp.Before(cutoff) {
			i++
		}
		if i == len(log) {
			delete(b.rooms, code)
		} else if i > 0 {
			b.rooms[code] = append([]types.Event(nil), log[i:]...)
		}
	}
}
