// Package dedup tracks processed intent ids per room so retries have
// at-most-once effect.
package dedup

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Deduper keeps a TTL set of processed ids per room. Alongside the id it
// memoizes the original result so a retry can be answered with the exact
// reply the first submission produced.
type Deduper struct {
	mu    sync.RWMutex
	rooms map[string]*gocache.Cache
	ttl   time.Duration
}

// New creates a Deduper with the given id TTL (1 hour by default upstream).
func New(ttl time.Duration) *Deduper {
	return &Deduper{
		rooms: make(map[string]*gocache.Cache),
		ttl:   ttl,
	}
}

// IsProcessed reports whether the id has been seen and is not expired.
func (d *Deduper) IsProcessed(roomCode, id string) bool {
	d.mu.RLock()
	c, ok := d.rooms[roomCode]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	_, found := c.Get(id)
	return found
}

// Lookup returns the memoized result for a processed id, if any.
func (d *Deduper) Lookup(roomCode, id string) (any, bool) {
	d.mu.RLock()
	c, ok := d.rooms[roomCode]
	d.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Get(id)
}

// MarkProcessed records an id with its result. Overwrites are allowed: a
// retry races its original only inside the single-writer room loop, so the
// last write is always the same value.
func (d *Deduper) MarkProcessed(roomCode, id string, result any) {
	d.mu.Lock()
	c, ok := d.rooms[roomCode]
	if !ok {
		// go-cache runs its own janitor per room at half the TTL.
		c = gocache.New(d.ttl, d.ttl/2)
		d.rooms[roomCode] = c
	}
	d.mu.Unlock()

	c.Set(id, result, d.ttl)
}

// ClearRoom drops all dedup state for a room. Called on room destruction.
func (d *Deduper) ClearRoom(roomCode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, roomCode)
}

// Sweep removes rooms whose caches have fully expired. The per-room janitor
// already evicts ids; this drops the empty room entries themselves.
func (d *Deduper) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for code, c := range d.rooms {
		if c.ItemCount() == 0 {
			delete(d.rooms, code)
		}
	}
}
