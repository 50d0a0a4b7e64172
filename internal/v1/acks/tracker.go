// Package acks tracks broadcast acknowledgements per room so the sync engine
// can detect lagging clients and resync them.
package acks

import (
	"sync"
	"time"

	"k8s.io/utils/set"

	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
)

// Tracker records which recipients still owe an ACK for each broadcast
// version. A version left pending past the timeout is moved to missing and
// reported as a resync target.
type Tracker struct {
	mu       sync.Mutex
	pending  map[uint64]set.Set[string] // version → recipients yet to ACK
	received map[string]set.Set[uint64] // recipient → acknowledged versions
	missing  map[string]set.Set[uint64] // recipient → timed-out versions
	sentAt   map[uint64]time.Time
	timeout  time.Duration

	totalSent    uint64
	totalAcked   uint64
	totalMissing uint64
	latencySum   time.Duration
	latencyCount uint64
}

// Stats is a point-in-time view of the tracker's counters.
type Stats struct {
	TotalSent      uint64
	TotalAcked     uint64
	TotalMissing   uint64
	PendingCount   int
	AverageLatency time.Duration
	AckRate        float64
}

// NewTracker creates a tracker with the given ACK timeout.
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{
		pending:  make(map[uint64]set.Set[string]),
		received: make(map[string]set.Set[uint64]),
		missing:  make(map[string]set.Set[uint64]),
		sentAt:   make(map[uint64]time.Time),
		timeout:  timeout,
	}
}

// Register records that a broadcast at version went out to recipients and
// that each must acknowledge it. Empty recipient sets are not tracked.
func (t *Tracker) Register(version uint64, recipients []string) {
	if len(recipients) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	waiting, ok := t.pending[version]
	if !ok {
		waiting = set.New[string]()
		t.pending[version] = waiting
		t.sentAt[version] = time.Now()
	}
	for _, id := range recipients {
		waiting.Insert(id)
		t.totalSent++
	}
}

// Ack marks a version acknowledged by a recipient. Latency is measured from
// the client-reported timestamp when one was supplied, otherwise from the
// server-side send time. Unknown versions are ignored.
func (t *Tracker) Ack(version uint64, recipient string, clientSent time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	waiting, ok := t.pending[version]
	if !ok || !waiting.Has(recipient) {
		return
	}
	waiting.Delete(recipient)
	t.totalAcked++

	acked, ok := t.received[recipient]
	if !ok {
		acked = set.New[uint64]()
		t.received[recipient] = acked
	}
	acked.Insert(version)

	if sent, ok := t.sentAt[version]; ok {
		base := sent
		if !clientSent.IsZero() {
			base = clientSent
		}
		latency := time.Since(base)
		if latency < 0 {
			latency = 0 // client clock ahead of ours
		}
		t.latencySum += latency
		t.latencyCount++
		metrics.AckLatency.Observe(latency.Seconds())
	}

	if waiting.Len() == 0 {
		delete(t.pending, version)
		delete(t.sentAt, version)
	}
}

// Sweep moves versions pending past the timeout into missing and returns the
// recipients that need a resync with the versions they missed.
func (t *Tracker) Sweep(now time.Time) map[string][]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	targets := make(map[string][]uint64)
	for version, waiting := range t.pending {
		sent, ok := t.sentAt[version]
		if !ok || now.Sub(sent) < t.timeout {
			continue
		}
		for _, recipient := range waiting.UnsortedList() {
			missed, ok := t.missing[recipient]
			if !ok {
				missed = set.New[uint64]()
				t.missing[recipient] = missed
			}
			missed.Insert(version)
			t.totalMissing++
			metrics.AcksMissing.Inc()
			targets[recipient] = append(targets[recipient], version)
		}
		delete(t.pending, version)
		delete(t.sentAt, version)
	}
	return targets
}

// Forget drops all tracking for a recipient. Called when a client leaves so
// its pending entries cannot linger until the next sweep.
func (t *Tracker) Forget(recipient string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.received, recipient)
	delete(t.missing, recipient)
	for version, waiting := range t.pending {
		waiting.Delete(recipient)
		if waiting.Len() == 0 {
			delete(t.pending, version)
			delete(t.sentAt, version)
		}
	}
}

// Stats returns the tracker's counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		TotalSent:    t.totalSent,
		TotalAcked:   t.totalAcked,
		TotalMissing: t.totalMissing,
		PendingCount: len(t.pending),
	}
	if t.latencyCount > 0 {
		s.AverageLatency = t.latencySum / time.Duration(t.latencyCount)
	}
	if t.totalSent > 0 {
		s.AckRate = float64(t.totalAcked) / float64(t.totalSent)
	}
	return s
}

// Clear abandons every pending entry. Called on room destruction; this is the
// guarantee that no registered pending set outlives its room.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = make(map[uint64]set.Set[string])
	t.received = make(map[string]set.Set[uint64])
	t.missing = make(map[string]set.Set[uint64])
	t.sentAt = make(map[uint64]time.Time)
}
