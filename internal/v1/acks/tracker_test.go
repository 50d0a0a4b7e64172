package acks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RegisterAndAck(t *testing.T) {
	tr := NewTracker(time.Second)

	tr.Register(1, []string{"p1", "p2"})
	tr.Ack(1, "p1", time.Time{})

	s := tr.Stats()
	assert.Equal(t, uint64(2), s.TotalSent)
	assert.Equal(t, uint64(1), s.TotalAcked)
	assert.Equal(t, 1, s.PendingCount)

	// Second recipient ACKs; the version is fully settled.
	tr.Ack(1, "p2", time.Time{})
	s = tr.Stats()
	assert.Equal(t, uint64(2), s.TotalAcked)
	assert.Zero(t, s.PendingCount)
	assert.Equal(t, 1.0, s.AckRate)
	assert.Greater(t, s.AverageLatency, time.Duration(0))
}

func TestTracker_AckLatencyPrefersClientTimestamp(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Register(1, []string{"p1"})

	// The client reports when it received the broadcast; latency is
	// measured from that, not from the server-side send time.
	tr.Ack(1, "p1", time.Now().Add(-250*time.Millisecond))
	assert.GreaterOrEqual(t, tr.Stats().AverageLatency, 250*time.Millisecond)
}

func TestTracker_AckClampsSkewedClientClock(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Register(1, []string{"p1"})

	// A client clock running ahead must not produce a negative latency.
	tr.Ack(1, "p1", time.Now().Add(time.Minute))
	s := tr.Stats()
	assert.Equal(t, uint64(1), s.TotalAcked)
	assert.GreaterOrEqual(t, s.AverageLatency, time.Duration(0))
	assert.Less(t, s.AverageLatency, time.Second)
}

func TestTracker_AckUnknownVersionIgnored(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Ack(42, "p1", time.Time{})
	tr.Register(1, []string{"p1"})
	tr.Ack(1, "p2", time.Time{}) // not a recipient

	s := tr.Stats()
	assert.Zero(t, s.TotalAcked)
	assert.Equal(t, 1, s.PendingCount)
}

func TestTracker_EmptyRecipientsNotTracked(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Register(5, nil)
	assert.Zero(t, tr.Stats().PendingCount)
}

func TestTracker_SweepMovesTimedOutToMissing(t *testing.T) {
	tr := NewTracker(100 * time.Millisecond)
	tr.Register(1, []string{"p1", "p2"})
	tr.Ack(1, "p1", time.Time{})
	tr.Register(2, []string{"p2"})

	// Before the timeout nothing is missing.
	assert.Empty(t, tr.Sweep(time.Now()))

	targets := tr.Sweep(time.Now().Add(200 * time.Millisecond))
	require.Contains(t, targets, "p2")
	assert.ElementsMatch(t, []uint64{1, 2}, targets["p2"])
	assert.NotContains(t, targets, "p1")

	s := tr.Stats()
	assert.Equal(t, uint64(2), s.TotalMissing)
	assert.Zero(t, s.PendingCount)

	// Swept versions are gone; a second sweep finds nothing.
	assert.Empty(t, tr.Sweep(time.Now().Add(time.Hour)))
}

func TestTracker_Forget(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Register(1, []string{"p1", "p2"})
	tr.Register(2, []string{"p1"})

	tr.Forget("p1")

	// Version 2 had only p1 pending, so it is settled outright.
	targets := tr.Sweep(time.Now().Add(time.Hour))
	assert.NotContains(t, targets, "p1")
	assert.ElementsMatch(t, []uint64{1}, targets["p2"])
}

func TestTracker_Clear(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Register(1, []string{"p1"})
	tr.Clear()

	assert.Zero(t, tr.Stats().PendingCount)
	assert.Empty(t, tr.Sweep(time.Now().Add(time.Hour)))
}
