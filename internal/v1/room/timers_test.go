package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdleTimerRoom() *Room {
	return &Room{tasks: make(chan func(), 4), done: make(chan struct{})}
}

func TestTimerSet_FireDuringPauseIsRearmedOnResume(t *testing.T) {
	r := newIdleTimerRoom()
	ts := newTimerSet(r)

	fired := false
	ts.Schedule(time.Hour, func() { fired = true })

	// Reproduce the interleaving where the timer fires after Pause flipped
	// the flag but before Stop could win: paused is set, yet fire runs.
	ts.mu.Lock()
	ts.paused = true
	ts.mu.Unlock()
	ts.fire(1)

	ts.mu.Lock()
	entry, ok := ts.active[1]
	require.True(t, ok, "a firing under pause must keep its entry")
	assert.Nil(t, entry.timer)
	assert.Zero(t, entry.remaining)
	ts.mu.Unlock()

	// Resume re-arms the frozen timer as due-immediately.
	ts.Resume()

	select {
	case task := <-r.tasks:
		task()
	case <-time.After(5 * time.Second):
		t.Fatal("resumed timer never delivered its callback")
	}
	assert.True(t, fired)

	ts.mu.Lock()
	assert.Empty(t, ts.active)
	ts.mu.Unlock()
}

func TestTimerSet_ScheduleWhilePausedRunsAfterResume(t *testing.T) {
	r := newIdleTimerRoom()
	ts := newTimerSet(r)

	ts.Pause()
	ts.Schedule(time.Millisecond, func() {})

	// Frozen: nothing reaches the queue while paused.
	select {
	case <-r.tasks:
		t.Fatal("timer fired while paused")
	case <-time.After(50 * time.Millisecond):
	}

	ts.Resume()
	select {
	case task := <-r.tasks:
		task()
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired after resume")
	}
}
