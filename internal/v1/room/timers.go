package room

import (
	"sync"
	"time"
)

// timerSet owns every timer a room schedules: plugin timers and the room's
// own grace timers. Firing re-enters the room task queue, so timer callbacks
// never run outside the single-writer loop. Pausing a room freezes remaining
// durations; resuming restarts them.
type timerSet struct {
	room   *Room
	mu     sync.Mutex
	seq    int
	active map[int]*roomTimer
	paused bool
}

type roomTimer struct {
	timer     *time.Timer
	fn        func()
	deadline  time.Time
	remaining time.Duration
}

func newTimerSet(r *Room) *timerSet {
	return &timerSet{room: r, active: make(map[int]*roomTimer)}
}

// Schedule runs fn on the room loop after d. The returned cancel is safe to
// call more than once, including after the timer fired.
func (ts *timerSet) Schedule(d time.Duration, fn func()) (cancel func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.seq++
	id := ts.seq
	t := &roomTimer{fn: fn, deadline: time.Now().Add(d)}
	ts.active[id] = t
	if ts.paused {
		t.remaining = d
	} else {
		t.timer = time.AfterFunc(d, func() { ts.fire(id) })
	}
	return func() { ts.cancel(id) }
}

func (ts *timerSet) fire(id int) {
	ts.mu.Lock()
	t, ok := ts.active[id]
	if !ok {
		ts.mu.Unlock()
		return
	}
	if ts.paused {
		// The timer won the race against Pause's Stop. Freeze it as
		// due-immediately so Resume re-arms it.
		t.timer = nil
		t.remaining = 0
		ts.mu.Unlock()
		return
	}
	delete(ts.active, id)
	fn := t.fn
	ts.mu.Unlock()

	ts.room.Do(fn)
}

func (ts *timerSet) cancel(id int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.active[id]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(ts.active, id)
	}
}

// Pause freezes all timers, recording how long each still had to run.
func (ts *timerSet) Pause() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.paused {
		return
	}
	ts.paused = true
	for _, t := range ts.active {
		if t.timer != nil && t.timer.Stop() {
			t.remaining = time.Until(t.deadline)
			if t.remaining < 0 {
				t.remaining = 0
			}
			t.timer = nil
		}
	}
}

// Resume restarts frozen timers with their remaining durations.
func (ts *timerSet) Resume() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.paused {
		return
	}
	ts.paused = false
	for id, t := range ts.active {
		if t.timer == nil {
			fireID := id
			t.deadline = time.Now().Add(t.remaining)
			t.timer = time.AfterFunc(t.remaining, func() { ts.fire(fireID) })
		}
	}
}

// CancelAll stops every timer. Called on game end and room destruction.
func (ts *timerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for id, t := range ts.active {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(ts.active, id)
	}
}
