// Package fsm implements the shared game lifecycle state machine. The
// transition table is closed: any edge not listed is rejected.
package fsm

import (
	"sync"
	"time"

	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// State is a fine-grained lifecycle phase.
type State string

const (
	StateLobby      State = "lobby"
	StateSetup      State = "setup"
	StateRoundStart State = "round_start"
	StateRoundEnd   State = "round_end"
	StateScoreboard State = "scoreboard"
	StateNextRound  State = "next_round"
	StateGameEnd    State = "game_end"
)

// transitions is the closed edge table.
var transitions = map[State][]State{
	StateLobby:      {StateSetup},
	StateSetup:      {StateRoundStart, StateLobby},
	StateRoundStart: {StateRoundEnd, StateGameEnd},
	StateRoundEnd:   {StateScoreboard, StateGameEnd},
	StateScoreboard: {StateNextRound, StateGameEnd},
	StateNextRound:  {StateRoundStart, StateGameEnd},
	StateGameEnd:    {StateLobby},
}

// Transition is one history entry; the history is append-only.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Machine tracks the current state and its transition history. Writes come
// from the single-writer room loop; reads may come from HTTP handlers, so
// access is guarded.
type Machine struct {
	mu      sync.RWMutex
	current State
	history []Transition
}

// New returns a machine in the lobby state.
func New() *Machine {
	return &Machine{current: StateLobby}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransition reports whether the edge current → to is in the table.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return allowed(m.current, to)
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves to the target state and appends a history entry.
// An invalid edge is a no-op returning false.
func (m *Machine) TransitionTo(to State, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowed(m.current, to) {
		return false
	}
	m.history = append(m.history, Transition{
		From:      m.current,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	m.current = to
	return true
}

// History returns a copy of the transition history in order.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Reset returns the machine to lobby without recording a transition.
// Used when a room is recycled for a fresh game.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = StateLobby
	m.history = nil
}

// Project deterministically maps the room's high-level lifecycle and round
// number to a fine-grained state. Pausing is a modifier, not a phase: a
// paused lifecycle preserves whatever state prior holds.
func Project(lifecycle types.LifecycleState, round int, prior State) State {
	switch lifecycle {
	case types.LifecycleLobby:
		return StateLobby
	case types.LifecycleStarting:
		return StateSetup
	case types.LifecyclePlaying:
		if round > 1 && prior == StateScoreboard {
			return StateNextRound
		}
		return StateRoundStart
	case types.LifecycleRoundEnd:
		return StateRoundEnd
	case types.LifecycleGameEnd:
		return StateGameEnd
	case types.LifecyclePaused:
		return prior
	default:
		return StateLobby
	}
}

// SoundHint names the audio cue a display should play on entering a state.
// Empty means no cue.
func SoundHint(to State) string {
	switch to {
	case StateRoundStart:
		return "game_start"
	case StateRoundEnd:
		return "round_end"
	case StateGameEnd:
		return "game_end"
	default:
		return ""
	}
}
