// Package game defines the plugin contract every hosted game implements,
// plus the registry mapping game types to plugin factories.
package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/playroom-live/playroom/backend/go/internal/v1/fsm"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// TimerScheduler lets plugins schedule work that re-enters the room's task
// queue when it fires. Plugin code never runs outside that queue.
type TimerScheduler interface {
	// Schedule runs fn on the room loop after d. The returned cancel is safe
	// to call more than once.
	Schedule(d time.Duration, fn func()) (cancel func())
}

// Context is the read-only view handed to plugin hooks. Plugins must not
// mutate the room through it; returning a successful IntentResult is the only
// path to a version bump.
type Context struct {
	RoomCode  types.RoomCode
	State     map[string]any
	Players   map[types.PlayerID]*types.Player
	HostID    types.PlayerID
	GameType  types.GameType
	FSMState  fsm.State
	Round     int
	MaxRounds int
	Timers    TimerScheduler
}

// IntentResult is a plugin's verdict on an intent. A successful result with a
// non-empty EventID instructs the room to construct and apply the event.
type IntentResult struct {
	Success   bool           `json:"success"`
	IntentID  string         `json:"intentId"`
	EventID   string         `json:"eventId,omitempty"`
	EventType string         `json:"eventType,omitempty"`
	EventData map[string]any `json:"eventData,omitempty"`
	ErrorCode string         `json:"errorCode,omitempty"`
	ErrorMsg  string         `json:"errorMsg,omitempty"`
}

// Plugin is the contract between the room runtime and a game implementation.
// All hooks run on the room's single-writer loop.
type Plugin interface {
	// Init is called once per game start.
	Init(ctx *Context)

	// Validate performs structural and rules validation of an intent. The
	// returned reason is surfaced to the submitter on failure.
	Validate(intent *types.Intent, ctx *Context) (bool, string)

	// OnIntent executes an intent. Must be deterministic given (intent, ctx):
	// event ids are derived from the intent id so retries resolve identically.
	OnIntent(intent *types.Intent, ctx *Context) *IntentResult

	// ApplyEvent applies an event to in-memory game state. Must be idempotent
	// on repeat: replayed events cannot double-apply.
	ApplyEvent(event *types.Event, ctx *Context)

	// SerializeState produces the view state. A non-empty forPlayer yields a
	// personalized view (e.g. the correct answer stays hidden from players).
	SerializeState(ctx *Context, forPlayer types.PlayerID) map[string]any

	// RenderDescriptor returns an opaque layout hint consumed by displays.
	RenderDescriptor() map[string]any

	// MigratePlayer moves per-player game data when a reconnecting client is
	// assigned a new id.
	MigratePlayer(oldID, newID types.PlayerID)

	// Cleanup releases timers and references. Called on game end and on room
	// destruction.
	Cleanup()
}

// Factory constructs a fresh plugin instance for one room.
type Factory func() Plugin

// Registry maps game types to plugin factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[types.GameType]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[types.GameType]Factory)}
}

// Register adds or replaces the factory for a game type.
func (r *Registry) Register(gt types.GameType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[gt] = f
}

// Create instantiates a plugin for the game type.
func (r *Registry) Create(gt types.GameType) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[gt]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown game type %q", gt)
	}
	return f(), nil
}

// Types lists the registered game types.
func (r *Registry) Types() []types.GameType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.GameType, 0, len(r.factories))
	for gt := range r.factories {
		out = append(out, gt)
	}
	return out
}

// DefaultRegistry returns a registry with the built-in games registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(GameTypeQuiz, func() Plugin { return NewQuiz(DefaultQuizQuestions()) })
	return r
}
