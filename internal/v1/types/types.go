package types

import (
	"context"
	"sync"
	"time"

	"github.com/playroom-live/playroom/backend/go/internal/v1/auth"
	"github.com/playroom-live/playroom/backend/go/internal/v1/bus"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
)

// --- Core Domain Types ---

// RoomCode identifies a room; short uppercase code from a confusable-free alphabet.
type RoomCode string

// PlayerID uniquely identifies a player connection subject.
type PlayerID string

// GameType tags which game a room is currently running.
type GameType string

// Role is the connection-level role carried by the handshake.
type Role string

const (
	RolePlayer      Role = "player"
	RoleHostControl Role = "host-control"
	RoleHostDisplay Role = "host-display"
	RoleUnknown     Role = "unknown"
)

// PlayerStatus tracks presence of a player inside a room.
type PlayerStatus string

const (
	StatusConnected    PlayerStatus = "connected"
	StatusDisconnected PlayerStatus = "disconnected"
	StatusSpectating   PlayerStatus = "spectating"
)

// LifecycleState is the high-level game lifecycle on the Room; the fine-grained
// FSM state is deterministically projected from it.
type LifecycleState string

const (
	LifecycleLobby    LifecycleState = "lobby"
	LifecycleStarting LifecycleState = "starting"
	LifecyclePlaying  LifecycleState = "playing"
	LifecycleRoundEnd LifecycleState = "round_end"
	LifecycleGameEnd  LifecycleState = "game_end"
	LifecyclePaused   LifecycleState = "paused"
)

// Player is a member of a room. The room owns these; players refer back to
// their room by code only.
type Player struct {
	ID       PlayerID     `json:"id"`
	Name     string       `json:"name"`
	Avatar   string       `json:"avatar,omitempty"`
	Status   PlayerStatus `json:"status"`
	Score    int          `json:"score"`
	JoinedAt time.Time    `json:"joinedAt"`
	LastSeen time.Time    `json:"lastSeen"`
	Language string       `json:"language,omitempty"`
}

// Settings are the per-room knobs enforced by the runtime.
type Settings struct {
	MaxPlayers int    `json:"maxPlayers"`
	GameType   string `json:"gameType,omitempty"`
	Language   string `json:"language,omitempty"`
}

// IntentStatus tracks an intent through the pipeline.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentApproved  IntentStatus = "approved"
	IntentRejected  IntentStatus = "rejected"
	IntentProcessed IntentStatus = "processed"
)

// Intent is a client's request to change state. Immutable after submission;
// only the intent pipeline mutates Status.
type Intent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	PlayerID  PlayerID       `json:"playerId"`
	RoomCode  RoomCode       `json:"roomCode"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Version   *uint64        `json:"version,omitempty"`
	Status    IntentStatus   `json:"status"`
}

// Event is the authoritative, ordered record of a state change. Version is the
// room version after applying the event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	RoomCode  RoomCode       `json:"roomCode"`
	Timestamp time.Time      `json:"timestamp"`
	Version   uint64         `json:"version"`
	Data      map[string]any `json:"data,omitempty"`
	IntentID  string         `json:"intentId,omitempty"`
}

// Snapshot is a complete capture of room+game state at a version. Supersedes
// all events at versions <= Version for recovery.
type Snapshot struct {
	RoomCode   RoomCode  `json:"roomCode"`
	Version    uint64    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	Compressed bool      `json:"compressed"`
	Data       []byte    `json:"data"`
}

// RoomRecord is the persisted shape of a room for the storage contract.
type RoomRecord struct {
	Code      RoomCode  `json:"code"`
	HostID    PlayerID  `json:"hostId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	GameType  GameType  `json:"gameType,omitempty"`
	Settings  Settings  `json:"settings"`
}

// PlayerToken lets a dropped player reclaim their seat on reconnect.
type PlayerToken struct {
	Token    string    `json:"token"`
	RoomCode RoomCode  `json:"roomCode"`
	PlayerID PlayerID  `json:"playerId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for JWT token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// BusService defines the interface for distributed pub/sub messaging.
type BusService interface {
	Publish(ctx context.Context, roomCode string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Ping(ctx context.Context) error
	Close() error
}

// Store is the narrow persistence contract. The core must function fully
// in-memory when this is a no-op.
type Store interface {
	LoadActiveRooms(ctx context.Context) ([]RoomRecord, error)
	UpsertRoom(ctx context.Context, rec RoomRecord) error
	DeleteRoom(ctx context.Context, code RoomCode) error
	LoadPlayerTokens(ctx context.Context, code RoomCode) ([]PlayerToken, error)
	SavePlayerToken(ctx context.Context, tok PlayerToken) error
}

// ClientConn defines the behavior the room needs from a connected client.
// This keeps the room package independent of the transport package.
type ClientConn interface {
	GetID() PlayerID
	GetDisplayName() string
	GetRole() Role
	SetRole(Role)
	Send(env *schema.Envelope)
	SendRaw(data []byte)
	Disconnect()
}

// Roomer defines the room operations the transport layer needs.
type Roomer interface {
	Code() RoomCode
	Route(ctx context.Context, client ClientConn, env *schema.Envelope, payload any)
	HandleClientConnect(client ClientConn, hs *schema.HandshakePayload)
	HandleClientDisconnect(client ClientConn)
}
