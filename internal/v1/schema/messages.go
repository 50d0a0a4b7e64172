// Package schema defines the closed message grammar spoken on the wire.
//
// Every inbound frame is validated against these declarations before any
// effectful work happens. The same declarations are exportable as JSON Schema
// so external clients can generate their parsers.
package schema

import (
	"encoding/json"
	"time"
)

// Kind enumerates the closed set of message kinds.
type Kind string

const (
	KindHandshake      Kind = "handshake"
	KindIntent         Kind = "intent"
	KindIntentResult   Kind = "intent_result"
	KindEvent          Kind = "event"
	KindStateSync      Kind = "state_sync"
	KindAck            Kind = "ack"
	KindReplayRequest  Kind = "replay_request"
	KindReplayResponse Kind = "replay_response"
	KindFSMTransition  Kind = "fsm_transition"
	KindPlayerRoster   Kind = "player_roster"
	KindSettingsUpdate Kind = "settings_update"
	KindError          Kind = "error"
)

// RoomCodeAlphabet is the confusable-free alphabet room codes are drawn from.
// 0/O, 1/I/L are excluded so codes survive being read aloud.
const RoomCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Stable protocol error codes.
const (
	ErrValidationFailed = "VALIDATION_FAILED"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrNotFound         = "NOT_FOUND"
	ErrRateLimited      = "RATE_LIMITED"
	ErrConflict         = "CONFLICT"
	ErrDuplicate        = "DUPLICATE"
	ErrTimeout          = "TIMEOUT"
	ErrInternal         = "INTERNAL"
	ErrExpired          = "EXPIRED"
)

// Envelope is the common frame wrapping every message.
type Envelope struct {
	Type      Kind            `json:"type" validate:"required"`
	RoomCode  string          `json:"roomCode,omitempty" validate:"omitempty,roomcode"`
	Timestamp int64           `json:"timestamp" validate:"required,gt=0"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Connection roles carried in the handshake.
const (
	RolePlayer      = "player"
	RoleHostControl = "host-control"
	RoleHostDisplay = "host-display"
)

// HandshakePayload authenticates a connection and declares its role.
type HandshakePayload struct {
	Token          string  `json:"token" validate:"required"`
	Role           string  `json:"role" validate:"required,oneof=player host-control host-display"`
	PlayerName     string  `json:"playerName,omitempty" validate:"omitempty,min=1,max=64"`
	Avatar         string  `json:"avatar,omitempty" validate:"omitempty,max=64"`
	Language       string  `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	ReconnectToken string  `json:"reconnectToken,omitempty" validate:"omitempty,max=128"`
	LastVersion    *uint64 `json:"lastVersion,omitempty"`
}

// IntentPayload is a client's request to change room state.
type IntentPayload struct {
	ID             string         `json:"id" validate:"required,min=1,max=64"`
	Action         string         `json:"action" validate:"required,min=1,max=64"`
	Data           map[string]any `json:"data,omitempty"`
	Version        *uint64        `json:"version,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty" validate:"omitempty,max=64"`
}

// IntentResultPayload is the server's single reply to a submitted intent.
type IntentResultPayload struct {
	Success  bool   `json:"success"`
	IntentID string `json:"intentId" validate:"required"`
	EventID  string `json:"eventId,omitempty"`
	Version  uint64 `json:"version,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EventPayload is the authoritative record of one state change.
type EventPayload struct {
	ID        string         `json:"id" validate:"required"`
	Type      string         `json:"type" validate:"required"`
	Version   uint64         `json:"version" validate:"required"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	IntentID  string         `json:"intentId,omitempty"`
}

// Sync modes for state_sync broadcasts.
const (
	SyncModeFull  = "full"
	SyncModeDelta = "delta"
)

// StateSyncPayload carries either a full state or a delta against the last full.
type StateSyncPayload struct {
	Version uint64         `json:"version" validate:"required"`
	Mode    string         `json:"mode" validate:"required,oneof=full delta"`
	State   map[string]any `json:"state,omitempty"`
	Changed map[string]any `json:"changed,omitempty"`
	Deleted []string       `json:"deleted,omitempty"`
}

// AckPayload confirms receipt of a versioned broadcast.
type AckPayload struct {
	Version         uint64 `json:"version" validate:"required"`
	MessageType     string `json:"messageType,omitempty" validate:"omitempty,max=32"`
	ClientTimestamp int64  `json:"clientTimestamp,omitempty"`
}

// ReplayRequestPayload asks for catch-up from a version or a point in time.
type ReplayRequestPayload struct {
	FromVersion   *uint64 `json:"fromVersion,omitempty"`
	FromTimestamp *int64  `json:"fromTimestamp,omitempty"`
}

// SnapshotPayload is a complete state capture shipped to a client.
type SnapshotPayload struct {
	Version    uint64 `json:"version" validate:"required"`
	Timestamp  int64  `json:"timestamp"`
	Compressed bool   `json:"compressed"`
	Data       []byte `json:"data" validate:"required"`
}

// ReplayResponsePayload carries a snapshot plus the events after it.
type ReplayResponsePayload struct {
	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
	Events   []EventPayload   `json:"events"`
}

// FSMTransitionPayload announces a lifecycle transition to clients.
type FSMTransitionPayload struct {
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
	Reason    string `json:"reason,omitempty"`
	SoundHint string `json:"soundHint,omitempty"`
}

// RosterEntry is one player in the authoritative roster broadcast.
type RosterEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status"`
	Score  int    `json:"score"`
}

// PlayerRosterPayload is the authoritative player list.
type PlayerRosterPayload struct {
	HostID  string        `json:"hostId"`
	Players []RosterEntry `json:"players"`
}

// SettingsUpdatePayload broadcasts changed room settings.
type SettingsUpdatePayload struct {
	MaxPlayers int    `json:"maxPlayers" validate:"required,min=5,max=100"`
	GameType   string `json:"gameType,omitempty"`
	Language   string `json:"language,omitempty"`
}

// ErrorPayload carries a stable error code back to the offending client.
type ErrorPayload struct {
	Code    string `json:"code" validate:"required"`
	Message string `json:"message,omitempty"`
}

// NewEnvelope wraps a payload into an Envelope, stamping the current time.
// Marshal errors cannot happen for the payload types above, so they panic.
func NewEnvelope(kind Kind, roomCode string, payload any) *Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic("schema: unmarshalable payload: " + err.Error())
	}
	return &Envelope{
		Type:      kind,
		RoomCode:  roomCode,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
}

// Encode marshals the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
