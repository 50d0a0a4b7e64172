// Package room implements the authoritative room runtime: a single-writer
// loop that owns the players, the lifecycle machine, the hosted game plugin,
// the version counter, and every broadcast the room emits.
package room

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/playroom-live/playroom/backend/go/internal/v1/acks"
	"github.com/playroom-live/playroom/backend/go/internal/v1/audit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/config"
	"github.com/playroom-live/playroom/backend/go/internal/v1/dedup"
	"github.com/playroom-live/playroom/backend/go/internal/v1/fsm"
	"github.com/playroom-live/playroom/backend/go/internal/v1/game"
	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
	"github.com/playroom-live/playroom/backend/go/internal/v1/ratelimit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/replay"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/snapshot"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

const (
	// disconnectGrace is how long a dropped player keeps their seat before
	// the room removes them (and, for the host, hands the room off).
	disconnectGrace = 60 * time.Second

	housekeepInterval = 30 * time.Second

	taskQueueSize = 256

	defaultMaxRounds = 3
)

// Options wires a new room into the shared subsystems. Replay, snapshot and
// dedup stores are multi-room and owned by the hub; the ACK tracker is
// per-room.
type Options struct {
	Code       types.RoomCode
	HostID     types.PlayerID
	Settings   types.Settings
	ExpiresAt  time.Time
	Config     *config.Config
	Registry   *game.Registry
	Replay     *replay.Buffer
	Snapshots  *snapshot.Store
	Deduper    *dedup.Deduper
	Limiter    *ratelimit.Limiter
	Security   *audit.Log
	Store      types.Store
	Bus        types.BusService
	InstanceID string

	// OnDestroyed is called once, from the room loop, after cleanup.
	OnDestroyed func(code types.RoomCode)
}

// Room is the single-writer runtime for one room. All fields below the task
// queue are owned by the loop goroutine; external callers interact only
// through enqueued tasks.
type Room struct {
	code       types.RoomCode
	cfg        *config.Config
	registry   *game.Registry
	replay     *replay.Buffer
	snapshots  *snapshot.Store
	deduper    *dedup.Deduper
	limiter    *ratelimit.Limiter
	security   *audit.Log
	store      types.Store
	bus        types.BusService
	instanceID string

	tasks chan func()
	done  chan struct{}

	onDestroyed func(code types.RoomCode)

	// Loop-owned state.
	hostID        types.PlayerID
	settings      types.Settings
	createdAt     time.Time
	expiresAt     time.Time
	lifecycle     types.LifecycleState
	prePause      types.LifecycleState
	round         int
	maxRounds     int
	version       uint64
	lastMutation  time.Time
	players       map[types.PlayerID]*types.Player
	clients       map[types.PlayerID]types.ClientConn
	machine       *fsm.Machine
	plugin        game.Plugin
	tracker       *acks.Tracker
	timers        *timerSet
	paused        bool
	destroyed     bool
	removalCancel map[types.PlayerID]func()

	// Reconnect tokens issued to this room's players.
	reconnectTokens map[string]types.PlayerID

	// Sync engine state.
	lastFullState      map[string]any
	lastBroadcastState map[string]any
	deltasSinceFull    int
	lastSnapshotAt     uint64
	fullGap            *rate.Limiter
	missedSweeps       map[types.PlayerID]int
}

// New creates a room. The caller must start Run in its own goroutine.
func New(opts Options) *Room {
	cfg := opts.Config
	gap := time.Duration(cfg.MinFullBroadcastGapMs) * time.Millisecond

	r := &Room{
		code:            opts.Code,
		cfg:             cfg,
		registry:        opts.Registry,
		replay:          opts.Replay,
		snapshots:       opts.Snapshots,
		deduper:         opts.Deduper,
		limiter:         opts.Limiter,
		security:        opts.Security,
		store:           opts.Store,
		bus:             opts.Bus,
		instanceID:      opts.InstanceID,
		tasks:           make(chan func(), taskQueueSize),
		done:            make(chan struct{}),
		onDestroyed:     opts.OnDestroyed,
		hostID:          opts.HostID,
		settings:        opts.Settings,
		createdAt:       time.Now(),
		expiresAt:       opts.ExpiresAt,
		lifecycle:       types.LifecycleLobby,
		maxRounds:       defaultMaxRounds,
		players:         make(map[types.PlayerID]*types.Player),
		clients:         make(map[types.PlayerID]types.ClientConn),
		machine:         fsm.New(),
		tracker:         acks.NewTracker(time.Duration(cfg.AckTimeoutMs) * time.Millisecond),
		removalCancel:   make(map[types.PlayerID]func()),
		reconnectTokens: make(map[string]types.PlayerID),
		fullGap:         rate.NewLimiter(rate.Every(gap), 1),
		missedSweeps:    make(map[types.PlayerID]int),
	}
	r.timers = newTimerSet(r)
	return r
}

// Code returns the room code.
func (r *Room) Code() types.RoomCode {
	return r.code
}

// Run drives the room loop until the context is cancelled or the room is
// destroyed. Tasks are processed to completion, one at a time.
func (r *Room) Run(ctx context.Context) {
	r.restoreTokens(ctx)

	scan := time.NewTicker(time.Second / time.Duration(r.cfg.SyncScanHz))
	defer scan.Stop()
	housekeep := time.NewTicker(housekeepInterval)
	defer housekeep.Stop()

	for {
		select {
		case <-ctx.Done():
			r.destroy(ctx, "shutdown")
			return
		case <-r.done:
			return
		case task := <-r.tasks:
			task()
			if r.destroyed {
				return
			}
		case <-scan.C:
			r.scanTick(ctx)
			if r.destroyed {
				return
			}
		case <-housekeep.C:
			r.housekeepTick(ctx)
			if r.destroyed {
				return
			}
		}
	}
}

func (r *Room) restoreTokens(ctx context.Context) {
	if r.store == nil {
		return
	}
	tokens, err := r.store.LoadPlayerTokens(ctx, r.code)
	if err != nil {
		logging.Warn(ctx, "Failed to restore reconnect tokens",
			zap.String("roomCode", string(r.code)), zap.Error(err))
		return
	}
	for _, tok := range tokens {
		r.reconnectTokens[tok.Token] = tok.PlayerID
	}
}

// Do enqueues a task onto the room loop. Returns false when the room is gone.
func (r *Room) Do(task func()) bool {
	select {
	case r.tasks <- task:
		return true
	case <-r.done:
		return false
	}
}

// Close destroys the room from outside the loop.
func (r *Room) Close(reason string) {
	r.Do(func() { r.destroy(context.Background(), reason) })
}

// Route dispatches a decoded inbound frame. Called from the client's read
// goroutine; everything effectful is enqueued onto the room loop.
func (r *Room) Route(ctx context.Context, client types.ClientConn, env *schema.Envelope, payload any) {
	action := string(env.Type)
	if p, ok := payload.(*schema.IntentPayload); ok {
		action = p.Action
	}

	if allowed, tier := r.limiter.Check(ctx, string(client.GetID()), string(r.code), action); !allowed {
		client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
			Code:    schema.ErrRateLimited,
			Message: "rate limit exceeded (" + tier + ")",
		}))
		r.security.Write(audit.Record{
			Action:   "rate_limit_trip",
			Severity: audit.SeverityMedium,
			RoomCode: string(r.code),
			ActorID:  string(client.GetID()),
			Payload:  map[string]any{"tier": tier, "action": action},
		})
		return
	}

	switch p := payload.(type) {
	case *schema.IntentPayload:
		r.Do(func() { r.handleIntent(ctx, client, p) })
	case *schema.AckPayload:
		r.Do(func() { r.handleAck(client, p) })
	case *schema.ReplayRequestPayload:
		r.Do(func() { r.handleReplayRequest(ctx, client, p) })
	case *schema.HandshakePayload:
		client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
			Code:    schema.ErrValidationFailed,
			Message: "handshake already completed",
		}))
	default:
		client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
			Code:    schema.ErrValidationFailed,
			Message: "unsupported message kind " + string(env.Type),
		}))
	}
}

// HandleClientConnect admits an authenticated client into the room.
func (r *Room) HandleClientConnect(client types.ClientConn, hs *schema.HandshakePayload) {
	r.Do(func() { r.connect(context.Background(), client, hs) })
}

func (r *Room) connect(ctx context.Context, client types.ClientConn, hs *schema.HandshakePayload) {
	if time.Now().After(r.expiresAt) {
		client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
			Code:    schema.ErrExpired,
			Message: "room has expired",
		}))
		client.Disconnect()
		return
	}

	id := client.GetID()

	// A reconnect token reclaims the dropped player's seat under the new
	// connection identity.
	if hs.ReconnectToken != "" {
		if oldID, ok := r.reconnectTokens[hs.ReconnectToken]; ok && oldID != id {
			r.migratePlayer(oldID, id)
			delete(r.reconnectTokens, hs.ReconnectToken)
		}
	}

	// Same identity connecting twice: the newer connection wins.
	if existing, ok := r.clients[id]; ok && existing != client {
		existing.Disconnect()
	}

	role := client.GetRole()
	if role == types.RoleHostControl && r.hostID == "" {
		r.hostID = id
	}

	if cancel, ok := r.removalCancel[id]; ok {
		cancel()
		delete(r.removalCancel, id)
	}

	player, rejoining := r.players[id]
	if !rejoining {
		if role == types.RolePlayer && len(r.players) >= r.settings.MaxPlayers {
			client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
				Code:    schema.ErrValidationFailed,
				Message: "room is full",
			}))
			client.Disconnect()
			return
		}
		player = &types.Player{
			ID:       id,
			Name:     client.GetDisplayName(),
			Avatar:   hs.Avatar,
			JoinedAt: time.Now(),
			Language: hs.Language,
		}
		r.players[id] = player
	}
	player.Status = types.StatusConnected
	player.LastSeen = time.Now()
	if role == types.RoleHostDisplay {
		player.Status = types.StatusSpectating
	}

	r.clients[id] = client
	metrics.RoomPlayers.WithLabelValues(string(r.code)).Set(float64(len(r.players)))

	token := r.issueReconnectToken(ctx, id)

	logging.Info(ctx, "Client joined room",
		zap.String("roomCode", string(r.code)),
		zap.String("playerId", string(id)),
		zap.String("role", string(role)))

	r.broadcastRoster()
	r.syncToPlayer(id, token)
}

func (r *Room) issueReconnectToken(ctx context.Context, id types.PlayerID) string {
	token := uuid.NewString()
	r.reconnectTokens[token] = id
	if r.store != nil {
		tok := types.PlayerToken{Token: token, RoomCode: r.code, PlayerID: id, IssuedAt: time.Now()}
		if err := r.store.SavePlayerToken(ctx, tok); err != nil {
			logging.Warn(ctx, "Failed to persist reconnect token",
				zap.String("roomCode", string(r.code)), zap.Error(err))
		}
	}
	return token
}

func (r *Room) migratePlayer(oldID, newID types.PlayerID) {
	player, ok := r.players[oldID]
	if !ok {
		return
	}
	delete(r.players, oldID)
	player.ID = newID
	r.players[newID] = player

	if old, ok := r.clients[oldID]; ok {
		delete(r.clients, oldID)
		old.Disconnect()
	}
	if cancel, ok := r.removalCancel[oldID]; ok {
		cancel()
		delete(r.removalCancel, oldID)
	}
	r.tracker.Forget(string(oldID))
	if r.hostID == oldID {
		r.hostID = newID
	}
	if r.plugin != nil {
		r.plugin.MigratePlayer(oldID, newID)
	}
}

// HandleClientDisconnect marks the player disconnected and starts the grace
// timer that eventually frees the seat.
func (r *Room) HandleClientDisconnect(client types.ClientConn) {
	r.Do(func() { r.disconnect(client) })
}

func (r *Room) disconnect(client types.ClientConn) {
	id := client.GetID()
	if current, ok := r.clients[id]; !ok || current != client {
		return // superseded by a takeover connection
	}
	delete(r.clients, id)
	r.tracker.Forget(string(id))
	delete(r.missedSweeps, id)

	player, ok := r.players[id]
	if !ok {
		return
	}
	player.Status = types.StatusDisconnected
	player.LastSeen = time.Now()

	r.broadcastRoster()

	cancel := r.timers.Schedule(disconnectGrace, func() { r.removeAfterGrace(id) })
	r.removalCancel[id] = cancel
}

func (r *Room) removeAfterGrace(id types.PlayerID) {
	delete(r.removalCancel, id)
	player, ok := r.players[id]
	if !ok || player.Status != types.StatusDisconnected {
		return
	}
	delete(r.players, id)
	metrics.RoomPlayers.WithLabelValues(string(r.code)).Set(float64(len(r.players)))

	if r.hostID == id {
		r.promoteNewHost()
	}
	r.broadcastRoster()
}

// promoteNewHost hands the room to the earliest-joined connected player.
func (r *Room) promoteNewHost() {
	candidates := make([]*types.Player, 0, len(r.players))
	for id, p := range r.players {
		if _, connected := r.clients[id]; connected && p.Status == types.StatusConnected {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		r.hostID = ""
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].JoinedAt.Before(candidates[j].JoinedAt) })
	r.hostID = candidates[0].ID

	r.security.Write(audit.Record{
		Action:   "host_handoff",
		Severity: audit.SeverityMedium,
		RoomCode: string(r.code),
		ActorID:  string(r.hostID),
		Payload:  map[string]any{"reason": "host_disconnected"},
	})
}

func (r *Room) housekeepTick(ctx context.Context) {
	now := time.Now()
	if now.After(r.expiresAt) {
		r.destroy(ctx, "expired")
		return
	}
	r.replay.Sweep(now)
	r.deduper.Sweep()
}

// destroy tears down every subsystem the room owns and notifies clients.
// Idempotent; only the first call does work.
func (r *Room) destroy(ctx context.Context, reason string) {
	if r.destroyed {
		return
	}
	r.destroyed = true

	for _, client := range r.clients {
		client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
			Code:    schema.ErrExpired,
			Message: "room closed: " + reason,
		}))
		client.Disconnect()
	}

	if r.plugin != nil {
		r.plugin.Cleanup()
		r.plugin = nil
	}
	r.timers.CancelAll()
	r.tracker.Clear()
	r.replay.Clear(r.code)
	r.snapshots.Clear(r.code)
	r.deduper.ClearRoom(string(r.code))
	metrics.RoomPlayers.DeleteLabelValues(string(r.code))

	if r.store != nil {
		if err := r.store.DeleteRoom(ctx, r.code); err != nil {
			logging.Warn(ctx, "Failed to delete room record",
				zap.String("roomCode", string(r.code)), zap.Error(err))
		}
	}

	logging.Info(ctx, "Room destroyed",
		zap.String("roomCode", string(r.code)),
		zap.String("reason", reason),
		zap.Uint64("finalVersion", r.version))

	close(r.done)
	if r.onDestroyed != nil {
		r.onDestroyed(r.code)
	}
}

// Info is a read-only summary for the HTTP directory endpoints.
type Info struct {
	Code      types.RoomCode       `json:"code"`
	HostID    types.PlayerID       `json:"hostId"`
	Players   int                  `json:"players"`
	Lifecycle types.LifecycleState `json:"lifecycle"`
	FSMState  fsm.State            `json:"fsmState"`
	Version   uint64               `json:"version"`
	GameType  string               `json:"gameType,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

// Snapshot of the room's public info, fetched through the loop. Returns the
// zero Info when the room is shutting down.
func (r *Room) Info() Info {
	reply := make(chan Info, 1)
	ok := r.Do(func() {
		reply <- Info{
			Code:      r.code,
			HostID:    r.hostID,
			Players:   len(r.players),
			Lifecycle: r.lifecycle,
			FSMState:  r.machine.Current(),
			Version:   r.version,
			GameType:  r.settings.GameType,
			CreatedAt: r.createdAt,
			ExpiresAt: r.expiresAt,
		}
	})
	if !ok {
		return Info{Code: r.code}
	}
	select {
	case info := <-reply:
		return info
	case <-r.done:
		return Info{Code: r.code}
	case <-time.After(time.Second):
		return Info{Code: r.code}
	}
}

func (r *Room) connectedIDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, string(id))
	}
	return ids
}
