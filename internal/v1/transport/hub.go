// Package transport owns the WebSocket surface and the room registry: it
// authenticates connections, resolves room codes, and fans broadcasts out to
// peer instances through the bus.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/audit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/auth"
	"github.com/playroom-live/playroom/backend/go/internal/v1/bus"
	"github.com/playroom-live/playroom/backend/go/internal/v1/config"
	"github.com/playroom-live/playroom/backend/go/internal/v1/dedup"
	"github.com/playroom-live/playroom/backend/go/internal/v1/game"
	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
	"github.com/playroom-live/playroom/backend/go/internal/v1/ratelimit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/replay"
	"github.com/playroom-live/playroom/backend/go/internal/v1/room"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/snapshot"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

const (
	// idleRoomGrace is how long an empty room survives before the janitor
	// closes it ahead of its TTL.
	idleRoomGrace = 10 * time.Minute

	janitorInterval = 5 * time.Minute

	createRoomAttempts = 10
)

// Hub is the central registry mapping room codes to live rooms. Many readers
// resolve codes per inbound connection; writers appear only on room create
// and destroy.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[types.RoomCode]*room.Room
	cancels map[types.RoomCode]context.CancelFunc

	validator types.TokenValidator
	busSvc    types.BusService
	limiter   *ratelimit.Limiter
	security  *audit.Log
	store     types.Store
	registry  *game.Registry
	cfg       *config.Config

	deduper   *dedup.Deduper
	replayBuf *replay.Buffer
	snapshots *snapshot.Store

	instanceID string
	baseCtx    context.Context
	baseCancel context.CancelFunc
	busWg      sync.WaitGroup
}

// HubOptions carries the hub's dependencies.
type HubOptions struct {
	Validator types.TokenValidator
	Bus       types.BusService
	Limiter   *ratelimit.Limiter
	Security  *audit.Log
	Store     types.Store
	Registry  *game.Registry
	Config    *config.Config
}

// NewHub creates a hub and the shared per-room subsystems (replay buffer,
// snapshot store, dedup cache).
func NewHub(opts HubOptions) *Hub {
	cfg := opts.Config
	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Hub{
		rooms:      make(map[types.RoomCode]*room.Room),
		cancels:    make(map[types.RoomCode]context.CancelFunc),
		validator:  opts.Validator,
		busSvc:     opts.Bus,
		limiter:    opts.Limiter,
		security:   opts.Security,
		store:      opts.Store,
		registry:   opts.Registry,
		cfg:        cfg,
		deduper:    dedup.New(time.Duration(cfg.DedupTTLMs) * time.Millisecond),
		replayBuf:  replay.New(cfg.ReplayBufferCapacity, time.Duration(cfg.ReplayEventTTLMs)*time.Millisecond),
		snapshots:  snapshot.New(cfg.SnapshotMaxPerRoom, true),
		instanceID: uuid.NewString(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

func (h *Hub) authenticate(token string) (*auth.CustomClaims, error) {
	return h.validator.ValidateToken(token)
}

// CreateRoom allocates a unique code and starts the room loop.
func (h *Hub) CreateRoom(ctx context.Context, hostID types.PlayerID, settings types.Settings) (room.Info, error) {
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = h.cfg.MaxPlayers
	}
	if settings.MaxPlayers < 5 || settings.MaxPlayers > 100 {
		return room.Info{}, fmt.Errorf("maxPlayers out of range")
	}

	h.mu.Lock()
	var code types.RoomCode
	for i := 0; ; i++ {
		if i >= createRoomAttempts {
			h.mu.Unlock()
			return room.Info{}, fmt.Errorf("could not allocate a unique room code")
		}
		candidate, err := generateRoomCode(h.cfg.RoomCodeLength)
		if err != nil {
			h.mu.Unlock()
			return room.Info{}, err
		}
		if _, taken := h.rooms[candidate]; !taken {
			code = candidate
			break
		}
	}

	rec := types.RoomRecord{
		Code:      code,
		HostID:    hostID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(h.cfg.RoomExpirationHours) * time.Hour),
		GameType:  types.GameType(settings.GameType),
		Settings:  settings,
	}
	r := h.spawnRoomLocked(rec)
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.UpsertRoom(ctx, rec); err != nil {
			logging.Warn(ctx, "Failed to persist new room", zap.String("roomCode", string(code)), zap.Error(err))
		}
	}

	h.security.Write(audit.Record{
		Action:   "room_created",
		Severity: audit.SeverityLow,
		RoomCode: string(code),
		ActorID:  string(hostID),
		Payload:  map[string]any{"maxPlayers": settings.MaxPlayers, "gameType": settings.GameType},
	})
	logging.Info(ctx, "Room created",
		zap.String("roomCode", string(code)),
		zap.String("hostId", string(hostID)),
		zap.Uint32("shard", shardID(code)))

	return r.Info(), nil
}

// spawnRoomLocked registers and starts a room. Caller holds h.mu.
func (h *Hub) spawnRoomLocked(rec types.RoomRecord) *room.Room {
	r := room.New(room.Options{
		Code:        rec.Code,
		HostID:      rec.HostID,
		Settings:    rec.Settings,
		ExpiresAt:   rec.ExpiresAt,
		Config:      h.cfg,
		Registry:    h.registry,
		Replay:      h.replayBuf,
		Snapshots:   h.snapshots,
		Deduper:     h.deduper,
		Limiter:     h.limiter,
		Security:    h.security,
		Store:       h.store,
		Bus:         h.busSvc,
		InstanceID:  h.instanceID,
		OnDestroyed: h.onRoomDestroyed,
	})

	roomCtx, cancel := context.WithCancel(h.baseCtx)
	h.rooms[rec.Code] = r
	h.cancels[rec.Code] = cancel

	go r.Run(roomCtx)
	h.subscribeRoom(roomCtx, r)

	metrics.ActiveRooms.Inc()
	return r
}

// Restore re-registers rooms persisted by a previous run.
func (h *Hub) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	records, err := h.store.LoadActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active rooms: %w", err)
	}

	h.mu.Lock()
	restored := 0
	for _, rec := range records {
		if _, exists := h.rooms[rec.Code]; exists {
			continue
		}
		h.spawnRoomLocked(rec)
		restored++
	}
	h.mu.Unlock()

	logging.Info(ctx, "Restored rooms from storage", zap.Int("count", restored))
	return nil
}

// subscribeRoom relays bus frames published by peer instances to the local
// clients of the room.
func (h *Hub) subscribeRoom(ctx context.Context, r *room.Room) {
	if h.busSvc == nil {
		return
	}
	code := r.Code()
	h.busSvc.Subscribe(ctx, string(code), &h.busWg, func(p bus.PubSubPayload) {
		if p.SenderID == h.instanceID {
			return
		}
		if len(p.Payload) == 0 {
			return
		}
		r.ForwardRaw([]byte(p.Payload))
	})
}

func (h *Hub) onRoomDestroyed(code types.RoomCode) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[code]; !ok {
		return
	}
	delete(h.rooms, code)
	if cancel, ok := h.cancels[code]; ok {
		cancel()
		delete(h.cancels, code)
	}
	metrics.ActiveRooms.Dec()
}

// RoomCount returns the number of live rooms on this instance.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetRoom resolves a room code.
func (h *Hub) GetRoom(code types.RoomCode) (*room.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[code]
	return r, ok
}

// ListRooms returns directory info for every room, or only a host's rooms
// when hostID is set.
func (h *Hub) ListRooms(hostID types.PlayerID) []room.Info {
	h.mu.RLock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	infos := make([]room.Info, 0, len(rooms))
	for _, r := range rooms {
		info := r.Info()
		if hostID != "" && info.HostID != hostID {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// DeleteRoom closes a room on the host's behalf.
func (h *Hub) DeleteRoom(code types.RoomCode, actor types.PlayerID) bool {
	r, ok := h.GetRoom(code)
	if !ok {
		return false
	}
	info := r.Info()
	if info.HostID != "" && info.HostID != actor {
		return false
	}
	h.security.Write(audit.Record{
		Action:   "room_deleted",
		Severity: audit.SeverityMedium,
		RoomCode: string(code),
		ActorID:  string(actor),
	})
	r.Close("deleted by host")
	return true
}

// RunJanitor closes rooms that have sat empty past the idle grace. Room
// expiry itself is handled inside each room loop; this only reclaims rooms
// nobody ever joined or everyone abandoned.
func (h *Hub) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, info := range h.ListRooms("") {
				if info.Players == 0 && time.Since(info.CreatedAt) > idleRoomGrace {
					if r, ok := h.GetRoom(info.Code); ok {
						logging.Info(ctx, "Closing idle room", zap.String("roomCode", string(info.Code)))
						r.Close("idle")
					}
				}
			}
		}
	}
}

// ServeWs authenticates the connection path and upgrades to WebSocket. The
// protocol handshake (token, role) happens on the first frame.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.limiter.CheckWebSocket(c) {
		return // response already written
	}

	code := types.RoomCode(strings.ToUpper(c.Param("code")))
	if !schema.IsValidRoomCode(string(code)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room code", "code": schema.ErrValidationFailed})
		return
	}

	r, ok := h.GetRoom(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "code": schema.ErrNotFound})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := upgradeWebSocket(c, allowedOrigins)
	if err != nil {
		return
	}

	client := &Client{
		conn:         conn,
		room:         r,
		hub:          h,
		role:         types.RoleUnknown,
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 256),
	}
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

// Shutdown gracefully closes all active rooms and bus subscriptions.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub - closing all active rooms...")

	h.mu.RLock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	for _, r := range rooms {
		r.Close("server shutting down")
	}
	h.baseCancel()

	done := make(chan struct{})
	go func() {
		h.busWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}
