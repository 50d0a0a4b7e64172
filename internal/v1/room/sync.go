package room

import (
	"context"
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/audit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/delta"
	"github.com/playroom-live/playroom/backend/go/internal/v1/fsm"
	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// ackTimeoutEscalation is how many consecutive sweeps may flag the same
// recipient before the security log hears about it.
const ackTimeoutEscalation = 3

// assembleState builds the authoritative view state: room-level facts plus
// the plugin's serialized game state, personalized when forPlayer is set.
func (r *Room) assembleState(forPlayer types.PlayerID) map[string]any {
	state := map[string]any{
		"room": map[string]any{
			"code":      string(r.code),
			"hostId":    string(r.hostID),
			"lifecycle": string(r.lifecycle),
			"fsm":       string(r.machine.Current()),
			"round":     r.round,
			"maxRounds": r.maxRounds,
			"gameType":  r.settings.GameType,
			"paused":    r.paused,
		},
	}
	if r.plugin != nil {
		pctx := r.pluginContext()
		state["game"] = r.plugin.SerializeState(pctx, forPlayer)
		state["render"] = r.plugin.RenderDescriptor()
	}
	return state
}

// broadcastSync is the sole emitter of state_sync. Critical broadcasts are
// always full and bypass the minimum full-broadcast gap; otherwise a delta
// against the last full state is preferred.
func (r *Room) broadcastSync(critical bool) {
	if len(r.clients) == 0 {
		r.lastBroadcastState = r.assembleState("")
		return
	}

	state := r.assembleState("")

	full := critical || r.lastFullState == nil || r.deltasSinceFull >= r.cfg.SnapshotIntervalVersions
	if full && !critical && r.lastFullState != nil && !r.fullGap.Allow() {
		full = false // too soon since the last full, demote to delta
	}

	var payload *schema.StateSyncPayload
	if full {
		payload = &schema.StateSyncPayload{
			Version: r.version,
			Mode:    schema.SyncModeFull,
			State:   state,
		}
		r.lastFullState = state
		r.deltasSinceFull = 0
	} else {
		d := delta.Diff(r.lastFullState, state)
		if d.Empty() && !critical {
			r.lastBroadcastState = state
			return
		}
		payload = &schema.StateSyncPayload{
			Version: r.version,
			Mode:    schema.SyncModeDelta,
			Changed: d.Changed,
			Deleted: d.Deleted,
		}
		r.deltasSinceFull++
	}
	r.lastBroadcastState = state

	env := schema.NewEnvelope(schema.KindStateSync, string(r.code), payload)
	r.broadcast(env)
	r.tracker.Register(r.version, r.connectedIDs())
	metrics.SyncBroadcasts.WithLabelValues(payload.Mode).Inc()
}

// syncToPlayer sends a personalized full state to one client on join. The
// session block carries the reconnect token; it never enters broadcast state.
func (r *Room) syncToPlayer(id types.PlayerID, reconnectToken string) {
	client, ok := r.clients[id]
	if !ok {
		return
	}

	state := r.assembleState(id)
	state["session"] = map[string]any{
		"playerId":       string(id),
		"reconnectToken": reconnectToken,
	}

	env := schema.NewEnvelope(schema.KindStateSync, string(r.code), &schema.StateSyncPayload{
		Version: r.version,
		Mode:    schema.SyncModeFull,
		State:   state,
	})
	client.Send(env)
	if r.version > 0 {
		r.tracker.Register(r.version, []string{string(id)})
	}
	metrics.SyncBroadcasts.WithLabelValues(schema.SyncModeFull).Inc()
}

// scanTick runs at the configured scan rate: it sweeps overdue ACKs into
// targeted resyncs and broadcasts when the observable state drifted without a
// version bump (timer-driven plugin changes).
func (r *Room) scanTick(ctx context.Context) {
	targets := r.tracker.Sweep(time.Now())
	for recipient, versions := range targets {
		id := types.PlayerID(recipient)
		r.missedSweeps[id]++
		if r.missedSweeps[id] >= ackTimeoutEscalation {
			r.security.Write(audit.Record{
				Action:   "repeated_ack_timeout",
				Severity: audit.SeverityMedium,
				RoomCode: string(r.code),
				ActorID:  recipient,
				Payload:  map[string]any{"missedVersions": versions},
			})
			r.missedSweeps[id] = 0
		}
		r.resyncClient(ctx, id, "ack_timeout")
	}

	if r.paused || len(r.clients) == 0 {
		return
	}
	state := r.assembleState("")
	if !reflect.DeepEqual(state, r.lastBroadcastState) {
		r.broadcastSync(false)
	}
}

func (r *Room) handleAck(client types.ClientConn, p *schema.AckPayload) {
	var clientSent time.Time
	if p.ClientTimestamp > 0 {
		clientSent = time.UnixMilli(p.ClientTimestamp)
	}
	r.tracker.Ack(p.Version, string(client.GetID()), clientSent)
	delete(r.missedSweeps, client.GetID())
}

// handleReplayRequest answers with the closest snapshot at or before the
// requested point plus the events after it, up to current.
func (r *Room) handleReplayRequest(ctx context.Context, client types.ClientConn, p *schema.ReplayRequestPayload) {
	target := r.version
	switch {
	case p.FromVersion != nil:
		target = *p.FromVersion
	case p.FromTimestamp != nil:
		target = r.versionAtTimestamp(time.UnixMilli(*p.FromTimestamp))
	}

	metrics.Resyncs.WithLabelValues("replay_request").Inc()
	r.sendCatchUp(ctx, client, target)
}

// versionAtTimestamp maps a point in time to the last version at or before it.
func (r *Room) versionAtTimestamp(t time.Time) uint64 {
	var version uint64
	for _, ev := range r.replay.All(r.code) {
		if ev.Timestamp.After(t) {
			break
		}
		version = ev.Version
	}
	return version
}

// resyncClient pushes a snapshot + replay catch-up at a lagging client.
func (r *Room) resyncClient(ctx context.Context, id types.PlayerID, cause string) {
	client, ok := r.clients[id]
	if !ok {
		return
	}
	metrics.Resyncs.WithLabelValues(cause).Inc()
	logging.Info(ctx, "Resyncing client",
		zap.String("roomCode", string(r.code)),
		zap.String("playerId", string(id)),
		zap.String("cause", cause))
	r.sendCatchUp(ctx, client, r.version)
}

func (r *Room) sendCatchUp(ctx context.Context, client types.ClientConn, target uint64) {
	snap, ok := r.snapshots.ClosestAtOrBelow(r.code, target)
	if !ok {
		// Nothing captured yet: take one now so the reply always has a base.
		snap = r.captureSnapshot(ctx, "resync")
	}

	payload := &schema.ReplayResponsePayload{Events: []schema.EventPayload{}}
	var since uint64
	if snap != nil {
		since = snap.Version
		payload.Snapshot = &schema.SnapshotPayload{
			Version:    snap.Version,
			Timestamp:  snap.Timestamp.UnixMilli(),
			Compressed: snap.Compressed,
			Data:       snap.Data,
		}
	}
	for _, ev := range r.replay.After(r.code, since) {
		payload.Events = append(payload.Events, schema.EventPayload{
			ID:        ev.ID,
			Type:      ev.Type,
			Version:   ev.Version,
			Timestamp: ev.Timestamp.UnixMilli(),
			Data:      ev.Data,
			IntentID:  ev.IntentID,
		})
	}

	client.Send(schema.NewEnvelope(schema.KindReplayResponse, string(r.code), payload))
}

func (r *Room) captureSnapshot(ctx context.Context, trigger string) *types.Snapshot {
	snap, err := r.snapshots.Capture(r.code, r.version, r.assembleState(""), trigger)
	if err != nil {
		logging.Error(ctx, "Snapshot capture failed",
			zap.String("roomCode", string(r.code)), zap.Error(err))
		return nil
	}
	r.lastSnapshotAt = r.version
	return snap
}

// transitionTo steps the lifecycle machine and announces the transition.
// Invalid edges are a no-op returning false.
func (r *Room) transitionTo(to fsm.State, reason string) bool {
	from := r.machine.Current()
	if !r.machine.TransitionTo(to, reason) {
		return false
	}
	r.broadcast(schema.NewEnvelope(schema.KindFSMTransition, string(r.code), &schema.FSMTransitionPayload{
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		SoundHint: fsm.SoundHint(to),
	}))
	return true
}

func (r *Room) broadcastEvent(ev *types.Event) {
	r.broadcast(schema.NewEnvelope(schema.KindEvent, string(r.code), &schema.EventPayload{
		ID:        ev.ID,
		Type:      ev.Type,
		Version:   ev.Version,
		Timestamp: ev.Timestamp.UnixMilli(),
		Data:      ev.Data,
		IntentID:  ev.IntentID,
	}))
}

// broadcastRoster emits the authoritative player list, host first, then by
// join time.
func (r *Room) broadcastRoster() {
	entries := make([]schema.RosterEntry, 0, len(r.players))
	for _, p := range r.players {
		entries = append(entries, schema.RosterEntry{
			ID:     string(p.ID),
			Name:   p.Name,
			Avatar: p.Avatar,
			Status: string(p.Status),
			Score:  p.Score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ID == string(r.hostID) {
			return true
		}
		if entries[j].ID == string(r.hostID) {
			return false
		}
		return entries[i].Name < entries[j].Name
	})

	r.broadcast(schema.NewEnvelope(schema.KindPlayerRoster, string(r.code), &schema.PlayerRosterPayload{
		HostID:  string(r.hostID),
		Players: entries,
	}))
}

func (r *Room) broadcastSettings() {
	r.broadcast(schema.NewEnvelope(schema.KindSettingsUpdate, string(r.code), &schema.SettingsUpdatePayload{
		MaxPlayers: r.settings.MaxPlayers,
		GameType:   r.settings.GameType,
		Language:   r.settings.Language,
	}))
}

// broadcast sends an envelope to every attached client and fans it out to
// peer instances through the bus.
func (r *Room) broadcast(env *schema.Envelope) {
	for _, client := range r.clients {
		client.Send(env)
	}
	if r.bus != nil {
		if err := r.bus.Publish(context.Background(), string(r.code), "broadcast", env, r.instanceID); err != nil {
			logging.Warn(context.Background(), "Bus publish failed",
				zap.String("roomCode", string(r.code)), zap.Error(err))
		}
	}
}

// ForwardRaw relays a frame that originated on a peer instance to the local
// clients of this room.
func (r *Room) ForwardRaw(data []byte) {
	r.Do(func() {
		for _, client := range r.clients {
			client.SendRaw(data)
		}
	})
}
