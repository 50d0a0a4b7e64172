package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/audit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/fsm"
	"github.com/playroom-live/playroom/backend/go/internal/v1/game"
	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// Host-scoped actions handled by the room itself rather than the plugin.
var hostActions = map[string]bool{
	"start_game":      true,
	"end_game":        true,
	"pause_game":      true,
	"resume_game":     true,
	"kick_player":     true,
	"update_settings": true,
	"reset_room":      true,
}

// handleIntent runs the intent pipeline. Every schema-valid intent produces
// exactly one intent_result to the submitter.
func (r *Room) handleIntent(ctx context.Context, client types.ClientConn, p *schema.IntentPayload) {
	start := time.Now()
	defer func() {
		metrics.IntentProcessingDuration.WithLabelValues(p.Action).Observe(time.Since(start).Seconds())
	}()

	id := client.GetID()

	if time.Now().After(r.expiresAt) {
		client.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
			Code:    schema.ErrExpired,
			Message: "room has expired",
		}))
		client.Disconnect()
		return
	}

	if _, member := r.players[id]; !member {
		r.rejectIntent(client, p, schema.ErrNotFound, "not a member of this room", "rejected")
		return
	}

	if prior := r.lookupDuplicate(p); prior != nil {
		client.Send(schema.NewEnvelope(schema.KindIntentResult, string(r.code), prior))
		metrics.IntentsProcessed.WithLabelValues(p.Action, "duplicate").Inc()
		return
	}

	if hostActions[p.Action] {
		if id != r.hostID || client.GetRole() != types.RoleHostControl {
			r.rejectIntent(client, p, schema.ErrUnauthorized, "host-only action", "rejected")
			r.security.Write(audit.Record{
				Action:   "unauthorized_host_action",
				Severity: audit.SeverityMedium,
				RoomCode: string(r.code),
				ActorID:  string(id),
				Payload:  map[string]any{"action": p.Action},
			})
			return
		}
		r.handleHostCommand(ctx, client, p)
		return
	}

	if p.Version != nil && *p.Version != r.version {
		r.rejectIntent(client, p, schema.ErrConflict, "stale version, resyncing", "conflict")
		r.resyncClient(ctx, id, "conflict")
		return
	}

	if r.plugin == nil {
		r.rejectIntent(client, p, schema.ErrValidationFailed, "no active game", "rejected")
		return
	}
	if r.paused {
		r.rejectIntent(client, p, schema.ErrValidationFailed, "game is paused", "rejected")
		return
	}

	intent := &types.Intent{
		ID:        p.ID,
		Type:      string(schema.KindIntent),
		PlayerID:  id,
		RoomCode:  r.code,
		Action:    p.Action,
		Data:      p.Data,
		Timestamp: time.Now(),
		Version:   p.Version,
		Status:    types.IntentPending,
	}

	pctx := r.pluginContext()
	pctx.State = r.plugin.SerializeState(pctx, "")

	ok, reason := r.safeValidate(ctx, intent, pctx)
	if !ok {
		intent.Status = types.IntentRejected
		r.rejectIntent(client, p, schema.ErrValidationFailed, reason, "rejected")
		r.security.Write(audit.Record{
			Action:   "intent_validation_failed",
			Severity: audit.SeverityLow,
			RoomCode: string(r.code),
			ActorID:  string(id),
			Payload:  map[string]any{"action": p.Action, "reason": reason},
		})
		return
	}
	intent.Status = types.IntentApproved

	res := r.safeOnIntent(ctx, intent, pctx)
	if res == nil || !res.Success {
		code := schema.ErrInternal
		msg := "intent execution failed"
		if res != nil && res.ErrorCode != "" {
			code, msg = res.ErrorCode, res.ErrorMsg
		}
		r.rejectIntent(client, p, code, msg, "error")
		return
	}

	if res.EventID == "" {
		// Success with no event: reply without a version bump.
		client.Send(schema.NewEnvelope(schema.KindIntentResult, string(r.code), &schema.IntentResultPayload{
			Success:  true,
			IntentID: p.ID,
			Version:  r.version,
		}))
		metrics.IntentsProcessed.WithLabelValues(p.Action, "applied").Inc()
		return
	}

	ev := r.commitEvent(ctx, p.ID, res.EventID, res.EventType, res.EventData)
	intent.Status = types.IntentProcessed

	result := &schema.IntentResultPayload{
		Success:  true,
		IntentID: p.ID,
		EventID:  ev.ID,
		Version:  ev.Version,
	}
	r.markProcessed(p, result)

	r.broadcastEvent(ev)
	critical := r.reactToEvent(ev)
	if critical {
		r.captureSnapshot(ctx, "transition")
	}
	r.broadcastSync(critical)

	client.Send(schema.NewEnvelope(schema.KindIntentResult, string(r.code), result))
	metrics.IntentsProcessed.WithLabelValues(p.Action, "applied").Inc()
}

// commitEvent applies an event, bumps the version and appends it to the
// replay buffer. The version sequence has no gaps: commit is the only writer.
func (r *Room) commitEvent(ctx context.Context, intentID, eventID, eventType string, data map[string]any) *types.Event {
	ev := &types.Event{
		ID:        eventID,
		Type:      eventType,
		RoomCode:  r.code,
		Timestamp: time.Now(),
		Version:   r.version + 1,
		Data:      data,
		IntentID:  intentID,
	}
	if r.plugin != nil {
		r.safeApplyEvent(ctx, ev)
	}
	r.version++
	r.lastMutation = ev.Timestamp
	r.replay.Append(*ev)
	metrics.EventsApplied.WithLabelValues(eventType).Inc()

	if r.version-r.lastSnapshotAt >= uint64(r.cfg.SnapshotIntervalVersions) {
		r.captureSnapshot(ctx, "interval")
	}
	return ev
}

// reactToEvent advances the lifecycle machine on well-known event data flags
// set by plugins. Returns whether a critical transition happened.
func (r *Room) reactToEvent(ev *types.Event) bool {
	if flag, _ := ev.Data["roundComplete"].(bool); flag {
		r.transitionTo(fsm.StateRoundEnd, ev.Type)
		r.transitionTo(fsm.StateScoreboard, ev.Type)
		r.lifecycle = types.LifecycleRoundEnd
		return true
	}
	if flag, _ := ev.Data["finished"].(bool); flag {
		r.transitionTo(fsm.StateGameEnd, ev.Type)
		r.lifecycle = types.LifecycleGameEnd
		return true
	}
	if flag, _ := ev.Data["roundAdvance"].(bool); flag {
		r.transitionTo(fsm.StateNextRound, ev.Type)
		r.transitionTo(fsm.StateRoundStart, ev.Type)
		r.lifecycle = types.LifecyclePlaying
		r.round++
		return true
	}
	return false
}

func (r *Room) handleHostCommand(ctx context.Context, client types.ClientConn, p *schema.IntentPayload) {
	fail := func(code, msg string) {
		r.rejectIntent(client, p, code, msg, "rejected")
	}
	succeed := func(ev *types.Event) {
		result := &schema.IntentResultPayload{
			Success:  true,
			IntentID: p.ID,
			EventID:  ev.ID,
			Version:  ev.Version,
		}
		r.markProcessed(p, result)
		r.broadcastEvent(ev)
		r.captureSnapshot(ctx, "transition")
		r.broadcastSync(true)
		client.Send(schema.NewEnvelope(schema.KindIntentResult, string(r.code), result))
		metrics.IntentsProcessed.WithLabelValues(p.Action, "applied").Inc()
	}
	eventID := "evt-" + p.ID

	switch p.Action {
	case "start_game":
		if !r.machine.CanTransition(fsm.StateSetup) {
			fail(schema.ErrValidationFailed, "game already started")
			return
		}
		gameType := r.settings.GameType
		if gt, ok := p.Data["gameType"].(string); ok && gt != "" {
			gameType = gt
		}
		if gameType == "" {
			gameType = string(game.GameTypeQuiz)
		}
		plugin, err := r.registry.Create(types.GameType(gameType))
		if err != nil {
			fail(schema.ErrValidationFailed, err.Error())
			return
		}
		r.settings.GameType = gameType
		r.plugin = plugin
		r.round = 1
		r.lifecycle = types.LifecycleStarting
		plugin.Init(r.pluginContext())

		r.transitionTo(fsm.StateSetup, "host start")
		r.transitionTo(fsm.StateRoundStart, "game start")
		r.lifecycle = types.LifecyclePlaying

		ev := r.commitEvent(ctx, p.ID, eventID, "game_started", map[string]any{"gameType": gameType})
		r.auditHostAction(ctx, client, "game_start", audit.SeverityMedium, nil)
		succeed(ev)

	case "end_game":
		if !r.machine.CanTransition(fsm.StateGameEnd) {
			fail(schema.ErrValidationFailed, "no game in progress")
			return
		}
		r.transitionTo(fsm.StateGameEnd, "host end")
		r.lifecycle = types.LifecycleGameEnd
		r.paused = false
		r.timers.CancelAll()
		ev := r.commitEvent(ctx, p.ID, eventID, "game_ended", map[string]any{"by": string(client.GetID())})
		r.auditHostAction(ctx, client, "game_end", audit.SeverityMedium, nil)
		succeed(ev)

	case "pause_game":
		if r.paused {
			fail(schema.ErrValidationFailed, "game already paused")
			return
		}
		if r.lifecycle == types.LifecycleLobby || r.lifecycle == types.LifecycleGameEnd {
			fail(schema.ErrValidationFailed, "nothing to pause")
			return
		}
		r.paused = true
		r.prePause = r.lifecycle
		r.lifecycle = types.LifecyclePaused
		r.timers.Pause()
		ev := r.commitEvent(ctx, p.ID, eventID, "game_paused", nil)
		r.auditHostAction(ctx, client, "game_pause", audit.SeverityMedium, nil)
		succeed(ev)

	case "resume_game":
		if !r.paused {
			fail(schema.ErrValidationFailed, "game is not paused")
			return
		}
		r.paused = false
		r.lifecycle = r.prePause
		r.timers.Resume()
		ev := r.commitEvent(ctx, p.ID, eventID, "game_resumed", nil)
		r.auditHostAction(ctx, client, "game_resume", audit.SeverityMedium, nil)
		succeed(ev)

	case "kick_player":
		target := types.PlayerID(stringField(p.Data, "playerId"))
		if target == "" || target == r.hostID {
			fail(schema.ErrValidationFailed, "invalid kick target")
			return
		}
		if _, ok := r.players[target]; !ok {
			fail(schema.ErrNotFound, "player not in room")
			return
		}
		if cancel, ok := r.removalCancel[target]; ok {
			cancel()
			delete(r.removalCancel, target)
		}
		delete(r.players, target)
		if conn, ok := r.clients[target]; ok {
			delete(r.clients, target)
			conn.Send(schema.NewEnvelope(schema.KindError, string(r.code), &schema.ErrorPayload{
				Code:    schema.ErrUnauthorized,
				Message: "removed from room by host",
			}))
			conn.Disconnect()
		}
		r.tracker.Forget(string(target))
		metrics.RoomPlayers.WithLabelValues(string(r.code)).Set(float64(len(r.players)))

		ev := r.commitEvent(ctx, p.ID, eventID, "player_kicked", map[string]any{"playerId": string(target)})
		r.auditHostAction(ctx, client, "player_kick", audit.SeverityHigh, map[string]any{"target": string(target)})
		r.broadcastRoster()
		succeed(ev)

	case "update_settings":
		changed := map[string]any{}
		if mp, ok := numberField(p.Data, "maxPlayers"); ok {
			if mp < 5 || mp > 100 {
				fail(schema.ErrValidationFailed, "maxPlayers out of range")
				return
			}
			r.settings.MaxPlayers = mp
			changed["maxPlayers"] = mp
		}
		if gt := stringField(p.Data, "gameType"); gt != "" {
			if r.lifecycle != types.LifecycleLobby {
				fail(schema.ErrValidationFailed, "gameType can only change in the lobby")
				return
			}
			if _, err := r.registry.Create(types.GameType(gt)); err != nil {
				fail(schema.ErrValidationFailed, err.Error())
				return
			}
			r.settings.GameType = gt
			changed["gameType"] = gt
		}
		if lang := stringField(p.Data, "language"); lang != "" {
			r.settings.Language = lang
			changed["language"] = lang
		}
		if len(changed) == 0 {
			fail(schema.ErrValidationFailed, "no recognized settings in request")
			return
		}
		ev := r.commitEvent(ctx, p.ID, eventID, "settings_updated", changed)
		r.persistRecord(ctx)
		r.broadcastSettings()
		succeed(ev)

	case "reset_room":
		if !r.machine.CanTransition(fsm.StateLobby) {
			fail(schema.ErrValidationFailed, "room is not at game end")
			return
		}
		r.transitionTo(fsm.StateLobby, "host reset")
		if r.plugin != nil {
			r.plugin.Cleanup()
			r.plugin = nil
		}
		r.lifecycle = types.LifecycleLobby
		r.round = 0
		r.lastFullState = nil
		ev := r.commitEvent(ctx, p.ID, eventID, "room_reset", nil)
		succeed(ev)

	default:
		fail(schema.ErrValidationFailed, "unknown host action "+p.Action)
	}
}

func (r *Room) auditHostAction(ctx context.Context, client types.ClientConn, action string, sev audit.Severity, extra map[string]any) {
	payload := map[string]any{"version": r.version}
	for k, v := range extra {
		payload[k] = v
	}
	r.security.Write(audit.Record{
		Action:   action,
		Severity: sev,
		RoomCode: string(r.code),
		ActorID:  string(client.GetID()),
		Payload:  payload,
	})
	logging.Info(ctx, "Host action applied",
		zap.String("roomCode", string(r.code)),
		zap.String("action", action),
		zap.String("hostId", string(client.GetID())))
}

func (r *Room) rejectIntent(client types.ClientConn, p *schema.IntentPayload, code, msg, outcome string) {
	client.Send(schema.NewEnvelope(schema.KindIntentResult, string(r.code), &schema.IntentResultPayload{
		Success:  false,
		IntentID: p.ID,
		Error:    code + ": " + msg,
	}))
	metrics.IntentsProcessed.WithLabelValues(p.Action, outcome).Inc()
}

// lookupDuplicate returns the memoized result for a replayed intent id or
// idempotency key.
func (r *Room) lookupDuplicate(p *schema.IntentPayload) *schema.IntentResultPayload {
	if res, ok := r.deduper.Lookup(string(r.code), p.ID); ok {
		if payload, ok := res.(*schema.IntentResultPayload); ok {
			return payload
		}
	}
	if p.IdempotencyKey != "" {
		if res, ok := r.deduper.Lookup(string(r.code), "idem:"+p.IdempotencyKey); ok {
			if payload, ok := res.(*schema.IntentResultPayload); ok {
				return payload
			}
		}
	}
	return nil
}

// markProcessed memoizes a successful result. Failures are not memoized so a
// corrected retry can succeed.
func (r *Room) markProcessed(p *schema.IntentPayload, result *schema.IntentResultPayload) {
	r.deduper.MarkProcessed(string(r.code), p.ID, result)
	if p.IdempotencyKey != "" {
		r.deduper.MarkProcessed(string(r.code), "idem:"+p.IdempotencyKey, result)
	}
}

func (r *Room) pluginContext() *game.Context {
	return &game.Context{
		RoomCode:  r.code,
		Players:   r.players,
		HostID:    r.hostID,
		GameType:  types.GameType(r.settings.GameType),
		FSMState:  r.machine.Current(),
		Round:     r.round,
		MaxRounds: r.maxRounds,
		Timers:    r.timers,
	}
}

func (r *Room) safeValidate(ctx context.Context, intent *types.Intent, pctx *game.Context) (ok bool, reason string) {
	defer r.recoverPlugin(ctx, "validate", func() { ok, reason = false, "plugin failure" })
	return r.plugin.Validate(intent, pctx)
}

func (r *Room) safeOnIntent(ctx context.Context, intent *types.Intent, pctx *game.Context) (res *game.IntentResult) {
	defer r.recoverPlugin(ctx, "onIntent", func() {
		res = &game.IntentResult{
			Success:   false,
			IntentID:  intent.ID,
			ErrorCode: schema.ErrInternal,
			ErrorMsg:  "plugin failure",
		}
	})
	return r.plugin.OnIntent(intent, pctx)
}

func (r *Room) safeApplyEvent(ctx context.Context, ev *types.Event) {
	defer r.recoverPlugin(ctx, "applyEvent", func() {})
	pctx := r.pluginContext()
	r.plugin.ApplyEvent(ev, pctx)
}

// recoverPlugin contains plugin panics: the room continues, the failure is
// logged at high severity, and no version bump happens unless commit already
// ran.
func (r *Room) recoverPlugin(ctx context.Context, hook string, onPanic func()) {
	if rec := recover(); rec != nil {
		logging.Error(ctx, "Plugin panic contained",
			zap.String("roomCode", string(r.code)),
			zap.String("hook", hook),
			zap.Any("panic", rec))
		r.security.Write(audit.Record{
			Action:   "plugin_panic",
			Severity: audit.SeverityHigh,
			RoomCode: string(r.code),
			Payload:  map[string]any{"hook": hook},
		})
		onPanic()
	}
}

func (r *Room) persistRecord(ctx context.Context) {
	if r.store == nil {
		return
	}
	rec := types.RoomRecord{
		Code:      r.code,
		HostID:    r.hostID,
		CreatedAt: r.createdAt,
		ExpiresAt: r.expiresAt,
		GameType:  types.GameType(r.settings.GameType),
		Settings:  r.settings,
	}
	if err := r.store.UpsertRoom(ctx, rec); err != nil {
		logging.Warn(ctx, "Failed to persist room record",
			zap.String("roomCode", string(r.code)), zap.Error(err))
	}
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func numberField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
