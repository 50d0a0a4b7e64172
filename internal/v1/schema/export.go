package schema

import "encoding/json"

// ExportSchemas returns a JSON Schema document per message kind. External
// clients generate their parsers from this; the envelope schema is included
// under the pseudo-kind "envelope".
func ExportSchemas() map[string]map[string]any {
	obj := func(required []string, props map[string]any) map[string]any {
		s := map[string]any{
			"$schema":              "https://json-schema.org/draft/2020-12/schema",
			"type":                 "object",
			"additionalProperties": false,
			"properties":           props,
		}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	}
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "integer"}
	boolean := map[string]any{"type": "boolean"}
	anyObj := map[string]any{"type": "object"}
	strArr := map[string]any{"type": "array", "items": str}

	eventSchema := obj([]string{"id", "type", "version"}, map[string]any{
		"id": str, "type": str, "version": num, "timestamp": num,
		"data": anyObj, "intentId": str,
	})
	snapshotSchema := obj([]string{"version", "data"}, map[string]any{
		"version": num, "timestamp": num, "compressed": boolean,
		"data": map[string]any{"type": "string", "contentEncoding": "base64"},
	})
	rosterEntry := obj([]string{"id", "name", "status"}, map[string]any{
		"id": str, "name": str, "avatar": str, "status": map[string]any{
			"type": "string", "enum": []string{"connected", "disconnected", "spectating"},
		}, "score": num,
	})

	return map[string]map[string]any{
		"envelope": obj([]string{"type", "timestamp"}, map[string]any{
			"type": map[string]any{"type": "string", "enum": []string{
				string(KindHandshake), string(KindIntent), string(KindIntentResult),
				string(KindEvent), string(KindStateSync), string(KindAck),
				string(KindReplayRequest), string(KindReplayResponse),
				string(KindFSMTransition), string(KindPlayerRoster),
				string(KindSettingsUpdate), string(KindError),
			}},
			"roomCode": map[string]any{
				"type":    "string",
				"pattern": "^[" + RoomCodeAlphabet + "]{4,8}$",
			},
			"timestamp": num,
			"payload":   anyObj,
		}),
		string(KindHandshake): obj([]string{"token", "role"}, map[string]any{
			"token": str,
			"role": map[string]any{"type": "string", "enum": []string{
				RolePlayer, RoleHostControl, RoleHostDisplay,
			}},
			"playerName": str, "avatar": str, "language": str,
			"reconnectToken": str, "lastVersion": num,
		}),
		string(KindIntent): obj([]string{"id", "action"}, map[string]any{
			"id": str, "action": str, "data": anyObj,
			"version": num, "idempotencyKey": str,
		}),
		string(KindIntentResult): obj([]string{"success", "intentId"}, map[string]any{
			"success": boolean, "intentId": str, "eventId": str,
			"version": num, "error": str,
		}),
		string(KindEvent): eventSchema,
		string(KindStateSync): obj([]string{"version", "mode"}, map[string]any{
			"version": num,
			"mode":    map[string]any{"type": "string", "enum": []string{SyncModeFull, SyncModeDelta}},
			"state":   anyObj, "changed": anyObj, "deleted": strArr,
		}),
		string(KindAck): obj([]string{"version"}, map[string]any{
			"version": num, "messageType": str, "clientTimestamp": num,
		}),
		string(KindReplayRequest): obj(nil, map[string]any{
			"fromVersion": num, "fromTimestamp": num,
		}),
		string(KindReplayResponse): obj([]string{"events"}, map[string]any{
			"snapshot": snapshotSchema,
			"events":   map[string]any{"type": "array", "items": eventSchema},
		}),
		string(KindFSMTransition): obj([]string{"from", "to"}, map[string]any{
			"from": str, "to": str, "reason": str, "soundHint": str,
		}),
		string(KindPlayerRoster): obj([]string{"players"}, map[string]any{
			"hostId":  str,
			"players": map[string]any{"type": "array", "items": rosterEntry},
		}),
		string(KindSettingsUpdate): obj([]string{"maxPlayers"}, map[string]any{
			"maxPlayers": num, "gameType": str, "language": str,
		}),
		string(KindError): obj([]string{"code"}, map[string]any{
			"code": map[string]any{"type": "string", "enum": []string{
				ErrValidationFailed, ErrUnauthorized, ErrNotFound, ErrRateLimited,
				ErrConflict, ErrDuplicate, ErrTimeout, ErrInternal, ErrExpired,
			}},
			"message": str,
		}),
	}
}

// ExportSchemasJSON renders the exported schemas as one indented JSON blob,
// which is what the /api/v1/schemas endpoint serves.
func ExportSchemasJSON() ([]byte, error) {
	return json.MarshalIndent(ExportSchemas(), "", "  ")
}
