package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRoomCode(t *testing.T) {
	assert.True(t, IsValidRoomCode("ABCD"))
	assert.True(t, IsValidRoomCode("23456789"))
	assert.False(t, IsValidRoomCode("ABC"), "too short")
	assert.False(t, IsValidRoomCode("ABCDEFGHJ"), "too long")
	assert.False(t, IsValidRoomCode("abcd"), "lowercase not in alphabet")
	assert.False(t, IsValidRoomCode("AB0D"), "0 is confusable")
	assert.False(t, IsValidRoomCode("ABID"), "I is confusable")
	assert.False(t, IsValidRoomCode("AB1D"), "1 is confusable")
	assert.False(t, IsValidRoomCode("ABOD"), "O is confusable")
	assert.False(t, IsValidRoomCode(""))
}

func TestDecode_ValidIntent(t *testing.T) {
	raw, err := NewEnvelope(KindIntent, "ABCD", &IntentPayload{
		ID:     "intent-1",
		Action: "submit_answer",
		Data:   map[string]any{"choice": 2},
	}).Encode()
	require.NoError(t, err)

	env, payload, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindIntent, env.Type)
	assert.Equal(t, "ABCD", env.RoomCode)

	intent, ok := payload.(*IntentPayload)
	require.True(t, ok)
	assert.Equal(t, "intent-1", intent.ID)
	assert.Equal(t, "submit_answer", intent.Action)
	assert.Equal(t, float64(2), intent.Data["choice"])
}

func TestDecode_ValidHandshake(t *testing.T) {
	raw, err := NewEnvelope(KindHandshake, "ABCD", &HandshakePayload{
		Token:      "jwt-token",
		Role:       RolePlayer,
		PlayerName: "Alice",
	}).Encode()
	require.NoError(t, err)

	_, payload, err := Decode(raw)
	require.NoError(t, err)
	hs, ok := payload.(*HandshakePayload)
	require.True(t, ok)
	assert.Equal(t, RolePlayer, hs.Role)
}

func TestDecode_HandshakeRejectsUnknownRole(t *testing.T) {
	raw, err := NewEnvelope(KindHandshake, "ABCD", &HandshakePayload{
		Token: "jwt-token",
		Role:  "admin",
	}).Encode()
	require.NoError(t, err)

	_, _, err = Decode(raw)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrValidationFailed, verr.Code)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, _, err := Decode([]byte("{not json"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrValidationFailed, verr.Code)
}

func TestDecode_UnknownKind(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"type":      "teleport",
		"timestamp": 1,
		"payload":   map[string]any{},
	})
	require.NoError(t, err)

	_, _, err = Decode(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Detail, "unknown message kind")
}

func TestDecode_MissingPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"type":      string(KindIntent),
		"roomCode":  "ABCD",
		"timestamp": 1,
	})
	require.NoError(t, err)

	_, _, err = Decode(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Detail, "missing payload")
}

func TestDecode_InvalidRoomCodeInEnvelope(t *testing.T) {
	raw, err := NewEnvelope(KindAck, "bad!", &AckPayload{Version: 3}).Encode()
	require.NoError(t, err)

	_, _, err = Decode(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Detail, "invalid envelope")
}

func TestDecode_ReplayRequestNeedsAnchor(t *testing.T) {
	raw, err := NewEnvelope(KindReplayRequest, "ABCD", &ReplayRequestPayload{}).Encode()
	require.NoError(t, err)

	_, _, err = Decode(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Detail, "fromVersion or fromTimestamp")

	v := uint64(5)
	raw, err = NewEnvelope(KindReplayRequest, "ABCD", &ReplayRequestPayload{FromVersion: &v}).Encode()
	require.NoError(t, err)
	_, payload, err := Decode(raw)
	require.NoError(t, err)
	rr := payload.(*ReplayRequestPayload)
	assert.Equal(t, uint64(5), *rr.FromVersion)
}

func TestDecode_IntentMissingRequiredFields(t *testing.T) {
	raw, err := NewEnvelope(KindIntent, "ABCD", &IntentPayload{Action: "x"}).Encode()
	require.NoError(t, err)

	_, _, err = Decode(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrValidationFailed, verr.Code)
}

func TestExportSchemasJSON(t *testing.T) {
	raw, err := ExportSchemasJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, string(KindIntent))
	assert.Contains(t, doc, string(KindStateSync))
}
