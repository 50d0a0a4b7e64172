package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.log")
	l, err := New(path)
	require.NoError(t, err)

	l.Write(Record{
		Action:   "player_kick",
		Severity: SeverityHigh,
		RoomCode: "ABCD",
		ActorID:  "host-1",
		Payload:  map[string]any{"target": "p1"},
	})
	l.Write(Record{Action: "room_created", Severity: SeverityLow, RoomCode: "ABCD"})
	require.NoError(t, l.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, "player_kick", first["msg"])
	assert.Equal(t, "high", first["severity"])
	assert.Equal(t, "ABCD", first["room_code"])
	assert.Equal(t, "host-1", first["actor_id"])
	assert.Equal(t, "security", first["logger"])
	payload, ok := first["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "p1", payload["target"])

	assert.Equal(t, "room_created", lines[1]["msg"])
}

func TestLog_NilIsSafe(t *testing.T) {
	var l *Log
	l.Write(Record{Action: "ignored"})
	assert.NoError(t, l.Sync())

	nop := NewNop()
	nop.Write(Record{Action: "discarded", Severity: SeverityCritical})
	assert.NoError(t, nop.Sync())
}
