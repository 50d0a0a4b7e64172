package transport

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
)

func TestGenerateRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := generateRoomCode(4)
		require.NoError(t, err)
		require.Len(t, string(code), 4)
		for _, c := range string(code) {
			assert.True(t, strings.ContainsRune(schema.RoomCodeAlphabet, c),
				"character %c outside the room code alphabet", c)
		}
		assert.True(t, schema.IsValidRoomCode(string(code)))
		seen[string(code)] = true
	}
	// 100 draws from a 31^4 space colliding into a handful of values would
	// mean the sampling is broken.
	assert.Greater(t, len(seen), 90)
}

func TestShardID_StableAndBounded(t *testing.T) {
	a := shardID("ABCD")
	assert.Equal(t, a, shardID("ABCD"))
	assert.Less(t, a, uint32(256))
	assert.Less(t, shardID("WXYZ"), uint32(256))
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://play.example.com"}

	mkReq := func(origin string) *http.Request {
		req, _ := http.NewRequest(http.MethodGet, "/ws/room/ABCD", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	assert.NoError(t, validateOrigin(mkReq(""), allowed), "non-browser clients send no origin")
	assert.NoError(t, validateOrigin(mkReq("http://localhost:3000"), allowed))
	assert.NoError(t, validateOrigin(mkReq("https://play.example.com"), allowed))
	assert.Error(t, validateOrigin(mkReq("https://evil.example.com"), allowed))
	assert.Error(t, validateOrigin(mkReq("http://play.example.com"), allowed), "scheme must match")
	assert.Error(t, validateOrigin(mkReq("http://localhost:9999"), allowed))
}
