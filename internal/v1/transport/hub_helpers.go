package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// generateRoomCode draws a code of the given length from the confusable-free
// alphabet using crypto/rand. Rejection sampling keeps the draw unbiased.
func generateRoomCode(length int) (types.RoomCode, error) {
	alphabet := schema.RoomCodeAlphabet
	max := byte(256 - 256%len(alphabet))

	code := make([]byte, 0, length)
	buf := make([]byte, 1)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		if buf[0] >= max {
			continue
		}
		code = append(code, alphabet[int(buf[0])%len(alphabet)])
	}
	return types.RoomCode(code), nil
}

// shardID assigns a stable logical shard to a room code. Within a single
// instance it is informational; a cluster layer can route on it later.
func shardID(code types.RoomCode) uint32 {
	return uint32(xxhash.Sum64String(string(code)) % 256)
}

// validateOrigin checks if the request origin is in the allowed list.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil // non-browser client
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgradeWebSocket handles the WebSocket upgrade process.
func upgradeWebSocket(c *gin.Context, allowedOrigins []string) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}
