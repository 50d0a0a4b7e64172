// Package middleware contains Gin middleware for the application.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with a correlation ID, minting one when
// the client did not send its own. Routes that carry a room code also get it
// stamped into the context so request logs join up with room logs.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Echo back so clients can report it
		c.Header(HeaderXCorrelationID, correlationID)

		c.Set(string(logging.CorrelationIDKey), correlationID)
		if code := c.Param("code"); code != "" {
			c.Set(string(logging.RoomCodeKey), strings.ToUpper(code))
		}

		c.Next()
	}
}
