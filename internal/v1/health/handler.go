// Package health exposes the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
)

// Pinger is the slice of the bus the probes need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RoomCounter reports how many rooms the instance currently serves.
type RoomCounter func() int

// Handler manages health check endpoints.
type Handler struct {
	bus       Pinger
	roomCount RoomCounter
}

// NewHandler creates a health check handler. A nil bus means single-instance
// mode and is always considered healthy.
func NewHandler(bus Pinger, roomCount RoomCounter) *Handler {
	return &Handler{bus: bus, roomCount: roomCount}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Rooms     int               `json:"rooms"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive;
// no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only when every critical
// dependency is healthy, 503 otherwise, so the load balancer stops routing
// new connections to a degraded instance.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis": h.checkRedis(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	rooms := 0
	if h.roomCount != nil {
		rooms = h.roomCount()
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Rooms:     rooms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.bus == nil {
		return "healthy" // single-instance mode
	}
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
