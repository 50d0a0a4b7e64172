package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(context.Context) error { return s.err }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)

	req, _ := http.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestLiveness(t *testing.T) {
	h := NewHandler(nil, nil)
	resp := serve(h, "/health/live")

	assert.Equal(t, http.StatusOK, resp.Code)
	var body LivenessResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "alive", body.Status)
	assert.NotEmpty(t, body.Timestamp)
}

func TestReadiness_SingleInstanceMode(t *testing.T) {
	h := NewHandler(nil, func() int { return 3 })
	resp := serve(h, "/health/ready")

	assert.Equal(t, http.StatusOK, resp.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "healthy", body.Checks["redis"])
	assert.Equal(t, 3, body.Rooms)
}

func TestReadiness_HealthyBus(t *testing.T) {
	h := NewHandler(&stubPinger{}, func() int { return 0 })
	resp := serve(h, "/health/ready")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestReadiness_DegradedBus(t *testing.T) {
	h := NewHandler(&stubPinger{err: errors.New("connection refused")}, func() int { return 1 })
	resp := serve(h, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "unhealthy", body.Checks["redis"])
}
