package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playroom-live/playroom/backend/go/internal/v1/config"
)

func limiterConfig() *config.Config {
	return &config.Config{
		RateLimitClient:   "100-M",
		RateLimitRoom:     "1000-M",
		RateLimitAction:   "500-M",
		RateLimitBurst:    "50-S",
		RateLimitWsIP:     "10-M",
		RateLimitAPIRooms: "5-M",
	}
}

func TestNewLimiter_RejectsMalformedRate(t *testing.T) {
	cfg := limiterConfig()
	cfg.RateLimitClient = "lots"
	_, err := NewLimiter(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client")
}

func TestCheck_AllowsUnderLimit(t *testing.T) {
	l, err := NewLimiter(limiterConfig(), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ok, tier := l.Check(context.Background(), "p1", "AAAA", "submit_answer")
		assert.True(t, ok)
		assert.Empty(t, tier)
	}
}

func TestCheck_DeniesOverClientLimit(t *testing.T) {
	cfg := limiterConfig()
	cfg.RateLimitClient = "3-M"
	cfg.RateLimitBurst = "100-S"
	l, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _ := l.Check(ctx, "p1", "AAAA", "submit_answer")
		require.True(t, ok)
	}

	ok, tier := l.Check(ctx, "p1", "AAAA", "submit_answer")
	assert.False(t, ok)
	assert.Equal(t, "client", tier)

	// Other clients are unaffected.
	ok, _ = l.Check(ctx, "p2", "AAAA", "submit_answer")
	assert.True(t, ok)
}

func TestCheck_RoomTierIsShared(t *testing.T) {
	cfg := limiterConfig()
	cfg.RateLimitRoom = "2-M"
	l, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	ok, _ := l.Check(ctx, "p1", "AAAA", "a")
	require.True(t, ok)
	ok, _ = l.Check(ctx, "p2", "AAAA", "a")
	require.True(t, ok)

	// Third message into the same room trips the shared room window
	// regardless of sender.
	ok, tier := l.Check(ctx, "p3", "AAAA", "a")
	assert.False(t, ok)
	assert.Equal(t, "room", tier)

	ok, _ = l.Check(ctx, "p4", "BBBB", "a")
	assert.True(t, ok)
}

func TestMiddlewareForRooms(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := limiterConfig()
	cfg.RateLimitAPIRooms = "2-M"
	l, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/rooms", func(c *gin.Context) { c.Set("subject", "user-1"); c.Next() }, l.MiddlewareForRooms(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	do := func() *httptest.ResponseRecorder {
		req, _ := http.NewRequest(http.MethodPost, "/rooms", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	assert.Equal(t, http.StatusCreated, do().Code)
	second := do()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("X-RateLimit-Reset"))
}
