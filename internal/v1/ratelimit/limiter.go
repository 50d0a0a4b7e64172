// Package ratelimit implements sliding-window quotas using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/config"
	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
)

// Limiter holds the per-tier rate limiter instances. The tiers are consulted
// in priority order client → room → action, with an optional burst ceiling
// (a shorter window with a higher rate) checked alongside the client tier.
// The limiter is advisory: it runs before a message reaches the room actor
// and fails open on store errors.
type Limiter struct {
	client *limiter.Limiter
	room   *limiter.Limiter
	action *limiter.Limiter
	burst  *limiter.Limiter

	wsIP     *limiter.Limiter
	apiRooms *limiter.Limiter

	store limiter.Store
}

// NewLimiter creates a Limiter from the configured tier rates. Rates use the
// ulule format ("120-M" = 120 per minute). When a redis client is supplied the
// windows are shared across instances; otherwise a memory store is used.
func NewLimiter(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	parse := func(name, formatted string) (limiter.Rate, error) {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return limiter.Rate{}, fmt.Errorf("invalid %s rate %q: %w", name, formatted, err)
		}
		return rate, nil
	}

	clientRate, err := parse("client", cfg.RateLimitClient)
	if err != nil {
		return nil, err
	}
	roomRate, err := parse("room", cfg.RateLimitRoom)
	if err != nil {
		return nil, err
	}
	actionRate, err := parse("action", cfg.RateLimitAction)
	if err != nil {
		return nil, err
	}
	burstRate, err := parse("burst", cfg.RateLimitBurst)
	if err != nil {
		return nil, err
	}
	wsIPRate, err := parse("ws ip", cfg.RateLimitWsIP)
	if err != nil {
		return nil, err
	}
	apiRoomsRate, err := parse("api rooms", cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &Limiter{
		client:   limiter.New(store, clientRate),
		room:     limiter.New(store, roomRate),
		action:   limiter.New(store, actionRate),
		burst:    limiter.New(store, burstRate),
		wsIP:     limiter.New(store, wsIPRate),
		apiRooms: limiter.New(store, apiRoomsRate),
		store:    store,
	}, nil
}

// Check consults the tiers for one inbound room action. It returns whether the
// action may proceed and, when denied, the tier that tripped. Store errors
// fail open: availability beats strictness for an advisory limiter.
func (l *Limiter) Check(ctx context.Context, clientID, roomCode, action string) (bool, string) {
	type tier struct {
		name     string
		instance *limiter.Limiter
		key      string
	}

	tiers := []tier{
		{"client", l.client, "client:" + clientID},
		{"burst", l.burst, "burst:" + clientID},
		{"room", l.room, "room:" + roomCode},
		{"action", l.action, "action:" + roomCode + ":" + action},
	}

	for _, t := range tiers {
		lctx, err := t.instance.Get(ctx, t.key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.String("tier", t.name), zap.Error(err))
			continue // Fail open
		}
		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues("message", t.name).Inc()
			return false, t.name
		}
	}

	metrics.RateLimitRequests.WithLabelValues("message").Inc()
	return true, ""
}

// CheckWebSocket gates new WebSocket connections by client IP. Returns false
// and writes the 429 response when the limit is exceeded.
func (l *Limiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS Rate limiter store failed (IP)", zap.Error(err))
		return true // Fail open
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}

// MiddlewareForRooms returns a Gin middleware limiting room-creation calls.
func (l *Limiter) MiddlewareForRooms() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		key := c.ClientIP()
		if sub, exists := c.Get("subject"); exists {
			if s, ok := sub.(string); ok && s != "" {
				key = s
			}
		}

		lctx, err := l.apiRooms.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "rooms").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
