package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
)

// PubSubPayload is the standardized container for moving messages between instances.
type PubSubPayload struct {
	RoomCode string          `json:"roomCode"`
	Event    string          `json:"event"`    // The message kind being fanned out
	Payload  json.RawMessage `json:"payload"`  // The encoded envelope
	SenderID string          `json:"senderId"` // CRITICAL: Used to prevent echo (infinite loops)
}

// Service handles all interaction with the Redis cluster. A nil *Service is
// valid and means single-instance mode; every method degrades to a no-op.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, or nil in single-instance mode.
// The rate limiter and the redis-backed store share this connection pool.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with a circuit breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis Pub/Sub", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish fans a message out to all other instances watching this room.
func (s *Service) Publish(ctx context.Context, roomCode string, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}

		msg := PubSubPayload{
			RoomCode: roomCode,
			Event:    event,
			Payload:  innerBytes,
			SenderID: senderID,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		// Channel schema: "party:room:{code}"
		channel := fmt.Sprintf("party:room:%s", roomCode)

		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping publish", "roomCode", roomCode)
			return nil // Graceful degradation: drop message, don't crash caller
		}
		slog.Error("Redis Publish Failed", "roomCode", roomCode, "error", err)
		return err
	}

	return nil
}

// Subscribe starts a background goroutine that listens for messages from OTHER
// instances of this service and hands them to the handler.
func (s *Service) Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return // Single-instance mode, no Redis available
	}

	channel := fmt.Sprintf("party:room:%s", roomCode)

	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel", "channel", channel)

		ch := pubsub.Channel()

		// Read indefinitely until the context is cancelled or connection dies
		for {
			select {
			case <-ctx.Done():
				return // Stop listening if the room closes
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", channel)
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("Failed to unmarshal Redis message", "error", err, "raw", msg.Payload)
					continue
				}

				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}
