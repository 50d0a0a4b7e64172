package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// handshakeDeadline bounds how long a fresh connection may sit silent before
// its first handshake frame.
const handshakeDeadline = 10 * time.Second

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single connection to a room. It implements
// types.ClientConn. Until the handshake completes, the connection has no
// identity and no frame other than handshake is accepted.
type Client struct {
	conn wsConnection
	room types.Roomer
	hub  *Hub

	id          types.PlayerID
	displayName string
	role        types.Role

	mu         sync.RWMutex // protects role, closed, handshaked
	closed     bool
	handshaked bool
	closeOnce  sync.Once

	send         chan []byte // normal messages (events, roster)
	prioritySend chan []byte // critical messages (state_sync, errors, replays)
}

func (c *Client) GetID() types.PlayerID {
	return c.id
}

func (c *Client) GetDisplayName() string {
	return c.displayName
}

func (c *Client) GetRole() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Client) SetRole(role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}

// Disconnect closes the send channels; the writePump drains them, sends the
// close frame and closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
		close(c.prioritySend)
	})
}

// Send encodes an envelope and queues it. State syncs, replays, transitions
// and errors ride the priority channel so they cannot starve behind chatter.
func (c *Client) Send(env *schema.Envelope) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	data, err := env.Encode()
	if err != nil {
		logging.Error(context.Background(), "Failed to encode envelope", zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closing client",
				zap.String("clientId", string(c.id)), zap.Any("panic", r))
		}
	}()

	switch env.Type {
	case schema.KindStateSync, schema.KindReplayResponse, schema.KindFSMTransition, schema.KindError, schema.KindIntentResult:
		select {
		case c.prioritySend <- data:
		default:
			logging.Error(context.Background(), "Client priority channel full - dropping critical message",
				zap.String("clientId", string(c.id)))
		}
	default:
		select {
		case c.send <- data:
		default:
			logging.Warn(context.Background(), "Client send channel full or closed",
				zap.String("clientId", string(c.id)))
		}
	}
}

// SendRaw queues a pre-serialized frame (bus fan-out from peer instances).
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from raw send to closing client",
				zap.String("clientId", string(c.id)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full or closed",
			zap.String("clientId", string(c.id)))
	}
}

func (c *Client) sendError(code, message string) {
	c.Send(schema.NewEnvelope(schema.KindError, "", &schema.ErrorPayload{Code: code, Message: message}))
}

// readPump decodes and routes inbound frames until the connection drops.
func (c *Client) readPump() {
	defer func() {
		if c.isHandshaked() {
			c.room.HandleClientDisconnect(c)
		}
		c.conn.Close()
		c.Disconnect()
		metrics.DecConnection()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(handshakeDeadline))

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, payload, err := schema.Decode(data)
		if err != nil {
			c.sendError(schema.ErrValidationFailed, err.Error())
			continue
		}

		if !c.isHandshaked() {
			hs, ok := payload.(*schema.HandshakePayload)
			if !ok {
				c.sendError(schema.ErrUnauthorized, "handshake required before any other message")
				return
			}
			if !c.completeHandshake(hs) {
				return
			}
			continue
		}

		c.room.Route(context.Background(), c, env, payload)
	}
}

func (c *Client) isHandshaked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshaked
}

// completeHandshake authenticates the token, fixes the connection identity,
// and admits the client into its room.
func (c *Client) completeHandshake(hs *schema.HandshakePayload) bool {
	claims, err := c.hub.authenticate(hs.Token)
	if err != nil {
		c.sendError(schema.ErrUnauthorized, "invalid token")
		logging.Warn(context.Background(), "Handshake rejected",
			zap.String("roomCode", string(c.room.Code())),
			zap.String("token", logging.RedactToken(hs.Token)),
			zap.Error(err))
		return false
	}

	c.id = types.PlayerID(claims.Subject)
	c.displayName = hs.PlayerName
	if c.displayName == "" {
		c.displayName = claims.Name
	}
	if c.displayName == "" {
		c.displayName = claims.Subject
	}

	c.mu.Lock()
	c.role = types.Role(hs.Role)
	c.handshaked = true
	c.mu.Unlock()

	_ = c.conn.SetReadDeadline(time.Time{})

	c.room.HandleClientConnect(c, hs)
	return true
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing priority message", zap.Error(err))
				return
			}
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		}
	}
}
