package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_PublishSubscribeRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PubSubPayload, 1)
	var wg sync.WaitGroup
	svc.Subscribe(ctx, "ABCD", &wg, func(p PubSubPayload) {
		received <- p
	})

	// Give the subscriber a beat to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	payload := map[string]any{"type": "state_sync", "version": 3}
	require.NoError(t, svc.Publish(ctx, "ABCD", "broadcast", payload, "instance-a"))

	select {
	case p := <-received:
		assert.Equal(t, "ABCD", p.RoomCode)
		assert.Equal(t, "broadcast", p.Event)
		assert.Equal(t, "instance-a", p.SenderID)

		var inner map[string]any
		require.NoError(t, json.Unmarshal(p.Payload, &inner))
		assert.Equal(t, "state_sync", inner["type"])
		assert.Equal(t, float64(3), inner["version"])
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never received the published message")
	}

	// Rooms are isolated channels.
	require.NoError(t, svc.Publish(ctx, "WXYZ", "broadcast", payload, "instance-a"))
	select {
	case p := <-received:
		t.Fatalf("received message for another room: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	wg.Wait()
}

func TestService_SubscribeStopsOnContextCancel(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	svc.Subscribe(ctx, "ABCD", &wg, func(PubSubPayload) {})

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber goroutine did not stop on cancel")
	}
}

func TestService_Ping(t *testing.T) {
	svc := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestService_NilIsSingleInstanceMode(t *testing.T) {
	var svc *Service

	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Publish(context.Background(), "ABCD", "broadcast", map[string]any{}, "a"))
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())

	var wg sync.WaitGroup
	svc.Subscribe(context.Background(), "ABCD", &wg, func(PubSubPayload) {
		t.Fatal("nil service must not deliver messages")
	})
	wg.Wait()
}

func TestNewService_UnreachableRedis(t *testing.T) {
	_, err := NewService("127.0.0.1:1", "")
	assert.Error(t, err)
}
