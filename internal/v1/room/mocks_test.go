package room_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// fakeClient is an in-memory ClientConn that records every envelope the room
// sends it.
type fakeClient struct {
	id   types.PlayerID
	name string

	mu           sync.Mutex
	role         types.Role
	envelopes    []*schema.Envelope
	raw          [][]byte
	disconnected bool
}

func newFakeClient(id types.PlayerID, name string, role types.Role) *fakeClient {
	return &fakeClient{id: id, name: name, role: role}
}

func (c *fakeClient) GetID() types.PlayerID  { return c.id }
func (c *fakeClient) GetDisplayName() string { return c.name }

func (c *fakeClient) GetRole() types.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *fakeClient) SetRole(role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}

func (c *fakeClient) Send(env *schema.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, env)
}

func (c *fakeClient) SendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = append(c.raw, data)
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// envelopesOf returns the received envelopes of one kind, in order.
func (c *fakeClient) envelopesOf(kind schema.Kind) []*schema.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*schema.Envelope
	for _, env := range c.envelopes {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

// intentResult returns the decoded result for an intent id, or nil.
func (c *fakeClient) intentResult(intentID string) *schema.IntentResultPayload {
	for _, env := range c.envelopesOf(schema.KindIntentResult) {
		var p schema.IntentResultPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.IntentID == intentID {
			return &p
		}
	}
	return nil
}

// intentResults returns every decoded result for an intent id.
func (c *fakeClient) intentResults(intentID string) []*schema.IntentResultPayload {
	var out []*schema.IntentResultPayload
	for _, env := range c.envelopesOf(schema.KindIntentResult) {
		var p schema.IntentResultPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.IntentID == intentID {
			out = append(out, &p)
		}
	}
	return out
}

// stateSyncs returns the decoded state_sync payloads received so far.
func (c *fakeClient) stateSyncs() []*schema.StateSyncPayload {
	var out []*schema.StateSyncPayload
	for _, env := range c.envelopesOf(schema.KindStateSync) {
		var p schema.StateSyncPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			out = append(out, &p)
		}
	}
	return out
}

// transitions returns the decoded fsm_transition payloads received so far.
func (c *fakeClient) transitions() []*schema.FSMTransitionPayload {
	var out []*schema.FSMTransitionPayload
	for _, env := range c.envelopesOf(schema.KindFSMTransition) {
		var p schema.FSMTransitionPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			out = append(out, &p)
		}
	}
	return out
}

// events returns the decoded event payloads received so far.
func (c *fakeClient) events() []*schema.EventPayload {
	var out []*schema.EventPayload
	for _, env := range c.envelopesOf(schema.KindEvent) {
		var p schema.EventPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			out = append(out, &p)
		}
	}
	return out
}

// rosters returns the decoded player_roster payloads received so far.
func (c *fakeClient) rosters() []*schema.PlayerRosterPayload {
	var out []*schema.PlayerRosterPayload
	for _, env := range c.envelopesOf(schema.KindPlayerRoster) {
		var p schema.PlayerRosterPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			out = append(out, &p)
		}
	}
	return out
}

// errorsReceived returns the decoded error payloads received so far.
func (c *fakeClient) errorsReceived() []*schema.ErrorPayload {
	var out []*schema.ErrorPayload
	for _, env := range c.envelopesOf(schema.KindError) {
		var p schema.ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			out = append(out, &p)
		}
	}
	return out
}

// waitForResult blocks until the client holds a result for the intent id.
func waitForResult(t *testing.T, c *fakeClient, intentID string) *schema.IntentResultPayload {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.intentResult(intentID) != nil
	}, 5*time.Second, 5*time.Millisecond, "no intent_result for %s", intentID)
	return c.intentResult(intentID)
}
