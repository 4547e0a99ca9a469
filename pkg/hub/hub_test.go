// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weft-labs/weft/pkg/identity"
	"github.com/weft-labs/weft/pkg/message"
	"github.com/weft-labs/weft/pkg/registry"
)

// testAgent is a minimal hub.Agent with an inspectable inbox.
type testAgent struct {
	reg   *registry.AgentRegistration
	inbox chan *message.Message
	full  bool
}

func newTestAgent(t *testing.T, id string, typ registry.AgentType, modes ...registry.InteractionMode) *testAgent {
	t.Helper()
	ident, err := identity.New()
	require.NoError(t, err)
	if len(modes) == 0 {
		modes = []registry.InteractionMode{registry.ModeAgentToAgent}
	}
	return &testAgent{
		reg: &registry.AgentRegistration{
			AgentID:          id,
			AgentType:        typ,
			InteractionModes: modes,
			Identity:         ident,
		},
		inbox: make(chan *message.Message, 64),
	}
}

func (a *testAgent) ID() string                                  { return a.reg.AgentID }
func (a *testAgent) Identity() *identity.Identity                { return a.reg.Identity }
func (a *testAgent) Registration() *registry.AgentRegistration   { return a.reg }
func (a *testAgent) BindHub(*Hub)                                {}
func (a *testAgent) UnbindHub()                                  {}
func (a *testAgent) ReceiveMessage(_ context.Context, msg *message.Message) error {
	if a.full {
		return errors.New("mailbox full")
	}
	a.inbox <- msg
	return nil
}

func (a *testAgent) waitMessage(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-a.inbox:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	h := New(cfg)
	t.Cleanup(func() { h.Close() })
	return h
}

func register(t *testing.T, h *Hub, agents ...Agent) {
	t.Helper()
	for _, a := range agents {
		require.NoError(t, h.RegisterAgent(context.Background(), a))
	}
}

func TestRouteDeliversSignedMessage(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	msg, err := message.New("agent-a", "agent-b", "hello", a.Identity(), message.TypeText)
	require.NoError(t, err)

	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, ok)

	got := b.waitMessage(t)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, 1, h.History().Len())
}

func TestRouteUnknownAgents(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	register(t, h, a)

	msg, err := message.New("agent-a", "nobody", "hi", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, ok)

	msg2, err := message.New("ghost", "agent-a", "hi", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err = h.RouteMessage(context.Background(), msg2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouteRejectsForgedSignature(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	// Signed under b's key but claiming a as sender.
	forged, err := message.New("agent-a", "agent-b", "forged", b.Identity(), message.TypeText)
	require.NoError(t, err)

	ok, err := h.RouteMessage(context.Background(), forged)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSecurity)
	assert.Empty(t, b.inbox)
}

func TestRouteRejectsUnverifiedSender(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	a.Identity().Reverify()
	msg, err := message.New("agent-a", "agent-b", "hi", a.Identity(), message.TypeText)
	require.NoError(t, err)

	ok, err := h.RouteMessage(context.Background(), msg)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSecurity)
}

func TestRouteIncompatibleModes(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI, registry.ModeAgentToAgent)
	b := newTestAgent(t, "agent-b", registry.AgentTypeHuman, registry.ModeHumanToAgent)
	register(t, h, a, b)

	msg, err := message.New("agent-a", "agent-b", "hi", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, b.inbox)
}

func TestProtocolValidationBetweenAgents(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	// Collaboration types arrived with protocol 1.1.
	msg, err := message.New("agent-a", "agent-b", "task", a.Identity(),
		message.TypeRequestCollaboration, message.WithProtocol(message.ProtocolV10))
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCooldownOnlyReachesHumans(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	human := newTestAgent(t, "person", registry.AgentTypeHuman, registry.ModeHumanToAgent)
	register(t, h, a, b, human)

	toAgent, err := message.New("agent-a", "agent-b", "cooling", a.Identity(), message.TypeCooldown)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), toAgent)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, b.inbox)

	toHuman, err := message.New("agent-a", "person", "cooling", a.Identity(), message.TypeCooldown)
	require.NoError(t, err)
	ok, err = h.RouteMessage(context.Background(), toHuman)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cooling", human.waitMessage(t).Content)
}

func TestStopBypassesModeCheck(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI, registry.ModeAgentToAgent)
	b := newTestAgent(t, "agent-b", registry.AgentTypeHuman, registry.ModeHumanToAgent)
	register(t, h, a, b)

	stop, err := message.New("agent-a", "agent-b", "", a.Identity(), message.TypeStop)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), stop)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, message.TypeStop, b.waitMessage(t).Type)
}

func TestSystemMessagesSkipDelivery(t *testing.T) {
	h := newTestHub(t, Config{})
	msg := message.NewSystem("system", "anyone", "boot")
	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.History().Len())
}

func TestFullMailboxIsRoutingFailure(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	b.full = true
	register(t, h, a, b)

	msg, err := message.New("agent-a", "agent-b", "hi", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendRateGuard(t *testing.T) {
	var reasons []string
	h := newTestHub(t, Config{
		SendRate:         1,
		SendBurst:        1,
		OnRoutingFailure: func(reason string) { reasons = append(reasons, reason) },
	})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	first, err := message.New("agent-a", "agent-b", "one", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), first)
	require.NoError(t, err)
	require.True(t, ok)

	second, err := message.New("agent-a", "agent-b", "two", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err = h.RouteMessage(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reasons, "rate_limited")
}

// reply routes a response from a back to the sender of inbound,
// copying the correlation id.
func reply(t *testing.T, h *Hub, from *testAgent, inbound *message.Message, content string) {
	t.Helper()
	resp, err := message.New(from.ID(), inbound.SenderID, content, from.Identity(),
		message.TypeResponse, message.WithMeta(message.KeyResponseTo, inbound.RequestID()))
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), resp)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSendAndWaitCorrelation(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	go func() {
		inbound := <-b.inbox
		reply(t, h, b, inbound, "pong")
	}()

	resp, err := h.SendMessageAndWaitResponse(context.Background(), a, "agent-b", "ping",
		message.TypeText, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)
	assert.NotEmpty(t, resp.ResponseTo())
	assert.Zero(t, h.PendingCount())
}

func TestLateResponseBuffered(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	_, err := h.SendMessageAndWaitResponse(context.Background(), a, "agent-b", "slow",
		message.TypeText, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	inbound := b.waitMessage(t)
	requestID := inbound.RequestID()
	require.NotEmpty(t, requestID)

	// The waiter already timed out; the reply must land in the late
	// buffer instead of vanishing.
	reply(t, h, b, inbound, "slow-reply")

	result, ok := h.CheckCollaborationResult(requestID)
	require.True(t, ok)
	assert.Equal(t, StatusCompletedLate, result.Status)
	assert.Equal(t, "slow-reply", result.Content)

	// Consumed on read.
	_, ok = h.CheckCollaborationResult(requestID)
	assert.False(t, ok)
}

func TestTimeoutSalvagesRacingReply(t *testing.T) {
	h := newTestHub(t, Config{})

	pending := newPendingResponse("agent-b")
	h.pendingMu.Lock()
	h.pendingResponses["req-1"] = pending
	h.pendingMu.Unlock()

	// The reply wins the race: it is completed into the channel before
	// the waiter is marked timed out.
	pending.complete(message.NewSystem("agent-b", "agent-a", "late result"))

	h.onWaitTimeout("req-1", pending)

	result, ok := h.CheckCollaborationResult("req-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompletedLate, result.Status)
	assert.Equal(t, "late result", result.Content)
	assert.Zero(t, h.PendingCount())
}

func TestCollaborationRequestRoundTrip(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	go func() {
		inbound := <-b.inbox
		assert.Equal(t, message.TypeRequestCollaboration, inbound.Type)
		assert.Equal(t, []string{"agent-a"}, inbound.CollaborationChain())
		reply(t, h, b, inbound, "done")
	}()

	content, err := h.SendCollaborationRequest(context.Background(), a, "agent-b",
		"summarize", 5*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", content)
}

func TestSweepEvictsStaleLateResponses(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	_, err := h.SendMessageAndWaitResponse(context.Background(), a, "agent-b", "slow",
		message.TypeText, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	inbound := b.waitMessage(t)
	reply(t, h, b, inbound, "too late")
	require.Equal(t, 1, h.LateCount())

	assert.Equal(t, 1, h.sweepStale(0))
	assert.Zero(t, h.LateCount())
}

func TestHandlerPanicDoesNotFailRouting(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	h.AddGlobalHandler(func(*message.Message) { panic("boom") })
	seen := make(chan *message.Message, 1)
	h.AddMessageHandler("agent-b", func(msg *message.Message) { seen <- msg })

	msg, err := message.New("agent-a", "agent-b", "hi", a.Identity(), message.TypeText)
	require.NoError(t, err)
	ok, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case got := <-seen:
		assert.Equal(t, "hi", got.Content)
	case <-time.After(time.Second):
		t.Fatal("per-agent handler never ran")
	}

	require.Eventually(t, func() bool {
		_, _, panics := h.Stats()
		return panics == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUnregisterAgentIdempotent(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	register(t, h, a)

	assert.True(t, h.UnregisterAgent(context.Background(), "agent-a"))
	assert.False(t, h.UnregisterAgent(context.Background(), "agent-a"))
	assert.Zero(t, h.ActiveCount())
}
