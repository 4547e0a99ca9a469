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

// Package hub routes signed messages between registered agents.
//
// The hub is the single owner of the active-agent set. Routing verifies
// sender and receiver identity, checks interaction-mode compatibility,
// validates agent-to-agent traffic against the protocol, appends to the
// message history, and delivers into the receiver's mailbox. Request
// and response correlation lives here: SendMessageAndWaitResponse parks
// a waiter per request id, and replies carrying response_to complete it
// or, after the waiter timed out, land in the late-response buffer for
// explicit retrieval.
//
// Multiple hubs can coexist in one process; nothing here is a
// singleton.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weft-labs/weft/pkg/identity"
	"github.com/weft-labs/weft/pkg/message"
	"github.com/weft-labs/weft/pkg/observability"
	"github.com/weft-labs/weft/pkg/protocol"
	"github.com/weft-labs/weft/pkg/registry"
)

var (
	// ErrSecurity wraps every identity or signature failure during
	// routing. Callers branch with errors.Is.
	ErrSecurity = errors.New("hub: security violation")

	// ErrTimeout marks a send-and-wait call whose response did not
	// arrive in time. The waiter entry stays behind so a late reply can
	// still be buffered.
	ErrTimeout = errors.New("hub: response timeout")

	// ErrAgentNotActive marks sends through a hub that does not hold the
	// named agent.
	ErrAgentNotActive = errors.New("hub: agent not active")

	// ErrHubNotSet marks sends from an agent that was never registered
	// with a hub. Treat it as a programmer error.
	ErrHubNotSet = errors.New("hub: not set")

	// ErrClosed rejects operations on a closed hub.
	ErrClosed = errors.New("hub: closed")
)

// DefaultResponseTimeout bounds send-and-wait calls that pass a zero
// timeout.
const DefaultResponseTimeout = 30 * time.Second

// Agent is the hub's view of a participant: identity, registration
// metadata, and a mailbox. pkg/agent provides the standard
// implementation; tests substitute lighter ones.
type Agent interface {
	// ID returns the agent's registry id.
	ID() string

	// Identity returns the agent's cryptographic identity.
	Identity() *identity.Identity

	// Registration renders the agent's registry profile.
	Registration() *registry.AgentRegistration

	// ReceiveMessage enqueues a routed message. A full bounded mailbox
	// returns an error instead of blocking, which the hub surfaces as a
	// routing failure.
	ReceiveMessage(ctx context.Context, msg *message.Message) error

	// BindHub hands the agent a non-owning back-reference on
	// registration; UnbindHub clears it on unregistration.
	BindHub(h *Hub)
	UnbindHub()
}

// Handler observes routed messages. Handlers run on their own
// goroutines; panics are recovered and logged, never failing the route.
type Handler func(msg *message.Message)

// Config assembles a Hub.
type Config struct {
	// Registry receives the registration built from each agent. Nil
	// skips directory registration and routes on hub-local state only.
	Registry *registry.Registry

	// Validator checks agent-to-agent traffic. Nil installs the default
	// protocol validator.
	Validator *protocol.Validator

	// SendRate, when positive, caps each sender's routed messages per
	// second. SendBurst defaults to the ceiling of SendRate.
	SendRate  rate.Limit
	SendBurst int

	// ResponseTimeout is the default send-and-wait timeout. Zero means
	// DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// LateResponseTTL bounds how long timed-out waiters and buffered
	// late responses survive before the janitor sweeps them. Zero means
	// 10 minutes.
	LateResponseTTL time.Duration

	// JanitorSpec is the cron schedule for the sweep. Zero means
	// "@every 1m". The janitor only starts once Start is called.
	JanitorSpec string

	// History bounds the in-memory message history. The zero value gets
	// the History defaults.
	History HistoryConfig

	// OnRoutingFailure observes the reason string of each routing
	// failure. Telemetry hooks in here; nil is fine.
	OnRoutingFailure func(reason string)

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Hub routes messages between active agents. Safe for concurrent use.
type Hub struct {
	logger   *zap.Logger
	tracer   observability.Tracer
	registry *registry.Registry
	proto    *protocol.Validator

	responseTimeout time.Duration
	onFailure       func(reason string)

	mu           sync.RWMutex
	activeAgents map[string]Agent

	pendingMu        sync.Mutex
	pendingResponses map[string]*pendingResponse
	lateResponses    map[string]*lateResponse
	lateTTL          time.Duration

	handlerMu       sync.RWMutex
	messageHandlers map[string][]Handler
	globalHandlers  []Handler

	history *History
	guard   *sendGuard
	janitor *janitor

	totalRouted   atomic.Int64
	totalFailed   atomic.Int64
	handlerPanics atomic.Int64

	closed atomic.Bool
}

// New builds a hub from cfg.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = protocol.NewValidator()
	}
	timeout := cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	lateTTL := cfg.LateResponseTTL
	if lateTTL <= 0 {
		lateTTL = 10 * time.Minute
	}

	h := &Hub{
		logger:           logger,
		tracer:           tracer,
		registry:         cfg.Registry,
		proto:            validator,
		responseTimeout:  timeout,
		onFailure:        cfg.OnRoutingFailure,
		activeAgents:     make(map[string]Agent),
		pendingResponses: make(map[string]*pendingResponse),
		lateResponses:    make(map[string]*lateResponse),
		lateTTL:          lateTTL,
		messageHandlers:  make(map[string][]Handler),
		history:          NewHistory(cfg.History),
	}
	if cfg.SendRate > 0 {
		h.guard = newSendGuard(cfg.SendRate, cfg.SendBurst)
	}
	h.janitor = newJanitor(h, cfg.JanitorSpec, logger)
	return h
}

// Start launches the background janitor. Optional; a hub without a
// janitor works but never evicts stale late responses on its own.
func (h *Hub) Start() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.janitor.start()
}

// Close stops the janitor, unbinds every agent, and fails all waiting
// send-and-wait calls. Idempotent.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.janitor.stop()
	if h.guard != nil {
		h.guard.stop()
	}

	h.mu.Lock()
	agents := make([]Agent, 0, len(h.activeAgents))
	for _, a := range h.activeAgents {
		agents = append(agents, a)
	}
	h.activeAgents = make(map[string]Agent)
	h.mu.Unlock()
	for _, a := range agents {
		a.UnbindHub()
	}

	h.pendingMu.Lock()
	for id, pending := range h.pendingResponses {
		pending.close()
		delete(h.pendingResponses, id)
	}
	h.pendingMu.Unlock()
	return nil
}

// RegisterAgent registers the agent's profile with the registry, adds
// it to the active set, and binds the hub back-reference. On any
// failure the agent is neither active nor registered.
func (h *Hub) RegisterAgent(ctx context.Context, a Agent) error {
	if h.closed.Load() {
		return ErrClosed
	}
	reg := a.Registration()
	if reg == nil {
		return fmt.Errorf("hub: agent %s has no registration", a.ID())
	}

	if h.registry != nil {
		if err := h.registry.Register(ctx, reg); err != nil {
			return fmt.Errorf("registering agent %s: %w", a.ID(), err)
		}
	}

	h.mu.Lock()
	if _, exists := h.activeAgents[a.ID()]; exists {
		h.mu.Unlock()
		if h.registry != nil {
			h.registry.Unregister(ctx, a.ID())
		}
		return fmt.Errorf("hub: agent %s already active", a.ID())
	}
	h.activeAgents[a.ID()] = a
	h.mu.Unlock()

	a.BindHub(h)
	h.logger.Info("agent joined hub", zap.String("agent_id", a.ID()))
	return nil
}

// UnregisterAgent removes the agent from the active set and the
// registry and clears its hub binding and handlers. Idempotent.
func (h *Hub) UnregisterAgent(ctx context.Context, agentID string) bool {
	h.mu.Lock()
	a, ok := h.activeAgents[agentID]
	delete(h.activeAgents, agentID)
	h.mu.Unlock()

	h.handlerMu.Lock()
	delete(h.messageHandlers, agentID)
	h.handlerMu.Unlock()

	if h.registry != nil {
		h.registry.Unregister(ctx, agentID)
	}
	if !ok {
		return false
	}
	a.UnbindHub()
	h.logger.Info("agent left hub", zap.String("agent_id", agentID))
	return true
}

// ActiveAgent returns an active agent by id.
func (h *Hub) ActiveAgent(agentID string) (Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.activeAgents[agentID]
	return a, ok
}

// ActiveCount reports the number of active agents.
func (h *Hub) ActiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.activeAgents)
}

// AddMessageHandler observes every message delivered to agentID.
func (h *Hub) AddMessageHandler(agentID string, handler Handler) {
	h.handlerMu.Lock()
	h.messageHandlers[agentID] = append(h.messageHandlers[agentID], handler)
	h.handlerMu.Unlock()
}

// AddGlobalHandler observes every routed message.
func (h *Hub) AddGlobalHandler(handler Handler) {
	h.handlerMu.Lock()
	h.globalHandlers = append(h.globalHandlers, handler)
	h.handlerMu.Unlock()
}

// History returns the hub's message history store.
func (h *Hub) History() *History { return h.history }

// Stats reports lifetime routing counters.
func (h *Hub) Stats() (routed, failed, panics int64) {
	return h.totalRouted.Load(), h.totalFailed.Load(), h.handlerPanics.Load()
}

// PendingCount reports the number of parked send-and-wait waiters.
func (h *Hub) PendingCount() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pendingResponses)
}

// LateCount reports the number of buffered late responses.
func (h *Hub) LateCount() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.lateResponses)
}

// fail records a routing failure and returns false.
func (h *Hub) fail(reason string, fields ...zap.Field) bool {
	h.totalFailed.Add(1)
	if h.onFailure != nil {
		h.onFailure(reason)
	}
	h.logger.Warn("routing failed", append(fields, zap.String("reason", reason))...)
	return false
}

// RouteMessage delivers a message from its sender to its receiver.
//
// The return contract follows the error kinds: (false, nil) is a
// definite non-delivery from a routing condition (unknown agent,
// incompatible modes, protocol violation, rate guard, full mailbox);
// (false, error wrapping ErrSecurity) is an identity or signature
// failure; (true, nil) means the message reached the receiver's
// mailbox. System messages are recorded in history and report true
// without delivery.
func (h *Hub) RouteMessage(ctx context.Context, msg *message.Message) (bool, error) {
	if h.closed.Load() {
		return false, ErrClosed
	}
	ctx, span := h.tracer.StartSpan(ctx, "hub.route_message",
		observability.WithSpanKind("route"),
		observability.WithAttribute("message.type", string(msg.Type)))
	defer h.tracer.EndSpan(span)

	if msg.Type == message.TypeSystem {
		h.history.Append(msg)
		h.totalRouted.Add(1)
		return true, nil
	}

	h.mu.RLock()
	sender, senderOK := h.activeAgents[msg.SenderID]
	receiver, receiverOK := h.activeAgents[msg.ReceiverID]
	h.mu.RUnlock()
	if !senderOK {
		return h.fail("unknown_sender", zap.String("sender_id", msg.SenderID)), nil
	}
	if !receiverOK {
		return h.fail("unknown_receiver", zap.String("receiver_id", msg.ReceiverID)), nil
	}

	if h.guard != nil && !h.guard.allow(msg.SenderID) {
		return h.fail("rate_limited", zap.String("sender_id", msg.SenderID)), nil
	}

	senderReg := sender.Registration()
	receiverReg := receiver.Registration()

	// Cooldown and stop notifications bypass the full pipeline: a stop
	// is always delivered, a cooldown only reaches human participants.
	switch msg.Type {
	case message.TypeCooldown:
		if receiverReg.AgentType != registry.AgentTypeHuman {
			h.history.Append(msg)
			h.totalRouted.Add(1)
			return true, nil
		}
		return h.deliver(ctx, receiver, msg)
	case message.TypeStop:
		return h.deliver(ctx, receiver, msg)
	}

	if sender.Identity() == nil || sender.Identity().Status() != identity.StatusVerified {
		err := fmt.Errorf("%w: sender %s identity not verified", ErrSecurity, msg.SenderID)
		span.RecordError(err)
		h.totalFailed.Add(1)
		if h.onFailure != nil {
			h.onFailure("sender_unverified")
		}
		return false, err
	}
	if receiver.Identity() == nil || receiver.Identity().Status() != identity.StatusVerified {
		err := fmt.Errorf("%w: receiver %s identity not verified", ErrSecurity, msg.ReceiverID)
		span.RecordError(err)
		h.totalFailed.Add(1)
		if h.onFailure != nil {
			h.onFailure("receiver_unverified")
		}
		return false, err
	}
	if !msg.Verify(sender.Identity()) {
		err := fmt.Errorf("%w: invalid signature on message %s from %s", ErrSecurity, msg.ID, msg.SenderID)
		span.RecordError(err)
		h.totalFailed.Add(1)
		if h.onFailure != nil {
			h.onFailure("invalid_signature")
		}
		return false, err
	}

	if !registry.ModesIntersect(senderReg.InteractionModes, receiverReg.InteractionModes) {
		return h.fail("incompatible_modes",
			zap.String("sender_id", msg.SenderID),
			zap.String("receiver_id", msg.ReceiverID)), nil
	}

	if senderReg.AgentType == registry.AgentTypeAI && receiverReg.AgentType == registry.AgentTypeAI {
		if err := h.proto.Validate(msg); err != nil {
			return h.fail("protocol_violation",
				zap.String("message_id", msg.ID),
				zap.Error(err)), nil
		}
	}

	return h.deliver(ctx, receiver, msg)
}

// deliver appends to history, resolves response correlation, enqueues
// into the receiver's mailbox, and fans out to handlers.
func (h *Hub) deliver(ctx context.Context, receiver Agent, msg *message.Message) (bool, error) {
	h.history.Append(msg)

	if responseTo := msg.ResponseTo(); responseTo != "" {
		h.resolveResponse(responseTo, msg)
	}

	if err := receiver.ReceiveMessage(ctx, msg); err != nil {
		return h.fail("mailbox_full",
			zap.String("receiver_id", msg.ReceiverID),
			zap.Error(err)), nil
	}
	h.totalRouted.Add(1)

	h.fanOut(msg)
	return true, nil
}

// resolveResponse completes a still-pending waiter or buffers the
// message as a late response when its waiter already timed out.
func (h *Hub) resolveResponse(requestID string, msg *message.Message) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	pending, ok := h.pendingResponses[requestID]
	if !ok {
		return
	}
	if pending.timedOut.Load() {
		h.bufferLateLocked(requestID, msg)
		return
	}
	pending.complete(msg)
}

// bufferLateLocked parks msg in the late buffer and retires the waiter
// entry. Callers hold pendingMu.
func (h *Hub) bufferLateLocked(requestID string, msg *message.Message) {
	delete(h.pendingResponses, requestID)
	h.lateResponses[requestID] = &lateResponse{
		msg:        msg,
		bufferedAt: time.Now(),
	}
	h.logger.Info("late response buffered",
		zap.String("request_id", requestID),
		zap.String("sender_id", msg.SenderID))
}

// fanOut invokes per-agent and global handlers on their own goroutines.
// A panicking handler is recovered and logged; routing never fails on a
// handler.
func (h *Hub) fanOut(msg *message.Message) {
	h.handlerMu.RLock()
	handlers := make([]Handler, 0, len(h.globalHandlers)+len(h.messageHandlers[msg.ReceiverID]))
	handlers = append(handlers, h.messageHandlers[msg.ReceiverID]...)
	handlers = append(handlers, h.globalHandlers...)
	h.handlerMu.RUnlock()

	for _, handler := range handlers {
		go func(fn Handler) {
			defer func() {
				if r := recover(); r != nil {
					h.handlerPanics.Add(1)
					h.logger.Error("message handler panicked",
						zap.String("message_id", msg.ID),
						zap.Any("panic", r))
				}
			}()
			fn(msg)
		}(handler)
	}
}

// SendMessageAndWaitResponse sends content from sender to receiverID
// and blocks until a reply carrying response_to arrives or the timeout
// expires. A zero timeout uses the hub default. On timeout the waiter
// is marked timed out and left in place, so a late reply is buffered
// instead of lost; the call returns ErrTimeout.
func (h *Hub) SendMessageAndWaitResponse(ctx context.Context, sender Agent, receiverID, content string, typ message.MessageType, timeout time.Duration, opts ...message.Option) (*message.Message, error) {
	if timeout <= 0 {
		timeout = h.responseTimeout
	}
	requestID := uuid.NewString()

	pending := newPendingResponse(receiverID)
	h.pendingMu.Lock()
	h.pendingResponses[requestID] = pending
	h.pendingMu.Unlock()

	opts = append(opts, message.WithMeta(message.KeyRequestID, requestID))
	msg, err := message.New(sender.ID(), receiverID, content, sender.Identity(), typ, opts...)
	if err != nil {
		h.dropPending(requestID)
		return nil, err
	}
	ok, err := h.RouteMessage(ctx, msg)
	if err != nil {
		h.dropPending(requestID)
		return nil, err
	}
	if !ok {
		h.dropPending(requestID)
		return nil, fmt.Errorf("hub: message %s to %s was not routed", msg.ID, receiverID)
	}

	select {
	case resp, open := <-pending.ch:
		h.dropPending(requestID)
		if !open {
			return nil, ErrClosed
		}
		return resp, nil
	case <-time.After(timeout):
		h.onWaitTimeout(requestID, pending)
		return nil, fmt.Errorf("%w: request %s after %s", ErrTimeout, requestID, timeout)
	case <-ctx.Done():
		h.dropPending(requestID)
		return nil, ctx.Err()
	}
}

// onWaitTimeout marks a waiter timed out, then salvages a reply that
// was completed into the channel before the flag became visible. Such
// a reply belongs in the late buffer, not in a channel nobody reads.
func (h *Hub) onWaitTimeout(requestID string, pending *pendingResponse) {
	pending.timedOut.Store(true)
	select {
	case resp, open := <-pending.ch:
		if open && resp != nil {
			h.pendingMu.Lock()
			h.bufferLateLocked(requestID, resp)
			h.pendingMu.Unlock()
		}
	default:
	}
}

func (h *Hub) dropPending(requestID string) {
	h.pendingMu.Lock()
	delete(h.pendingResponses, requestID)
	h.pendingMu.Unlock()
}

// SendCollaborationRequest sends a REQUEST_COLLABORATION carrying task
// and returns the textual content of the correlated response. The
// sender is appended to the collaboration chain so downstream agents
// can detect delegation cycles. Extra metadata rides along unchanged.
func (h *Hub) SendCollaborationRequest(ctx context.Context, sender Agent, receiverID, task string, timeout time.Duration, metadata map[string]any) (string, error) {
	chain := append(chainFromMetadata(metadata), sender.ID())
	opts := []message.Option{
		message.WithMeta(message.KeyCollaborationChain, chain),
	}
	if metadata != nil {
		opts = append(opts, message.WithMetadata(metadata))
	}
	resp, err := h.SendMessageAndWaitResponse(ctx, sender, receiverID, task,
		message.TypeRequestCollaboration, timeout, opts...)
	if err != nil {
		return "", err
	}
	if resp.Type == message.TypeCollaborationError {
		return "", fmt.Errorf("hub: collaboration rejected by %s: %s", resp.SenderID, resp.Reason())
	}
	return resp.Content, nil
}

// chainFromMetadata reads an existing collaboration chain out of caller
// metadata so multi-hop delegations keep growing one chain.
func chainFromMetadata(metadata map[string]any) []string {
	if metadata == nil {
		return nil
	}
	raw, ok := metadata[message.KeyCollaborationChain]
	if !ok {
		return nil
	}
	delete(metadata, message.KeyCollaborationChain)
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	default:
		return nil
	}
}
