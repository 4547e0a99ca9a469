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

// Package agent implements the base agent: the mailbox loop,
// conversation bookkeeping, cooldown state, pending-request
// correlation, and the pre-filter chain every inbound message passes
// before the user-supplied processor sees it.
//
// A BaseAgent does no reasoning of its own. The Processor hook receives
// each message that survives the pre-filter and returns the reply, if
// any; everything around it (signature checks, cooldown and turn
// enforcement, collaboration-response forcing, error replies) is the
// base agent's job, and the loop survives any processor failure.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weft-labs/weft/pkg/hub"
	"github.com/weft-labs/weft/pkg/identity"
	"github.com/weft-labs/weft/pkg/interaction"
	"github.com/weft-labs/weft/pkg/message"
	"github.com/weft-labs/weft/pkg/observability"
	"github.com/weft-labs/weft/pkg/registry"
)

var (
	// ErrAlreadyRunning rejects a second concurrent Run.
	ErrAlreadyRunning = errors.New("agent: already running")

	// ErrMailboxFull surfaces a bounded mailbox that cannot accept
	// another message. The hub turns it into a routing failure instead
	// of blocking.
	ErrMailboxFull = errors.New("agent: mailbox full")
)

const (
	// defaultMailboxSize bounds the mailbox channel. Large enough that
	// only a pathologically slow agent ever pushes back on the hub.
	defaultMailboxSize = 1024

	// defaultProcessTimeout caps one message's processing task.
	defaultProcessTimeout = 180 * time.Second

	// pollInterval is how often the loop wakes while the mailbox is
	// idle.
	pollInterval = 100 * time.Millisecond
)

// Reply is what processing one message produces. A nil *Reply means no
// response is sent.
type Reply struct {
	Content  string
	Type     message.MessageType
	Metadata map[string]any
}

func (r *Reply) meta(key string, value any) *Reply {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Processor is the user-supplied hook that handles one inbound message.
// It runs on its own goroutine under a processing deadline; returning
// an error never kills the agent loop.
type Processor func(ctx context.Context, msg *message.Message) (*Reply, error)

// Config assembles a BaseAgent.
type Config struct {
	// Registration is the agent's full profile, identity included. The
	// identity must hold a private key so the agent can sign.
	Registration *registry.AgentRegistration

	// Processor handles messages that pass the pre-filter. Nil is
	// valid: the agent then answers only what the pre-filter answers.
	Processor Processor

	// Limiter enforces token-rate and turn limits on inbound traffic.
	// Optional.
	Limiter *interaction.Limiter

	// Registry resolves peer registrations for error reporting and
	// signature checks when the hub binding is absent. Optional.
	Registry *registry.Registry

	// MaxTurns ends a conversation after this many messages from one
	// peer. Zero disables the check.
	MaxTurns int

	// MailboxSize bounds the mailbox. Zero means 1024.
	MailboxSize int

	// ProcessTimeout caps one processing task. Zero means 180s; on
	// expiry the requester gets a workflow-timeout error reply.
	ProcessTimeout time.Duration

	Logger *zap.Logger
	Tracer observability.Tracer
}

// BaseAgent is the standard hub.Agent implementation.
type BaseAgent struct {
	reg       *registry.AgentRegistration
	ident     *identity.Identity
	processor Processor
	limiter   *interaction.Limiter
	counter   *interaction.Counter
	registry  *registry.Registry

	maxTurns       int
	processTimeout time.Duration
	logger         *zap.Logger
	tracer         observability.Tracer

	hubMu sync.RWMutex
	hub   *hub.Hub

	mailbox chan *message.Message
	stopCh  chan struct{}
	stopped sync.Once
	running atomic.Bool
	wg      sync.WaitGroup

	histMu  sync.Mutex
	history []*message.Message

	convMu          sync.Mutex
	conversations   map[string]*Conversation
	pendingRequests map[string]string

	cooldownMu    sync.Mutex
	cooldownUntil time.Time
}

// New builds a BaseAgent from cfg.
func New(cfg Config) (*BaseAgent, error) {
	if cfg.Registration == nil {
		return nil, errors.New("agent: nil registration")
	}
	if err := cfg.Registration.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Registration.Identity.HasPrivateKey() {
		return nil, fmt.Errorf("agent %s: %w", cfg.Registration.AgentID, identity.ErrNoPrivateKey)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	size := cfg.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = defaultProcessTimeout
	}
	return &BaseAgent{
		reg:             cfg.Registration,
		ident:           cfg.Registration.Identity,
		processor:       cfg.Processor,
		limiter:         cfg.Limiter,
		counter:         interaction.SharedCounter(),
		registry:        cfg.Registry,
		maxTurns:        cfg.MaxTurns,
		processTimeout:  timeout,
		logger:          logger.With(zap.String("agent_id", cfg.Registration.AgentID)),
		tracer:          tracer,
		mailbox:         make(chan *message.Message, size),
		stopCh:          make(chan struct{}),
		conversations:   make(map[string]*Conversation),
		pendingRequests: make(map[string]string),
	}, nil
}

// ID returns the agent id.
func (a *BaseAgent) ID() string { return a.reg.AgentID }

// Identity returns the agent's cryptographic identity.
func (a *BaseAgent) Identity() *identity.Identity { return a.ident }

// Registration returns the agent's registry profile.
func (a *BaseAgent) Registration() *registry.AgentRegistration { return a.reg }

// BindHub stores the hub back-reference. The hub calls this on
// registration.
func (a *BaseAgent) BindHub(h *hub.Hub) {
	a.hubMu.Lock()
	a.hub = h
	a.hubMu.Unlock()
}

// UnbindHub clears the hub back-reference.
func (a *BaseAgent) UnbindHub() {
	a.hubMu.Lock()
	a.hub = nil
	a.hubMu.Unlock()
}

// Hub returns the bound hub or ErrHubNotSet when the agent was never
// registered.
func (a *BaseAgent) Hub() (*hub.Hub, error) {
	a.hubMu.RLock()
	defer a.hubMu.RUnlock()
	if a.hub == nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID(), hub.ErrHubNotSet)
	}
	return a.hub, nil
}

// ReceiveMessage enqueues an inbound message and records it. When the
// mailbox is full it returns ErrMailboxFull instead of blocking, which
// the hub surfaces as a routing failure.
func (a *BaseAgent) ReceiveMessage(ctx context.Context, msg *message.Message) error {
	_ = ctx
	select {
	case a.mailbox <- msg:
	default:
		return fmt.Errorf("%w: agent %s", ErrMailboxFull, a.ID())
	}
	a.recordHistory(msg)
	a.touchConversation(msg.SenderID)
	return nil
}

func (a *BaseAgent) recordHistory(msg *message.Message) {
	a.histMu.Lock()
	a.history = append(a.history, msg)
	a.histMu.Unlock()
}

// History returns a copy of the agent's local message record.
func (a *BaseAgent) History() []*message.Message {
	a.histMu.Lock()
	defer a.histMu.Unlock()
	return append([]*message.Message(nil), a.history...)
}

// Run drives the mailbox loop until Stop is called or ctx is done.
// Each dequeued message is processed on its own goroutine so a slow
// processor never blocks intake; Run waits for in-flight processing
// before returning.
func (a *BaseAgent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)
	defer a.wg.Wait()

	a.logger.Info("agent loop started")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-a.mailbox:
			a.wg.Add(1)
			go a.handle(ctx, msg)
		case <-ticker.C:
			// Idle wakeup so a Stop between messages is observed
			// promptly even on a quiet mailbox.
		case <-a.stopCh:
			a.logger.Info("agent loop stopped")
			return nil
		case <-ctx.Done():
			a.logger.Info("agent loop cancelled")
			return ctx.Err()
		}
	}
}

// IsRunning reports whether the loop is active.
func (a *BaseAgent) IsRunning() bool { return a.running.Load() }

// Stop signals the loop to exit. In-flight processing tasks finish;
// callers waiting in send-and-wait time out naturally.
func (a *BaseAgent) Stop() {
	a.stopped.Do(func() { close(a.stopCh) })
}

// handle processes one message under the processing deadline and sends
// whatever reply comes out. Processor failures and deadline expiry turn
// into error replies; the loop itself never dies.
func (a *BaseAgent) handle(ctx context.Context, msg *message.Message) {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("message processing panicked",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r))
			a.reportError(ctx, msg, fmt.Errorf("processing panic: %v", r))
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, a.processTimeout)
	defer cancel()
	pctx, span := a.tracer.StartSpan(pctx, "agent.process_message",
		observability.WithSpanKind("agent"),
		observability.WithAttribute("message.type", string(msg.Type)))
	defer a.tracer.EndSpan(span)

	reply, err := a.Process(pctx, msg)
	if err != nil {
		span.RecordError(err)
		a.reportError(ctx, msg, err)
		return
	}
	if reply == nil {
		return
	}
	if err := a.sendReply(ctx, msg, reply); err != nil {
		span.RecordError(err)
		a.logger.Warn("sending reply failed",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// Process runs the pre-filter and then the processor, and applies
// collaboration-response forcing to whatever comes out.
func (a *BaseAgent) Process(ctx context.Context, msg *message.Message) (*Reply, error) {
	reply, handled := a.ProcessBase(ctx, msg)
	if !handled && a.processor != nil {
		var err error
		reply, err = a.processor(ctx, msg)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				timeoutReply := (&Reply{
					Content: "processing exceeded the workflow time limit",
					Type:    message.TypeError,
				}).meta(message.KeyErrorType, "workflow_timeout")
				return a.forceCollaboration(msg, timeoutReply), nil
			}
			return nil, err
		}
	}
	return a.forceCollaboration(msg, reply), nil
}

// ProcessBase is the pre-filter every inbound message passes before
// the processor. It answers control traffic (STOP, COOLDOWN,
// VERIFICATION), enforces signature validity, collaboration-cycle
// rejection, cooldown, turn, and rate limits, and records
// pending-request correlation. The second return reports whether the
// message is fully handled; false hands it to the processor.
func (a *BaseAgent) ProcessBase(ctx context.Context, msg *message.Message) (*Reply, bool) {
	_ = ctx
	// Record the correlation id before anything can return: replies the
	// pre-filter itself produces (cycle rejection, cooldown, turn-limit
	// stop) must still carry response_to so the sender's waiter resumes.
	if requestID := msg.RequestID(); requestID != "" {
		a.convMu.Lock()
		a.pendingRequests[msg.SenderID] = requestID
		a.convMu.Unlock()
	}

	if msg.Type == message.TypeStop || msg.Content == message.ExitContent {
		a.EndConversation(msg.SenderID)
		return (&Reply{
			Content: "conversation ended",
			Type:    message.TypeIgnore,
		}).meta(message.KeyReason, "conversation_ended"), true
	}

	if msg.Type == message.TypeCooldown {
		// Acknowledge and swallow; propagating a cooldown notice would
		// ping-pong between two cooled-down agents.
		return (&Reply{
			Content: "cooldown acknowledged",
			Type:    message.TypeIgnore,
		}).meta(message.KeyReason, "cooldown_acknowledged"), true
	}

	if msg.Type == message.TypeVerification {
		sig, err := a.ident.Sign(msg.Content)
		if err != nil {
			return (&Reply{
				Content: "signing failed",
				Type:    message.TypeError,
			}).meta(message.KeyErrorType, "signing_failed"), true
		}
		return (&Reply{
			Content: sig,
			Type:    message.TypeResponse,
		}).meta(message.KeyStatus, "verified"), true
	}

	if senderIdent := a.senderIdentity(msg.SenderID); senderIdent != nil {
		if !msg.Verify(senderIdent) {
			return (&Reply{
				Content: "message verification failed",
				Type:    message.TypeError,
			}).meta(message.KeyErrorType, "verification_failed"), true
		}
	}

	if msg.Type == message.TypeRequestCollaboration {
		for _, hop := range msg.CollaborationChain() {
			if hop == a.ID() {
				return (&Reply{
					Content: "delegation cycle detected",
					Type:    message.TypeCollaborationError,
				}).meta(message.KeyReason, "collaboration_cycle"), true
			}
		}
	}

	if remaining := a.CooldownRemaining(); remaining > 0 {
		return (&Reply{
			Content: fmt.Sprintf("in cooldown for %s", remaining.Round(time.Second)),
			Type:    message.TypeCooldown,
		}).meta(message.KeyCooldownRemaining, remaining.Seconds()), true
	}

	if a.maxTurns > 0 {
		if conv, ok := a.Conversation(msg.SenderID); ok && conv.MessageCount >= a.maxTurns {
			a.EndConversation(msg.SenderID)
			return (&Reply{
				Content: "turn limit reached",
				Type:    message.TypeStop,
			}).meta(message.KeyReason, "max_turns_reached"), true
		}
	}

	if a.limiter != nil {
		tokens := a.counter.Count(msg.Content)
		decision := a.limiter.ProcessInteraction(tokens, msg.SenderID)
		switch decision.Action {
		case interaction.ActionStop:
			a.EndConversation(msg.SenderID)
			return (&Reply{
				Content: "turn limit reached",
				Type:    message.TypeStop,
			}).meta(message.KeyReason, "max_turns_reached"), true
		case interaction.ActionWait:
			a.SetCooldown(decision.Cooldown)
			return (&Reply{
				Content: fmt.Sprintf("rate limited, retry in %s", decision.Cooldown.Round(time.Second)),
				Type:    message.TypeCooldown,
			}).meta(message.KeyCooldownRemaining, decision.Cooldown.Seconds()), true
		}
	}

	return nil, false
}

// forceCollaboration rewrites the reply type so the hub correlator
// recognizes it: any answer to a REQUEST_COLLABORATION goes out as
// COLLABORATION_RESPONSE, with the type it would otherwise have carried
// preserved in metadata. Cycle rejections keep COLLABORATION_ERROR.
func (a *BaseAgent) forceCollaboration(msg *message.Message, reply *Reply) *Reply {
	if reply == nil || msg.Type != message.TypeRequestCollaboration {
		return reply
	}
	if reply.Type == message.TypeCollaborationResponse || reply.Type == message.TypeCollaborationError {
		return reply
	}
	reply.meta(message.KeyOriginalMessageType, string(reply.Type))
	reply.Type = message.TypeCollaborationResponse
	return reply
}

// senderIdentity resolves the sender's identity through the hub's
// active set, falling back to the registry. A nil return skips the
// signature re-check; the hub already enforced it during routing.
func (a *BaseAgent) senderIdentity(senderID string) *identity.Identity {
	a.hubMu.RLock()
	h := a.hub
	a.hubMu.RUnlock()
	if h != nil {
		if peer, ok := h.ActiveAgent(senderID); ok {
			return peer.Identity()
		}
	}
	if a.registry != nil {
		if reg, ok := a.registry.Get(senderID); ok {
			return reg.Identity
		}
	}
	return nil
}

// sendReply sends a processing result back to the message's sender,
// carrying the reply's type and metadata.
func (a *BaseAgent) sendReply(ctx context.Context, inbound *message.Message, reply *Reply) error {
	var opts []message.Option
	if reply.Metadata != nil {
		opts = append(opts, message.WithMetadata(reply.Metadata))
	}
	_, err := a.SendMessage(ctx, inbound.SenderID, reply.Content, reply.Type, opts...)
	return err
}

// SendMessage signs and routes a message to receiverID. A pending
// request recorded for that peer is consumed: the outgoing metadata
// gains response_to so the peer's waiter resumes.
func (a *BaseAgent) SendMessage(ctx context.Context, receiverID, content string, typ message.MessageType, opts ...message.Option) (*message.Message, error) {
	h, err := a.Hub()
	if err != nil {
		return nil, err
	}

	a.convMu.Lock()
	if requestID, ok := a.pendingRequests[receiverID]; ok {
		delete(a.pendingRequests, receiverID)
		opts = append(opts, message.WithMeta(message.KeyResponseTo, requestID))
	}
	a.convMu.Unlock()

	msg, err := message.New(a.ID(), receiverID, content, a.ident, typ, opts...)
	if err != nil {
		return nil, err
	}
	ok, err := h.RouteMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("routing message to %s: %w", receiverID, err)
	}
	if !ok {
		return nil, fmt.Errorf("agent %s: message to %s was not routed", a.ID(), receiverID)
	}
	a.recordHistory(msg)
	a.touchConversation(receiverID)
	return msg, nil
}

// SendAndWait sends content to receiverID and blocks for the
// correlated response, up to timeout.
func (a *BaseAgent) SendAndWait(ctx context.Context, receiverID, content string, typ message.MessageType, timeout time.Duration) (*message.Message, error) {
	h, err := a.Hub()
	if err != nil {
		return nil, err
	}
	resp, err := h.SendMessageAndWaitResponse(ctx, a, receiverID, content, typ, timeout)
	if err != nil {
		return nil, err
	}
	a.touchConversation(receiverID)
	return resp, nil
}

// RequestCollaboration delegates a task to receiverID and returns the
// response content.
func (a *BaseAgent) RequestCollaboration(ctx context.Context, receiverID, task string, timeout time.Duration, metadata map[string]any) (string, error) {
	h, err := a.Hub()
	if err != nil {
		return "", err
	}
	return h.SendCollaborationRequest(ctx, a, receiverID, task, timeout, metadata)
}

// reportError turns a processing failure into an ERROR reply to the
// original human participant in the conversation chain, or to the
// sender when no human is identifiable. Failures to report are logged
// and dropped.
func (a *BaseAgent) reportError(ctx context.Context, msg *message.Message, procErr error) {
	target := a.findOriginalHuman(msg)
	reply := (&Reply{
		Content: fmt.Sprintf("processing failed: %v", procErr),
		Type:    message.TypeError,
	}).meta(message.KeyErrorType, "processing_error").
		meta(message.KeyHandledError, strconv.FormatBool(true))
	reply = a.forceCollaboration(msg, reply)

	opts := []message.Option{message.WithMetadata(reply.Metadata)}
	if _, err := a.SendMessage(ctx, target, reply.Content, reply.Type, opts...); err != nil {
		a.logger.Error("reporting processing error failed",
			zap.String("message_id", msg.ID),
			zap.NamedError("processing_error", procErr),
			zap.Error(err))
	}
}

// findOriginalHuman walks the message metadata and the collaboration
// chain for a human participant to report failures to. The immediate
// sender is the fallback.
func (a *BaseAgent) findOriginalHuman(msg *message.Message) string {
	if orig := msg.Metadata[message.KeyOriginalSender]; orig != nil {
		if id, ok := orig.(string); ok && id != "" {
			return id
		}
	}
	if a.registry != nil {
		for _, hop := range msg.CollaborationChain() {
			if typ, ok := a.registry.AgentType(hop); ok && typ == registry.AgentTypeHuman {
				return hop
			}
		}
	}
	return msg.SenderID
}

// SetCooldown refuses new processing for d from now.
func (a *BaseAgent) SetCooldown(d time.Duration) {
	a.cooldownMu.Lock()
	a.cooldownUntil = time.Now().Add(d)
	a.cooldownMu.Unlock()
}

// IsInCooldown reports whether the agent currently refuses processing.
func (a *BaseAgent) IsInCooldown() bool { return a.CooldownRemaining() > 0 }

// CooldownRemaining reports how much cooldown is left, zero when none.
func (a *BaseAgent) CooldownRemaining() time.Duration {
	a.cooldownMu.Lock()
	defer a.cooldownMu.Unlock()
	remaining := time.Until(a.cooldownUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetCooldown clears any active cooldown.
func (a *BaseAgent) ResetCooldown() {
	a.cooldownMu.Lock()
	a.cooldownUntil = time.Time{}
	a.cooldownMu.Unlock()
}
