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

// Package registry owns the agent registration lifecycle: uniqueness,
// identity verification, the in-memory capability indexes, and the
// hand-off to the vector discovery service. All index mutation happens
// inside Register, Unregister, and Update under one writer lock, so a
// registration is either fully visible everywhere or absent everywhere.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/weft-labs/weft/pkg/identity"
	"github.com/weft-labs/weft/pkg/observability"
)

var (
	// ErrAgentExists rejects a second registration under an agent id.
	ErrAgentExists = errors.New("registry: agent already registered")

	// ErrAgentNotFound marks lookups and updates of unknown agents.
	ErrAgentNotFound = errors.New("registry: agent not found")

	// ErrIdentityUnverified rejects registrations whose identity fails
	// verification.
	ErrIdentityUnverified = errors.New("registry: identity verification failed")
)

// Match is one semantic search hit as the discovery service reports it:
// an agent id with its best similarity score.
type Match struct {
	AgentID string
	Score   float64
}

// Discovery is the slice of the vector discovery service the registry
// consumes. The concrete implementation lives in pkg/discovery; the
// registry only ever talks through this interface so that embedding and
// vector-store failures degrade discovery, never registration.
type Discovery interface {
	// Init probes backends and prepares the collection. The registry
	// signals readiness once Init returns, regardless of outcome.
	Init(ctx context.Context) error

	// UpdateCapabilityEmbeddings atomically replaces the documents for
	// one agent with freshly generated ones.
	UpdateCapabilityEmbeddings(ctx context.Context, reg *AgentRegistration) error

	// ClearAgentEmbeddings removes every document belonging to an agent.
	ClearAgentEmbeddings(ctx context.Context, agentID string) error

	// FindByCapabilitySemantic runs a semantic search and returns agent
	// matches deduplicated by agent id, best score first.
	FindByCapabilitySemantic(ctx context.Context, query string, limit int, threshold float64, filters map[string][]string) ([]Match, error)
}

// SearchResult pairs a registration with its semantic similarity score.
type SearchResult struct {
	Registration *AgentRegistration
	Score        float64
}

// Config assembles a Registry.
type Config struct {
	// Discovery enables semantic search. Nil leaves the registry fully
	// functional on exact indexes only.
	Discovery Discovery

	// InitTimeout bounds the background discovery initialization.
	// Zero means 30 seconds.
	InitTimeout time.Duration

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Registry is the authoritative in-process agent directory. Multiple
// registries can coexist in one process; nothing here is a singleton.
type Registry struct {
	logger    *zap.Logger
	tracer    observability.Tracer
	discovery Discovery

	mu     sync.RWMutex
	agents map[string]*AgentRegistration
	index  *capabilityIndex

	ready      chan struct{}
	initCancel context.CancelFunc

	totalRegistered   atomic.Int64
	totalUnregistered atomic.Int64
}

// New builds a registry and starts discovery initialization in the
// background. Ready is closed when initialization settles, whether the
// discovery service came up, entered fallback mode, or was never given.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	r := &Registry{
		logger:    logger,
		tracer:    tracer,
		discovery: cfg.Discovery,
		agents:    make(map[string]*AgentRegistration),
		index:     newCapabilityIndex(),
		ready:     make(chan struct{}),
	}

	timeout := cfg.InitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	r.initCancel = cancel
	go func() {
		defer cancel()
		defer close(r.ready)
		if r.discovery == nil {
			return
		}
		if err := r.discovery.Init(ctx); err != nil {
			r.logger.Warn("discovery initialization degraded", zap.Error(err))
			return
		}
		r.logger.Info("discovery service initialized")
	}()
	return r
}

// Ready is closed once the registry accepts registrations and searches.
func (r *Registry) Ready() <-chan struct{} { return r.ready }

// Close cancels any in-flight initialization. Registered agents stay
// available; Close exists so tests and shutdown paths do not leak the
// init goroutine's timer.
func (r *Registry) Close() error {
	r.initCancel()
	return nil
}

func (r *Registry) awaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VerifyIdentity checks that an identity is structurally sound: a
// well-formed DID that matches the one derived from its public key.
// The signature is asynchronous so a real DID resolver can replace the
// body without changing callers.
func (r *Registry) VerifyIdentity(ctx context.Context, ident *identity.Identity) (bool, error) {
	_ = ctx
	if ident == nil || ident.PublicKey() == nil {
		return false, nil
	}
	did, err := identity.ParseDID(ident.DID)
	if err != nil {
		return false, nil
	}
	derived, err := identity.DeriveDID(ident.PublicKey(), did.Method)
	if err != nil {
		return false, nil
	}
	return derived == ident.DID, nil
}

// validateCapabilitySchemas compiles each declared capability schema so
// malformed schemas are rejected before any index mutation.
func validateCapabilitySchemas(reg *AgentRegistration) error {
	for _, c := range reg.Capabilities {
		for side, schema := range map[string]map[string]any{"input": c.InputSchema, "output": c.OutputSchema} {
			if schema == nil {
				continue
			}
			if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
				return fmt.Errorf("%w: capability %q %s schema: %v", ErrInvalidRegistration, c.Name, side, err)
			}
		}
	}
	return nil
}

// Register inserts a new registration. It rejects duplicates, verifies
// the identity, updates every index, and pushes embeddings to the
// discovery service. On any failure the registry is left unchanged.
func (r *Registry) Register(ctx context.Context, reg *AgentRegistration) error {
	if err := r.awaitReady(ctx); err != nil {
		return err
	}
	ctx, span := r.tracer.StartSpan(ctx, "registry.register",
		observability.WithSpanKind("registry"))
	defer r.tracer.EndSpan(span)

	if err := reg.Validate(); err != nil {
		span.RecordError(err)
		return err
	}
	if err := validateCapabilitySchemas(reg); err != nil {
		span.RecordError(err)
		return err
	}
	ok, err := r.VerifyIdentity(ctx, reg.Identity)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("verifying identity for %s: %w", reg.AgentID, err)
	}
	if !ok {
		span.RecordError(ErrIdentityUnverified)
		return fmt.Errorf("%w: agent %s", ErrIdentityUnverified, reg.AgentID)
	}
	if reg.Identity.Status() == identity.StatusPending {
		if err := reg.Identity.MarkVerified(); err != nil {
			return fmt.Errorf("marking identity verified: %w", err)
		}
	}
	if reg.Identity.Status() != identity.StatusVerified {
		return fmt.Errorf("%w: identity status %s", ErrIdentityUnverified, reg.Identity.Status())
	}

	stored := reg.clone()
	if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now().UTC()
	}

	r.mu.Lock()
	if _, exists := r.agents[stored.AgentID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentExists, stored.AgentID)
	}
	r.agents[stored.AgentID] = stored
	r.index.add(stored)
	r.mu.Unlock()

	if r.discovery != nil {
		if err := r.discovery.UpdateCapabilityEmbeddings(ctx, stored); err != nil {
			// Roll back so failure is not partially observable.
			r.mu.Lock()
			delete(r.agents, stored.AgentID)
			r.index.remove(stored)
			r.mu.Unlock()
			if clearErr := r.discovery.ClearAgentEmbeddings(ctx, stored.AgentID); clearErr != nil {
				r.logger.Warn("clearing embeddings after failed registration",
					zap.String("agent_id", stored.AgentID), zap.Error(clearErr))
			}
			span.RecordError(err)
			return fmt.Errorf("updating embeddings for %s: %w", stored.AgentID, err)
		}
	}

	r.totalRegistered.Add(1)
	span.SetAttribute("agent.id", stored.AgentID)
	r.logger.Info("agent registered",
		zap.String("agent_id", stored.AgentID),
		zap.String("agent_type", string(stored.AgentType)),
		zap.Int("capabilities", len(stored.Capabilities)))
	return nil
}

// Unregister removes an agent from every index and from the vector
// store. The second call for the same id returns false and does nothing.
func (r *Registry) Unregister(ctx context.Context, agentID string) bool {
	_, span := r.tracer.StartSpan(ctx, "registry.unregister",
		observability.WithSpanKind("registry"),
		observability.WithAttribute("agent.id", agentID))
	defer r.tracer.EndSpan(span)

	r.mu.Lock()
	reg, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
		r.index.remove(reg)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if r.discovery != nil {
		if err := r.discovery.ClearAgentEmbeddings(ctx, agentID); err != nil {
			r.logger.Warn("clearing embeddings on unregister",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	r.totalUnregistered.Add(1)
	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	return true
}

// Update applies whitelisted changes to a registration. Index rewrite
// and embedding refresh happen as one logical operation: if the
// embedding refresh fails, the indexes are restored to the previous
// state and the error is returned.
func (r *Registry) Update(ctx context.Context, agentID string, updates Updates) (*AgentRegistration, error) {
	if err := r.awaitReady(ctx); err != nil {
		return nil, err
	}
	ctx, span := r.tracer.StartSpan(ctx, "registry.update",
		observability.WithSpanKind("registry"),
		observability.WithAttribute("agent.id", agentID))
	defer r.tracer.EndSpan(span)

	r.mu.Lock()
	current, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	next, embeddingDirty := updates.apply(current)
	if err := next.Validate(); err != nil {
		r.mu.Unlock()
		span.RecordError(err)
		return nil, err
	}
	if err := validateCapabilitySchemas(next); err != nil {
		r.mu.Unlock()
		span.RecordError(err)
		return nil, err
	}
	r.index.remove(current)
	r.index.add(next)
	r.agents[agentID] = next
	r.mu.Unlock()

	if embeddingDirty && r.discovery != nil {
		if err := r.discovery.UpdateCapabilityEmbeddings(ctx, next); err != nil {
			r.mu.Lock()
			r.index.remove(next)
			r.index.add(current)
			r.agents[agentID] = current
			r.mu.Unlock()
			span.RecordError(err)
			return nil, fmt.Errorf("refreshing embeddings for %s: %w", agentID, err)
		}
	}

	r.logger.Info("agent registration updated",
		zap.String("agent_id", agentID),
		zap.Bool("embeddings_refreshed", embeddingDirty))
	return next, nil
}

// Get returns the registration for an agent id.
func (r *Registry) Get(agentID string) (*AgentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	return reg, ok
}

// AgentType returns the registered type of an agent.
func (r *Registry) AgentType(agentID string) (AgentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	return reg.AgentType, true
}

// resolve maps agent ids to registrations, skipping ids that vanished
// between the index read and this lookup.
func (r *Registry) resolve(ids []string) []*AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentRegistration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.agents[id]; ok {
			out = append(out, reg)
		}
	}
	return out
}

// GetByCapability finds agents by exact capability name. When the exact
// index has no hits, it falls back to semantic search over the same
// name, so near-miss names still discover providers.
func (r *Registry) GetByCapability(ctx context.Context, name string, limit int, threshold float64) ([]*AgentRegistration, error) {
	if err := r.awaitReady(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := r.index.agentsWithCapability(name)
	r.mu.RUnlock()
	if len(ids) > 0 {
		regs := r.resolve(ids)
		if limit > 0 && len(regs) > limit {
			regs = regs[:limit]
		}
		return regs, nil
	}
	if r.discovery == nil {
		return nil, nil
	}
	results, err := r.GetByCapabilitySemantic(ctx, name, limit, threshold, nil)
	if err != nil {
		return nil, err
	}
	regs := make([]*AgentRegistration, 0, len(results))
	for _, res := range results {
		regs = append(regs, res.Registration)
	}
	return regs, nil
}

// GetByCapabilitySemantic searches the vector index and resolves the
// matches against live registrations, skipping agents that unregistered
// since the index was written.
func (r *Registry) GetByCapabilitySemantic(ctx context.Context, query string, limit int, threshold float64, filters map[string][]string) ([]SearchResult, error) {
	if err := r.awaitReady(ctx); err != nil {
		return nil, err
	}
	if r.discovery == nil {
		return nil, nil
	}
	ctx, span := r.tracer.StartSpan(ctx, "registry.search_semantic",
		observability.WithSpanKind("discovery"),
		observability.WithAttribute("query", query))
	defer r.tracer.EndSpan(span)

	matches, err := r.discovery.FindByCapabilitySemantic(ctx, query, limit, threshold, filters)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	results := make([]SearchResult, 0, len(matches))
	r.mu.RLock()
	for _, m := range matches {
		if reg, ok := r.agents[m.AgentID]; ok {
			results = append(results, SearchResult{Registration: reg, Score: m.Score})
		}
	}
	r.mu.RUnlock()
	span.SetAttribute("results", len(results))
	return results, nil
}

// GetByInteractionMode lists agents supporting a mode.
func (r *Registry) GetByInteractionMode(mode InteractionMode) []*AgentRegistration {
	r.mu.RLock()
	ids := r.index.agentsWithMode(mode)
	r.mu.RUnlock()
	return r.resolve(ids)
}

// GetByOrganization lists agents registered under an organization.
func (r *Registry) GetByOrganization(org string) []*AgentRegistration {
	r.mu.RLock()
	ids := r.index.agentsInOrganization(org)
	r.mu.RUnlock()
	return r.resolve(ids)
}

// GetByOwner lists agents registered by a developer.
func (r *Registry) GetByOwner(developer string) []*AgentRegistration {
	r.mu.RLock()
	ids := r.index.agentsByDeveloper(developer)
	r.mu.RUnlock()
	return r.resolve(ids)
}

// GetByTag lists agents carrying a tag.
func (r *Registry) GetByTag(tag string) []*AgentRegistration {
	r.mu.RLock()
	ids := r.index.agentsWithTag(tag)
	r.mu.RUnlock()
	return r.resolve(ids)
}

// GetVerifiedAgents lists agents whose identity passed verification.
func (r *Registry) GetVerifiedAgents() []*AgentRegistration {
	r.mu.RLock()
	ids := r.index.verifiedAgents()
	r.mu.RUnlock()
	return r.resolve(ids)
}

// AllCapabilities returns every capability name any agent advertises.
func (r *Registry) AllCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.capabilityNames()
}

// AllAgents returns every registration.
func (r *Registry) AllAgents() []*AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentRegistration, 0, len(r.agents))
	for _, reg := range r.agents {
		out = append(out, reg)
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Stats reports lifetime registration counters.
func (r *Registry) Stats() (registered, unregistered int64) {
	return r.totalRegistered.Load(), r.totalUnregistered.Load()
}
