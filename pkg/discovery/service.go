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

// Package discovery implements semantic search over agent profiles,
// capabilities, and skills.
//
// Each registration becomes one profile document plus one document per
// capability and per skill, embedded independently and stored under
// deterministic point ids. Searches embed the query, over-fetch
// candidates, filter on payload metadata in process, and deduplicate by
// agent keeping the best score.
//
// When the embedding model or the vector store is unavailable the
// service degrades to Jaccard token similarity over the same document
// texts. Degraded mode still answers every search.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/weft-labs/weft/pkg/observability"
	"github.com/weft-labs/weft/pkg/registry"
)

// defaultCandidateMultiplier widens the raw vector query so that
// deduplication by agent still fills the requested limit.
const defaultCandidateMultiplier = 3

// probeText is embedded once at init to learn the model's
// dimensionality.
const probeText = "dimension probe"

// Config assembles a Service.
type Config struct {
	// Store holds the vectors. Nil forces fallback mode.
	Store VectorStore

	// Embedder computes them. Nil forces fallback mode.
	Embedder Embedder

	// CandidateMultiplier overrides the over-fetch factor. Zero means 3.
	CandidateMultiplier int

	Logger *zap.Logger
	Tracer observability.Tracer
}

// agentDocs is the per-agent slice of the in-process document cache. It
// powers fallback search and keeps filter values as real lists instead
// of joined strings.
type agentDocs struct {
	profileText string
	capTexts    []string
	payload     map[string][]string
}

// Service generates, stores, and searches agent documents. It
// implements registry.Discovery.
type Service struct {
	store      VectorStore
	embedder   Embedder
	multiplier int
	logger     *zap.Logger
	tracer     observability.Tracer

	mu         sync.RWMutex
	fallback   bool
	vectorSize int
	cache      map[string]*agentDocs
}

// New builds a discovery service. Call Init before searching; the
// registry does this as part of its readiness protocol.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	multiplier := cfg.CandidateMultiplier
	if multiplier <= 0 {
		multiplier = defaultCandidateMultiplier
	}
	return &Service{
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		multiplier: multiplier,
		logger:     logger,
		tracer:     tracer,
		cache:      make(map[string]*agentDocs),
	}
}

// Init probes the embedding model and the vector store and prepares the
// collection. Absence or failure of either backend switches the service
// to fallback mode instead of returning an error, so discovery always
// answers.
func (s *Service) Init(ctx context.Context) error {
	if s.store == nil || s.embedder == nil {
		s.enterFallback("no vector backend configured")
		return nil
	}
	probe, err := s.embedder.EmbedQuery(ctx, probeText)
	if err != nil || len(probe) == 0 {
		s.enterFallback("embedding probe failed")
		return nil
	}
	if err := s.store.EnsureCollection(ctx, len(probe)); err != nil {
		s.enterFallback("vector store unavailable")
		s.logger.Warn("vector store init failed", zap.Error(err))
		return nil
	}
	if s.store.SupportsPayloadIndex() {
		if err := s.store.EnsurePayloadIndexes(ctx, indexedPayloadFields...); err != nil {
			// Payload indexes are an optimization, not a requirement.
			s.logger.Warn("payload index creation failed", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.fallback = false
	s.vectorSize = len(probe)
	s.mu.Unlock()
	s.logger.Info("discovery initialized",
		zap.Int("vector_size", len(probe)))
	return nil
}

func (s *Service) enterFallback(reason string) {
	s.mu.Lock()
	s.fallback = true
	s.mu.Unlock()
	s.logger.Info("discovery in fallback mode", zap.String("reason", reason))
}

// Fallback reports whether the service is running on string similarity.
func (s *Service) Fallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// VectorSize reports the detected embedding dimensionality, zero in
// fallback mode.
func (s *Service) VectorSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorSize
}

// cachePayload converts a registration into the list-valued payload the
// fallback filter path consumes.
func cachePayload(reg *registry.AgentRegistration) map[string][]string {
	p := map[string][]string{
		payloadAgentID:   {reg.AgentID},
		payloadAgentType: {string(reg.AgentType)},
	}
	if reg.Name != "" {
		p[payloadName] = []string{reg.Name}
	}
	if reg.Organization != "" {
		p[payloadOrganization] = []string{reg.Organization}
	}
	if reg.Developer != "" {
		p[payloadDeveloper] = []string{reg.Developer}
	}
	if len(reg.Tags) > 0 {
		p[payloadTags] = append([]string(nil), reg.Tags...)
	}
	if len(reg.AuthSchemes) > 0 {
		p[payloadAuthSchemes] = append([]string(nil), reg.AuthSchemes...)
	}
	if len(reg.DefaultInputModes) > 0 {
		p[payloadInputModes] = append([]string(nil), reg.DefaultInputModes...)
	}
	if len(reg.DefaultOutputModes) > 0 {
		p[payloadOutputModes] = append([]string(nil), reg.DefaultOutputModes...)
	}
	if reg.PaymentAddress != "" {
		p[payloadPayment] = []string{reg.PaymentAddress}
	}
	return p
}

// UpdateCapabilityEmbeddings regenerates and replaces every document for
// the registration. Nothing is mutated when embedding fails, so the
// registry can treat the operation as all-or-nothing.
func (s *Service) UpdateCapabilityEmbeddings(ctx context.Context, reg *registry.AgentRegistration) error {
	ctx, span := s.tracer.StartSpan(ctx, "discovery.update_embeddings",
		observability.WithSpanKind("discovery"),
		observability.WithAttribute("agent.id", reg.AgentID))
	defer s.tracer.EndSpan(span)

	docs := buildDocuments(reg)

	cached := &agentDocs{
		profileText: docs[0].text,
		payload:     cachePayload(reg),
	}
	for _, c := range reg.Capabilities {
		cached.capTexts = append(cached.capTexts, CapabilityText(c))
	}

	if s.Fallback() {
		s.mu.Lock()
		s.cache[reg.AgentID] = cached
		s.mu.Unlock()
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("embedding %d documents for %s: %w", len(texts), reg.AgentID, err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	points := make([]Point, len(docs))
	for i, d := range docs {
		points[i] = Point{
			ID:      PointID(d.readableID),
			Text:    d.text,
			Payload: d.payload,
			Vector:  vectors[i],
		}
	}
	if err := s.store.DeleteByAgent(ctx, reg.AgentID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("clearing stale points for %s: %w", reg.AgentID, err)
	}
	if err := s.store.Upsert(ctx, points); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing points for %s: %w", reg.AgentID, err)
	}

	s.mu.Lock()
	s.cache[reg.AgentID] = cached
	s.mu.Unlock()

	s.logger.Debug("embeddings updated",
		zap.String("agent_id", reg.AgentID),
		zap.Int("documents", len(docs)))
	return nil
}

// ClearAgentEmbeddings removes every document belonging to agentID.
func (s *Service) ClearAgentEmbeddings(ctx context.Context, agentID string) error {
	s.mu.Lock()
	delete(s.cache, agentID)
	s.mu.Unlock()

	if s.Fallback() {
		return nil
	}
	if err := s.store.DeleteByAgent(ctx, agentID); err != nil {
		return fmt.Errorf("clearing points for %s: %w", agentID, err)
	}
	return nil
}

// FindByCapabilitySemantic embeds the query and searches the vector
// store, falling back to token similarity when the vector path cannot
// answer. Results are deduplicated by agent keeping the best score,
// sorted best first, and truncated to limit.
func (s *Service) FindByCapabilitySemantic(ctx context.Context, query string, limit int, threshold float64, filters map[string][]string) ([]registry.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, span := s.tracer.StartSpan(ctx, "discovery.search",
		observability.WithSpanKind("discovery"),
		observability.WithAttribute("limit", limit))
	defer s.tracer.EndSpan(span)

	if s.Fallback() {
		return s.fallbackSearch(query, limit, threshold, filters), nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, answering via fallback", zap.Error(err))
		span.RecordError(err)
		return s.fallbackSearch(query, limit, threshold, filters), nil
	}

	candidates := limit * s.multiplier
	if len(filters) > 0 {
		// Filters are applied in process, so widen the candidate set to
		// the whole collection to avoid starving filtered results.
		if count, err := s.store.Count(ctx); err == nil && count > candidates {
			candidates = count
		}
	}
	hits, err := s.store.Search(ctx, SearchParams{
		Vector:         vec,
		Limit:          candidates,
		ScoreThreshold: float32(threshold),
	})
	if err != nil {
		s.logger.Warn("vector search failed, answering via fallback", zap.Error(err))
		span.RecordError(err)
		return s.fallbackSearch(query, limit, threshold, filters), nil
	}

	best := make(map[string]float64)
	for _, hit := range hits {
		if !matchesFilters(flatPayloadGetter(hit.Payload), filters) {
			continue
		}
		agentID := hit.Payload[payloadAgentID]
		if agentID == "" {
			continue
		}
		score := float64(hit.Score)
		if prev, ok := best[agentID]; !ok || score > prev {
			best[agentID] = score
		}
	}
	matches := rankMatches(best, limit)
	span.SetAttribute("results", len(matches))
	return matches, nil
}

// fallbackSearch scores each cached agent as the best Jaccard
// similarity between the query and the agent's profile or capability
// texts, applying the same filter semantics in process.
func (s *Service) fallbackSearch(query string, limit int, threshold float64, filters map[string][]string) []registry.Match {
	s.mu.RLock()
	best := make(map[string]float64)
	for agentID, docs := range s.cache {
		if !matchesFilters(listPayloadGetter(docs.payload), filters) {
			continue
		}
		score := jaccard(query, docs.profileText)
		for _, capText := range docs.capTexts {
			if capScore := jaccard(query, capText); capScore > score {
				score = capScore
			}
		}
		if score >= threshold {
			best[agentID] = score
		}
	}
	s.mu.RUnlock()
	return rankMatches(best, limit)
}

// rankMatches orders the per-agent best scores descending and truncates
// to limit. Ties break on agent id so results are stable.
func rankMatches(best map[string]float64, limit int) []registry.Match {
	matches := make([]registry.Match, 0, len(best))
	for agentID, score := range best {
		matches = append(matches, registry.Match{AgentID: agentID, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return strings.Compare(matches[i].AgentID, matches[j].AgentID) < 0
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
