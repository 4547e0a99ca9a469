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

package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weft-labs/weft/pkg/registry"
)

// fakeEmbedder returns fixed-size vectors; failures are switchable.
type fakeEmbedder struct {
	dim  int
	fail bool
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("model offline")
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("model offline")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

// fakeStore keeps points in memory and answers searches with a flat
// score, which is enough to exercise filtering and deduplication.
type fakeStore struct {
	mu        sync.Mutex
	points    map[string]Point
	dim       int
	ensureErr error
	searchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: make(map[string]Point)}
}

func (s *fakeStore) EnsureCollection(_ context.Context, dim int) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	s.mu.Lock()
	s.dim = dim
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) DropCollection(context.Context) error {
	s.mu.Lock()
	s.points = make(map[string]Point)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *fakeStore) Search(_ context.Context, params SearchParams) ([]ScoredPoint, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredPoint
	for _, p := range s.points {
		out = append(out, ScoredPoint{Point: p, Score: 0.9})
		if len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteByAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload[payloadAgentID] == agentID {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *fakeStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points), nil
}

func (s *fakeStore) SupportsPayloadIndex() bool { return false }

func (s *fakeStore) EnsurePayloadIndexes(context.Context, ...string) error { return nil }

func reg(id string, caps ...registry.Capability) *registry.AgentRegistration {
	return &registry.AgentRegistration{
		AgentID:      id,
		AgentType:    registry.AgentTypeAI,
		Capabilities: caps,
	}
}

func newService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	s := New(cfg)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestInitWithoutBackendsEntersFallback(t *testing.T) {
	s := newService(t, Config{})
	assert.True(t, s.Fallback())
	assert.Zero(t, s.VectorSize())
}

func TestInitEmbedderFailureEntersFallback(t *testing.T) {
	s := newService(t, Config{
		Store:    newFakeStore(),
		Embedder: &fakeEmbedder{dim: 8, fail: true},
	})
	assert.True(t, s.Fallback())
}

func TestInitStoreFailureEntersFallback(t *testing.T) {
	store := newFakeStore()
	store.ensureErr = errors.New("store down")
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	assert.True(t, s.Fallback())
}

func TestInitDetectsVectorSize(t *testing.T) {
	store := newFakeStore()
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	assert.False(t, s.Fallback())
	assert.Equal(t, 8, s.VectorSize())
	assert.Equal(t, 8, store.dim)
}

func TestUpdateStoresOneDocumentPerUnit(t *testing.T) {
	store := newFakeStore()
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	ctx := context.Background()

	r := reg("a1",
		registry.Capability{Name: "summarize", Description: "short summaries"},
		registry.Capability{Name: "translate", Description: "english to german"})
	r.Skills = []registry.Skill{{Name: "tone", Description: "match the audience"}}
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, r))

	// Profile + two capabilities + one skill.
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// Re-registering replaces, never accumulates.
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, r))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestSearchDeduplicatesByAgent(t *testing.T) {
	store := newFakeStore()
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	ctx := context.Background()

	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("a1",
		registry.Capability{Name: "summarize"},
		registry.Capability{Name: "translate"})))
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("a2",
		registry.Capability{Name: "classify"})))

	matches, err := s.FindByCapabilitySemantic(ctx, "anything", 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	ids := []string{matches[0].AgentID, matches[1].AgentID}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}

func TestSearchAppliesFilters(t *testing.T) {
	store := newFakeStore()
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	ctx := context.Background()

	tagged := reg("a1", registry.Capability{Name: "summarize"})
	tagged.Tags = []string{"nlp", "prod"}
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, tagged))
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("a2",
		registry.Capability{Name: "summarize"})))

	matches, err := s.FindByCapabilitySemantic(ctx, "summaries", 10, 0,
		map[string][]string{payloadTags: {"nlp"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a1", matches[0].AgentID)
}

func TestSearchErrorFallsBackToStringSimilarity(t *testing.T) {
	store := newFakeStore()
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	ctx := context.Background()

	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("a1",
		registry.Capability{Name: "summarize", Description: "summarize documents"})))
	store.searchErr = errors.New("store down")

	matches, err := s.FindByCapabilitySemantic(ctx, "summarize documents", 10, 0.1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a1", matches[0].AgentID)
}

func TestFallbackSearchRanksByTokenOverlap(t *testing.T) {
	s := newService(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("summarizer",
		registry.Capability{Name: "summarize", Description: "summarize long documents"})))
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("translator",
		registry.Capability{Name: "translate", Description: "translate between languages"})))

	matches, err := s.FindByCapabilitySemantic(ctx, "summarize documents", 10, 0.1, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "summarizer", matches[0].AgentID)
}

func TestFallbackSearchAppliesThresholdAndFilters(t *testing.T) {
	s := newService(t, Config{})
	ctx := context.Background()

	tagged := reg("a1", registry.Capability{Name: "summarize", Description: "summarize documents"})
	tagged.Tags = []string{"nlp"}
	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, tagged))

	// Unrelated query scores below the threshold.
	matches, err := s.FindByCapabilitySemantic(ctx, "weather forecast", 10, 0.5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Filter mismatch excludes even perfect matches.
	matches, err = s.FindByCapabilitySemantic(ctx, "summarize documents", 10, 0.1,
		map[string][]string{payloadTags: {"vision"}})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestClearAgentEmbeddings(t *testing.T) {
	store := newFakeStore()
	s := newService(t, Config{Store: store, Embedder: &fakeEmbedder{dim: 8}})
	ctx := context.Background()

	require.NoError(t, s.UpdateCapabilityEmbeddings(ctx, reg("a1",
		registry.Capability{Name: "summarize"})))
	require.NoError(t, s.ClearAgentEmbeddings(ctx, "a1"))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	matches, err := s.FindByCapabilitySemantic(ctx, "summarize", 10, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRankMatchesOrdersAndTruncates(t *testing.T) {
	best := map[string]float64{"low": 0.2, "high": 0.9, "mid": 0.5, "tie": 0.5}
	matches := rankMatches(best, 3)
	require.Len(t, matches, 3)
	assert.Equal(t, "high", matches[0].AgentID)
	// Equal scores break ties on agent id for stable output.
	assert.Equal(t, "mid", matches[1].AgentID)
	assert.Equal(t, "tie", matches[2].AgentID)
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard("summarize documents", "documents summarize"), 1e-9)
	assert.Zero(t, jaccard("summarize", "translate"))
	assert.Zero(t, jaccard("", "anything"))
	// Case folding makes matching case-insensitive.
	assert.InDelta(t, 1.0, jaccard("SUMMARIZE", "summarize"), 1e-9)
}

func TestMatchesFiltersDualFields(t *testing.T) {
	// Capability points carry mode lists under the agent_ prefix; a
	// bare-key filter must still match them.
	payload := map[string]string{payloadAgentID: "a1"}
	payload[agentKeyPrefix+payloadInputModes] = strings.Join([]string{"text", "audio"}, listSep)
	get := flatPayloadGetter(payload)
	assert.True(t, matchesFilters(get, map[string][]string{payloadInputModes: {"audio"}}))
	assert.False(t, matchesFilters(get, map[string][]string{payloadInputModes: {"video"}}))
	assert.True(t, matchesFilters(get, nil))
}
