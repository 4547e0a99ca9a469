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
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// upsertBatchSize bounds one AddDocuments call.
const upsertBatchSize = 100

var errStoreNotInitialized = errors.New("discovery: vector store not initialized")

// errExternalEmbedding guards against chromem ever being asked to embed:
// every point we store carries a precomputed vector.
var errExternalEmbedding = errors.New("discovery: embeddings are computed externally")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errExternalEmbedding
}

// ChromemConfig configures the embedded vector store.
type ChromemConfig struct {
	// Collection names the chromem collection. Defaults to "weft_agents".
	Collection string

	// PersistDir, when set, stores the collection on disk so embeddings
	// survive restarts. Empty keeps everything in memory.
	PersistDir string

	// Compress gzips persisted segments.
	Compress bool

	Logger *zap.Logger
}

// ChromemStore is a VectorStore on chromem-go, an embedded pure-Go
// vector database. It has no payload indexes and stores metadata as
// flat strings; the service compensates by post-filtering in process.
type ChromemStore struct {
	logger     *zap.Logger
	collection string

	mu  sync.Mutex
	db  *chromem.DB
	col *chromem.Collection
	dim int
}

// NewChromemStore opens an in-memory or persistent chromem database.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Collection
	if name == "" {
		name = "weft_agents"
	}
	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistDir != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening persistent vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemStore{logger: logger, collection: name, db: db}, nil
}

// EnsureCollection opens the collection and validates its
// dimensionality with a probe query. A populated collection that cannot
// answer a dim-sized query is dropped and recreated.
func (s *ChromemStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("discovery: invalid vector size %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col != nil && s.dim == dim {
		return nil
	}

	col, err := s.db.GetOrCreateCollection(s.collection, map[string]string{"distance": "cosine"}, noEmbedding)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", s.collection, err)
	}
	if col.Count() > 0 {
		probe := make([]float32, dim)
		probe[0] = 1
		if _, err := col.QueryEmbedding(ctx, probe, 1, nil, nil); err != nil {
			s.logger.Warn("vector dimensionality changed, rebuilding collection",
				zap.String("collection", s.collection),
				zap.Int("dim", dim))
			if err := s.db.DeleteCollection(s.collection); err != nil {
				return fmt.Errorf("dropping stale collection: %w", err)
			}
			col, err = s.db.GetOrCreateCollection(s.collection, map[string]string{"distance": "cosine"}, noEmbedding)
			if err != nil {
				return fmt.Errorf("recreating collection %s: %w", s.collection, err)
			}
		}
	}
	s.col = col
	s.dim = dim
	return nil
}

// DropCollection deletes the collection and forgets the handle.
func (s *ChromemStore) DropCollection(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", s.collection, err)
	}
	s.col = nil
	s.dim = 0
	return nil
}

func (s *ChromemStore) handle() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return nil, errStoreNotInitialized
	}
	return s.col, nil
}

// Upsert writes points in batches, replacing any point with the same id.
func (s *ChromemStore) Upsert(ctx context.Context, points []Point) error {
	col, err := s.handle()
	if err != nil {
		return err
	}
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		docs := make([]chromem.Document, 0, end-start)
		for _, p := range points[start:end] {
			docs = append(docs, chromem.Document{
				ID:        p.ID,
				Metadata:  p.Payload,
				Embedding: p.Vector,
				Content:   p.Text,
			})
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("upserting %d points: %w", len(docs), err)
		}
	}
	return nil
}

// Search queries by vector. chromem requires the result count to stay
// within the collection size, so the limit is clamped before querying.
func (s *ChromemStore) Search(ctx context.Context, params SearchParams) ([]ScoredPoint, error) {
	col, err := s.handle()
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 || params.Limit <= 0 {
		return nil, nil
	}
	n := params.Limit
	if n > count {
		n = count
	}
	results, err := col.QueryEmbedding(ctx, params.Vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	out := make([]ScoredPoint, 0, len(results))
	for _, res := range results {
		if res.Similarity < params.ScoreThreshold {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{
				ID:      res.ID,
				Text:    res.Content,
				Payload: res.Metadata,
				Vector:  res.Embedding,
			},
			Score: res.Similarity,
		})
	}
	return out, nil
}

// DeleteByAgent removes every point whose payload names the agent.
func (s *ChromemStore) DeleteByAgent(ctx context.Context, agentID string) error {
	col, err := s.handle()
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{payloadAgentID: agentID}, nil); err != nil {
		return fmt.Errorf("deleting points for %s: %w", agentID, err)
	}
	return nil
}

// Count reports the stored point count.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	col, err := s.handle()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// SupportsPayloadIndex reports false: chromem scans metadata without
// indexes.
func (s *ChromemStore) SupportsPayloadIndex() bool { return false }

// EnsurePayloadIndexes is a no-op on chromem.
func (s *ChromemStore) EnsurePayloadIndexes(ctx context.Context, fields ...string) error {
	_ = ctx
	_ = fields
	return nil
}
