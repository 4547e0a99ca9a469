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

import "context"

// Point is one stored vector document: a deterministic id, the text it
// was embedded from, a flat string payload for filtering, and the
// embedding itself.
type Point struct {
	ID      string
	Text    string
	Payload map[string]string
	Vector  []float32
}

// ScoredPoint is a search hit with its cosine similarity, higher is
// better.
type ScoredPoint struct {
	Point
	Score float32
}

// SearchParams bounds one vector query.
type SearchParams struct {
	Vector         []float32
	Limit          int
	ScoreThreshold float32
}

// VectorStore is the storage contract the discovery service needs:
// collection management keyed on dimensionality, batched upserts,
// scored search, and deletion by owning agent. Payload indexing is
// optional; embedded stores report false and the service skips index
// creation.
type VectorStore interface {
	// EnsureCollection creates the collection if absent. When the
	// existing collection holds points of a different dimensionality it
	// is dropped and recreated.
	EnsureCollection(ctx context.Context, dim int) error

	// DropCollection removes the collection and all points.
	DropCollection(ctx context.Context) error

	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to Limit points scoring at or above the
	// threshold, best first.
	Search(ctx context.Context, params SearchParams) ([]ScoredPoint, error)

	// DeleteByAgent removes every point whose payload agent_id matches.
	DeleteByAgent(ctx context.Context, agentID string) error

	// Count reports the number of stored points.
	Count(ctx context.Context) (int, error)

	// SupportsPayloadIndex reports whether EnsurePayloadIndexes does
	// anything useful on this backend.
	SupportsPayloadIndex() bool

	// EnsurePayloadIndexes creates payload indexes for the named fields
	// on backends that support them.
	EnsurePayloadIndexes(ctx context.Context, fields ...string) error
}

// Payload keys shared across profile, capability, and skill points.
const (
	payloadAgentID        = "agent_id"
	payloadAgentType      = "agent_type"
	payloadName           = "name"
	payloadSummary        = "summary"
	payloadOrganization   = "organization"
	payloadDeveloper      = "developer"
	payloadTags           = "tags"
	payloadAuthSchemes    = "auth_schemes"
	payloadInputModes     = "default_input_modes"
	payloadOutputModes    = "default_output_modes"
	payloadPayment        = "payment_address"
	payloadKind           = "kind"
	payloadCapabilityName = "capability_name"
	payloadSkillName      = "skill_name"

	// agentKeyPrefix renames list keys on capability and skill points,
	// so profile points and per-item points can be filtered together.
	agentKeyPrefix = "agent_"
)

// Point kinds.
const (
	kindProfile    = "profile"
	kindCapability = "capability"
	kindSkill      = "skill"
)

// listSep joins list-valued payload fields into the flat string payload.
// The unit separator never occurs in tags or mode names.
const listSep = "\x1f"

// indexedPayloadFields are the fields worth a payload index on backends
// that have them.
var indexedPayloadFields = []string{
	payloadAgentID, payloadAgentType, payloadOrganization, payloadDeveloper, payloadTags,
}
