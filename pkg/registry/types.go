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

package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/weft-labs/weft/pkg/identity"
)

// AgentType distinguishes human participants from software agents.
type AgentType string

const (
	AgentTypeHuman AgentType = "human"
	AgentTypeAI    AgentType = "ai"
)

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	return t == AgentTypeHuman || t == AgentTypeAI
}

// InteractionMode declares which kinds of counterpart an agent talks to.
// The hub only routes between agents whose mode sets intersect.
type InteractionMode string

const (
	ModeHumanToAgent InteractionMode = "human_to_agent"
	ModeAgentToAgent InteractionMode = "agent_to_agent"
)

// Valid reports whether m is a known interaction mode.
func (m InteractionMode) Valid() bool {
	return m == ModeHumanToAgent || m == ModeAgentToAgent
}

// ModesIntersect reports whether two mode sets share at least one mode.
func ModesIntersect(a, b []InteractionMode) bool {
	for _, m := range a {
		for _, n := range b {
			if m == n {
				return true
			}
		}
	}
	return false
}

// Capability is a named operation an agent advertises as invocable.
// Name is unique within one registration.
type Capability struct {
	Name         string         `yaml:"name" json:"name"`
	Description  string         `yaml:"description" json:"description"`
	InputSchema  map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	Version      string         `yaml:"version,omitempty" json:"version,omitempty"`
}

// Skill is a described competency that participates in discovery but is
// not directly invocable.
type Skill struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// AgentRegistration is the complete profile an agent registers under.
// A registration is either absent from the registry or complete; partial
// registrations are never observable. Treat a registration returned by
// the registry as read-only.
type AgentRegistration struct {
	AgentID          string
	AgentType        AgentType
	InteractionModes []InteractionMode
	Identity         *identity.Identity

	Name             string
	Summary          string
	Description      string
	Version          string
	DocumentationURL string
	Organization     string
	Developer        string
	URL              string

	Capabilities []Capability
	Skills       []Skill
	Examples     []string
	Tags         []string

	AuthSchemes        []string
	DefaultInputModes  []string
	DefaultOutputModes []string

	PaymentAddress string
	CustomMetadata map[string]any

	RegisteredAt time.Time
}

// ErrInvalidRegistration wraps all registration validation failures.
var ErrInvalidRegistration = errors.New("registry: invalid registration")

// Validate checks the structural invariants of a registration.
func (r *AgentRegistration) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("%w: empty agent_id", ErrInvalidRegistration)
	}
	if !r.AgentType.Valid() {
		return fmt.Errorf("%w: agent_type %q", ErrInvalidRegistration, r.AgentType)
	}
	if len(r.InteractionModes) == 0 {
		return fmt.Errorf("%w: no interaction modes", ErrInvalidRegistration)
	}
	for _, m := range r.InteractionModes {
		if !m.Valid() {
			return fmt.Errorf("%w: interaction mode %q", ErrInvalidRegistration, m)
		}
	}
	if r.Identity == nil {
		return fmt.Errorf("%w: nil identity", ErrInvalidRegistration)
	}
	seen := make(map[string]struct{}, len(r.Capabilities))
	for _, c := range r.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("%w: capability with empty name", ErrInvalidRegistration)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate capability %q", ErrInvalidRegistration, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// clone returns a shallow copy with its own slices and maps, so index
// rollback and update staging never alias caller-held state.
func (r *AgentRegistration) clone() *AgentRegistration {
	out := *r
	out.InteractionModes = append([]InteractionMode(nil), r.InteractionModes...)
	out.Capabilities = append([]Capability(nil), r.Capabilities...)
	out.Skills = append([]Skill(nil), r.Skills...)
	out.Examples = append([]string(nil), r.Examples...)
	out.Tags = append([]string(nil), r.Tags...)
	out.AuthSchemes = append([]string(nil), r.AuthSchemes...)
	out.DefaultInputModes = append([]string(nil), r.DefaultInputModes...)
	out.DefaultOutputModes = append([]string(nil), r.DefaultOutputModes...)
	if r.CustomMetadata != nil {
		out.CustomMetadata = make(map[string]any, len(r.CustomMetadata))
		for k, v := range r.CustomMetadata {
			out.CustomMetadata[k] = v
		}
	}
	return &out
}

// Updates carries the fields update-registration may change. Nil fields
// are left untouched; non-nil slices and maps replace the stored value
// wholesale. The field set is the update whitelist: anything not here is
// immutable after registration.
type Updates struct {
	Name             *string
	Summary          *string
	Description      *string
	Version          *string
	DocumentationURL *string
	Organization     *string
	Developer        *string
	URL              *string
	PaymentAddress   *string

	Capabilities       []Capability
	Skills             []Skill
	Examples           []string
	Tags               []string
	AuthSchemes        []string
	InteractionModes   []InteractionMode
	DefaultInputModes  []string
	DefaultOutputModes []string

	CustomMetadata map[string]any
}

// apply stages the updates onto a copy of reg and reports whether any
// field that feeds discovery documents changed, which decides whether
// embeddings must refresh.
func (u Updates) apply(reg *AgentRegistration) (*AgentRegistration, bool) {
	next := reg.clone()
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&next.Name, u.Name)
	setStr(&next.Summary, u.Summary)
	setStr(&next.Description, u.Description)
	setStr(&next.Version, u.Version)
	setStr(&next.DocumentationURL, u.DocumentationURL)
	setStr(&next.Organization, u.Organization)
	setStr(&next.Developer, u.Developer)
	setStr(&next.URL, u.URL)
	setStr(&next.PaymentAddress, u.PaymentAddress)

	embeddingDirty := u.Capabilities != nil || u.Skills != nil || u.Name != nil ||
		u.Summary != nil || u.Description != nil || u.Examples != nil || u.Tags != nil ||
		u.AuthSchemes != nil || u.DefaultInputModes != nil || u.DefaultOutputModes != nil ||
		u.Organization != nil || u.Developer != nil || u.PaymentAddress != nil

	if u.Capabilities != nil {
		next.Capabilities = append([]Capability(nil), u.Capabilities...)
	}
	if u.Skills != nil {
		next.Skills = append([]Skill(nil), u.Skills...)
	}
	if u.Examples != nil {
		next.Examples = append([]string(nil), u.Examples...)
	}
	if u.Tags != nil {
		next.Tags = append([]string(nil), u.Tags...)
	}
	if u.AuthSchemes != nil {
		next.AuthSchemes = append([]string(nil), u.AuthSchemes...)
	}
	if u.InteractionModes != nil {
		next.InteractionModes = append([]InteractionMode(nil), u.InteractionModes...)
	}
	if u.DefaultInputModes != nil {
		next.DefaultInputModes = append([]string(nil), u.DefaultInputModes...)
	}
	if u.DefaultOutputModes != nil {
		next.DefaultOutputModes = append([]string(nil), u.DefaultOutputModes...)
	}
	if u.CustomMetadata != nil {
		next.CustomMetadata = make(map[string]any, len(u.CustomMetadata))
		for k, v := range u.CustomMetadata {
			next.CustomMetadata[k] = v
		}
	}
	return next, embeddingDirty
}
