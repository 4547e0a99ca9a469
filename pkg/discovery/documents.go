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
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/weft-labs/weft/pkg/registry"
)

// document is one unit of searchable text before embedding: the
// readable id it derives from, the text, and the filter payload.
type document struct {
	readableID string
	text       string
	payload    map[string]string
}

// PointID maps a readable document id to a stable UUID. The mapping is
// deterministic: the MD5 of the readable id shaped into a valid v4
// UUID, so re-registering an agent overwrites its previous points
// instead of accumulating new ones.
func PointID(readableID string) string {
	sum := md5.Sum([]byte(readableID))
	var u uuid.UUID
	copy(u[:], sum[:])
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u.String()
}

// ProfileText renders the single profile document for a registration:
// every descriptive field in a fixed order, empty fields skipped, so
// the same registration always embeds identically.
func ProfileText(reg *registry.AgentRegistration) string {
	var sections []string
	add := func(s string) {
		if s != "" {
			sections = append(sections, s)
		}
	}
	add(reg.Name)
	add(reg.Summary)
	add(reg.Description)

	var caps []string
	for _, c := range reg.Capabilities {
		caps = append(caps, fmt.Sprintf("- %s: %s", c.Name, c.Description))
	}
	add(strings.Join(caps, "\n"))

	var skills []string
	for _, s := range reg.Skills {
		skills = append(skills, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}
	add(strings.Join(skills, "\n"))

	add(strings.Join(reg.Examples, "\n"))
	add(strings.Join(reg.Tags, ", "))
	add(strings.Join(reg.DefaultInputModes, ", "))
	add(strings.Join(reg.DefaultOutputModes, ", "))
	add(strings.Join(reg.AuthSchemes, ", "))
	return strings.Join(sections, "\n")
}

// CapabilityText renders the per-capability document.
func CapabilityText(c registry.Capability) string {
	return strings.TrimSpace(c.Name + " " + c.Description)
}

// SkillText renders the per-skill document.
func SkillText(s registry.Skill) string {
	return strings.TrimSpace(s.Name + " " + s.Description)
}

// basePayload carries the fields common to every point of an agent.
func basePayload(reg *registry.AgentRegistration) map[string]string {
	p := map[string]string{
		payloadAgentID:   reg.AgentID,
		payloadAgentType: string(reg.AgentType),
	}
	if reg.Name != "" {
		p[payloadName] = reg.Name
	}
	if reg.Summary != "" {
		p[payloadSummary] = reg.Summary
	}
	if reg.Organization != "" {
		p[payloadOrganization] = reg.Organization
	}
	if reg.Developer != "" {
		p[payloadDeveloper] = reg.Developer
	}
	if len(reg.Tags) > 0 {
		p[payloadTags] = strings.Join(reg.Tags, listSep)
	}
	if reg.PaymentAddress != "" {
		p[payloadPayment] = reg.PaymentAddress
	}
	return p
}

// buildDocuments generates the document set for one registration: one
// profile document, one per capability, one per skill. Profile points
// store the mode and auth-scheme lists under their bare key; capability
// and skill points store them under agent_-prefixed keys.
func buildDocuments(reg *registry.AgentRegistration) []document {
	docs := make([]document, 0, 1+len(reg.Capabilities)+len(reg.Skills))

	profile := basePayload(reg)
	profile[payloadKind] = kindProfile
	if len(reg.AuthSchemes) > 0 {
		profile[payloadAuthSchemes] = strings.Join(reg.AuthSchemes, listSep)
	}
	if len(reg.DefaultInputModes) > 0 {
		profile[payloadInputModes] = strings.Join(reg.DefaultInputModes, listSep)
	}
	if len(reg.DefaultOutputModes) > 0 {
		profile[payloadOutputModes] = strings.Join(reg.DefaultOutputModes, listSep)
	}
	docs = append(docs, document{
		readableID: fmt.Sprintf("%s_profile", reg.AgentID),
		text:       ProfileText(reg),
		payload:    profile,
	})

	itemPayload := func(kind string) map[string]string {
		p := basePayload(reg)
		p[payloadKind] = kind
		if len(reg.AuthSchemes) > 0 {
			p[agentKeyPrefix+payloadAuthSchemes] = strings.Join(reg.AuthSchemes, listSep)
		}
		if len(reg.DefaultInputModes) > 0 {
			p[agentKeyPrefix+payloadInputModes] = strings.Join(reg.DefaultInputModes, listSep)
		}
		if len(reg.DefaultOutputModes) > 0 {
			p[agentKeyPrefix+payloadOutputModes] = strings.Join(reg.DefaultOutputModes, listSep)
		}
		return p
	}

	for i, c := range reg.Capabilities {
		p := itemPayload(kindCapability)
		p[payloadCapabilityName] = c.Name
		docs = append(docs, document{
			readableID: fmt.Sprintf("%s:capability:%d:%s", reg.AgentID, i, c.Name),
			text:       CapabilityText(c),
			payload:    p,
		})
	}
	for i, s := range reg.Skills {
		p := itemPayload(kindSkill)
		p[payloadSkillName] = s.Name
		docs = append(docs, document{
			readableID: fmt.Sprintf("%s:skill:%d:%s", reg.AgentID, i, s.Name),
			text:       SkillText(s),
			payload:    p,
		})
	}
	return docs
}
