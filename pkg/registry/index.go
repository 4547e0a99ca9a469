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

import "sort"

// agentSet is a set of agent ids.
type agentSet map[string]struct{}

func (s agentSet) add(id string)    { s[id] = struct{}{} }
func (s agentSet) remove(id string) { delete(s, id) }

// capabilityIndex holds the in-memory inverted indexes over
// registrations. It carries no lock of its own; the registry's writer
// discipline guards every mutation, so adds and removes are atomic with
// the agents-map change they accompany.
type capabilityIndex struct {
	byCapability   map[string]agentSet
	byMode         map[InteractionMode]agentSet
	byOrganization map[string]agentSet
	byDeveloper    map[string]agentSet
	byTag          map[string]agentSet
	verified       agentSet
}

func newCapabilityIndex() *capabilityIndex {
	return &capabilityIndex{
		byCapability:   make(map[string]agentSet),
		byMode:         make(map[InteractionMode]agentSet),
		byOrganization: make(map[string]agentSet),
		byDeveloper:    make(map[string]agentSet),
		byTag:          make(map[string]agentSet),
		verified:       make(agentSet),
	}
}

func insertInto(m map[string]agentSet, key, id string) {
	if key == "" {
		return
	}
	set, ok := m[key]
	if !ok {
		set = make(agentSet)
		m[key] = set
	}
	set.add(id)
}

func removeFrom(m map[string]agentSet, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	set.remove(id)
	if len(set) == 0 {
		delete(m, key)
	}
}

// add inserts reg into every applicable index.
func (ix *capabilityIndex) add(reg *AgentRegistration) {
	id := reg.AgentID
	for _, c := range reg.Capabilities {
		insertInto(ix.byCapability, c.Name, id)
	}
	for _, m := range reg.InteractionModes {
		set, ok := ix.byMode[m]
		if !ok {
			set = make(agentSet)
			ix.byMode[m] = set
		}
		set.add(id)
	}
	insertInto(ix.byOrganization, reg.Organization, id)
	insertInto(ix.byDeveloper, reg.Developer, id)
	for _, t := range reg.Tags {
		insertInto(ix.byTag, t, id)
	}
	ix.verified.add(id)
}

// remove deletes reg from every index it appears in. Must be called
// with the same registration value that was added.
func (ix *capabilityIndex) remove(reg *AgentRegistration) {
	id := reg.AgentID
	for _, c := range reg.Capabilities {
		removeFrom(ix.byCapability, c.Name, id)
	}
	for _, m := range reg.InteractionModes {
		if set, ok := ix.byMode[m]; ok {
			set.remove(id)
			if len(set) == 0 {
				delete(ix.byMode, m)
			}
		}
	}
	removeFrom(ix.byOrganization, reg.Organization, id)
	removeFrom(ix.byDeveloper, reg.Developer, id)
	for _, t := range reg.Tags {
		removeFrom(ix.byTag, t, id)
	}
	ix.verified.remove(id)
}

// agentsWithCapability returns the ids indexed under a capability name,
// sorted for stable output.
func (ix *capabilityIndex) agentsWithCapability(name string) []string {
	return sortedIDs(ix.byCapability[name])
}

func (ix *capabilityIndex) agentsWithMode(mode InteractionMode) []string {
	return sortedIDs(ix.byMode[mode])
}

func (ix *capabilityIndex) agentsInOrganization(org string) []string {
	return sortedIDs(ix.byOrganization[org])
}

func (ix *capabilityIndex) agentsByDeveloper(dev string) []string {
	return sortedIDs(ix.byDeveloper[dev])
}

func (ix *capabilityIndex) agentsWithTag(tag string) []string {
	return sortedIDs(ix.byTag[tag])
}

func (ix *capabilityIndex) verifiedAgents() []string {
	return sortedIDs(ix.verified)
}

// capabilityNames returns every indexed capability name, sorted.
func (ix *capabilityIndex) capabilityNames() []string {
	out := make([]string, 0, len(ix.byCapability))
	for name := range ix.byCapability {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedIDs(set agentSet) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
