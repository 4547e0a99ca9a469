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

import "strings"

// Filter keys with list semantics: the document's list must intersect
// the filter's list (match-any).
var listFilterKeys = map[string]struct{}{
	payloadTags:        {},
	payloadInputModes:  {},
	payloadOutputModes: {},
	payloadAuthSchemes: {},
}

// Filter keys stored under both a bare name (profile points) and an
// agent_-prefixed name (capability and skill points). A filter on such
// a key matches when either field does.
var dualFieldKeys = map[string]struct{}{
	payloadInputModes:  {},
	payloadOutputModes: {},
	payloadAuthSchemes: {},
}

// payloadGetter resolves a payload field to its list of values. The
// vector path splits joined strings; the fallback path reads its cached
// lists directly.
type payloadGetter func(key string) []string

// matchesFilters applies the filter conjunction: every filter key must
// match. List keys use match-any intersection; single-valued keys use
// equality against any of the filter's values; dual-field keys consult
// the bare and agent_-prefixed fields together.
func matchesFilters(get payloadGetter, filters map[string][]string) bool {
	for key, wanted := range filters {
		if len(wanted) == 0 {
			continue
		}
		values := get(key)
		if _, dual := dualFieldKeys[key]; dual {
			values = append(values, get(agentKeyPrefix+key)...)
		}
		if !anyOverlap(values, wanted) {
			return false
		}
	}
	return true
}

func anyOverlap(values, wanted []string) bool {
	for _, v := range values {
		for _, w := range wanted {
			if v == w {
				return true
			}
		}
	}
	return false
}

// flatPayloadGetter adapts the joined string payload of a stored point.
func flatPayloadGetter(payload map[string]string) payloadGetter {
	return func(key string) []string {
		raw, ok := payload[key]
		if !ok || raw == "" {
			return nil
		}
		if _, isList := listFilterKeys[strings.TrimPrefix(key, agentKeyPrefix)]; isList {
			return strings.Split(raw, listSep)
		}
		return []string{raw}
	}
}

// listPayloadGetter adapts the fallback cache's list-valued payload.
func listPayloadGetter(payload map[string][]string) payloadGetter {
	return func(key string) []string {
		return payload[key]
	}
}
