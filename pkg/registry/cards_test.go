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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/pkg/identity"
)

const summarizerCard = `agent_id: summarizer
agent_type: ai
interaction_modes:
  - agent_to_agent
name: Summarizer
summary: Summarizes documents
capabilities:
  - name: summarize
    description: Produce a short summary
tags:
  - nlp
`

func writeCard(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseCard(t *testing.T) {
	dir := t.TempDir()
	path := writeCard(t, dir, "summarizer.yaml", summarizerCard)

	reg, err := ParseCard(path)
	require.NoError(t, err)
	assert.Equal(t, "summarizer", reg.AgentID)
	assert.Equal(t, AgentTypeAI, reg.AgentType)
	require.Len(t, reg.Capabilities, 1)
	assert.Equal(t, "summarize", reg.Capabilities[0].Name)
	require.NotNil(t, reg.Identity)
	assert.True(t, reg.Identity.HasPrivateKey())
}

func TestParseCardReusesPrivateKey(t *testing.T) {
	dir := t.TempDir()

	ident, err := identity.New()
	require.NoError(t, err)
	pemData, err := ident.MarshalPrivateKeyPEM()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.pem"), pemData, 0o600))

	card := summarizerCard + "identity:\n  private_key_file: agent.pem\n"
	path := writeCard(t, dir, "summarizer.yaml", card)

	first, err := ParseCard(path)
	require.NoError(t, err)
	second, err := ParseCard(path)
	require.NoError(t, err)

	// Same key file, same DID on every load.
	assert.Equal(t, ident.DID, first.Identity.DID)
	assert.Equal(t, first.Identity.DID, second.Identity.DID)
}

func TestParseCardRejectsUnknownIdentityMethod(t *testing.T) {
	dir := t.TempDir()
	card := summarizerCard + "identity:\n  method: carrier-pigeon\n"
	path := writeCard(t, dir, "summarizer.yaml", card)

	_, err := ParseCard(path)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
}

func TestLoadCardsSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "good.yaml", summarizerCard)
	writeCard(t, dir, "bad.yaml", "agent_id: broken\nagent_type: ai\n") // no modes
	writeCard(t, dir, "notes.txt", "not a card")

	r := newTestRegistry(t, nil)
	loaded, failed, err := r.LoadCards(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, failed)

	_, ok := r.Get("summarizer")
	assert.True(t, ok)
}

func TestWatchCardsRegistersAndUpdates(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := r.WatchCards(ctx, dir)
	require.NoError(t, err)
	defer w.Close()

	writeCard(t, dir, "summarizer.yaml", summarizerCard)
	require.Eventually(t, func() bool {
		_, ok := r.Get("summarizer")
		return ok
	}, 3*time.Second, 25*time.Millisecond)

	original, _ := r.Get("summarizer")
	originalDID := original.Identity.DID

	// Rewriting the card updates the profile without replacing the
	// identity.
	updated := summarizerCard + "organization: acme\n"
	writeCard(t, dir, "summarizer.yaml", updated)
	require.Eventually(t, func() bool {
		reg, ok := r.Get("summarizer")
		return ok && reg.Organization == "acme"
	}, 3*time.Second, 25*time.Millisecond)

	reg, _ := r.Get("summarizer")
	assert.Equal(t, originalDID, reg.Identity.DID)
}

func TestWatchCardsUnregistersOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := writeCard(t, dir, "summarizer.yaml", summarizerCard)

	r := newTestRegistry(t, nil)
	loaded, _, err := r.LoadCards(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := r.WatchCards(ctx, dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := r.Get("summarizer")
		return !ok
	}, 3*time.Second, 25*time.Millisecond)
}
