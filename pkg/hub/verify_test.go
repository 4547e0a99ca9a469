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

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/pkg/identity"
	"github.com/weft-labs/weft/pkg/message"
	"github.com/weft-labs/weft/pkg/registry"
)

// answerChallenge replies to a verification message by signing the
// nonce with signer, which may differ from the target's identity.
func answerChallenge(t *testing.T, h *Hub, target *testAgent, signer *identity.Identity) {
	t.Helper()
	inbound := <-target.inbox
	require.Equal(t, message.TypeVerification, inbound.Type)
	sig, err := signer.Sign(inbound.Content)
	require.NoError(t, err)
	reply(t, h, target, inbound, sig)
}

func TestVerifyAgentHandshake(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	go answerChallenge(t, h, b, b.Identity())

	verified, err := h.VerifyAgent(context.Background(), a, "agent-b", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, identity.StatusVerified, b.Identity().Status())
}

func TestVerifyAgentWrongSigner(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	b := newTestAgent(t, "agent-b", registry.AgentTypeAI)
	register(t, h, a, b)

	imposter, err := identity.New()
	require.NoError(t, err)
	go answerChallenge(t, h, b, imposter)

	verified, err := h.VerifyAgent(context.Background(), a, "agent-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Equal(t, identity.StatusFailed, b.Identity().Status())
}

func TestVerifyAgentInactiveTarget(t *testing.T) {
	h := newTestHub(t, Config{})
	a := newTestAgent(t, "agent-a", registry.AgentTypeAI)
	register(t, h, a)

	_, err := h.VerifyAgent(context.Background(), a, "ghost", time.Second)
	assert.ErrorIs(t, err, ErrAgentNotActive)
}
