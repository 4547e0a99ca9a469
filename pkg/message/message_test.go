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

package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/pkg/identity"
)

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.New()
	require.NoError(t, err)
	return id
}

func TestCreateAndVerify(t *testing.T) {
	sender := newTestIdentity(t)

	msg, err := New("agent-a", "agent-b", "hello", sender, TypeText)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.Signature)
	assert.Equal(t, DefaultProtocol, msg.Protocol)
	assert.True(t, msg.Verify(sender))
}

func TestVerifyRejectsMutation(t *testing.T) {
	sender := newTestIdentity(t)

	msg, err := New("agent-a", "agent-b", "hello", sender, TypeText)
	require.NoError(t, err)

	tampered := *msg
	tampered.Content = "hello!"
	assert.False(t, tampered.Verify(sender))

	tampered = *msg
	tampered.ReceiverID = "agent-c"
	assert.False(t, tampered.Verify(sender))

	tampered = *msg
	tampered.Timestamp = msg.Timestamp.Add(time.Nanosecond)
	assert.False(t, tampered.Verify(sender))
}

func TestVerifyRejectsWrongIdentity(t *testing.T) {
	sender := newTestIdentity(t)
	other := newTestIdentity(t)

	msg, err := New("agent-a", "agent-b", "hello", sender, TypeText)
	require.NoError(t, err)

	assert.False(t, msg.Verify(other))
}

func TestVerifyRequiresVerifiedIdentity(t *testing.T) {
	sender := newTestIdentity(t)

	msg, err := New("agent-a", "agent-b", "hello", sender, TypeText)
	require.NoError(t, err)
	require.True(t, msg.Verify(sender))

	sender.Reverify()
	assert.False(t, msg.Verify(sender), "pending identity must fail verification")
}

func TestSystemMessageIsUnsigned(t *testing.T) {
	msg := NewSystem("hub", "agent-a", "agent registered")
	assert.Equal(t, TypeSystem, msg.Type)
	assert.Empty(t, msg.Signature)
}

func TestMetadataAccessors(t *testing.T) {
	sender := newTestIdentity(t)

	msg, err := New("a", "b", "c", sender, TypeResponse,
		WithMeta(KeyResponseTo, "req-123"),
		WithMeta(KeyCooldownRemaining, 42.5),
		WithMeta(KeyCollaborationChain, "a,b,c"),
		WithMetadata(map[string]any{KeyReason: "max_turns_reached"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "req-123", msg.ResponseTo())
	assert.Equal(t, "max_turns_reached", msg.Reason())
	assert.Empty(t, msg.RequestID())

	d, ok := msg.CooldownRemaining()
	require.True(t, ok)
	assert.Equal(t, 42500*time.Millisecond, d)

	assert.Equal(t, []string{"a", "b", "c"}, msg.CollaborationChain())
}

func TestCollaborationChainForms(t *testing.T) {
	m := &Message{Metadata: map[string]any{KeyCollaborationChain: []any{"x", "y"}}}
	assert.Equal(t, []string{"x", "y"}, m.CollaborationChain())

	m = &Message{Metadata: map[string]any{}}
	assert.Nil(t, m.CollaborationChain())
}

func TestWireRoundTripReverifies(t *testing.T) {
	sender := newTestIdentity(t)

	msg, err := New("agent-a", "agent-b", "payload", sender, TypeCommand,
		WithMeta(KeyRequestID, "req-9"),
		WithProtocol(ProtocolV10),
	)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, ProtocolV10, decoded.Protocol)
	assert.Equal(t, "req-9", decoded.RequestID())
	assert.True(t, decoded.Verify(sender), "decoded copy must still verify")
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	raw := `{"id":"1","sender_id":"a","receiver_id":"b","content":"x",` +
		`"message_type":"bogus","timestamp":"2026-01-02T03:04:05Z","protocol_version":"1.1"}`
	var m Message
	assert.Error(t, json.Unmarshal([]byte(raw), &m))
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, TypeRequestCollaboration.Valid())
	assert.True(t, TypeCooldown.Valid())
	assert.False(t, MessageType("shout").Valid())
	assert.True(t, ProtocolV10.Valid())
	assert.False(t, ProtocolVersion("2.0").Valid())
}
