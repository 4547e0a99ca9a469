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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weft-labs/weft/pkg/message"
)

func TestValidateKnownTraffic(t *testing.T) {
	v := NewValidator()

	msg := &message.Message{Type: message.TypeText, Protocol: message.ProtocolV11}
	assert.NoError(t, v.Validate(msg))

	msg = &message.Message{Type: message.TypeStop, Protocol: message.ProtocolV10}
	assert.NoError(t, v.Validate(msg))
}

func TestCollaborationNeedsV11(t *testing.T) {
	v := NewValidator()

	msg := &message.Message{Type: message.TypeRequestCollaboration, Protocol: message.ProtocolV11}
	assert.NoError(t, v.Validate(msg))

	msg = &message.Message{Type: message.TypeRequestCollaboration, Protocol: message.ProtocolV10}
	assert.ErrorIs(t, v.Validate(msg), ErrUnsupportedType)
}

func TestUnknownVersionRejected(t *testing.T) {
	v := NewValidator()

	msg := &message.Message{Type: message.TypeText, Protocol: message.ProtocolVersion("3.0")}
	assert.ErrorIs(t, v.Validate(msg), ErrUnsupportedVersion)
	assert.False(t, v.Supports("3.0", message.TypeText))
}
