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

// MessageType classifies a message. Values are wire-stable strings and
// must never be renumbered or renamed.
type MessageType string

const (
	TypeText                  MessageType = "text"
	TypeCommand               MessageType = "command"
	TypeResponse              MessageType = "response"
	TypeError                 MessageType = "error"
	TypeVerification          MessageType = "verification"
	TypeCapability            MessageType = "capability"
	TypeProtocol              MessageType = "protocol"
	TypeStop                  MessageType = "stop"
	TypeSystem                MessageType = "system"
	TypeCooldown              MessageType = "cooldown"
	TypeIgnore                MessageType = "ignore"
	TypeRequestCollaboration  MessageType = "request_collaboration"
	TypeCollaborationResponse MessageType = "collaboration_response"
	TypeCollaborationError    MessageType = "collaboration_error"
)

var allTypes = map[MessageType]struct{}{
	TypeText: {}, TypeCommand: {}, TypeResponse: {}, TypeError: {},
	TypeVerification: {}, TypeCapability: {}, TypeProtocol: {}, TypeStop: {},
	TypeSystem: {}, TypeCooldown: {}, TypeIgnore: {},
	TypeRequestCollaboration: {}, TypeCollaborationResponse: {}, TypeCollaborationError: {},
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	_, ok := allTypes[t]
	return ok
}

// ProtocolVersion identifies the fabric protocol revision a message was
// built for.
type ProtocolVersion string

const (
	ProtocolV10 ProtocolVersion = "1.0"
	ProtocolV11 ProtocolVersion = "1.1"

	// DefaultProtocol is stamped on messages that do not set a version
	// explicitly.
	DefaultProtocol = ProtocolV11
)

// Valid reports whether v is a known protocol version.
func (v ProtocolVersion) Valid() bool {
	return v == ProtocolV10 || v == ProtocolV11
}

// ExitContent is the content sentinel that ends a conversation the same
// way a STOP message does.
const ExitContent = "__EXIT__"

// Recognized metadata keys. Anything outside this set is passthrough and
// must not influence routing decisions.
const (
	KeyRequestID           = "request_id"
	KeyResponseTo          = "response_to"
	KeyCollaborationChain  = "collaboration_chain"
	KeyOriginalSender      = "original_sender"
	KeyErrorType           = "error_type"
	KeyReason              = "reason"
	KeyCooldownRemaining   = "cooldown_remaining"
	KeyOriginalMessageType = "original_message_type"
	KeyHandledError        = "handled_error"
	KeyStatus              = "status"
)
