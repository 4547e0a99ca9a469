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

// Package protocol validates agent-to-agent traffic against the fabric
// protocol versions: a message must carry a supported version and a
// message type that version defines. Collaboration types arrived with
// protocol 1.1 and are rejected under 1.0.
package protocol

import (
	"errors"
	"fmt"

	"github.com/weft-labs/weft/pkg/message"
)

var (
	// ErrUnsupportedVersion marks a message whose protocol version the
	// validator does not speak.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnsupportedType marks a message type the claimed protocol
	// version does not define.
	ErrUnsupportedType = errors.New("protocol: unsupported message type")
)

var baseTypes = []message.MessageType{
	message.TypeText, message.TypeCommand, message.TypeResponse,
	message.TypeError, message.TypeVerification, message.TypeCapability,
	message.TypeProtocol, message.TypeStop, message.TypeSystem,
	message.TypeCooldown, message.TypeIgnore,
}

var collaborationTypes = []message.MessageType{
	message.TypeRequestCollaboration,
	message.TypeCollaborationResponse,
	message.TypeCollaborationError,
}

// Validator checks messages against the type sets of each protocol
// version it supports.
type Validator struct {
	supported map[message.ProtocolVersion]map[message.MessageType]struct{}
}

// NewValidator builds a validator speaking protocol 1.0 and 1.1.
func NewValidator() *Validator {
	v := &Validator{supported: make(map[message.ProtocolVersion]map[message.MessageType]struct{})}
	v.register(message.ProtocolV10, baseTypes)
	v.register(message.ProtocolV11, baseTypes)
	v.register(message.ProtocolV11, collaborationTypes)
	return v
}

func (v *Validator) register(ver message.ProtocolVersion, types []message.MessageType) {
	set, ok := v.supported[ver]
	if !ok {
		set = make(map[message.MessageType]struct{})
		v.supported[ver] = set
	}
	for _, t := range types {
		set[t] = struct{}{}
	}
}

// Supports reports whether the validator accepts typ under ver.
func (v *Validator) Supports(ver message.ProtocolVersion, typ message.MessageType) bool {
	set, ok := v.supported[ver]
	if !ok {
		return false
	}
	_, ok = set[typ]
	return ok
}

// Validate checks a message's version and type.
func (v *Validator) Validate(msg *message.Message) error {
	set, ok := v.supported[msg.Protocol]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, msg.Protocol)
	}
	if _, ok := set[msg.Type]; !ok {
		return fmt.Errorf("%w: %q under protocol %s", ErrUnsupportedType, msg.Type, msg.Protocol)
	}
	return nil
}
