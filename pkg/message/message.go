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

// Package message defines the signed message record exchanged between
// agents, its type and protocol enums, and the recognized metadata keys.
//
// Messages are immutable once constructed. The signature covers the
// signable form "id:sender:receiver:content:timestamp", with the
// timestamp rendered as RFC 3339 with nanoseconds in UTC, so any field
// mutation invalidates the signature.
package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weft-labs/weft/pkg/identity"
)

// timestampLayout renders timestamps for the signable form and the wire
// form. RFC3339Nano trims trailing zeros, so a given instant always
// renders the same bytes.
const timestampLayout = time.RFC3339Nano

// Message is one signed unit of agent communication. Treat all fields as
// read-only after construction; build a new message instead of mutating.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	Type       MessageType
	Timestamp  time.Time
	Metadata   map[string]any
	Protocol   ProtocolVersion
	Signature  string
}

// Option adjusts a message during construction, before signing.
type Option func(*Message)

// WithMetadata merges md into the message metadata.
func WithMetadata(md map[string]any) Option {
	return func(m *Message) {
		for k, v := range md {
			m.Metadata[k] = v
		}
	}
}

// WithMeta sets a single metadata entry.
func WithMeta(key string, value any) Option {
	return func(m *Message) { m.Metadata[key] = value }
}

// WithProtocol overrides the protocol version stamped on the message.
func WithProtocol(v ProtocolVersion) Option {
	return func(m *Message) { m.Protocol = v }
}

// New constructs a message and immediately signs it with the sender's
// identity. The sender identity must hold a private key.
func New(senderID, receiverID, content string, from *identity.Identity, typ MessageType, opts ...Option) (*Message, error) {
	if from == nil {
		return nil, fmt.Errorf("message: nil sender identity")
	}
	m := &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       typ,
		Timestamp:  time.Now().UTC(),
		Metadata:   make(map[string]any),
		Protocol:   DefaultProtocol,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.sign(from); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSystem constructs an unsigned system message. System-type messages
// are the only kind the hub accepts without a signature.
func NewSystem(senderID, receiverID, content string, opts ...Option) *Message {
	m := &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       TypeSystem,
		Timestamp:  time.Now().UTC(),
		Metadata:   make(map[string]any),
		Protocol:   DefaultProtocol,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignableForm renders the exact byte string covered by the signature.
func (m *Message) SignableForm() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		m.ID, m.SenderID, m.ReceiverID, m.Content,
		m.Timestamp.UTC().Format(timestampLayout))
}

func (m *Message) sign(from *identity.Identity) error {
	sig, err := from.Sign(m.SignableForm())
	if err != nil {
		return fmt.Errorf("signing message %s: %w", m.ID, err)
	}
	m.Signature = sig
	return nil
}

// Verify recomputes the signable form and checks the signature under the
// sender's identity. It returns false when the identity is not verified,
// matching the routing rule that unverified senders never pass.
func (m *Message) Verify(sender *identity.Identity) bool {
	if sender == nil || sender.Status() != identity.StatusVerified {
		return false
	}
	if m.Signature == "" {
		return false
	}
	return sender.Verify(m.SignableForm(), m.Signature)
}

// meta returns a metadata value as its string rendering, or "" when the
// key is absent.
func (m *Message) meta(key string) string {
	v, ok := m.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// RequestID returns metadata request_id, or "".
func (m *Message) RequestID() string { return m.meta(KeyRequestID) }

// ResponseTo returns metadata response_to, or "".
func (m *Message) ResponseTo() string { return m.meta(KeyResponseTo) }

// Reason returns metadata reason, or "".
func (m *Message) Reason() string { return m.meta(KeyReason) }

// ErrorType returns metadata error_type, or "".
func (m *Message) ErrorType() string { return m.meta(KeyErrorType) }

// CooldownRemaining returns the cooldown duration a COOLDOWN message
// advertises. The value is stored in seconds.
func (m *Message) CooldownRemaining() (time.Duration, bool) {
	v, ok := m.Metadata[KeyCooldownRemaining]
	if !ok {
		return 0, false
	}
	switch s := v.(type) {
	case float64:
		return time.Duration(s * float64(time.Second)), true
	case int:
		return time.Duration(s) * time.Second, true
	case time.Duration:
		return s, true
	case string:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(f * float64(time.Second)), true
	default:
		return 0, false
	}
}

// CollaborationChain returns the agent ids threaded through a
// collaboration request, in hop order.
func (m *Message) CollaborationChain() []string {
	v, ok := m.Metadata[KeyCollaborationChain]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	case string:
		if s == "" {
			return nil
		}
		return strings.Split(s, ",")
	default:
		return nil
	}
}

// wireMessage is the JSON wire form: ISO-8601 timestamp, string enums,
// base64 signature.
type wireMessage struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	ReceiverID string         `json:"receiver_id"`
	Content    string         `json:"content"`
	Type       string         `json:"message_type"`
	Timestamp  string         `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Protocol   string         `json:"protocol_version"`
	Signature  string         `json:"signature,omitempty"`
}

// MarshalJSON renders the wire form. A decoded copy re-verifies under
// the original sender identity because the timestamp keeps nanosecond
// precision.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       string(m.Type),
		Timestamp:  m.Timestamp.UTC().Format(timestampLayout),
		Metadata:   m.Metadata,
		Protocol:   string(m.Protocol),
		Signature:  m.Signature,
	})
}

// UnmarshalJSON parses the wire form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(timestampLayout, w.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing message timestamp: %w", err)
	}
	typ := MessageType(w.Type)
	if !typ.Valid() {
		return fmt.Errorf("unknown message type %q", w.Type)
	}
	md := w.Metadata
	if md == nil {
		md = make(map[string]any)
	}
	*m = Message{
		ID:         w.ID,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Content:    w.Content,
		Type:       typ,
		Timestamp:  ts,
		Metadata:   md,
		Protocol:   ProtocolVersion(w.Protocol),
		Signature:  w.Signature,
	}
	return nil
}
