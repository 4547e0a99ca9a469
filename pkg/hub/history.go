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
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/weft-labs/weft/pkg/message"
)

// HistoryConfig bounds the in-memory message history.
type HistoryConfig struct {
	// MaxBytes caps the total content bytes held; the oldest entries
	// are evicted when the cap is exceeded. Zero means 16 MiB.
	MaxBytes int

	// CompressThreshold is the content size above which entries are
	// held zstd-compressed. Zero means 4 KiB.
	CompressThreshold int
}

const (
	defaultHistoryMaxBytes = 16 << 20
	defaultCompressBytes   = 4 << 10
)

// historyEntry holds one recorded message. Large content is stored
// compressed; the Message field then carries an empty Content and the
// text is restored on read.
type historyEntry struct {
	msg        *message.Message
	compressed []byte
	size       int
}

// History is an append-only bounded record of routed messages. Content
// above the compression threshold is held zstd-compressed, which keeps
// long transcripts of large collaboration payloads affordable.
type History struct {
	maxBytes  int
	threshold int

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu      sync.RWMutex
	entries []historyEntry
	bytes   int
}

// NewHistory builds a history store from cfg.
func NewHistory(cfg HistoryConfig) *History {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultHistoryMaxBytes
	}
	threshold := cfg.CompressThreshold
	if threshold <= 0 {
		threshold = defaultCompressBytes
	}
	// Both constructors only fail on invalid options; none are passed.
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ := zstd.NewReader(nil)
	return &History{
		maxBytes:  maxBytes,
		threshold: threshold,
		encoder:   encoder,
		decoder:   decoder,
	}
}

// Append records a message. The message itself is never mutated; a
// compressed entry stores a stripped copy.
func (s *History) Append(msg *message.Message) {
	entry := historyEntry{msg: msg, size: len(msg.Content)}
	if len(msg.Content) >= s.threshold {
		compressed := s.encoder.EncodeAll([]byte(msg.Content), nil)
		if len(compressed) < len(msg.Content) {
			stripped := *msg
			stripped.Content = ""
			entry = historyEntry{
				msg:        &stripped,
				compressed: compressed,
				size:       len(compressed),
			}
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.bytes += entry.size
	for s.bytes > s.maxBytes && len(s.entries) > 1 {
		s.bytes -= s.entries[0].size
		s.entries = s.entries[1:]
	}
	s.mu.Unlock()
}

// restore rebuilds the full message from an entry.
func (s *History) restore(entry historyEntry) *message.Message {
	if entry.compressed == nil {
		return entry.msg
	}
	content, err := s.decoder.DecodeAll(entry.compressed, nil)
	if err != nil {
		return entry.msg
	}
	restored := *entry.msg
	restored.Content = string(content)
	return &restored
}

// All returns the recorded messages, oldest first.
func (s *History) All() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*message.Message, len(s.entries))
	for i, entry := range s.entries {
		out[i] = s.restore(entry)
	}
	return out
}

// Between returns the recorded messages exchanged between two agents,
// in either direction, oldest first.
func (s *History) Between(a, b string) []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*message.Message
	for _, entry := range s.entries {
		m := entry.msg
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, s.restore(entry))
		}
	}
	return out
}

// Len reports the number of recorded messages.
func (s *History) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Bytes reports the content bytes currently held, compressed entries
// counted at their compressed size.
func (s *History) Bytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}
