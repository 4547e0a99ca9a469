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

package agent

import "time"

// Conversation tracks the exchange with one peer. A record is created
// lazily on the first send or receive, destroyed on STOP, __EXIT__, or
// a turn-limit breach, and recreated fresh on the next interaction with
// the same peer.
type Conversation struct {
	PeerID       string
	StartTime    time.Time
	MessageCount int
	LastMessage  time.Time
}

// touchConversation bumps the record for peerID, creating it if absent,
// and returns a copy of the updated state.
func (a *BaseAgent) touchConversation(peerID string) Conversation {
	now := time.Now()
	a.convMu.Lock()
	defer a.convMu.Unlock()
	conv, ok := a.conversations[peerID]
	if !ok {
		conv = &Conversation{PeerID: peerID, StartTime: now}
		a.conversations[peerID] = conv
	}
	conv.MessageCount++
	conv.LastMessage = now
	return *conv
}

// Conversation returns a copy of the tracking state for peerID.
func (a *BaseAgent) Conversation(peerID string) (Conversation, bool) {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	conv, ok := a.conversations[peerID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// EndConversation destroys the tracking state for peerID and resets the
// limiter accounting for that conversation, so the next exchange with
// the same peer starts clean.
func (a *BaseAgent) EndConversation(peerID string) {
	a.convMu.Lock()
	delete(a.conversations, peerID)
	delete(a.pendingRequests, peerID)
	a.convMu.Unlock()
	if a.limiter != nil {
		a.limiter.EndConversation(peerID)
	}
}

// ActiveConversations lists the peers with live conversation records.
func (a *BaseAgent) ActiveConversations() []string {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	out := make([]string, 0, len(a.conversations))
	for peer := range a.conversations {
		out = append(out, peer)
	}
	return out
}
