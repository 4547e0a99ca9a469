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
	"sync/atomic"
	"time"

	"github.com/weft-labs/weft/pkg/message"
)

// pendingResponse is one parked send-and-wait waiter. The channel
// carries at most one message; completion happens exactly once.
type pendingResponse struct {
	ch         chan *message.Message
	receiverID string
	createdAt  time.Time

	timedOut atomic.Bool
	once     sync.Once
}

func newPendingResponse(receiverID string) *pendingResponse {
	return &pendingResponse{
		ch:         make(chan *message.Message, 1),
		receiverID: receiverID,
		createdAt:  time.Now(),
	}
}

// complete delivers the response to the waiter. Later calls are no-ops,
// so a duplicate reply cannot complete a future twice.
func (p *pendingResponse) complete(msg *message.Message) {
	p.once.Do(func() {
		p.ch <- msg
		close(p.ch)
	})
}

// close releases a waiter without a response, used on hub shutdown.
func (p *pendingResponse) close() {
	p.once.Do(func() { close(p.ch) })
}

// lateResponse is a reply that arrived after its waiter's timeout,
// buffered until CheckCollaborationResult consumes it or the janitor
// evicts it.
type lateResponse struct {
	msg        *message.Message
	bufferedAt time.Time
}

// Collaboration result statuses.
const (
	// StatusCompletedLate marks a result whose response arrived after
	// the original waiter timed out.
	StatusCompletedLate = "completed_late"

	// StatusPending marks a request whose response has not arrived yet.
	StatusPending = "pending"
)

// CollaborationResult is the outcome of a request retrieved after the
// fact.
type CollaborationResult struct {
	RequestID string
	Status    string
	Content   string
	Message   *message.Message
}

// CheckCollaborationResult retrieves the late response for a request
// id, consuming the buffer entry. When the request is still parked and
// unanswered the result reports StatusPending; an unknown id reports
// false.
func (h *Hub) CheckCollaborationResult(requestID string) (*CollaborationResult, bool) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	if late, ok := h.lateResponses[requestID]; ok {
		delete(h.lateResponses, requestID)
		return &CollaborationResult{
			RequestID: requestID,
			Status:    StatusCompletedLate,
			Content:   late.msg.Content,
			Message:   late.msg,
		}, true
	}
	if _, ok := h.pendingResponses[requestID]; ok {
		return &CollaborationResult{
			RequestID: requestID,
			Status:    StatusPending,
		}, true
	}
	return nil, false
}

// sweepStale evicts late responses older than the TTL and timed-out
// waiters nobody can complete anymore. Returns the eviction count.
func (h *Hub) sweepStale(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	evicted := 0

	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for id, late := range h.lateResponses {
		if late.bufferedAt.Before(cutoff) {
			delete(h.lateResponses, id)
			evicted++
		}
	}
	for id, pending := range h.pendingResponses {
		if pending.timedOut.Load() && pending.createdAt.Before(cutoff) {
			pending.close()
			delete(h.pendingResponses, id)
			evicted++
		}
	}
	return evicted
}
