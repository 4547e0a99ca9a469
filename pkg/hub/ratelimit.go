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
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// guardIdleTTL is how long an idle sender entry survives before the
// cleanup loop drops it.
const guardIdleTTL = 10 * time.Minute

// sendGuard caps each sender's routed messages per second with one
// token bucket per sender id. Idle entries are dropped by a background
// cleanup loop so a churny fleet does not grow the map forever.
type sendGuard struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*guardEntry

	done chan struct{}
	once sync.Once
}

type guardEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSendGuard(limit rate.Limit, burst int) *sendGuard {
	if burst <= 0 {
		burst = int(math.Ceil(float64(limit)))
		if burst < 1 {
			burst = 1
		}
	}
	g := &sendGuard{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*guardEntry),
		done:     make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

// allow reports whether senderID may route one more message now.
func (g *sendGuard) allow(senderID string) bool {
	g.mu.Lock()
	entry, ok := g.limiters[senderID]
	if !ok {
		entry = &guardEntry{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.limiters[senderID] = entry
	}
	entry.lastSeen = time.Now()
	g.mu.Unlock()
	return entry.limiter.Allow()
}

func (g *sendGuard) cleanupLoop() {
	ticker := time.NewTicker(guardIdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-guardIdleTTL)
			g.mu.Lock()
			for id, entry := range g.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(g.limiters, id)
				}
			}
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}

func (g *sendGuard) stop() {
	g.once.Do(func() { close(g.done) })
}
