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

// Package interaction enforces token-rate and turn limits on agent
// conversations. A Limiter tracks two token windows (per minute and per
// hour) that reset lazily, plus per-conversation turn and token totals,
// and decides per interaction whether the agent continues, waits out a
// cooldown, or stops the conversation.
package interaction

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action is the limiter's verdict on one interaction.
type Action string

const (
	// ActionContinue lets the interaction proceed.
	ActionContinue Action = "continue"

	// ActionWait means a token window is exhausted; the agent should
	// cool down for the decision's Cooldown duration.
	ActionWait Action = "wait"

	// ActionStop means the conversation hit its turn limit.
	ActionStop Action = "stop"
)

// Decision pairs an Action with the cooldown duration that applies when
// the action is ActionWait.
type Decision struct {
	Action   Action
	Cooldown time.Duration
}

// CooldownFunc is invoked when a token window is exhausted. It runs
// outside the limiter's lock, so it may call back into the limiter.
type CooldownFunc func(conversationID string, cooldown time.Duration)

// Config bounds a Limiter. Zero values mean unlimited.
type Config struct {
	MaxTokensPerMinute int
	MaxTokensPerHour   int
	MaxTurns           int

	// OnCooldown is called with the computed cooldown whenever the
	// decision is ActionWait.
	OnCooldown CooldownFunc

	Logger *zap.Logger
}

// ConversationStats accumulates per-conversation accounting.
type ConversationStats struct {
	Tokens    int
	Turns     int
	StartedAt time.Time
	LastAt    time.Time
}

// window is one lazily-resetting token window.
type window struct {
	size   time.Duration
	limit  int
	start  time.Time
	tokens int
}

// add resets the window if it has elapsed, then accounts n tokens.
func (w *window) add(now time.Time, n int) {
	if now.Sub(w.start) >= w.size {
		w.start = now
		w.tokens = 0
	}
	w.tokens += n
}

func (w *window) over() bool {
	return w.limit > 0 && w.tokens > w.limit
}

// remaining reports how long until the window resets.
func (w *window) remaining(now time.Time) time.Duration {
	rem := w.size - now.Sub(w.start)
	if rem < 0 {
		return 0
	}
	return rem
}

// Limiter applies Config to a stream of interactions. Safe for
// concurrent use.
type Limiter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	minute        window
	hour          window
	conversations map[string]*ConversationStats
}

// NewLimiter builds a Limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		minute:        window{size: time.Minute, limit: cfg.MaxTokensPerMinute},
		hour:          window{size: time.Hour, limit: cfg.MaxTokensPerHour},
		conversations: make(map[string]*ConversationStats),
	}
}

// WithClock overrides the limiter's time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// ProcessInteraction accounts one interaction of tokenCount tokens in
// conversationID and decides whether to continue, wait, or stop.
//
// Order of checks matches the interaction contract: the turn limit is
// checked before anything else, a zero token count short-circuits with
// no accounting, and only then are the windows charged.
func (l *Limiter) ProcessInteraction(tokenCount int, conversationID string) Decision {
	decision, stats := l.process(tokenCount, conversationID)

	if decision.Action == ActionWait {
		l.logger.Debug("interaction cooldown",
			zap.String("conversation_id", conversationID),
			zap.Duration("cooldown", decision.Cooldown),
			zap.Int("conversation_tokens", stats.Tokens))
		if l.cfg.OnCooldown != nil {
			l.cfg.OnCooldown(conversationID, decision.Cooldown)
		}
	}
	return decision
}

func (l *Limiter) process(tokenCount int, conversationID string) (Decision, ConversationStats) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stats, ok := l.conversations[conversationID]
	if !ok {
		stats = &ConversationStats{StartedAt: now}
		l.conversations[conversationID] = stats
	}

	if l.cfg.MaxTurns > 0 && stats.Turns >= l.cfg.MaxTurns {
		return Decision{Action: ActionStop}, *stats
	}
	if tokenCount == 0 {
		return Decision{Action: ActionContinue}, *stats
	}

	l.minute.add(now, tokenCount)
	l.hour.add(now, tokenCount)
	stats.Tokens += tokenCount
	stats.Turns++
	stats.LastAt = now

	var cooldown time.Duration
	switch {
	case l.minute.over():
		cooldown = l.minute.remaining(now)
	case l.hour.over():
		cooldown = l.hour.remaining(now)
	}
	if cooldown > 0 {
		return Decision{Action: ActionWait, Cooldown: cooldown}, *stats
	}
	return Decision{Action: ActionContinue}, *stats
}

// Stats returns a copy of the accounting for conversationID.
func (l *Limiter) Stats(conversationID string) (ConversationStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.conversations[conversationID]
	if !ok {
		return ConversationStats{}, false
	}
	return *s, true
}

// EndConversation drops the accounting for conversationID so a later
// conversation with the same peer starts fresh.
func (l *Limiter) EndConversation(conversationID string) {
	l.mu.Lock()
	delete(l.conversations, conversationID)
	l.mu.Unlock()
}

// Usage reports the tokens currently accounted in the minute and hour
// windows.
func (l *Limiter) Usage() (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minute.tokens, l.hour.tokens
}
