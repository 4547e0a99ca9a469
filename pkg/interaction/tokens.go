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

package interaction

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates how many tokens a piece of message content costs.
// It uses the cl100k_base encoding when available and falls back to a
// four-characters-per-token heuristic when the encoding cannot load.
type Counter struct {
	enc *tiktoken.Tiktoken
}

var (
	sharedCounterOnce sync.Once
	sharedCounter     *Counter
)

// SharedCounter returns the process-wide token counter. Loading the
// encoding is expensive, so it happens once.
func SharedCounter() *Counter {
	sharedCounterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			sharedCounter = &Counter{}
			return
		}
		sharedCounter = &Counter{enc: enc}
	})
	return sharedCounter
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		// Rough heuristic: English averages ~4 characters per token.
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
