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
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// defaultJanitorSpec sweeps once a minute.
const defaultJanitorSpec = "@every 1m"

// janitor periodically evicts stale late responses and expired
// timed-out waiters so an unattended hub does not accumulate them.
type janitor struct {
	hub    *Hub
	spec   string
	logger *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func newJanitor(h *Hub, spec string, logger *zap.Logger) *janitor {
	if spec == "" {
		spec = defaultJanitorSpec
	}
	return &janitor{hub: h, spec: spec, logger: logger}
}

func (j *janitor) start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(j.spec, j.sweep); err != nil {
		return fmt.Errorf("scheduling hub janitor %q: %w", j.spec, err)
	}
	c.Start()
	j.cron = c
	j.logger.Debug("hub janitor started", zap.String("spec", j.spec))
	return nil
}

func (j *janitor) sweep() {
	if evicted := j.hub.sweepStale(j.hub.lateTTL); evicted > 0 {
		j.logger.Info("swept stale responses", zap.Int("evicted", evicted))
	}
}

func (j *janitor) stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}
