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

package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces the burst of fsnotify events most editors
// emit for one save into a single reload.
const debounceWindow = 200 * time.Millisecond

// CardWatcher hot-reloads a card directory: created or modified cards
// register or update their agent, removed cards unregister it.
type CardWatcher struct {
	registry *Registry
	dir      string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	byFile   map[string]string // card path -> agent id
	debounce map[string]*time.Timer
}

// WatchCards starts watching dir and returns the running watcher.
// Close it to stop; the watch loop also exits when ctx is done.
func (r *Registry) WatchCards(ctx context.Context, dir string) (*CardWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating card watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching card directory %s: %w", dir, err)
	}
	w := &CardWatcher{
		registry: r,
		dir:      dir,
		logger:   r.logger.With(zap.String("dir", dir)),
		watcher:  fw,
		byFile:   make(map[string]string),
		debounce: make(map[string]*time.Timer),
	}
	w.seed()
	go w.loop(ctx)
	w.logger.Info("watching agent cards")
	return w, nil
}

// seed maps already-registered cards to their files so a later remove
// event can find the agent to unregister.
func (w *CardWatcher) seed() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isCardFile(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		reg, err := ParseCard(path)
		if err != nil {
			continue
		}
		w.mu.Lock()
		w.byFile[path] = reg.AgentID
		w.mu.Unlock()
	}
}

// Close stops the watcher.
func (w *CardWatcher) Close() error {
	return w.watcher.Close()
}

func (w *CardWatcher) loop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isCardFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.scheduleReload(ctx, event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.handleRemove(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("card watcher error", zap.Error(err))
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// scheduleReload debounces per file: only the last event within the
// window triggers a reload.
func (w *CardWatcher) scheduleReload(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()
		w.reload(ctx, path)
	})
}

// reload parses a card and registers or updates its agent. A card whose
// agent is already registered goes through the whitelisted update path,
// preserving the agent's identity.
func (w *CardWatcher) reload(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	reg, err := ParseCard(path)
	if err != nil {
		w.logger.Warn("ignoring malformed card", zap.String("path", path), zap.Error(err))
		return
	}

	if _, exists := w.registry.Get(reg.AgentID); exists {
		if _, err := w.registry.Update(ctx, reg.AgentID, cardUpdates(reg)); err != nil {
			w.logger.Warn("card update failed",
				zap.String("agent_id", reg.AgentID), zap.Error(err))
			return
		}
		w.logger.Info("card updated", zap.String("agent_id", reg.AgentID))
	} else {
		if err := w.registry.Register(ctx, reg); err != nil {
			w.logger.Warn("card registration failed",
				zap.String("agent_id", reg.AgentID), zap.Error(err))
			return
		}
		w.logger.Info("card registered", zap.String("agent_id", reg.AgentID))
	}

	w.mu.Lock()
	w.byFile[path] = reg.AgentID
	w.mu.Unlock()
}

// handleRemove unregisters the agent whose card file disappeared.
func (w *CardWatcher) handleRemove(ctx context.Context, path string) {
	w.mu.Lock()
	agentID, ok := w.byFile[path]
	delete(w.byFile, path)
	if timer, pending := w.debounce[path]; pending {
		timer.Stop()
		delete(w.debounce, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if w.registry.Unregister(ctx, agentID) {
		w.logger.Info("card removed, agent unregistered", zap.String("agent_id", agentID))
	}
}
