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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weft-labs/weft/internal/log"
	"github.com/weft-labs/weft/pkg/agent"
	"github.com/weft-labs/weft/pkg/hub"
	"github.com/weft-labs/weft/pkg/identity"
	"github.com/weft-labs/weft/pkg/message"
	"github.com/weft-labs/weft/pkg/registry"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Wire two in-process agents and run a request/response round trip",
	RunE:  runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func demoRegistration(id, name string) (*registry.AgentRegistration, error) {
	ident, err := identity.New()
	if err != nil {
		return nil, err
	}
	return &registry.AgentRegistration{
		AgentID:          id,
		AgentType:        registry.AgentTypeAI,
		InteractionModes: []registry.InteractionMode{registry.ModeAgentToAgent},
		Identity:         ident,
		Name:             name,
	}, nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	logger := log.Logger()
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	reg := registry.New(registry.Config{Logger: logger})
	defer reg.Close()
	h := hub.New(hub.Config{Registry: reg, Logger: logger})
	defer h.Close()

	pingReg, err := demoRegistration("demo-ping", "Ping")
	if err != nil {
		return err
	}
	pongReg, err := demoRegistration("demo-pong", "Pong")
	if err != nil {
		return err
	}

	ping, err := agent.New(agent.Config{Registration: pingReg, Logger: logger})
	if err != nil {
		return err
	}
	pong, err := agent.New(agent.Config{
		Registration: pongReg,
		Logger:       logger,
		Processor: func(ctx context.Context, msg *message.Message) (*agent.Reply, error) {
			return &agent.Reply{Content: "pong", Type: message.TypeResponse}, nil
		},
	})
	if err != nil {
		return err
	}

	if err := h.RegisterAgent(ctx, ping); err != nil {
		return err
	}
	if err := h.RegisterAgent(ctx, pong); err != nil {
		return err
	}

	go pong.Run(ctx) //nolint:errcheck
	defer pong.Stop()

	resp, err := ping.SendAndWait(ctx, "demo-pong", "ping", message.TypeText, 5*time.Second)
	if err != nil {
		return fmt.Errorf("round trip failed: %w", err)
	}
	fmt.Printf("demo-ping -> demo-pong: ping\ndemo-pong -> demo-ping: %s (response_to=%s)\n",
		resp.Content, resp.ResponseTo())
	return nil
}
