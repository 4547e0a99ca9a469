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

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/weft-labs/weft/pkg/identity"
)

// Card is the YAML form of a registration, one agent per file. A card
// without an identity block gets a fresh key-based identity at load
// time; a card naming a private-key file reproduces the same DID on
// every load.
type Card struct {
	AgentID          string            `yaml:"agent_id"`
	AgentType        AgentType         `yaml:"agent_type"`
	InteractionModes []InteractionMode `yaml:"interaction_modes"`

	Name             string `yaml:"name,omitempty"`
	Summary          string `yaml:"summary,omitempty"`
	Description      string `yaml:"description,omitempty"`
	Version          string `yaml:"version,omitempty"`
	DocumentationURL string `yaml:"documentation_url,omitempty"`
	Organization     string `yaml:"organization,omitempty"`
	Developer        string `yaml:"developer,omitempty"`
	URL              string `yaml:"url,omitempty"`

	Capabilities []Capability `yaml:"capabilities,omitempty"`
	Skills       []Skill      `yaml:"skills,omitempty"`
	Examples     []string     `yaml:"examples,omitempty"`
	Tags         []string     `yaml:"tags,omitempty"`

	AuthSchemes        []string `yaml:"auth_schemes,omitempty"`
	DefaultInputModes  []string `yaml:"default_input_modes,omitempty"`
	DefaultOutputModes []string `yaml:"default_output_modes,omitempty"`

	PaymentAddress string         `yaml:"payment_address,omitempty"`
	CustomMetadata map[string]any `yaml:"metadata,omitempty"`

	Identity CardIdentity `yaml:"identity,omitempty"`
}

// CardIdentity selects how the card's identity is produced.
type CardIdentity struct {
	// Method is "key" (default) or "ethr".
	Method string `yaml:"method,omitempty"`

	// PrivateKeyFile names a PEM private key, relative to the card
	// file. Empty generates a fresh key pair per process.
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
}

// ParseCard reads one card file into a registration ready for Register.
func ParseCard(path string) (*AgentRegistration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading card %s: %w", path, err)
	}
	var card Card
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("parsing card %s: %w", path, err)
	}
	return card.toRegistration(filepath.Dir(path))
}

func (c *Card) identityMethod() (identity.Method, error) {
	switch c.Identity.Method {
	case "", "key":
		return identity.MethodKey, nil
	case "ethr":
		return identity.MethodEthr, nil
	default:
		return "", fmt.Errorf("%w: identity method %q", ErrInvalidRegistration, c.Identity.Method)
	}
}

func (c *Card) toRegistration(baseDir string) (*AgentRegistration, error) {
	method, err := c.identityMethod()
	if err != nil {
		return nil, err
	}

	var ident *identity.Identity
	if c.Identity.PrivateKeyFile != "" {
		keyPath := c.Identity.PrivateKeyFile
		if !filepath.IsAbs(keyPath) {
			keyPath = filepath.Join(baseDir, keyPath)
		}
		pemData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading key for card %s: %w", c.AgentID, err)
		}
		key, err := identity.ParsePrivateKeyPEM(pemData)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", c.AgentID, err)
		}
		ident, err = identity.FromKey(key, method)
		if err != nil {
			return nil, err
		}
	} else {
		switch method {
		case identity.MethodEthr:
			ident, err = identity.NewEthr()
		default:
			ident, err = identity.New()
		}
		if err != nil {
			return nil, err
		}
	}

	reg := &AgentRegistration{
		AgentID:            c.AgentID,
		AgentType:          c.AgentType,
		InteractionModes:   c.InteractionModes,
		Identity:           ident,
		Name:               c.Name,
		Summary:            c.Summary,
		Description:        c.Description,
		Version:            c.Version,
		DocumentationURL:   c.DocumentationURL,
		Organization:       c.Organization,
		Developer:          c.Developer,
		URL:                c.URL,
		Capabilities:       c.Capabilities,
		Skills:             c.Skills,
		Examples:           c.Examples,
		Tags:               c.Tags,
		AuthSchemes:        c.AuthSchemes,
		DefaultInputModes:  c.DefaultInputModes,
		DefaultOutputModes: c.DefaultOutputModes,
		PaymentAddress:     c.PaymentAddress,
		CustomMetadata:     c.CustomMetadata,
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// cardUpdates converts a re-parsed card into the whitelisted update set
// for an already-registered agent, so hot reload never touches the
// identity.
func cardUpdates(reg *AgentRegistration) Updates {
	return Updates{
		Name:               &reg.Name,
		Summary:            &reg.Summary,
		Description:        &reg.Description,
		Version:            &reg.Version,
		DocumentationURL:   &reg.DocumentationURL,
		Organization:       &reg.Organization,
		Developer:          &reg.Developer,
		URL:                &reg.URL,
		PaymentAddress:     &reg.PaymentAddress,
		Capabilities:       reg.Capabilities,
		Skills:             reg.Skills,
		Examples:           reg.Examples,
		Tags:               reg.Tags,
		AuthSchemes:        reg.AuthSchemes,
		InteractionModes:   reg.InteractionModes,
		DefaultInputModes:  reg.DefaultInputModes,
		DefaultOutputModes: reg.DefaultOutputModes,
		CustomMetadata:     reg.CustomMetadata,
	}
}

// isCardFile reports whether path names a YAML card.
func isCardFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

// LoadCards registers every card in dir. Malformed cards are logged and
// skipped; the counts report how many registered and how many failed.
func (r *Registry) LoadCards(ctx context.Context, dir string) (loaded, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("reading card directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isCardFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		reg, parseErr := ParseCard(path)
		if parseErr != nil {
			failed++
			r.logger.Warn("skipping malformed agent card",
				zap.String("path", path), zap.Error(parseErr))
			continue
		}
		if regErr := r.Register(ctx, reg); regErr != nil {
			failed++
			r.logger.Warn("agent card registration failed",
				zap.String("path", path),
				zap.String("agent_id", reg.AgentID),
				zap.Error(regErr))
			continue
		}
		loaded++
	}
	r.logger.Info("agent cards loaded",
		zap.String("dir", dir),
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))
	return loaded, failed, nil
}
