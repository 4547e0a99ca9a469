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

package identity

import (
	"fmt"
	"strings"
)

// Method names a supported DID method.
type Method string

const (
	// MethodKey is the did:key method; the identifier embeds a key
	// fingerprint directly.
	MethodKey Method = "key"

	// MethodEthr is the did:ethr method; the identifier is a 20-byte
	// address in hex.
	MethodEthr Method = "ethr"
)

// DID is a parsed decentralized identifier.
type DID struct {
	Method     Method
	Identifier string
}

// String reassembles the canonical DID form.
func (d DID) String() string {
	return fmt.Sprintf("did:%s:%s", d.Method, d.Identifier)
}

// ParseDID splits a DID string into method and identifier and rejects
// anything that is not a well-formed did:key or did:ethr.
func ParseDID(s string) (DID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[2] == "" {
		return DID{}, fmt.Errorf("%w: %q", ErrUnsupportedDID, s)
	}
	d := DID{Method: Method(parts[1]), Identifier: parts[2]}
	switch d.Method {
	case MethodKey:
		if !validKeyIdentifier(d.Identifier) {
			return DID{}, fmt.Errorf("%w: bad did:key identifier %q", ErrUnsupportedDID, d.Identifier)
		}
	case MethodEthr:
		if !validEthrIdentifier(d.Identifier) {
			return DID{}, fmt.Errorf("%w: bad did:ethr identifier %q", ErrUnsupportedDID, d.Identifier)
		}
	default:
		return DID{}, fmt.Errorf("%w: method %q", ErrUnsupportedDID, parts[1])
	}
	return d, nil
}

// Valid reports whether s parses as a supported DID.
func Valid(s string) bool {
	_, err := ParseDID(s)
	return err == nil
}

func validKeyIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func validEthrIdentifier(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
