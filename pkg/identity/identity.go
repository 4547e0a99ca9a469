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

// Package identity implements DID-shaped agent identities backed by
// RSA-2048 key pairs. An identity signs and verifies arbitrary string
// content with RSA-PSS over SHA-256; the DID is derived from the
// DER-encoded public key, so the same key always yields the same DID.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"
)

// VerificationStatus tracks how far an identity has progressed through
// verification. Values are wire-stable.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
)

const keyBits = 2048

var (
	// ErrNoPrivateKey is returned when a signing operation is attempted on
	// an identity that only carries a public key.
	ErrNoPrivateKey = errors.New("identity: no private key")

	// ErrUnsupportedDID is returned for DID strings that are neither
	// did:key nor did:ethr shaped.
	ErrUnsupportedDID = errors.New("identity: unsupported DID format")
)

// Identity is an agent's cryptographic identity. The DID is immutable
// after construction; only the verification status may change, and only
// through MarkVerified, MarkFailed, and Reverify.
type Identity struct {
	// DID is the decentralized identifier, either did:key or did:ethr.
	DID string

	// CreatedAt records when the identity was generated.
	CreatedAt time.Time

	// Metadata carries free-form identity annotations. It never
	// influences signing or verification.
	Metadata map[string]any

	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey

	mu     sync.RWMutex
	status VerificationStatus
}

// New generates a fresh RSA-2048 key pair and returns a did:key identity.
// Locally generated identities start out verified.
func New() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return fromKey(key, MethodKey)
}

// NewEthr generates a fresh RSA-2048 key pair and returns a did:ethr
// identity. The address is registry-scoped, derived from the public key
// digest rather than an on-chain account.
func NewEthr() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return fromKey(key, MethodEthr)
}

// FromKey builds an identity around an existing private key. The derived
// DID is stable for the key, so reloading a key from disk reproduces the
// identity.
func FromKey(key *rsa.PrivateKey, method Method) (*Identity, error) {
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	return fromKey(key, method)
}

func fromKey(key *rsa.PrivateKey, method Method) (*Identity, error) {
	did, err := DeriveDID(&key.PublicKey, method)
	if err != nil {
		return nil, err
	}
	return &Identity{
		DID:        did,
		CreatedAt:  time.Now().UTC(),
		Metadata:   make(map[string]any),
		publicKey:  &key.PublicKey,
		privateKey: key,
		status:     StatusVerified,
	}, nil
}

// FromPublicKey builds a verify-only identity for a peer whose private
// key is not held locally. Its status starts pending.
func FromPublicKey(pub *rsa.PublicKey, method Method) (*Identity, error) {
	if pub == nil {
		return nil, errors.New("identity: nil public key")
	}
	did, err := DeriveDID(pub, method)
	if err != nil {
		return nil, err
	}
	return &Identity{
		DID:       did,
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
		publicKey: pub,
		status:    StatusPending,
	}, nil
}

// ParsePrivateKeyPEM reads an RSA private key in PKCS#1 or PKCS#8 PEM
// form, as produced by openssl genrsa or MarshalPrivateKeyPEM.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("identity: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: key is %T, want *rsa.PrivateKey", parsed)
	}
	return key, nil
}

// MarshalPrivateKeyPEM renders the identity's private key as PKCS#8 PEM.
func (i *Identity) MarshalPrivateKeyPEM() ([]byte, error) {
	if i.privateKey == nil {
		return nil, ErrNoPrivateKey
	}
	der, err := x509.MarshalPKCS8PrivateKey(i.privateKey)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKey returns the identity's public key.
func (i *Identity) PublicKey() *rsa.PublicKey { return i.publicKey }

// HasPrivateKey reports whether the identity can sign.
func (i *Identity) HasPrivateKey() bool { return i.privateKey != nil }

// Status returns the current verification status.
func (i *Identity) Status() VerificationStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// MarkVerified advances the status to verified. Only a pending identity
// may advance; call Reverify first to re-run verification on a settled
// identity.
func (i *Identity) MarkVerified() error {
	return i.advance(StatusVerified)
}

// MarkFailed advances the status to failed.
func (i *Identity) MarkFailed() error {
	return i.advance(StatusFailed)
}

func (i *Identity) advance(to VerificationStatus) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == to {
		return nil
	}
	if i.status != StatusPending {
		return fmt.Errorf("identity: cannot move %s -> %s without re-verification", i.status, to)
	}
	i.status = to
	return nil
}

// Reverify resets the status to pending so a fresh verification round can
// settle it again.
func (i *Identity) Reverify() {
	i.mu.Lock()
	i.status = StatusPending
	i.mu.Unlock()
}

// SettleVerification records a verification outcome in one transition.
// Unlike Reverify followed by MarkVerified or MarkFailed, concurrent
// readers never observe an intermediate pending status while a settled
// identity is re-verified.
func (i *Identity) SettleVerification(verified bool) {
	i.mu.Lock()
	if verified {
		i.status = StatusVerified
	} else {
		i.status = StatusFailed
	}
	i.mu.Unlock()
}

// Sign produces a base64 RSA-PSS signature (SHA-256, maximum salt
// length) over content. It fails if the identity holds no private key.
func (i *Identity) Sign(content string) (string, error) {
	if i.privateKey == nil {
		return "", ErrNoPrivateKey
	}
	digest := sha256.Sum256([]byte(content))
	sig, err := rsa.SignPSS(rand.Reader, i.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("signing content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature produced by Sign against content.
// It returns false on any decoding or cryptographic failure and never
// panics across the boundary.
func (i *Identity) Verify(content, signature string) bool {
	if i.publicKey == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(content))
	err = rsa.VerifyPSS(i.publicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	return err == nil
}

// DeriveDID computes the DID string for a public key under the given
// method. did:key carries the base64url first 16 bytes of the SHA-256 of
// the DER-encoded key; did:ethr carries the hex last 20 bytes.
func DeriveDID(pub *rsa.PublicKey, method Method) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	sum := sha256.Sum256(der)
	switch method {
	case MethodKey:
		return "did:key:" + base64.RawURLEncoding.EncodeToString(sum[:16]), nil
	case MethodEthr:
		return "did:ethr:0x" + hex.EncodeToString(sum[len(sum)-20:]), nil
	default:
		return "", ErrUnsupportedDID
	}
}
