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
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

// sharedKey avoids paying RSA keygen in every test.
func sharedKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, keyBits)
		require.NoError(t, err)
		testKey = k
	})
	return testKey
}

func TestNewIdentity(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id.DID, "did:key:"))
	assert.Equal(t, StatusVerified, id.Status())
	assert.True(t, id.HasPrivateKey())
	assert.True(t, Valid(id.DID))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := FromKey(sharedKey(t), MethodKey)
	require.NoError(t, err)

	sig, err := id.Sign("hello fabric")
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	assert.True(t, id.Verify("hello fabric", sig))
	assert.False(t, id.Verify("hello fabrik", sig))
	assert.False(t, id.Verify("hello fabric", sig[:len(sig)-4]))
	assert.False(t, id.Verify("hello fabric", "not base64!!!"))
}

func TestSignRequiresPrivateKey(t *testing.T) {
	key := sharedKey(t)
	id, err := FromPublicKey(&key.PublicKey, MethodKey)
	require.NoError(t, err)

	_, err = id.Sign("anything")
	assert.ErrorIs(t, err, ErrNoPrivateKey)
	assert.Equal(t, StatusPending, id.Status())
}

func TestDIDStableForKey(t *testing.T) {
	key := sharedKey(t)

	a, err := FromKey(key, MethodKey)
	require.NoError(t, err)
	b, err := FromKey(key, MethodKey)
	require.NoError(t, err)

	assert.Equal(t, a.DID, b.DID)
}

func TestNewEthrIdentity(t *testing.T) {
	id, err := NewEthr()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(id.DID, "did:ethr:0x"))
	parsed, err := ParseDID(id.DID)
	require.NoError(t, err)
	assert.Equal(t, MethodEthr, parsed.Method)
	assert.Len(t, parsed.Identifier, 42)
}

func TestParseDID(t *testing.T) {
	tests := []struct {
		name    string
		did     string
		wantErr bool
	}{
		{"valid key", "did:key:aGVsbG8td29ybGQtMTIzNA", false},
		{"valid ethr", "did:ethr:0x" + strings.Repeat("ab", 20), false},
		{"unknown method", "did:web:example.com", true},
		{"missing identifier", "did:key:", true},
		{"not a did", "key:abc", true},
		{"ethr too short", "did:ethr:0xabcd", true},
		{"ethr bad hex", "did:ethr:0x" + strings.Repeat("zz", 20), true},
		{"key bad charset", "did:key:abc+def", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDID(tt.did)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, Valid(tt.did))
			} else {
				assert.NoError(t, err)
				assert.True(t, Valid(tt.did))
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	key := sharedKey(t)
	id, err := FromPublicKey(&key.PublicKey, MethodKey)
	require.NoError(t, err)

	require.Equal(t, StatusPending, id.Status())
	require.NoError(t, id.MarkVerified())
	assert.Equal(t, StatusVerified, id.Status())

	// Settled status cannot flip without explicit re-verification.
	assert.Error(t, id.MarkFailed())
	assert.Equal(t, StatusVerified, id.Status())

	id.Reverify()
	require.Equal(t, StatusPending, id.Status())
	require.NoError(t, id.MarkFailed())
	assert.Equal(t, StatusFailed, id.Status())
}

func TestSettleVerificationSingleTransition(t *testing.T) {
	id, err := FromKey(sharedKey(t), MethodKey)
	require.NoError(t, err)
	require.Equal(t, StatusVerified, id.Status())

	// Settled states flip directly, no pending hop required.
	id.SettleVerification(false)
	assert.Equal(t, StatusFailed, id.Status())
	id.SettleVerification(true)
	assert.Equal(t, StatusVerified, id.Status())
}

func TestSettleVerificationNeverObservedPending(t *testing.T) {
	id, err := FromKey(sharedKey(t), MethodKey)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			id.SettleVerification(i%2 == 0)
		}
	}()
	for {
		select {
		case <-done:
			return
		default:
			assert.NotEqual(t, StatusPending, id.Status())
		}
	}
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	id, err := FromKey(sharedKey(t), MethodKey)
	require.NoError(t, err)

	pemBytes, err := id.MarshalPrivateKeyPEM()
	require.NoError(t, err)

	key, err := ParsePrivateKeyPEM(pemBytes)
	require.NoError(t, err)

	reloaded, err := FromKey(key, MethodKey)
	require.NoError(t, err)
	assert.Equal(t, id.DID, reloaded.DID)
}
