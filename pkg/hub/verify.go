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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weft-labs/weft/pkg/message"
)

// VerifyAgent runs the verification handshake against targetID: a
// VERIFICATION message carries a fresh nonce, the target's base agent
// answers with its signature over the nonce, and the hub checks it
// under the target's registered identity. The result advances the
// target identity's verification status.
//
// The boolean return mirrors the identity-verification contract so a
// real DID resolver can replace the handshake without changing callers.
func (h *Hub) VerifyAgent(ctx context.Context, requester Agent, targetID string, timeout time.Duration) (bool, error) {
	target, ok := h.ActiveAgent(targetID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAgentNotActive, targetID)
	}
	targetIdent := target.Identity()
	if targetIdent == nil {
		return false, fmt.Errorf("hub: agent %s has no identity", targetID)
	}

	nonce := uuid.NewString()
	resp, err := h.SendMessageAndWaitResponse(ctx, requester, targetID, nonce,
		message.TypeVerification, timeout)
	if err != nil {
		return false, fmt.Errorf("verification handshake with %s: %w", targetID, err)
	}

	verified := targetIdent.Verify(nonce, resp.Content)
	// One transition: a concurrent Status reader must never see the
	// target dip to pending mid-handshake and have its traffic rejected.
	targetIdent.SettleVerification(verified)
	h.logger.Info("verification handshake settled",
		zap.String("target_id", targetID),
		zap.Bool("verified", verified))
	return verified, nil
}
