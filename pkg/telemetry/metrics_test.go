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

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/weft-labs/weft/pkg/message"
)

func TestMessageHandlerCountsByType(t *testing.T) {
	m := New(prometheus.NewRegistry())
	handler := m.MessageHandler()

	handler(message.NewSystem("a", "b", "one"))
	handler(message.NewSystem("a", "b", "two"))

	count := testutil.ToFloat64(m.messagesRouted.WithLabelValues(string(message.TypeSystem)))
	assert.Equal(t, 2.0, count)
}

func TestFailureHookCountsByReason(t *testing.T) {
	m := New(prometheus.NewRegistry())
	hook := m.FailureHook()

	hook("rate_limited")
	hook("rate_limited")
	hook("unknown_receiver")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.routingFailures.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routingFailures.WithLabelValues("unknown_receiver")))
}
