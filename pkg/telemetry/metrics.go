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

// Package telemetry exports Prometheus metrics for the fabric. The
// collectors hang off the hub's handler hooks: MessageHandler observes
// routed traffic as a global handler, FailureHook feeds routing
// failures, and ObserveHub registers gauges over the hub's pending and
// late response counts.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/weft-labs/weft/pkg/hub"
	"github.com/weft-labs/weft/pkg/message"
)

// Metrics bundles the fabric collectors. Build one per registerer;
// tests pass their own prometheus.NewRegistry so instances never
// collide.
type Metrics struct {
	registerer prometheus.Registerer

	messagesRouted  *prometheus.CounterVec
	routingFailures *prometheus.CounterVec
	activeAgents    prometheus.GaugeFunc
	pendingGauge    prometheus.GaugeFunc
	lateGauge       prometheus.GaugeFunc
}

// New builds the collectors on reg. Nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		messagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_messages_routed_total",
			Help: "Total messages delivered through the hub by type.",
		}, []string{"type"}),
		routingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_routing_failures_total",
			Help: "Total routing failures by reason.",
		}, []string{"reason"}),
	}
}

// MessageHandler returns a hub global handler counting routed messages
// by type.
func (m *Metrics) MessageHandler() hub.Handler {
	return func(msg *message.Message) {
		m.messagesRouted.WithLabelValues(string(msg.Type)).Inc()
	}
}

// FailureHook returns the routing-failure callback for hub.Config.
func (m *Metrics) FailureHook() func(reason string) {
	return func(reason string) {
		m.routingFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveHub registers gauges over the hub's live counts and installs
// the message handler. Call once per hub.
func (m *Metrics) ObserveHub(h *hub.Hub) {
	factory := promauto.With(m.registerer)
	m.activeAgents = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "weft_active_agents",
		Help: "Agents currently active on the hub.",
	}, func() float64 { return float64(h.ActiveCount()) })
	m.pendingGauge = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "weft_pending_responses",
		Help: "Send-and-wait requests currently awaiting a response.",
	}, func() float64 { return float64(h.PendingCount()) })
	m.lateGauge = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "weft_late_responses",
		Help: "Responses buffered after their waiter timed out.",
	}, func() float64 { return float64(h.LateCount()) })
	h.AddGlobalHandler(m.MessageHandler())
}
