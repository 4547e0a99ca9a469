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

package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTracer collects finished spans, metrics, and events in memory.
// Tests assert against its contents; it is not meant for production.
type MemoryTracer struct {
	mu      sync.Mutex
	spans   []*Span
	metrics []MetricPoint
	events  []Event
}

// MetricPoint is one recorded metric sample.
type MetricPoint struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// NewMemoryTracer creates an empty in-memory tracer.
func NewMemoryTracer() *MemoryTracer {
	return &MemoryTracer{}
}

// StartSpan creates a span linked to the context's parent.
func (t *MemoryTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]any),
	}
	for _, opt := range opts {
		opt(span)
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan finishes the span and retains it.
func (t *MemoryTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	t.mu.Lock()
	t.spans = append(t.spans, span)
	t.mu.Unlock()
}

// RecordMetric retains the sample.
func (t *MemoryTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.mu.Lock()
	t.metrics = append(t.metrics, MetricPoint{Name: name, Value: value, Labels: labels})
	t.mu.Unlock()
}

// RecordEvent retains the event.
func (t *MemoryTracer) RecordEvent(_ context.Context, name string, attributes map[string]any) {
	t.mu.Lock()
	t.events = append(t.events, Event{Timestamp: time.Now(), Name: name, Attributes: attributes})
	t.mu.Unlock()
}

// Flush does nothing; everything is already in memory.
func (t *MemoryTracer) Flush(context.Context) error { return nil }

// Spans returns a copy of the finished spans.
func (t *MemoryTracer) Spans() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// SpansNamed returns finished spans with the given name.
func (t *MemoryTracer) SpansNamed(name string) []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Span
	for _, s := range t.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Metrics returns a copy of the recorded metric samples.
func (t *MemoryTracer) Metrics() []MetricPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]MetricPoint, len(t.metrics))
	copy(out, t.metrics)
	return out
}

// Reset drops everything collected so far.
func (t *MemoryTracer) Reset() {
	t.mu.Lock()
	t.spans = nil
	t.metrics = nil
	t.events = nil
	t.mu.Unlock()
}
