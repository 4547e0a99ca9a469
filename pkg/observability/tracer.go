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

// Package observability provides tracing hooks for fabric operations.
//
// The hub, registry, and discovery service accept a Tracer and wrap
// their operations in spans (message routing, registration, semantic
// search). The default NoOpTracer keeps the hot path allocation-light;
// a MemoryTracer collects spans for tests and debugging.
//
// Example:
//
//	ctx, span := tracer.StartSpan(ctx, "hub.route_message",
//	    observability.WithAttribute("message.type", string(msg.Type)))
//	defer tracer.EndSpan(span)
package observability

import (
	"context"
	"time"
)

// StatusCode is the final status of a span.
type StatusCode int

const (
	// StatusUnset indicates status was not explicitly set.
	StatusUnset StatusCode = iota
	// StatusOK indicates successful completion.
	StatusOK
	// StatusError indicates an error occurred.
	StatusError
)

func (s StatusCode) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the final status of a span with an optional message.
type Status struct {
	Code    StatusCode
	Message string
}

// Event is a point-in-time occurrence within a span.
type Event struct {
	Timestamp  time.Time
	Name       string
	Attributes map[string]any
}

// Span is a unit of work with timing and metadata. Spans form a tree
// via ParentID references.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string

	Name       string
	Attributes map[string]any

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Events []Event
	Status Status
}

// SetAttribute sets a key-value attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

// AddEvent appends a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.Events = append(s.Events, Event{
		Timestamp:  time.Now(),
		Name:       name,
		Attributes: attrs,
	})
}

// RecordError marks the span failed and stores the error message.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.Status = Status{Code: StatusError, Message: err.Error()}
	s.SetAttribute("error.message", err.Error())
}

// SpanOption configures a span at start time.
type SpanOption func(*Span)

// WithAttribute returns a SpanOption that sets an attribute.
func WithAttribute(key string, value any) SpanOption {
	return func(s *Span) { s.SetAttribute(key, value) }
}

// WithSpanKind sets the span.kind attribute. Common values: "route",
// "registry", "discovery", "agent".
func WithSpanKind(kind string) SpanOption {
	return func(s *Span) { s.SetAttribute("span.kind", kind) }
}

// Tracer instruments fabric operations. Implementations must be safe
// for concurrent use.
type Tracer interface {
	// StartSpan creates a span linked to any parent found in ctx and
	// returns a context carrying the new span.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span)

	// EndSpan completes a span and computes its duration. Call via
	// defer after StartSpan.
	EndSpan(span *Span)

	// RecordMetric records a point-in-time metric value with labels.
	RecordMetric(name string, value float64, labels map[string]string)

	// RecordEvent records a standalone event not tied to a span.
	RecordEvent(ctx context.Context, name string, attributes map[string]any)

	// Flush forces export of anything buffered. Called on shutdown.
	Flush(ctx context.Context) error
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan attaches a span to the context.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

type contextKey string

const spanContextKey contextKey = "weft.span"
