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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanParentLinking(t *testing.T) {
	tracer := NewMemoryTracer()

	ctx, parent := tracer.StartSpan(context.Background(), "hub.route_message")
	_, child := tracer.StartSpan(ctx, "registry.lookup")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)

	tracer.EndSpan(child)
	tracer.EndSpan(parent)

	require.Len(t, tracer.Spans(), 2)
	require.Len(t, tracer.SpansNamed("registry.lookup"), 1)
	assert.GreaterOrEqual(t, child.Duration, time.Duration(0))
}

func TestSpanRecordError(t *testing.T) {
	tracer := NewNoOpTracer()

	_, span := tracer.StartSpan(context.Background(), "hub.route_message",
		WithAttribute("message.type", "text"),
		WithSpanKind("route"))
	span.RecordError(errors.New("signature invalid"))
	tracer.EndSpan(span)

	assert.Equal(t, StatusError, span.Status.Code)
	assert.Equal(t, "signature invalid", span.Status.Message)
	assert.Equal(t, "text", span.Attributes["message.type"])
	assert.Equal(t, "route", span.Attributes["span.kind"])
}

func TestMemoryTracerMetrics(t *testing.T) {
	tracer := NewMemoryTracer()
	tracer.RecordMetric("fabric.messages.routed", 1, map[string]string{"type": "text"})
	tracer.RecordMetric("fabric.messages.routed", 1, map[string]string{"type": "stop"})

	points := tracer.Metrics()
	require.Len(t, points, 2)
	assert.Equal(t, "fabric.messages.routed", points[0].Name)

	tracer.Reset()
	assert.Empty(t, tracer.Metrics())
	assert.Empty(t, tracer.Spans())
}

func TestSpanFromEmptyContext(t *testing.T) {
	assert.Nil(t, SpanFromContext(context.Background()))
}
