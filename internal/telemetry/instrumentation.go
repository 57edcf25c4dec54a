// Copyright 2025 The Relay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/relaymcp/relay"

// Instrumentation carries the tracer and custom counters used by the
// transports.
type Instrumentation struct {
	Tracer trace.Tracer
	// McpPost counts JSON-RPC messages received over HTTP POST.
	McpPost metric.Int64Counter
	// McpSse counts accepted SSE streaming connections.
	McpSse metric.Int64Counter
	// McpNotification counts server-initiated notifications broadcast to
	// SSE connections.
	McpNotification metric.Int64Counter
}

// CreateTelemetryInstrumentation creates the custom tracer and counters.
func CreateTelemetryInstrumentation(versionString string) (*Instrumentation, error) {
	tracer := otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(versionString))
	meter := otel.Meter(instrumentationName, metric.WithInstrumentationVersion(versionString))

	mcpPost, err := meter.Int64Counter(
		"relay.mcp.post.count",
		metric.WithDescription("Number of JSON-RPC messages received over HTTP POST."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create post counter: %w", err)
	}
	mcpSse, err := meter.Int64Counter(
		"relay.mcp.sse.count",
		metric.WithDescription("Number of accepted SSE streaming connections."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create sse counter: %w", err)
	}
	mcpNotification, err := meter.Int64Counter(
		"relay.mcp.notification.count",
		metric.WithDescription("Number of notifications broadcast to SSE connections."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create notification counter: %w", err)
	}

	return &Instrumentation{
		Tracer:          tracer,
		McpPost:         mcpPost,
		McpSse:          mcpSse,
		McpNotification: mcpNotification,
	}, nil
}
