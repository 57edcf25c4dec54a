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

package capability

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/log"
)

// newTestBus returns a bus with a quiet logger.
func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "warn")
	if err != nil {
		t.Fatalf("unable to create logger: %s", err)
	}
	return bus.New(logger)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	b := newTestBus(t)
	registry := NewRegistry()
	core := NewCoreManager("0.0.1", b)
	tools := NewToolsManager(b)
	registry.Register(core)
	registry.Register(tools)

	if got := registry.Lookup(METHOD_INITIALIZE); got != Manager(core) {
		t.Fatalf("expected core manager, got %v", got)
	}
	if got := registry.Lookup(METHOD_TOOLS_LIST); got != Manager(tools) {
		t.Fatalf("expected tools manager, got %v", got)
	}
	if got := registry.Lookup("no/such"); got != nil {
		t.Fatalf("expected nil for unclaimed method, got %v", got)
	}
}

func TestRegistryDoubleRegisterIsNoOp(t *testing.T) {
	b := newTestBus(t)
	registry := NewRegistry()
	core := NewCoreManager("0.0.1", b)
	registry.Register(core)
	registry.Register(core)
	if got := len(registry.Managers()); got != 1 {
		t.Fatalf("expected 1 manager, got %d", got)
	}
}

func TestInitializeVersionNegotiation(t *testing.T) {
	tcs := []struct {
		name      string
		requested string
		want      string
	}{
		{
			name:      "latest echoed",
			requested: "2025-06-18",
			want:      "2025-06-18",
		},
		{
			name:      "older supported echoed",
			requested: "2025-03-26",
			want:      "2025-03-26",
		},
		{
			name:      "unsupported answered with latest",
			requested: "2024-01-01",
			want:      "2025-06-18",
		},
		{
			name: "absent answered with latest",
			want: "2025-06-18",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			m := NewCoreManager("1.2.3", newTestBus(t))
			params, _ := json.Marshal(map[string]any{"protocolVersion": tc.requested})
			res, err := m.Execute(context.Background(), METHOD_INITIALIZE, params)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			init, ok := res.(InitializeResult)
			if !ok {
				t.Fatalf("expected InitializeResult, got %T", res)
			}
			if init.ProtocolVersion != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, init.ProtocolVersion)
			}
			if init.ServerInfo.Name != SERVER_NAME || init.ServerInfo.Version != "1.2.3" {
				t.Fatalf("unexpected serverInfo: %+v", init.ServerInfo)
			}
			if len(init.SessionId) != 32 {
				t.Fatalf("expected 32 hex char session id, got %q", init.SessionId)
			}
		})
	}
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	m := NewCoreManager("0.0.1", newTestBus(t))
	res, err := m.Execute(context.Background(), METHOD_INITIALIZE, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	caps := res.(InitializeResult).Capabilities
	if caps.Tools == nil || !caps.Tools.ListChanged {
		t.Fatal("expected tools.listChanged to be advertised")
	}
	if caps.Resources == nil || !caps.Resources.Subscribe || !caps.Resources.ListChanged {
		t.Fatal("expected resources.subscribe and listChanged to be advertised")
	}
	if caps.Prompts == nil || !caps.Prompts.ListChanged {
		t.Fatal("expected prompts.listChanged to be advertised")
	}
}

func TestPing(t *testing.T) {
	m := NewCoreManager("0.0.1", newTestBus(t))
	res, err := m.Execute(context.Background(), METHOD_PING, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res == nil {
		t.Fatal("expected an empty result object, got nil")
	}
}

func TestCancelledSet(t *testing.T) {
	m := NewCoreManager("0.0.1", newTestBus(t))

	params, _ := json.Marshal(map[string]any{"requestId": 42, "reason": "too slow"})
	if _, err := m.Execute(context.Background(), NOTIF_CANCELLED, params); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if !m.IsCancelled(float64(42)) {
		t.Fatal("expected request 42 to be cancelled")
	}
	if reason, ok := m.CancelReason(float64(42)); !ok || reason != "too slow" {
		t.Fatalf("expected reason 'too slow', got %q ok=%t", reason, ok)
	}

	// Membership survives until explicit removal.
	if !m.IsCancelled(float64(42)) {
		t.Fatal("expected membership to survive the lookup")
	}
	m.ClearCancelled(float64(42))
	if m.IsCancelled(float64(42)) {
		t.Fatal("expected request 42 to be cleared")
	}
}

func TestCancelledRepublishesOnBus(t *testing.T) {
	b := newTestBus(t)
	m := NewCoreManager("0.0.1", b)

	var got any
	b.Subscribe(bus.EventCancelled, func(payload any) { got = payload })

	params, _ := json.Marshal(map[string]any{"requestId": "abc"})
	if _, err := m.Execute(context.Background(), NOTIF_CANCELLED, params); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	payload, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected payload map, got %T", got)
	}
	if payload["requestId"] != "abc" {
		t.Fatalf("expected requestId abc, got %v", payload["requestId"])
	}
}
