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
	"errors"
	"testing"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/jsonrpc"
)

func setLevel(t *testing.T, m *LoggingManager, level string) error {
	t.Helper()
	params, _ := json.Marshal(SetLevelParams{Level: level})
	_, err := m.Execute(context.Background(), METHOD_LOGGING_SET_LEVEL, params)
	return err
}

func TestLoggingSetLevel(t *testing.T) {
	m := NewLoggingManager(newTestBus(t))
	if got := m.Level(); got != LevelInfo {
		t.Fatalf("expected default level info, got %d", got)
	}

	for name, want := range logLevels {
		if err := setLevel(t, m, name); err != nil {
			t.Fatalf("unexpected error for %q: %s", name, err)
		}
		if got := m.Level(); got != want {
			t.Fatalf("expected level %d for %q, got %d", want, name, got)
		}
	}
}

func TestLoggingSetLevelInvalid(t *testing.T) {
	m := NewLoggingManager(newTestBus(t))
	err := setLevel(t, m, "verbose")
	if err == nil {
		t.Fatal("expected an error")
	}
	if want := "Invalid log level: verbose"; err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestLoggingSetLevelMissing(t *testing.T) {
	m := NewLoggingManager(newTestBus(t))
	_, err := m.Execute(context.Background(), METHOD_LOGGING_SET_LEVEL, nil)
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.INVALID_PARAMS {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if want := "missing required parameter: level"; rpcErr.Message != want {
		t.Fatalf("expected %q, got %q", want, rpcErr.Message)
	}
}

func TestLoggingFiltersBySeverity(t *testing.T) {
	b := newTestBus(t)
	m := NewLoggingManager(b)

	var messages []map[string]any
	b.Subscribe(bus.EventMessage, func(payload any) {
		messages = append(messages, payload.(map[string]any))
	})

	if err := setLevel(t, m, "warning"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// error and warning pass the level; info, debug and out-of-range are
	// dropped.
	m.Log(LevelError, "bad", "", nil)
	m.Log(LevelWarning, "warn", "", nil)
	m.Log(LevelInfo, "fyi", "", nil)
	m.Log(LevelDebug, "noise", "", nil)
	m.Log(42, "out of range", "", nil)

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0]["level"] != "error" || messages[0]["message"] != "bad" {
		t.Fatalf("unexpected first message: %v", messages[0])
	}
	if messages[1]["level"] != "warning" {
		t.Fatalf("unexpected second message: %v", messages[1])
	}
}

func TestLoggingMessagePayloadShape(t *testing.T) {
	b := newTestBus(t)
	m := NewLoggingManager(b)

	var payload map[string]any
	b.Subscribe(bus.EventMessage, func(p any) { payload = p.(map[string]any) })

	m.Log(LevelInfo, "hello", "relay.test", map[string]any{"k": "v"})
	if payload["logger"] != "relay.test" {
		t.Fatalf("expected logger field, got %v", payload)
	}
	if _, ok := payload["data"]; !ok {
		t.Fatalf("expected data field, got %v", payload)
	}

	// Optional fields stay absent when unset.
	m.Log(LevelInfo, "bare", "", nil)
	if _, ok := payload["logger"]; ok {
		t.Fatalf("expected no logger field, got %v", payload)
	}
	if _, ok := payload["data"]; ok {
		t.Fatalf("expected no data field, got %v", payload)
	}
}

func TestLoggingEmitProgress(t *testing.T) {
	b := newTestBus(t)
	m := NewLoggingManager(b)

	var events []map[string]any
	b.Subscribe(bus.EventProgress, func(p any) { events = append(events, p.(map[string]any)) })

	total := 10.0
	m.EmitProgress("tok-1", 3, &total)
	m.EmitProgress("", 5, nil) // empty token dropped
	m.EmitProgress("tok-2", 7, nil)

	if len(events) != 2 {
		t.Fatalf("expected 2 progress events, got %d", len(events))
	}
	if events[0]["progressToken"] != "tok-1" || events[0]["total"] != 10.0 {
		t.Fatalf("unexpected first event: %v", events[0])
	}
	if _, ok := events[1]["total"]; ok {
		t.Fatalf("expected no total without one, got %v", events[1])
	}
}
