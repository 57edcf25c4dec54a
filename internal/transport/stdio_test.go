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

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/capability"
	"github.com/relaymcp/relay/internal/log"
	"github.com/relaymcp/relay/internal/processor"
)

// newTestProcessor wires a registry with the core and tools managers over a
// fresh bus.
func newTestProcessor(t *testing.T) (*processor.Processor, *bus.Bus, log.Logger) {
	t.Helper()
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "warn")
	if err != nil {
		t.Fatalf("unable to create logger: %s", err)
	}
	b := bus.New(logger)
	registry := capability.NewRegistry()
	registry.Register(capability.NewCoreManager("0.0.1", b))
	registry.Register(capability.NewToolsManager(b))
	return processor.New(registry, logger), b, logger
}

// runStdio feeds the input through a stdio transport to completion and
// returns the emitted output lines.
func runStdio(t *testing.T, input string) []string {
	t.Helper()
	p, b, logger := newTestProcessor(t)
	var out bytes.Buffer
	tr := NewStdio(p, b, logger, strings.NewReader(input), &out)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var lines []string
	for _, l := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestStdioPing(t *testing.T) {
	lines := runStdio(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 response line, got %d: %v", len(lines), lines)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &res); err != nil {
		t.Fatalf("invalid response json: %s", err)
	}
	if res["id"] != float64(1) {
		t.Fatalf("expected id 1, got %v", res["id"])
	}
	if _, ok := res["result"]; !ok {
		t.Fatalf("expected result in %v", res)
	}
}

func TestStdioBlankLinesIgnored(t *testing.T) {
	lines := runStdio(t, "\n\n"+`{"jsonrpc":"2.0","id":7,"method":"ping"}`+"\n\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 response line, got %d: %v", len(lines), lines)
	}
}

func TestStdioNotificationProducesNoOutput(t *testing.T) {
	lines := runStdio(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	if len(lines) != 0 {
		t.Fatalf("expected no output for a notification, got %v", lines)
	}
}

func TestStdioParseError(t *testing.T) {
	lines := runStdio(t, "{not json}\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 error line, got %d: %v", len(lines), lines)
	}
	var res struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &res); err != nil {
		t.Fatalf("invalid response json: %s", err)
	}
	if res.Error.Code != -32700 {
		t.Fatalf("expected parse error code, got %d", res.Error.Code)
	}
}

func TestStdioMethodNotFound(t *testing.T) {
	lines := runStdio(t, `{"jsonrpc":"2.0","id":2,"method":"no/such"}`+"\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 error line, got %d: %v", len(lines), lines)
	}
	var res struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &res); err != nil {
		t.Fatalf("invalid response json: %s", err)
	}
	if res.Error.Code != -32601 {
		t.Fatalf("expected method-not-found code, got %d", res.Error.Code)
	}
	if want := "Method [no/such] not found"; res.Error.Message != want {
		t.Fatalf("expected %q, got %q", want, res.Error.Message)
	}
}

func TestStdioRejectsRequestsWhileShuttingDown(t *testing.T) {
	p, b, logger := newTestProcessor(t)
	var out bytes.Buffer
	tr := NewStdio(p, b, logger, strings.NewReader(`{"jsonrpc":"2.0","id":3,"method":"ping"}`+"\n"), &out)
	tr.BeginShutdown()
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var res struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("invalid response json: %s", err)
	}
	if res.Error.Code != -32000 {
		t.Fatalf("expected server error code, got %d", res.Error.Code)
	}
	if want := "Server is shutting down"; res.Error.Message != want {
		t.Fatalf("expected %q, got %q", want, res.Error.Message)
	}
}

func TestStdioBroadcastsBusEvents(t *testing.T) {
	p, b, logger := newTestProcessor(t)
	var out bytes.Buffer
	// A blocked reader keeps Start alive while the event is published from
	// the callback registered during Start.
	pr, pw := io.Pipe()
	tr := NewStdio(p, b, logger, pr, &out)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Start(context.Background())
	}()

	// Publish after the subscription exists; pending-queue semantics make
	// an early publish equivalent, so no race either way.
	b.Publish(bus.EventToolsListChanged, map[string]any{})
	_ = pw.Close()
	<-done

	var res struct {
		Jsonrpc string `json:"jsonrpc"`
		Method  string `json:"method"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("invalid notification json: %s", err)
	}
	if res.Method != bus.EventToolsListChanged {
		t.Fatalf("expected %q, got %q", bus.EventToolsListChanged, res.Method)
	}
}
