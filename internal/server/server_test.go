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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaymcp/relay/internal/log"
)

func testConfig() ServerConfig {
	return ServerConfig{
		Version:  "0.0.1",
		Address:  "127.0.0.1",
		Port:     3000,
		Endpoint: "/mcp",
		Declarations: Declarations{
			Resources: []ResourceDecl{{
				URI:      "mem://motd",
				Name:     "motd",
				MimeType: "text/plain",
				Text:     "Hello from Relay.",
			}},
			Prompts: []PromptDecl{{
				Name:     "greeting",
				Messages: []MessageDecl{{Role: "user", Text: "Hello, {name}!"}},
				Arguments: []ArgumentDecl{
					{Name: "name", Required: true},
				},
			}},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "warn")
	if err != nil {
		t.Fatalf("unable to create logger: %s", err)
	}
	s, err := NewServer(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("unable to create server: %s", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func post(t *testing.T, s *Server, body string, sessionId string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionId != "" {
		req.Header.Set("Mcp-Session-Id", sessionId)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func resultOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var res struct {
		Result map[string]any `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid reply %q: %s", w.Body.String(), err)
	}
	if res.Error != nil {
		t.Fatalf("unexpected error reply: %+v", res.Error)
	}
	return res.Result
}

// The full request lifecycle: initialize, handshake, then every capability
// through the mounted HTTP surface.
func TestServerRequestLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := post(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t","version":"1"}}}`, "")
	init := resultOf(t, w)
	sessionId, _ := init["sessionId"].(string)
	if len(sessionId) != 32 {
		t.Fatalf("expected session id, got %q", sessionId)
	}

	if w := post(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, sessionId); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	// Built-in and declared registrations are visible.
	tools := resultOf(t, post(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, sessionId))["tools"].([]any)
	names := map[string]bool{}
	for _, tl := range tools {
		names[tl.(map[string]any)["name"].(string)] = true
	}
	if !names["echo"] || !names["time"] {
		t.Fatalf("expected built-in tools, got %v", names)
	}

	call := resultOf(t, post(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`, sessionId))
	content := call["content"].([]any)[0].(map[string]any)
	if content["text"] != "Echo: hi" {
		t.Fatalf("unexpected echo result: %v", content)
	}

	read := resultOf(t, post(t, s, `{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"mem://motd"}}`, sessionId))
	contents := read["contents"].([]any)[0].(map[string]any)
	if contents["text"] != "Hello from Relay." {
		t.Fatalf("unexpected resource contents: %v", contents)
	}

	prompt := resultOf(t, post(t, s, `{"jsonrpc":"2.0","id":5,"method":"prompts/get","params":{"name":"greeting","arguments":{"name":"Ada"}}}`, sessionId))
	messages := prompt["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %v", messages)
	}

	complete := resultOf(t, post(t, s, `{"jsonrpc":"2.0","id":6,"method":"completion/complete","params":{"ref":{"type":"ref/resource"},"argument":{"name":"uri","value":"mem"}}}`, sessionId))
	values := complete["completion"].(map[string]any)["values"].([]any)
	if len(values) != 1 || values[0] != "mem://motd" {
		t.Fatalf("unexpected completion values: %v", values)
	}

	if w := post(t, s, `{"jsonrpc":"2.0","id":7,"method":"logging/setLevel","params":{"level":"debug"}}`, sessionId); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for setLevel, got %d", w.Code)
	}
}

func TestServerUnknownPathIs404JSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected json body, got %q", w.Body.String())
	}
}

func TestServerStdioConfiguration(t *testing.T) {
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "warn")
	if err != nil {
		t.Fatalf("unable to create logger: %s", err)
	}
	cfg := testConfig()
	cfg.Transport = TransportStdio
	s, err := NewServer(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("unable to create server: %s", err)
	}
	defer func() { _ = s.Shutdown(context.Background()) }()
	if s.stdioTransport == nil {
		t.Fatal("expected stdio transport to be configured")
	}
	if s.srv != nil {
		t.Fatal("expected no http server in stdio mode")
	}
	if err := s.Listen(context.Background()); err == nil {
		t.Fatal("expected Listen to fail in stdio mode")
	}
}

func TestServerInvalidLoggingFormat(t *testing.T) {
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "warn")
	if err != nil {
		t.Fatalf("unable to create logger: %s", err)
	}
	cfg := testConfig()
	cfg.LoggingFormat = logFormat("xml")
	if _, err := NewServer(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected an error for invalid logging format")
	}
}
