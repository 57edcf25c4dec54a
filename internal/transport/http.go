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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/capability"
	"github.com/relaymcp/relay/internal/jsonrpc"
	"github.com/relaymcp/relay/internal/log"
	"github.com/relaymcp/relay/internal/processor"
	"github.com/relaymcp/relay/internal/telemetry"
	"github.com/relaymcp/relay/internal/util"
)

// MCP header names.
const (
	HeaderSessionId       = "Mcp-Session-Id"
	HeaderProtocolVersion = "Mcp-Protocol-Version"
)

// HTTPOptions configures the HTTP Streamable transport.
type HTTPOptions struct {
	// Endpoint is the path clients talk to, e.g. "/mcp".
	Endpoint string
	// CorsEnabled turns on origin checking and CORS response headers.
	CorsEnabled bool
	// CorsOrigins is the allow-list; "*" allows any origin.
	CorsOrigins []string
	// KeepaliveInterval is the SSE keepalive period; 0 disables keepalive.
	KeepaliveInterval time.Duration
}

// HTTP is the Streamable transport: POST carries JSON-RPC, GET upgrades to
// an SSE stream, DELETE terminates a session. It owns the session and SSE
// connection tables and forwards bus events to every live stream.
type HTTP struct {
	Base

	opts            HTTPOptions
	version         string
	processor       *processor.Processor
	bus             *bus.Bus
	logger          log.Logger
	instrumentation *telemetry.Instrumentation

	sessions *sessionTable
	conns    *connTable

	subs map[string]bus.Callback

	keepaliveStop chan struct{}
	stopOnce      sync.Once
}

// NewHTTP returns an HTTP transport. An empty endpoint falls back to "/mcp";
// a zero keepalive interval disables keepalive.
func NewHTTP(opts HTTPOptions, version string, p *processor.Processor, b *bus.Bus, l log.Logger, inst *telemetry.Instrumentation) *HTTP {
	if opts.Endpoint == "" {
		opts.Endpoint = "/mcp"
	}
	return &HTTP{
		opts:            opts,
		version:         version,
		processor:       p,
		bus:             b,
		logger:          l,
		instrumentation: inst,
		sessions:        newSessionTable(),
		conns:           newConnTable(),
		subs:            make(map[string]bus.Callback),
		keepaliveStop:   make(chan struct{}),
	}
}

// Endpoint returns the configured endpoint path.
func (t *HTTP) Endpoint() string {
	return t.opts.Endpoint
}

// Routes builds the router for the MCP endpoint; the server mounts it at
// Endpoint().
func (t *HTTP) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Options("/", t.handleOptions)
	r.Get("/", t.handleGet)
	r.Post("/", t.handlePost)
	r.Delete("/", t.handleDelete)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, map[string]string{"error": "method not allowed"})
	})
	return r
}

// Start subscribes to the broadcast events and launches the keepalive loop.
func (t *HTTP) Start(ctx context.Context) error {
	for _, event := range broadcastEvents {
		cb := t.notifyCallback(event)
		t.subs[event] = cb
		t.bus.Subscribe(event, cb)
	}
	if t.opts.KeepaliveInterval > 0 {
		go t.keepaliveLoop()
	}
	t.logger.DebugContext(ctx, fmt.Sprintf("http transport serving MCP at %s", t.opts.Endpoint))
	return nil
}

// Stop performs the graceful shutdown sequence: latch, best-effort shutdown
// notification, pending-request drain, then teardown of keepalive, streams
// and sessions. The drain error, if any, is returned after teardown.
func (t *HTTP) Stop(ctx context.Context) error {
	t.BeginShutdown()
	t.stopOnce.Do(func() { close(t.keepaliveStop) })

	t.broadcast("notifications/shutdown", map[string]any{"reason": "server_shutdown"})
	drainErr := t.DrainPending()

	for _, c := range t.conns.drainAll() {
		c.close()
	}
	t.sessions.dropAll()
	for event, cb := range t.subs {
		t.bus.Unsubscribe(event, cb)
	}
	return drainErr
}

/* Handlers */

func (t *HTTP) handleOptions(w http.ResponseWriter, r *http.Request) {
	if !t.applyCors(w, r) {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version")
	h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id, Mcp-Protocol-Version")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

func (t *HTTP) handleGet(w http.ResponseWriter, r *http.Request) {
	if !t.applyCors(w, r) || !t.checkProtocolVersion(w, r) {
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		t.serveSSE(w, r)
		return
	}
	// Backwards-compat probe body for plain GETs.
	render.JSON(w, r, map[string]any{
		"name":             capability.SERVER_NAME,
		"version":          t.version,
		"protocolVersions": capability.SupportedProtocolVersions,
		"endpoint":         t.opts.Endpoint,
	})
}

func (t *HTTP) handlePost(w http.ResponseWriter, r *http.Request) {
	if !t.applyCors(w, r) || !t.checkProtocolVersion(w, r) {
		return
	}
	ctx, span := t.instrumentation.Tracer.Start(r.Context(), "relay/transport/http/post")
	defer span.End()
	ctx = util.WithLogger(ctx, t.logger)

	if t.ShuttingDown() {
		t.writeRPC(w, r, "", jsonrpc.NewError(nil, jsonrpc.SERVER_ERROR, "Server is shutting down", nil))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.writeRPC(w, r, "", jsonrpc.NewError(nil, jsonrpc.PARSE_ERROR, fmt.Sprintf("unable to read request body: %s", err), nil))
		return
	}
	method := processor.Method(body)
	sessionId := r.Header.Get(HeaderSessionId)
	span.SetAttributes(attribute.String("relay.mcp.method", method))

	// Session gate: everything except the handshake methods needs a live
	// session.
	if method != capability.METHOD_INITIALIZE && method != capability.NOTIF_INITIALIZED {
		if sessionId == "" {
			t.writeRPC(w, r, "", jsonrpc.NewError(nil, jsonrpc.INVALID_REQUEST, "Mcp-Session-Id header required", nil))
			return
		}
		ok, expired := t.sessions.touch(sessionId)
		if !ok {
			if expired {
				t.dropConnsForSession(sessionId)
				t.logger.DebugContext(ctx, fmt.Sprintf("reaped expired session %s", sessionId))
			}
			t.writeRPC(w, r, "", jsonrpc.NewError(nil, jsonrpc.INVALID_REQUEST, "Invalid or expired session ID", nil))
			return
		}
	}

	if method == capability.NOTIF_INITIALIZED {
		t.sessions.markInitialized(sessionId)
		t.writeRPC(w, r, sessionId, nil)
		return
	}

	t.BeginRequest()
	res, err := t.processor.Process(ctx, body)
	t.EndRequest()

	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		t.logger.ErrorContext(ctx, err.Error())
	}
	t.instrumentation.McpPost.Add(ctx, 1,
		metric.WithAttributes(attribute.String("relay.mcp.method", method)),
		metric.WithAttributes(attribute.String("relay.operation.status", status)),
	)

	if method == capability.METHOD_INITIALIZE {
		if id, ok := t.createSessionFromResult(ctx, res); ok {
			sessionId = id
		} else if res != nil {
			res = jsonrpc.NewError(responseId(res), jsonrpc.SERVER_ERROR, "Unable to create session: session limit reached", nil)
		}
	}

	t.writeRPC(w, r, sessionId, res)
}

func (t *HTTP) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !t.applyCors(w, r) || !t.checkProtocolVersion(w, r) {
		return
	}
	sessionId := r.Header.Get(HeaderSessionId)
	if sessionId == "" {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Mcp-Session-Id header required"})
		return
	}
	if !t.sessions.remove(sessionId) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "session not found"})
		return
	}
	t.dropConnsForSession(sessionId)
	t.logger.DebugContext(r.Context(), fmt.Sprintf("terminated session %s", sessionId))
	w.WriteHeader(http.StatusNoContent)
}

// serveSSE registers a long-lived stream and blocks until the client
// disconnects or the transport drops the connection.
func (t *HTTP) serveSSE(w http.ResponseWriter, r *http.Request) {
	ctx, span := t.instrumentation.Tracer.Start(r.Context(), "relay/transport/http/sse")
	defer span.End()

	flusher, ok := w.(http.Flusher)
	if !ok {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "streaming unsupported"})
		return
	}

	connId := uuid.New().String()
	sessionId := r.Header.Get(HeaderSessionId)
	if t.conns.count() >= MAX_SSE_CONNECTIONS {
		err := fmt.Errorf("sse connection limit of %d reached", MAX_SSE_CONNECTIONS)
		t.logger.ErrorContext(ctx, fmt.Sprintf("rejecting sse connection: %s", err))
		span.SetStatus(codes.Error, err.Error())
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if sessionId != "" {
		h.Set(HeaderSessionId, sessionId)
	}
	w.WriteHeader(http.StatusOK)

	conn := newSseConn(connId, sessionId, w, flusher)
	if err := conn.writeComment("sse accepted"); err != nil {
		conn.close()
		return
	}
	// Registered only after the response is committed: broadcasts and
	// keepalives must never write before the SSE headers are out.
	if err := t.conns.add(conn); err != nil {
		t.logger.ErrorContext(ctx, fmt.Sprintf("dropping sse connection: %s", err))
		span.SetStatus(codes.Error, err.Error())
		conn.close()
		return
	}
	span.SetAttributes(attribute.String("relay.sse.connection_id", connId))
	t.instrumentation.McpSse.Add(ctx, 1,
		metric.WithAttributes(attribute.String("relay.sse.session_id", sessionId)),
	)
	t.logger.DebugContext(ctx, fmt.Sprintf("sse connection %s established (session %q)", connId, sessionId))

	select {
	case <-r.Context().Done():
	case <-conn.done:
	}
	t.conns.remove(connId)
	conn.close()
	t.logger.DebugContext(ctx, fmt.Sprintf("sse connection %s closed", connId))
}

/* Plumbing */

// applyCors enforces the origin allow-list when CORS is enabled. A
// disallowed origin gets a 403 and false is returned.
func (t *HTTP) applyCors(w http.ResponseWriter, r *http.Request) bool {
	if !t.opts.CorsEnabled {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range t.opts.CorsOrigins {
		if allowed == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			return true
		}
		if strings.EqualFold(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			return true
		}
	}
	render.Status(r, http.StatusForbidden)
	render.JSON(w, r, map[string]string{"error": fmt.Sprintf("origin %q not allowed", origin)})
	return false
}

// checkProtocolVersion rejects unsupported Mcp-Protocol-Version values with
// a JSON-RPC error inside a 200 response. An absent header passes and is
// treated as the default version.
func (t *HTTP) checkProtocolVersion(w http.ResponseWriter, r *http.Request) bool {
	v := r.Header.Get(HeaderProtocolVersion)
	if v == "" || capability.SupportedProtocolVersion(v) {
		return true
	}
	msg := fmt.Sprintf("Unsupported protocol version: %s. Supported versions: %s",
		v, strings.Join(capability.SupportedProtocolVersions, ", "))
	t.writeRPC(w, r, "", jsonrpc.NewError(nil, jsonrpc.SERVER_ERROR, msg, nil))
	return false
}

// writeRPC writes a JSON-RPC payload back to a POST. A nil payload becomes
// HTTP 204. When the client accepts SSE the payload is framed as a single
// event, otherwise it travels as plain JSON.
func (t *HTTP) writeRPC(w http.ResponseWriter, r *http.Request, sessionId string, payload any) {
	if sessionId != "" {
		w.Header().Set(HeaderSessionId, sessionId)
	}
	if payload == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		body, err := json.Marshal(payload)
		if err != nil {
			t.logger.ErrorContext(r.Context(), fmt.Sprintf("unable to marshal response: %s", err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "data: %s\n\n", body)
		return
	}
	render.JSON(w, r, payload)
}

// createSessionFromResult records the session announced by an initialize
// result. It reports false when the session table is full.
func (t *HTTP) createSessionFromResult(ctx context.Context, res any) (string, bool) {
	resp, ok := res.(jsonrpc.JSONRPCResponse)
	if !ok {
		// Initialize failed; there is no session to create.
		return "", true
	}
	init, ok := resp.Result.(capability.InitializeResult)
	if !ok {
		return "", true
	}
	reaped, err := t.sessions.create(init.SessionId, init.ProtocolVersion)
	for _, id := range reaped {
		t.dropConnsForSession(id)
	}
	if err != nil {
		t.logger.ErrorContext(ctx, fmt.Sprintf("unable to create session: %s", err))
		return "", false
	}
	t.logger.DebugContext(ctx, fmt.Sprintf("created session %s (protocol %s)", init.SessionId, init.ProtocolVersion))
	return init.SessionId, true
}

// dropConnsForSession closes every SSE stream bound to the session.
func (t *HTTP) dropConnsForSession(sessionId string) {
	for _, c := range t.conns.removeForSession(sessionId) {
		c.close()
	}
}

// notifyCallback forwards one bus event type to every live SSE stream.
func (t *HTTP) notifyCallback(event string) bus.Callback {
	return func(payload any) {
		t.broadcast(event, payload)
	}
}

// broadcast fans a notification envelope out to every live stream. Failing
// connections are dropped.
func (t *HTTP) broadcast(method string, payload any) {
	envelope := jsonrpc.NewNotification(method, payload)
	body, err := json.Marshal(envelope)
	if err != nil {
		t.logger.Error(fmt.Sprintf("unable to marshal %s notification: %s", method, err))
		return
	}
	conns := t.conns.snapshot()
	for _, c := range conns {
		if err := c.writeData(body); err != nil {
			t.logger.Debug(fmt.Sprintf("dropping sse connection %s: %s", c.id, err))
			t.conns.remove(c.id)
			c.close()
		}
	}
	if len(conns) > 0 {
		t.instrumentation.McpNotification.Add(context.Background(), int64(len(conns)),
			metric.WithAttributes(attribute.String("relay.mcp.method", method)),
		)
	}
}

// keepaliveLoop sends the keepalive comment to idle streams every interval.
func (t *HTTP) keepaliveLoop() {
	ticker := time.NewTicker(t.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.keepaliveStop:
			return
		case <-ticker.C:
			if t.ShuttingDown() {
				continue
			}
			for _, c := range t.conns.snapshot() {
				if c.sinceLastSent() < t.opts.KeepaliveInterval {
					continue
				}
				if err := c.writeComment("keepalive"); err != nil {
					t.logger.Debug(fmt.Sprintf("dropping sse connection %s: %s", c.id, err))
					t.conns.remove(c.id)
					c.close()
				}
			}
		}
	}
}

// responseId extracts the request id from a response envelope for error
// rewriting.
func responseId(res any) jsonrpc.RequestId {
	switch v := res.(type) {
	case jsonrpc.JSONRPCResponse:
		return v.Id
	case jsonrpc.JSONRPCError:
		return v.Id
	}
	return nil
}
