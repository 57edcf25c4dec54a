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

// Package transport implements the stdio and HTTP Streamable transports that
// carry JSON-RPC frames between clients and the request processor.
package transport

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// SESSION_TIMEOUT is the inactivity age after which a session expires.
	SESSION_TIMEOUT = 30 * time.Minute
	// MAX_SESSIONS bounds the session table.
	MAX_SESSIONS = 10000
	// MAX_SSE_CONNECTIONS bounds the SSE connection table.
	MAX_SSE_CONNECTIONS = 1000
	// DEFAULT_KEEPALIVE_INTERVAL is the default SSE keepalive period.
	DEFAULT_KEEPALIVE_INTERVAL = 30 * time.Second
	// SSE_WRITE_TIMEOUT bounds a single SSE frame write.
	SSE_WRITE_TIMEOUT = 1 * time.Second
	// GRACEFUL_SHUTDOWN_TIMEOUT bounds the in-flight request drain on stop.
	GRACEFUL_SHUTDOWN_TIMEOUT = 5000 * time.Millisecond
	// GRACEFUL_SHUTDOWN_POLL is the drain poll period.
	GRACEFUL_SHUTDOWN_POLL = 50 * time.Millisecond
)

// broadcastEvents are the bus event types a transport forwards to clients as
// server-initiated notifications. The event type doubles as the wire method.
var broadcastEvents = []string{
	"notifications/tools/list_changed",
	"notifications/resources/list_changed",
	"notifications/resources/updated",
	"notifications/prompts/list_changed",
	"notifications/message",
	"notifications/progress",
	"notifications/cancelled",
}

// Base carries the pending-request accounting and shutdown latch shared by
// both transports. The zero value is ready to use.
type Base struct {
	pending      atomic.Int64
	shuttingDown atomic.Bool
}

// BeginRequest records an in-flight request. The caller must pair it with
// EndRequest.
func (b *Base) BeginRequest() {
	b.pending.Add(1)
}

// EndRequest records a finished request.
func (b *Base) EndRequest() {
	b.pending.Add(-1)
}

// PendingRequests returns the number of in-flight requests.
func (b *Base) PendingRequests() int64 {
	return b.pending.Load()
}

// ShuttingDown reports whether shutdown has begun.
func (b *Base) ShuttingDown() bool {
	return b.shuttingDown.Load()
}

// BeginShutdown flips the shutdown latch; new requests are rejected from this
// point on.
func (b *Base) BeginShutdown() {
	b.shuttingDown.Store(true)
}

// DrainPending polls the pending-request count every GRACEFUL_SHUTDOWN_POLL
// until it reaches zero, giving up after GRACEFUL_SHUTDOWN_TIMEOUT.
func (b *Base) DrainPending() error {
	deadline := time.Now().Add(GRACEFUL_SHUTDOWN_TIMEOUT)
	for {
		n := b.PendingRequests()
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("shutdown timed out with %d requests pending", n)
		}
		time.Sleep(GRACEFUL_SHUTDOWN_POLL)
	}
}
