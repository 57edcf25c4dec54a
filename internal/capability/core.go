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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/jsonrpc"
)

// Methods claimed by the core manager.
const (
	METHOD_INITIALIZE = "initialize"
	METHOD_PING       = "ping"
	NOTIF_INITIALIZED = "notifications/initialized"
	NOTIF_CANCELLED   = "notifications/cancelled"
)

// InitializeParams are the client-supplied initialize parameters.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the reply to an initialize request. SessionId is the
// transport-opaque identity the client must echo in Mcp-Session-Id.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	SessionId       string             `json:"sessionId"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// CancelledParams is the payload of a notifications/cancelled notification.
type CancelledParams struct {
	RequestId jsonrpc.RequestId `json:"requestId"`
	Reason    string            `json:"reason,omitempty"`
}

// CoreManager handles the protocol lifecycle methods: initialize, ping,
// notifications/initialized and notifications/cancelled. It also owns the
// cancelled-request set that in-flight handlers may poll.
type CoreManager struct {
	version string
	bus     *bus.Bus

	mu        sync.Mutex
	cancelled map[string]string // request id (stringified) -> reason
}

// NewCoreManager returns a CoreManager advertising the given server version.
func NewCoreManager(version string, b *bus.Bus) *CoreManager {
	return &CoreManager{
		version:   version,
		bus:       b,
		cancelled: make(map[string]string),
	}
}

func (m *CoreManager) Name() string { return "core" }

func (m *CoreManager) Claims(method string) bool {
	switch method {
	case METHOD_INITIALIZE, METHOD_PING, NOTIF_INITIALIZED, NOTIF_CANCELLED:
		return true
	}
	return false
}

func (m *CoreManager) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case METHOD_INITIALIZE:
		return m.initialize(params)
	case METHOD_PING:
		return struct{}{}, nil
	case NOTIF_INITIALIZED:
		// Session bookkeeping is transport-side; nothing to do here.
		return nil, nil
	case NOTIF_CANCELLED:
		return nil, m.cancelledNotification(params)
	}
	return nil, fmt.Errorf("core manager does not handle %q", method)
}

func (m *CoreManager) initialize(params json.RawMessage) (any, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid initialize params: %s", err)}
		}
	}

	// Echo a supported requested version, otherwise answer with the latest.
	version := LATEST_PROTOCOL_VERSION
	if SupportedProtocolVersion(p.ProtocolVersion) {
		version = p.ProtocolVersion
	}

	result := InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:     &ListChanged{ListChanged: true},
			Resources: &ResourcesCapability{Subscribe: true, ListChanged: true},
			Prompts:   &ListChanged{ListChanged: true},
		},
		SessionId: NewSessionId(),
		ServerInfo: Implementation{
			Name:    SERVER_NAME,
			Version: m.version,
		},
	}
	return result, nil
}

// NewSessionId returns a 128-bit random session identity as 32 hex chars.
func NewSessionId() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (m *CoreManager) cancelledNotification(params json.RawMessage) error {
	var p CancelledParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("invalid cancelled params: %w", err)
		}
	}
	if p.RequestId == nil {
		return nil
	}

	m.mu.Lock()
	m.cancelled[requestIdKey(p.RequestId)] = p.Reason
	m.mu.Unlock()

	// Republish for local observers (e.g. long-running tool handlers).
	m.bus.Publish(bus.EventCancelled, map[string]any{
		"requestId": p.RequestId,
		"reason":    p.Reason,
	})
	return nil
}

// requestIdKey normalizes string and numeric request ids to one map key.
func requestIdKey(id jsonrpc.RequestId) string {
	return fmt.Sprintf("%v", id)
}

// IsCancelled reports whether a cancellation was recorded for the request
// id. The entry survives until ClearCancelled so in-flight handlers can
// observe it after the notification arrived.
func (m *CoreManager) IsCancelled(id jsonrpc.RequestId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelled[requestIdKey(id)]
	return ok
}

// CancelReason returns the recorded reason for a cancelled request.
func (m *CoreManager) CancelReason(id jsonrpc.RequestId) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.cancelled[requestIdKey(id)]
	return reason, ok
}

// ClearCancelled removes the request id from the cancelled set.
func (m *CoreManager) ClearCancelled(id jsonrpc.RequestId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancelled, requestIdKey(id))
}
