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

// Package capability implements the MCP capability managers and the method
// registry that routes JSON-RPC methods to them.
package capability

import (
	"context"
	"encoding/json"
	"sync"
)

// SERVER_NAME is the server name used in serverInfo.
const SERVER_NAME = "Relay"

// LATEST_PROTOCOL_VERSION is the most recent version of the MCP protocol the
// server speaks.
const LATEST_PROTOCOL_VERSION = "2025-06-18"

// DEFAULT_PROTOCOL_VERSION is assumed when a client sends no
// Mcp-Protocol-Version header.
const DEFAULT_PROTOCOL_VERSION = "2025-03-26"

// SupportedProtocolVersions lists the versions accepted on the wire, newest
// first.
var SupportedProtocolVersions = []string{LATEST_PROTOCOL_VERSION, DEFAULT_PROTOCOL_VERSION}

// SupportedProtocolVersion reports whether v is a protocol version this
// server accepts.
func SupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Manager owns a namespace of JSON-RPC methods (e.g. tools/*). Execute
// returns the result value for the response envelope; a nil result with a
// nil error means the method was a notification and no response is emitted.
type Manager interface {
	// Name returns the capability name, e.g. "tools".
	Name() string
	// Claims reports whether the manager handles the method.
	Claims(method string) bool
	// Execute runs the method with the raw params value.
	Execute(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Registry is the ordered collection of capability managers. Lookup walks
// managers in registration order and the first whose Claims matches wins;
// collisions on a method are not errors.
type Registry struct {
	mu       sync.RWMutex
	managers []Manager
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends the manager. Registering the identical manager instance
// twice is a no-op.
func (r *Registry) Register(m Manager) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.managers {
		if existing == m {
			return
		}
	}
	r.managers = append(r.managers, m)
}

// Lookup returns the first registered manager claiming the method, or nil.
func (r *Registry) Lookup(method string) Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.managers {
		if m.Claims(method) {
			return m
		}
	}
	return nil
}

// Managers returns a snapshot of the registered managers in order.
func (r *Registry) Managers() []Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Manager{}, r.managers...)
}

/* Shared wire types */

// Implementation describes the name and version of an MCP implementation.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListChanged represents whether the server emits list_changed
// notifications for a capability.
type ListChanged struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability advertises resource subscription support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities represents the capabilities this server advertises on
// initialize.
type ServerCapabilities struct {
	Tools       *ListChanged         `json:"tools,omitempty"`
	Resources   *ResourcesCapability `json:"resources,omitempty"`
	Prompts     *ListChanged         `json:"prompts,omitempty"`
	Logging     struct{}             `json:"logging"`
	Completions struct{}             `json:"completions"`
}

// TextContent represents text provided to or from an LLM.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextContent builds a text content item.
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

// ImageContent carries base64-encoded image data.
type ImageContent struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// AudioContent carries base64-encoded audio data.
type AudioContent struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// EmbeddedResource references a resource inside a prompt message.
type EmbeddedResource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ResourceContent embeds a resource reference as message content.
type ResourceContent struct {
	Type     string           `json:"type"`
	Resource EmbeddedResource `json:"resource"`
}

// Role identifies the sender of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is one entry of a prompt conversation. Content holds
// TextContent, ImageContent, AudioContent or ResourceContent values.
type PromptMessage struct {
	Role    Role  `json:"role"`
	Content []any `json:"content"`
}
