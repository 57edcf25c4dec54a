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
	"fmt"
	"sync"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/jsonrpc"
	"github.com/relaymcp/relay/internal/util"
)

// Methods claimed by the tools manager.
const (
	METHOD_TOOLS_LIST = "tools/list"
	METHOD_TOOLS_CALL = "tools/call"
)

// ToolHandler executes a tool invocation. Arguments are passed through
// as decoded by the client; schema validation is the handler's concern.
type ToolHandler func(ctx context.Context, args map[string]any) (*ToolResult, error)

// Tool is a callable unit exposed over tools/list and tools/call.
type Tool struct {
	Name        string
	Description string
	// InputSchema is a JSON-Schema object describing the arguments.
	InputSchema map[string]any
	Handler     ToolHandler
}

// ToolManifest is the wire shape of one tools/list entry.
type ToolManifest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolResult is the tool's own result envelope.
//
// Any errors that originate from the tool are reported inside the result
// object with IsError set, not as a protocol-level error, so the model can
// see the failure and self-correct.
type ToolResult struct {
	Content []any `json:"content"`
	IsError bool  `json:"isError"`
}

// ListToolsResult is the reply to tools/list.
type ListToolsResult struct {
	Tools []ToolManifest `json:"tools"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolsManager maintains the ordered tool registry and executes calls.
type ToolsManager struct {
	bus *bus.Bus

	mu    sync.Mutex
	order []string
	tools map[string]Tool
}

// NewToolsManager returns an empty ToolsManager publishing change events on b.
func NewToolsManager(b *bus.Bus) *ToolsManager {
	return &ToolsManager{
		bus:   b,
		tools: make(map[string]Tool),
	}
}

func (m *ToolsManager) Name() string { return "tools" }

func (m *ToolsManager) Claims(method string) bool {
	return method == METHOD_TOOLS_LIST || method == METHOD_TOOLS_CALL
}

// Register adds the tool. Re-registering an existing name is a silent no-op
// and publishes no event.
func (m *ToolsManager) Register(t Tool) {
	m.mu.Lock()
	if _, exists := m.tools[t.Name]; exists {
		m.mu.Unlock()
		return
	}
	m.tools[t.Name] = t
	m.order = append(m.order, t.Name)
	m.mu.Unlock()

	m.bus.Publish(bus.EventToolsListChanged, map[string]any{})
}

// Unregister removes the tool by name. Unknown names are a no-op.
func (m *ToolsManager) Unregister(name string) {
	m.mu.Lock()
	if _, exists := m.tools[name]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.tools, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.bus.Publish(bus.EventToolsListChanged, map[string]any{})
}

func (m *ToolsManager) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case METHOD_TOOLS_LIST:
		return m.list(), nil
	case METHOD_TOOLS_CALL:
		return m.call(ctx, params)
	}
	return nil, fmt.Errorf("tools manager does not handle %q", method)
}

func (m *ToolsManager) list() ListToolsResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifests := make([]ToolManifest, 0, len(m.order))
	for _, name := range m.order {
		t := m.tools[name]
		manifests = append(manifests, ToolManifest{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return ListToolsResult{Tools: manifests}
}

func (m *ToolsManager) call(ctx context.Context, params json.RawMessage) (any, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid tools call params: %s", err)}
	}

	m.mu.Lock()
	tool, ok := m.tools[p.Name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("Tool not found: %s", p.Name)
	}

	if logger, err := util.LoggerFromContext(ctx); err == nil {
		logger.DebugContext(ctx, fmt.Sprintf("calling tool %q", p.Name))
	}

	result := m.invoke(ctx, tool, p.Arguments)
	return result, nil
}

// invoke runs the handler, translating errors and panics into an isError
// result so the model sees the failure text.
func (m *ToolsManager) invoke(ctx context.Context, tool Tool, args map[string]any) (result *ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &ToolResult{
				Content: []any{NewTextContent(fmt.Sprintf("%v", r))},
				IsError: true,
			}
		}
	}()

	res, err := tool.Handler(ctx, args)
	if err != nil {
		return &ToolResult{
			Content: []any{NewTextContent(err.Error())},
			IsError: true,
		}
	}
	if res == nil {
		return &ToolResult{Content: []any{}}
	}
	if res.Content == nil {
		res.Content = []any{}
	}
	return res
}

// Tools returns the registered tool names in registration order.
func (m *ToolsManager) Tools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}
