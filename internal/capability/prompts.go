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
)

// Methods claimed by the prompts manager.
const (
	METHOD_PROMPTS_LIST = "prompts/list"
	METHOD_PROMPTS_GET  = "prompts/get"
)

// PromptArgument declares one argument a prompt accepts, in declaration
// order.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// PromptBuilder produces the message sequence for a prompts/get call. The
// argument object is free-form JSON; extraction is the builder's concern.
type PromptBuilder func(ctx context.Context, args map[string]any) ([]PromptMessage, error)

// Prompt is a named prompt template.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument
	Build       PromptBuilder
}

// PromptManifest is the wire shape of one prompts/list entry.
type PromptManifest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ListPromptsResult is the reply to prompts/list.
type ListPromptsResult struct {
	Prompts []PromptManifest `json:"prompts"`
}

// GetPromptParams are the parameters of prompts/get.
type GetPromptParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// GetPromptResult is the reply to prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptsManager maintains the ordered prompt registry.
type PromptsManager struct {
	bus *bus.Bus

	mu      sync.Mutex
	order   []string
	prompts map[string]Prompt
}

// NewPromptsManager returns an empty PromptsManager publishing change events
// on b.
func NewPromptsManager(b *bus.Bus) *PromptsManager {
	return &PromptsManager{
		bus:     b,
		prompts: make(map[string]Prompt),
	}
}

func (m *PromptsManager) Name() string { return "prompts" }

func (m *PromptsManager) Claims(method string) bool {
	return method == METHOD_PROMPTS_LIST || method == METHOD_PROMPTS_GET
}

// Register adds the prompt. Re-registering an existing name is a silent
// no-op and publishes no event.
func (m *PromptsManager) Register(p Prompt) {
	m.mu.Lock()
	if _, exists := m.prompts[p.Name]; exists {
		m.mu.Unlock()
		return
	}
	m.prompts[p.Name] = p
	m.order = append(m.order, p.Name)
	m.mu.Unlock()

	m.bus.Publish(bus.EventPromptsListChanged, map[string]any{})
}

// Unregister removes the prompt by name. Unknown names are a no-op.
func (m *PromptsManager) Unregister(name string) {
	m.mu.Lock()
	if _, exists := m.prompts[name]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.prompts, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.bus.Publish(bus.EventPromptsListChanged, map[string]any{})
}

func (m *PromptsManager) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case METHOD_PROMPTS_LIST:
		return m.list(), nil
	case METHOD_PROMPTS_GET:
		return m.get(ctx, params)
	}
	return nil, fmt.Errorf("prompts manager does not handle %q", method)
}

func (m *PromptsManager) list() ListPromptsResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifests := make([]PromptManifest, 0, len(m.order))
	for _, name := range m.order {
		p := m.prompts[name]
		manifests = append(manifests, PromptManifest{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   p.Arguments,
		})
	}
	return ListPromptsResult{Prompts: manifests}
}

func (m *PromptsManager) get(ctx context.Context, params json.RawMessage) (any, error) {
	var p GetPromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid prompts get params: %s", err)}
	}

	m.mu.Lock()
	prompt, ok := m.prompts[p.Name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("Prompt not found: %s", p.Name)
	}

	messages, err := prompt.Build(ctx, p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("unable to build prompt %q: %w", p.Name, err)
	}
	return GetPromptResult{Description: prompt.Description, Messages: messages}, nil
}

// Prompts returns the registered prompt definitions in registration order.
// The completion provider uses this to complete argument values.
func (m *PromptsManager) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Prompt, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.prompts[name])
	}
	return out
}
