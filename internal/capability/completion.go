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

	"github.com/relaymcp/relay/internal/jsonrpc"
)

// METHOD_COMPLETION_COMPLETE is the method claimed by the completion manager.
const METHOD_COMPLETION_COMPLETE = "completion/complete"

// MAX_COMPLETION_VALUES caps the values returned by completion/complete.
const MAX_COMPLETION_VALUES = 100

// Completion reference types.
const (
	REF_PROMPT   = "ref/prompt"
	REF_RESOURCE = "ref/resource"
)

// CompletionRef identifies what is being completed: a prompt argument
// (ref/prompt, by name) or a resource URI (ref/resource, by uri).
type CompletionRef struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// CompletionArgument is the argument under completion.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompleteParams are the parameters of completion/complete.
type CompleteParams struct {
	Ref      CompletionRef      `json:"ref"`
	Argument CompletionArgument `json:"argument"`
	Context  map[string]any     `json:"context,omitempty"`
}

// CompleteResult is the reply to completion/complete.
type CompleteResult struct {
	Completion CompletionValues `json:"completion"`
}

// CompletionValues carries the candidate values, capped at
// MAX_COMPLETION_VALUES, with HasMore set when the provider produced more.
type CompletionValues struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// CompletionProvider produces candidate values for a completion request.
// Providers return the full candidate list; the manager applies the cap.
type CompletionProvider func(ctx context.Context, ref CompletionRef, arg CompletionArgument, extra map[string]any) ([]string, error)

// CompletionManager dispatches completion/complete to a pluggable provider.
// Without a provider every request completes to an empty value list.
type CompletionManager struct {
	provider CompletionProvider
}

// NewCompletionManager returns a CompletionManager using the given provider,
// which may be nil.
func NewCompletionManager(provider CompletionProvider) *CompletionManager {
	return &CompletionManager{provider: provider}
}

func (m *CompletionManager) Name() string { return "completion" }

func (m *CompletionManager) Claims(method string) bool {
	return method == METHOD_COMPLETION_COMPLETE
}

func (m *CompletionManager) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if method != METHOD_COMPLETION_COMPLETE {
		return nil, fmt.Errorf("completion manager does not handle %q", method)
	}

	var p CompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid completion params: %s", err)}
	}
	if p.Ref.Type != REF_PROMPT && p.Ref.Type != REF_RESOURCE {
		return nil, fmt.Errorf("invalid completion reference type: %s", p.Ref.Type)
	}

	if m.provider == nil {
		return CompleteResult{Completion: CompletionValues{Values: []string{}}}, nil
	}

	values, err := m.provider(ctx, p.Ref, p.Argument, p.Context)
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}

	total := len(values)
	hasMore := false
	if total > MAX_COMPLETION_VALUES {
		values = values[:MAX_COMPLETION_VALUES]
		hasMore = true
	}
	if values == nil {
		values = []string{}
	}
	return CompleteResult{Completion: CompletionValues{
		Values:  values,
		Total:   total,
		HasMore: hasMore,
	}}, nil
}
