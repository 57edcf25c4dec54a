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

package builtin

import (
	"context"
	"strings"
	"sync"

	"github.com/relaymcp/relay/internal/capability"
)

// CompletionSource feeds the built-in completion provider. Prompt argument
// candidates are declared per (prompt, argument) pair; resource URI
// candidates come from the live resource registry.
type CompletionSource struct {
	resources *capability.ResourcesManager

	mu         sync.Mutex
	candidates map[string]map[string][]string // prompt -> argument -> values
}

// NewCompletionSource returns a source completing resource URIs from m.
func NewCompletionSource(m *capability.ResourcesManager) *CompletionSource {
	return &CompletionSource{
		resources:  m,
		candidates: make(map[string]map[string][]string),
	}
}

// DeclareArgumentValues registers candidate values for one prompt argument.
func (s *CompletionSource) DeclareArgumentValues(prompt, argument string, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byArg, ok := s.candidates[prompt]
	if !ok {
		byArg = make(map[string][]string)
		s.candidates[prompt] = byArg
	}
	byArg[argument] = append([]string{}, values...)
}

// Provider returns the CompletionProvider backed by this source. Candidates
// are filtered by case-insensitive prefix on the argument value.
func (s *CompletionSource) Provider() capability.CompletionProvider {
	return func(ctx context.Context, ref capability.CompletionRef, arg capability.CompletionArgument, extra map[string]any) ([]string, error) {
		var pool []string
		switch ref.Type {
		case capability.REF_PROMPT:
			s.mu.Lock()
			if byArg, ok := s.candidates[ref.Name]; ok {
				pool = append(pool, byArg[arg.Name]...)
			}
			s.mu.Unlock()
		case capability.REF_RESOURCE:
			pool = s.resources.URIs()
		}

		prefix := strings.ToLower(arg.Value)
		var values []string
		for _, v := range pool {
			if prefix == "" || strings.HasPrefix(strings.ToLower(v), prefix) {
				values = append(values, v)
			}
		}
		return values, nil
	}
}
