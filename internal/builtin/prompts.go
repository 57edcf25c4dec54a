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
	"fmt"
	"strings"

	"github.com/relaymcp/relay/internal/capability"
)

// TemplateMessage is one declared message of a template prompt. Text may
// reference arguments as {name}; occurrences are replaced on prompts/get.
type TemplateMessage struct {
	Role capability.Role
	Text string
}

// TemplatePrompt builds a prompt whose messages are literal text with
// {argument} substitution. Required arguments missing from the call fail the
// build.
func TemplatePrompt(name, description string, args []capability.PromptArgument, messages []TemplateMessage) capability.Prompt {
	return capability.Prompt{
		Name:        name,
		Description: description,
		Arguments:   args,
		Build: func(ctx context.Context, callArgs map[string]any) ([]capability.PromptMessage, error) {
			for _, a := range args {
				if !a.Required {
					continue
				}
				if v, ok := callArgs[a.Name].(string); !ok || v == "" {
					return nil, fmt.Errorf("missing required argument: %s", a.Name)
				}
			}
			out := make([]capability.PromptMessage, 0, len(messages))
			for _, m := range messages {
				text := m.Text
				for argName, v := range callArgs {
					s, ok := v.(string)
					if !ok {
						s = fmt.Sprintf("%v", v)
					}
					text = strings.ReplaceAll(text, "{"+argName+"}", s)
				}
				out = append(out, capability.PromptMessage{
					Role:    m.Role,
					Content: []any{capability.NewTextContent(text)},
				})
			}
			return out, nil
		},
	}
}
