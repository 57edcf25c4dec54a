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

// Package builtin provides the tools, resources, prompts and the completion
// provider the server ships with.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymcp/relay/internal/capability"
)

// EchoTool returns a tool that echoes its message argument back.
func EchoTool() capability.Tool {
	return capability.Tool{
		Name:        "echo",
		Description: "Echoes back the provided message.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The message to echo back.",
				},
			},
			"required": []any{"message"},
		},
		Handler: func(ctx context.Context, args map[string]any) (*capability.ToolResult, error) {
			msg, _ := args["message"].(string)
			return &capability.ToolResult{
				Content: []any{capability.NewTextContent(fmt.Sprintf("Echo: %s", msg))},
			}, nil
		},
	}
}

// TimeTool returns a tool reporting the current time, RFC 3339 by default or
// in the Go reference layout passed as the format argument.
func TimeTool() capability.Tool {
	return capability.Tool{
		Name:        "time",
		Description: "Returns the current server time.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"format": map[string]any{
					"type":        "string",
					"description": "Optional Go time layout; defaults to RFC 3339.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*capability.ToolResult, error) {
			layout := time.RFC3339
			if f, ok := args["format"].(string); ok && f != "" {
				layout = f
			}
			return &capability.ToolResult{
				Content: []any{capability.NewTextContent(time.Now().Format(layout))},
			}, nil
		},
	}
}

// RegisterTools adds the built-in tools to the manager.
func RegisterTools(m *capability.ToolsManager) {
	m.Register(EchoTool())
	m.Register(TimeTool())
}
