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

// METHOD_LOGGING_SET_LEVEL is the method claimed by the logging manager.
const METHOD_LOGGING_SET_LEVEL = "logging/setLevel"

// RFC 5424 severity values; lower is more severe.
const (
	LevelEmergency = 0
	LevelAlert     = 1
	LevelCritical  = 2
	LevelError     = 3
	LevelWarning   = 4
	LevelNotice    = 5
	LevelInfo      = 6
	LevelDebug     = 7
)

// logLevels maps the RFC 5424 names accepted by logging/setLevel.
var logLevels = map[string]int{
	"emergency": LevelEmergency,
	"alert":     LevelAlert,
	"critical":  LevelCritical,
	"error":     LevelError,
	"warning":   LevelWarning,
	"notice":    LevelNotice,
	"info":      LevelInfo,
	"debug":     LevelDebug,
}

// levelNames is the inverse of logLevels for payload formatting.
var levelNames = []string{
	"emergency", "alert", "critical", "error", "warning", "notice", "info", "debug",
}

// SetLevelParams are the parameters of logging/setLevel.
type SetLevelParams struct {
	Level string `json:"level"`
}

// LoggingManager holds the client-visible minimum log level and publishes
// notifications/message and notifications/progress events for other
// subsystems.
type LoggingManager struct {
	bus *bus.Bus

	mu    sync.Mutex
	level int
}

// NewLoggingManager returns a LoggingManager at the default level (info).
func NewLoggingManager(b *bus.Bus) *LoggingManager {
	return &LoggingManager{bus: b, level: LevelInfo}
}

func (m *LoggingManager) Name() string { return "logging" }

func (m *LoggingManager) Claims(method string) bool {
	return method == METHOD_LOGGING_SET_LEVEL
}

func (m *LoggingManager) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if method != METHOD_LOGGING_SET_LEVEL {
		return nil, fmt.Errorf("logging manager does not handle %q", method)
	}

	var p SetLevelParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid logging setLevel params: %s", err)}
		}
	}
	if p.Level == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: "missing required parameter: level"}
	}
	level, ok := logLevels[p.Level]
	if !ok {
		return nil, fmt.Errorf("Invalid log level: %s", p.Level)
	}

	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
	return struct{}{}, nil
}

// Level returns the current minimum level.
func (m *LoggingManager) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Log publishes a notifications/message event iff the severity passes the
// current level (lower numeric value is more severe). loggerName and data
// are optional.
func (m *LoggingManager) Log(level int, message, loggerName string, data any) {
	if level < LevelEmergency || level > LevelDebug {
		return
	}
	m.mu.Lock()
	current := m.level
	m.mu.Unlock()
	if level > current {
		return
	}

	params := map[string]any{
		"level":   levelNames[level],
		"message": message,
	}
	if loggerName != "" {
		params["logger"] = loggerName
	}
	if data != nil {
		params["data"] = data
	}
	m.bus.Publish(bus.EventMessage, params)
}

// EmitProgress publishes a notifications/progress event for the token.
// Empty tokens are dropped; the current log level does not apply.
func (m *LoggingManager) EmitProgress(token string, progress float64, total *float64) {
	if token == "" {
		return
	}
	params := map[string]any{
		"progressToken": token,
		"progress":      progress,
	}
	if total != nil {
		params["total"] = *total
	}
	m.bus.Publish(bus.EventProgress, params)
}
