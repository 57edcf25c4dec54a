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

package server

import (
	"fmt"
	"strings"
	"time"
)

// ServerConfig holds everything needed to run an instance of Relay.
type ServerConfig struct {
	// Version is the server version reported in serverInfo.
	Version string
	// Transport selects stdio or http.
	Transport TransportKind
	// Address is the address of the interface the server will listen on.
	Address string
	// Port is the port the server will listen on.
	Port int
	// Endpoint is the HTTP path serving MCP.
	Endpoint string
	// CorsEnabled turns on origin checking for the HTTP transport.
	CorsEnabled bool
	// CorsOrigins is the comma-separated origin allow-list; "*" allows any.
	CorsOrigins []string
	// KeepaliveInterval is the SSE keepalive period; 0 disables keepalive.
	KeepaliveInterval time.Duration
	// Declarations are the config-declared resources, templates and prompts.
	Declarations Declarations
	// LoggingFormat defines whether structured loggings are used.
	LoggingFormat logFormat
	// LogLevel defines the levels to log.
	LogLevel StringLevel
	// TelemetryOTLP is the OTLP exporter endpoint; empty leaves telemetry at
	// the no-op default unless TelemetryServiceName forces it on.
	TelemetryOTLP string
	// TelemetryServiceName enables OTel export under the given service name.
	TelemetryServiceName string
}

// TransportKind selects which transport the process runs.
type TransportKind string

const (
	TransportHTTP  TransportKind = "http"
	TransportStdio TransportKind = "stdio"
)

// String is used by both fmt.Print and by Cobra in help text.
func (k *TransportKind) String() string {
	if string(*k) != "" {
		return strings.ToLower(string(*k))
	}
	return string(TransportHTTP)
}

// Set validates the transport flag.
func (k *TransportKind) Set(v string) error {
	switch strings.ToLower(v) {
	case string(TransportHTTP), string(TransportStdio):
		*k = TransportKind(strings.ToLower(v))
		return nil
	default:
		return fmt.Errorf(`transport must be one of "stdio", or "http"`)
	}
}

// Type is used in Cobra help text.
func (k *TransportKind) Type() string {
	return "transportKind"
}

type logFormat string

// String is used by both fmt.Print and by Cobra in help text.
func (f *logFormat) String() string {
	if string(*f) != "" {
		return strings.ToLower(string(*f))
	}
	return "standard"
}

// Set validates the logging format flag.
func (f *logFormat) Set(v string) error {
	switch strings.ToLower(v) {
	case "standard", "json":
		*f = logFormat(v)
		return nil
	default:
		return fmt.Errorf(`log format must be one of "standard", or "json"`)
	}
}

// Type is used in Cobra help text.
func (f *logFormat) Type() string {
	return "logFormat"
}

type StringLevel string

// String is used by both fmt.Print and by Cobra in help text.
func (s *StringLevel) String() string {
	if string(*s) != "" {
		return strings.ToLower(string(*s))
	}
	return "info"
}

// Set validates the log level flag.
func (s *StringLevel) Set(v string) error {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		*s = StringLevel(v)
		return nil
	default:
		return fmt.Errorf(`log level must be one of "debug", "info", "warn", or "error"`)
	}
}

// Type is used in Cobra help text.
func (s *StringLevel) Type() string {
	return "stringLevel"
}
