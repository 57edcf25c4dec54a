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

// Package jsonrpc holds the JSON-RPC 2.0 envelope types and error codes used
// on the MCP wire.
package jsonrpc

import (
	"encoding/json"
)

// JSONRPC_VERSION is the version of JSON-RPC used by MCP.
const JSONRPC_VERSION = "2.0"

// Standard JSON-RPC error codes.
const (
	PARSE_ERROR      = -32700
	INVALID_REQUEST  = -32600
	METHOD_NOT_FOUND = -32601
	INVALID_PARAMS   = -32602
	INTERNAL_ERROR   = -32603
)

// MCP-specific error codes.
const (
	SERVER_ERROR       = -32000
	RESOURCE_NOT_FOUND = -32002
	REQUEST_CANCELLED  = -32800
)

// RequestId is a uniquely identifying ID for a request in JSON-RPC.
// It can be any JSON-serializable value, typically a number or string.
type RequestId interface{}

// BaseMessage is the common shape of an incoming request or notification,
// decoded just far enough to route it.
type BaseMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no id and therefore
// expects no response.
func (m *BaseMessage) IsNotification() bool {
	return m.Id == nil
}

// JSONRPCRequest represents a request that expects a response.
type JSONRPCRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Method  string    `json:"method"`
	Params  any       `json:"params,omitempty"`
}

// JSONRPCNotification represents a notification which does not expect a response.
type JSONRPCNotification struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a successful (non-error) response to a request.
type JSONRPCResponse struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Result  any       `json:"result"`
}

// Error represents the error content of a JSON-RPC error response. It also
// implements the error interface so capability managers can return it
// directly and have the processor preserve the wire code.
type Error struct {
	// The error type that occurred.
	Code int `json:"code"`
	// A short description of the error. The message SHOULD be limited
	// to a concise single sentence.
	Message string `json:"message"`
	// Additional information about the error. The value of this member
	// is defined by the sender.
	Data any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// JSONRPCError represents a non-successful (error) response to a request.
type JSONRPCError struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Error   Error     `json:"error"`
}

// NewError builds an error response envelope.
func NewError(id RequestId, code int, message string, data any) JSONRPCError {
	return JSONRPCError{
		Jsonrpc: JSONRPC_VERSION,
		Id:      id,
		Error: Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NewResponse builds a success response envelope.
func NewResponse(id RequestId, result any) JSONRPCResponse {
	return JSONRPCResponse{
		Jsonrpc: JSONRPC_VERSION,
		Id:      id,
		Result:  result,
	}
}

// NewNotification builds a server-initiated notification envelope.
func NewNotification(method string, params any) JSONRPCNotification {
	return JSONRPCNotification{
		Jsonrpc: JSONRPC_VERSION,
		Method:  method,
		Params:  params,
	}
}
