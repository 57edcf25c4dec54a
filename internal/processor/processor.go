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

// Package processor glues the transports to the capability registry: it
// parses the JSON-RPC envelope, dispatches to the claiming manager and
// formats the reply.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaymcp/relay/internal/capability"
	"github.com/relaymcp/relay/internal/jsonrpc"
	"github.com/relaymcp/relay/internal/log"
	"github.com/relaymcp/relay/internal/util"
)

// Processor routes raw JSON-RPC frames to capability managers.
type Processor struct {
	registry *capability.Registry
	logger   log.Logger
}

// New returns a Processor over the given registry.
func New(registry *capability.Registry, logger log.Logger) *Processor {
	return &Processor{registry: registry, logger: logger}
}

// Process handles one raw JSON-RPC message. The returned value is the
// response envelope to write back, or nil when the message was a
// notification and no response is emitted. A non-nil error is for transport
// logging; whenever possible it is accompanied by a valid error envelope so
// the connection survives.
func (p *Processor) Process(ctx context.Context, body []byte) (any, error) {
	ctx = util.WithLogger(ctx, p.logger)

	var msg jsonrpc.BaseMessage
	if err := util.DecodeJSON(bytes.NewBuffer(body), &msg); err != nil {
		// A JSON array is a batch request, which this server does not speak.
		var batch []any
		if json.Unmarshal(body, &batch) == nil {
			err = fmt.Errorf("not supporting batch requests")
			return jsonrpc.NewError(nil, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
		}
		return jsonrpc.NewError(nil, jsonrpc.PARSE_ERROR, err.Error(), nil), err
	}

	if msg.Method == "" {
		err := fmt.Errorf("method not found")
		return jsonrpc.NewError(msg.Id, jsonrpc.METHOD_NOT_FOUND, err.Error(), nil), err
	}
	if msg.Jsonrpc != jsonrpc.JSONRPC_VERSION {
		err := fmt.Errorf("invalid json-rpc version")
		return jsonrpc.NewError(msg.Id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	p.logger.DebugContext(ctx, fmt.Sprintf("processing method %q", msg.Method))

	mgr := p.registry.Lookup(msg.Method)
	if mgr == nil {
		err := fmt.Errorf("Method [%s] not found", msg.Method)
		if msg.IsNotification() {
			// Notifications never produce a reply, even on error.
			return nil, err
		}
		return jsonrpc.NewError(msg.Id, jsonrpc.METHOD_NOT_FOUND, err.Error(), nil), err
	}

	result, err := mgr.Execute(ctx, msg.Method, msg.Params)
	if msg.IsNotification() {
		return nil, err
	}
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return jsonrpc.NewError(msg.Id, rpcErr.Code, rpcErr.Message, rpcErr.Data), err
		}
		return jsonrpc.NewError(msg.Id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
	}
	if result == nil {
		return nil, nil
	}
	return jsonrpc.NewResponse(msg.Id, result), nil
}

// Method extracts the method name from a raw message without fully decoding
// it. Transports use this for the session gate before dispatch.
func Method(body []byte) string {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Method
}
