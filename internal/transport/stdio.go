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

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/jsonrpc"
	"github.com/relaymcp/relay/internal/log"
	"github.com/relaymcp/relay/internal/processor"
	"github.com/relaymcp/relay/internal/util"
)

// Stdio is the newline-delimited JSON-RPC transport over standard streams.
// The output stream carries only JSON-RPC frames; all logging goes to the
// error stream, which the caller arranges by constructing the logger with
// both writers pointed at stderr.
type Stdio struct {
	Base

	processor *processor.Processor
	bus       *bus.Bus
	logger    log.Logger
	reader    *bufio.Reader
	writer    io.Writer

	writeMu sync.Mutex
	subs    map[string]bus.Callback
}

// NewStdio returns a Stdio transport reading frames from in and writing
// frames to out.
func NewStdio(p *processor.Processor, b *bus.Bus, l log.Logger, in io.Reader, out io.Writer) *Stdio {
	return &Stdio{
		processor: p,
		bus:       b,
		logger:    l,
		reader:    bufio.NewReader(in),
		writer:    out,
		subs:      make(map[string]bus.Callback),
	}
}

// Start subscribes to the broadcast events and runs the read loop until
// end-of-stream or context cancellation. Server-initiated notifications
// interleave with responses on the single output stream.
func (t *Stdio) Start(ctx context.Context) error {
	ctx = util.WithLogger(ctx, t.logger)
	for _, event := range broadcastEvents {
		cb := t.notifyCallback(event)
		t.subs[event] = cb
		t.bus.Subscribe(event, cb)
	}
	defer func() {
		for event, cb := range t.subs {
			t.bus.Unsubscribe(event, cb)
		}
	}()
	return t.readInputStream(ctx)
}

// Stop begins shutdown and waits for the in-flight request, if any, to
// drain.
func (t *Stdio) Stop(ctx context.Context) error {
	t.BeginShutdown()
	return t.DrainPending()
}

// readInputStream dispatches one JSON-RPC message per non-blank line.
func (t *Stdio) readInputStream(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := t.readLine(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		body := []byte(line)

		if t.ShuttingDown() {
			if res := rejectShuttingDown(body); res != nil {
				if err := t.write(res); err != nil {
					return err
				}
			}
			continue
		}

		t.BeginRequest()
		res, err := t.processor.Process(ctx, body)
		t.EndRequest()
		if err != nil {
			// Processing errors produce a valid JSON-RPC error response;
			// the transport keeps running.
			t.logger.ErrorContext(ctx, err.Error())
		}
		if res != nil {
			if err := t.write(res); err != nil {
				return err
			}
		}
	}
}

// readLine reads the next line, honoring context cancellation while the
// underlying read blocks.
func (t *Stdio) readLine(ctx context.Context) (string, error) {
	readChan := make(chan string, 1)
	errChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			select {
			case errChan <- err:
			case <-done:
			}
			return
		}
		select {
		case readChan <- line:
		case <-done:
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errChan:
		return "", err
	case line := <-readChan:
		return line, nil
	}
}

// write serialises one frame followed by a newline and flushes. A mutex
// keeps bus callbacks from interleaving bytes with response writes.
func (t *Stdio) write(response any) error {
	res, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("unable to marshal response: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := fmt.Fprintf(t.writer, "%s\n", res); err != nil {
		return err
	}
	if f, ok := t.writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// notifyCallback forwards a bus event to the output stream as a JSON-RPC
// notification.
func (t *Stdio) notifyCallback(event string) bus.Callback {
	return func(payload any) {
		envelope := jsonrpc.NewNotification(event, payload)
		if err := t.write(envelope); err != nil {
			t.logger.Error(fmt.Sprintf("unable to write %s notification: %s", event, err))
		}
	}
}

// rejectShuttingDown builds the -32000 rejection for a request received
// during shutdown. Notifications and unparseable frames are dropped.
func rejectShuttingDown(body []byte) any {
	var msg jsonrpc.BaseMessage
	if err := util.DecodeJSON(bytes.NewBuffer(body), &msg); err != nil {
		return nil
	}
	if msg.IsNotification() {
		return nil
	}
	return jsonrpc.NewError(msg.Id, jsonrpc.SERVER_ERROR, "Server is shutting down", nil)
}
