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

// Package bus implements the in-process pub/sub used to route
// server-initiated notifications from capability managers to transports.
package bus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/relaymcp/relay/internal/log"
)

// Standard event types published by the capability managers. The strings are
// the MCP notification method names and travel on the wire bit-exact.
const (
	EventToolsListChanged     = "notifications/tools/list_changed"
	EventResourcesListChanged = "notifications/resources/list_changed"
	EventResourcesUpdated     = "notifications/resources/updated"
	EventPromptsListChanged   = "notifications/prompts/list_changed"
	EventMessage              = "notifications/message"
	EventProgress             = "notifications/progress"
	EventCancelled            = "notifications/cancelled"
)

// Callback receives the payload of a published event.
type Callback func(payload any)

type subscription struct {
	eventType string
	callback  Callback
	key       uintptr
}

type pendingEvent struct {
	eventType string
	payload   any
}

// Bus decouples publishers (capability managers) from subscribers
// (transports). Events published while no subscriber exists for the event
// type are queued and drained, in publish order, to the first matching
// subscriber. Construct one per server with New; tests get a fresh bus per
// case.
type Bus struct {
	mu      sync.Mutex
	subs    []subscription
	pending []pendingEvent
	logger  log.Logger
}

// New returns an empty Bus. The logger is used to report callback panics and
// may not be nil.
func New(l log.Logger) *Bus {
	return &Bus{logger: l}
}

// callbackKey identifies a callback for idempotent subscribe and for
// unsubscribe. Function values are not comparable in Go, so the code pointer
// stands in for identity.
func callbackKey(cb Callback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// Subscribe registers the callback for the event type. Subscribing the same
// (event type, callback) pair twice is a no-op. Pending events matching the
// event type are drained and delivered, in publish order, before Subscribe
// returns; delivery happens with the lock released.
func (b *Bus) Subscribe(eventType string, cb Callback) {
	if cb == nil {
		return
	}
	key := callbackKey(cb)

	b.mu.Lock()
	for _, s := range b.subs {
		if s.eventType == eventType && s.key == key {
			b.mu.Unlock()
			return
		}
	}
	b.subs = append(b.subs, subscription{eventType: eventType, callback: cb, key: key})

	// Drain matching pending events while holding the lock, deliver after.
	var drained []pendingEvent
	remaining := b.pending[:0]
	for _, p := range b.pending {
		if p.eventType == eventType {
			drained = append(drained, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	b.pending = remaining
	b.mu.Unlock()

	for _, p := range drained {
		b.invoke(cb, p.eventType, p.payload)
	}
}

// Unsubscribe removes the callback for the event type. Absent pairs are a
// no-op.
func (b *Bus) Unsubscribe(eventType string, cb Callback) {
	if cb == nil {
		return
	}
	key := callbackKey(cb)

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.eventType == eventType && s.key == key {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every callback registered for the event type.
func (b *Bus) UnsubscribeAll(eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.eventType != eventType {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

// Publish delivers the payload to every callback subscribed to the event
// type. If no subscriber exists the event is queued as pending. Callbacks
// run with the lock released; a panicking callback is logged and never
// propagates to the publisher.
func (b *Bus) Publish(eventType string, payload any) {
	b.mu.Lock()
	var cbs []Callback
	for _, s := range b.subs {
		if s.eventType == eventType {
			cbs = append(cbs, s.callback)
		}
	}
	if len(cbs) == 0 {
		b.pending = append(b.pending, pendingEvent{eventType: eventType, payload: payload})
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		b.invoke(cb, eventType, payload)
	}
}

// invoke runs a callback with panic recovery.
func (b *Bus) invoke(cb Callback, eventType string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Sprintf("event callback panic for %q: %v", eventType, r))
		}
	}()
	cb(payload)
}

// HasSubscribers reports whether at least one callback is registered for the
// event type.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.eventType == eventType {
			return true
		}
	}
	return false
}

// GetSubscriberCount returns the total number of registered callbacks.
func (b *Bus) GetSubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// GetPendingCount returns the number of queued events for the event type.
func (b *Bus) GetPendingCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.pending {
		if p.eventType == eventType {
			n++
		}
	}
	return n
}

// ClearPending drops all queued events for the event type.
func (b *Bus) ClearPending(eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.pending[:0]
	for _, p := range b.pending {
		if p.eventType != eventType {
			kept = append(kept, p)
		}
	}
	b.pending = kept
}

// ClearAllPending drops every queued event.
func (b *Bus) ClearAllPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}
