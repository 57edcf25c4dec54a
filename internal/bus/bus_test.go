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

package bus

import (
	"io"
	"reflect"
	"testing"

	"github.com/relaymcp/relay/internal/log"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "info")
	if err != nil {
		t.Fatalf("unable to initialize logger: %s", err)
	}
	return New(logger)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := testBus(t)

	var got []any
	b.Subscribe(EventToolsListChanged, func(payload any) {
		got = append(got, payload)
	})

	b.Publish(EventToolsListChanged, map[string]any{"n": 1})
	b.Publish(EventToolsListChanged, map[string]any{"n": 2})

	want := []any{map[string]any{"n": 1}, map[string]any{"n": 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected deliveries: got %v, want %v", got, want)
	}
	if n := b.GetPendingCount(EventToolsListChanged); n != 0 {
		t.Fatalf("unexpected pending count: %d", n)
	}
}

func TestPendingDrainOnSubscribe(t *testing.T) {
	b := testBus(t)

	b.Publish(EventResourcesUpdated, "first")
	b.Publish(EventResourcesUpdated, "second")
	b.Publish(EventMessage, "other-type")

	if n := b.GetPendingCount(EventResourcesUpdated); n != 2 {
		t.Fatalf("unexpected pending count before subscribe: %d", n)
	}

	var got []any
	b.Subscribe(EventResourcesUpdated, func(payload any) {
		got = append(got, payload)
	})

	want := []any{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pending events not drained in order: got %v, want %v", got, want)
	}
	if n := b.GetPendingCount(EventResourcesUpdated); n != 0 {
		t.Fatalf("pending not cleared after drain: %d", n)
	}
	if n := b.GetPendingCount(EventMessage); n != 1 {
		t.Fatalf("unrelated pending events dropped: %d", n)
	}

	// A second subscriber must not receive the already drained events.
	var second []any
	b.Subscribe(EventResourcesUpdated, func(payload any) {
		second = append(second, payload)
	})
	if len(second) != 0 {
		t.Fatalf("drained events delivered twice: %v", second)
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	b := testBus(t)

	calls := 0
	cb := func(any) { calls++ }

	b.Subscribe(EventPromptsListChanged, cb)
	b.Subscribe(EventPromptsListChanged, cb)
	if n := b.GetSubscriberCount(); n != 1 {
		t.Fatalf("duplicate subscription registered: %d", n)
	}

	b.Publish(EventPromptsListChanged, nil)
	if calls != 1 {
		t.Fatalf("unexpected call count: %d", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := testBus(t)

	calls := 0
	cb := func(any) { calls++ }

	b.Subscribe(EventToolsListChanged, cb)
	b.Unsubscribe(EventToolsListChanged, cb)

	if b.HasSubscribers(EventToolsListChanged) {
		t.Fatalf("subscriber still registered after unsubscribe")
	}

	// Unsubscribing again is a no-op.
	b.Unsubscribe(EventToolsListChanged, cb)

	b.Publish(EventToolsListChanged, nil)
	if calls != 0 {
		t.Fatalf("unsubscribed callback invoked")
	}
	if n := b.GetPendingCount(EventToolsListChanged); n != 1 {
		t.Fatalf("publish without subscriber should queue: %d", n)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	b := testBus(t)

	b.Subscribe(EventMessage, func(any) {})
	b.Subscribe(EventMessage, func(any) {})
	b.Subscribe(EventProgress, func(any) {})

	b.UnsubscribeAll(EventMessage)

	if b.HasSubscribers(EventMessage) {
		t.Fatalf("message subscribers remain after UnsubscribeAll")
	}
	if !b.HasSubscribers(EventProgress) {
		t.Fatalf("unrelated subscriber removed")
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	b := testBus(t)

	b.Subscribe(EventCancelled, func(any) {
		panic("boom")
	})

	received := false
	b.Subscribe(EventCancelled, func(any) {
		received = true
	})

	b.Publish(EventCancelled, nil)
	if !received {
		t.Fatalf("panicking callback prevented delivery to later subscriber")
	}
}

func TestClearPending(t *testing.T) {
	b := testBus(t)

	b.Publish(EventMessage, 1)
	b.Publish(EventProgress, 2)
	b.ClearPending(EventMessage)

	if n := b.GetPendingCount(EventMessage); n != 0 {
		t.Fatalf("pending not cleared: %d", n)
	}
	if n := b.GetPendingCount(EventProgress); n != 1 {
		t.Fatalf("unrelated pending cleared: %d", n)
	}

	b.ClearAllPending()
	if n := b.GetPendingCount(EventProgress); n != 0 {
		t.Fatalf("pending not cleared by ClearAllPending: %d", n)
	}
}
