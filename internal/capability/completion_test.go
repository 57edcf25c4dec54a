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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func complete(t *testing.T, m *CompletionManager, p CompleteParams) (CompleteResult, error) {
	t.Helper()
	params, _ := json.Marshal(p)
	res, err := m.Execute(context.Background(), METHOD_COMPLETION_COMPLETE, params)
	if err != nil {
		return CompleteResult{}, err
	}
	return res.(CompleteResult), nil
}

func TestCompleteWithoutProvider(t *testing.T) {
	m := NewCompletionManager(nil)
	res, err := complete(t, m, CompleteParams{
		Ref:      CompletionRef{Type: REF_PROMPT, Name: "greeting"},
		Argument: CompletionArgument{Name: "name", Value: "A"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff([]string{}, res.Completion.Values); diff != "" {
		t.Fatalf("expected empty values (-want +got):\n%s", diff)
	}
	if res.Completion.HasMore {
		t.Fatal("expected hasMore false")
	}
}

func TestCompleteInvalidRefType(t *testing.T) {
	m := NewCompletionManager(nil)
	_, err := complete(t, m, CompleteParams{
		Ref: CompletionRef{Type: "ref/other"},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCompleteDelegatesToProvider(t *testing.T) {
	var gotRef CompletionRef
	var gotArg CompletionArgument
	m := NewCompletionManager(func(ctx context.Context, ref CompletionRef, arg CompletionArgument, extra map[string]any) ([]string, error) {
		gotRef, gotArg = ref, arg
		return []string{"alpha", "beta"}, nil
	})

	res, err := complete(t, m, CompleteParams{
		Ref:      CompletionRef{Type: REF_RESOURCE, URI: "mem://"},
		Argument: CompletionArgument{Name: "uri", Value: "mem"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if gotRef.URI != "mem://" || gotArg.Name != "uri" {
		t.Fatalf("provider saw ref=%+v arg=%+v", gotRef, gotArg)
	}
	want := CompletionValues{Values: []string{"alpha", "beta"}, Total: 2}
	if diff := cmp.Diff(want, res.Completion); diff != "" {
		t.Fatalf("unexpected completion (-want +got):\n%s", diff)
	}
}

func TestCompleteCapsValues(t *testing.T) {
	values := make([]string, MAX_COMPLETION_VALUES+25)
	for i := range values {
		values[i] = fmt.Sprintf("v%03d", i)
	}
	m := NewCompletionManager(func(ctx context.Context, ref CompletionRef, arg CompletionArgument, extra map[string]any) ([]string, error) {
		return values, nil
	})

	res, err := complete(t, m, CompleteParams{Ref: CompletionRef{Type: REF_PROMPT, Name: "p"}})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := len(res.Completion.Values); got != MAX_COMPLETION_VALUES {
		t.Fatalf("expected %d values, got %d", MAX_COMPLETION_VALUES, got)
	}
	if res.Completion.Total != MAX_COMPLETION_VALUES+25 {
		t.Fatalf("expected total %d, got %d", MAX_COMPLETION_VALUES+25, res.Completion.Total)
	}
	if !res.Completion.HasMore {
		t.Fatal("expected hasMore true")
	}
}

func TestCompleteProviderError(t *testing.T) {
	m := NewCompletionManager(func(ctx context.Context, ref CompletionRef, arg CompletionArgument, extra map[string]any) ([]string, error) {
		return nil, fmt.Errorf("backend down")
	})
	_, err := complete(t, m, CompleteParams{Ref: CompletionRef{Type: REF_PROMPT, Name: "p"}})
	if err == nil {
		t.Fatal("expected an error")
	}
}
