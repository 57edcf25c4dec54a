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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/jsonrpc"
)

// Methods claimed by the resources manager.
const (
	METHOD_RESOURCES_LIST           = "resources/list"
	METHOD_RESOURCES_READ           = "resources/read"
	METHOD_RESOURCES_TEMPLATES_LIST = "resources/templates/list"
	METHOD_RESOURCES_SUBSCRIBE      = "resources/subscribe"
	METHOD_RESOURCES_UNSUBSCRIBE    = "resources/unsubscribe"
)

// DEFAULT_PAGE_LIMIT is the resources/list page size when the client sends
// none or a non-positive value.
const DEFAULT_PAGE_LIMIT = 100

// Resource is a readable unit identified by URI. Exactly one of Text or
// Blob is set; blob content travels base64-encoded.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Text        func(ctx context.Context) (string, error)
	Blob        func(ctx context.Context) ([]byte, error)
}

// ResourceTemplate is an RFC 6570 URI pattern advertised so clients can
// construct concrete resource URIs. The server never expands templates.
type ResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string
}

// ResourceManifest is the wire shape of one resources/list entry.
type ResourceManifest struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// TemplateManifest is the wire shape of one resources/templates/list entry.
type TemplateManifest struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is one entry of a resources/read reply.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ListResourcesParams are the pagination parameters of resources/list.
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListResourcesResult is the reply to resources/list.
type ListResourcesResult struct {
	Resources  []ResourceManifest `json:"resources"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// ListTemplatesResult is the reply to resources/templates/list.
type ListTemplatesResult struct {
	ResourceTemplates []TemplateManifest `json:"resourceTemplates"`
}

// ReadResourceParams identify the resource for resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the reply to resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SubscribeParams identify the resource for subscribe/unsubscribe.
type SubscribeParams struct {
	URI string `json:"uri"`
}

// ResourcesManager maintains the resource and template registries and the
// reference-counted subscription table.
type ResourcesManager struct {
	bus *bus.Bus

	mu            sync.Mutex
	order         []string
	resources     map[string]Resource
	templateOrder []string
	templates     map[string]ResourceTemplate
	subscriptions map[string]int // URI -> refcount, entries removed at zero
}

// NewResourcesManager returns an empty ResourcesManager publishing change
// events on b.
func NewResourcesManager(b *bus.Bus) *ResourcesManager {
	return &ResourcesManager{
		bus:           b,
		resources:     make(map[string]Resource),
		templates:     make(map[string]ResourceTemplate),
		subscriptions: make(map[string]int),
	}
}

func (m *ResourcesManager) Name() string { return "resources" }

func (m *ResourcesManager) Claims(method string) bool {
	switch method {
	case METHOD_RESOURCES_LIST, METHOD_RESOURCES_READ, METHOD_RESOURCES_TEMPLATES_LIST,
		METHOD_RESOURCES_SUBSCRIBE, METHOD_RESOURCES_UNSUBSCRIBE:
		return true
	}
	return false
}

// Register adds the resource. Re-registering an existing URI is a silent
// no-op and publishes no event.
func (m *ResourcesManager) Register(r Resource) {
	m.mu.Lock()
	if _, exists := m.resources[r.URI]; exists {
		m.mu.Unlock()
		return
	}
	m.resources[r.URI] = r
	m.order = append(m.order, r.URI)
	m.mu.Unlock()

	m.bus.Publish(bus.EventResourcesListChanged, map[string]any{})
}

// Unregister removes the resource by URI. Unknown URIs are a no-op.
func (m *ResourcesManager) Unregister(uri string) {
	m.mu.Lock()
	if _, exists := m.resources[uri]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.resources, uri)
	for i, u := range m.order {
		if u == uri {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.bus.Publish(bus.EventResourcesListChanged, map[string]any{})
}

// RegisterTemplate adds the template; duplicates by uriTemplate are a
// silent no-op.
func (m *ResourcesManager) RegisterTemplate(t ResourceTemplate) {
	m.mu.Lock()
	if _, exists := m.templates[t.URITemplate]; exists {
		m.mu.Unlock()
		return
	}
	m.templates[t.URITemplate] = t
	m.templateOrder = append(m.templateOrder, t.URITemplate)
	m.mu.Unlock()

	m.bus.Publish(bus.EventResourcesListChanged, map[string]any{})
}

// UnregisterTemplate removes the template by uriTemplate string.
func (m *ResourcesManager) UnregisterTemplate(uriTemplate string) {
	m.mu.Lock()
	if _, exists := m.templates[uriTemplate]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.templates, uriTemplate)
	for i, u := range m.templateOrder {
		if u == uriTemplate {
			m.templateOrder = append(m.templateOrder[:i], m.templateOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.bus.Publish(bus.EventResourcesListChanged, map[string]any{})
}

func (m *ResourcesManager) Execute(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case METHOD_RESOURCES_LIST:
		return m.list(params)
	case METHOD_RESOURCES_READ:
		return m.read(ctx, params)
	case METHOD_RESOURCES_TEMPLATES_LIST:
		return m.listTemplates(), nil
	case METHOD_RESOURCES_SUBSCRIBE:
		return m.subscribe(params)
	case METHOD_RESOURCES_UNSUBSCRIBE:
		return m.unsubscribe(params)
	}
	return nil, fmt.Errorf("resources manager does not handle %q", method)
}

// list pages through the registration-order resource array. The cursor is
// an opaque decimal index; invalid cursors clamp to the valid range.
// Pagination is stable only while the registry is unchanged.
func (m *ResourcesManager) list(params json.RawMessage) (any, error) {
	var p ListResourcesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid resources list params: %s", err)}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.order)
	start := 0
	if p.Cursor != "" {
		if n, err := strconv.Atoi(p.Cursor); err == nil {
			start = n
		}
	}
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DEFAULT_PAGE_LIMIT
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]ResourceManifest, 0, end-start)
	for _, uri := range m.order[start:end] {
		r := m.resources[uri]
		page = append(page, ResourceManifest{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}

	result := ListResourcesResult{Resources: page}
	if start+limit < total {
		result.NextCursor = strconv.Itoa(start + limit)
	}
	return result, nil
}

func (m *ResourcesManager) read(ctx context.Context, params json.RawMessage) (any, error) {
	var p ReadResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid resources read params: %s", err)}
	}

	m.mu.Lock()
	r, ok := m.resources[p.URI]
	m.mu.Unlock()
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.RESOURCE_NOT_FOUND, Message: fmt.Sprintf("Resource not found: %s", p.URI)}
	}

	contents := ResourceContents{URI: r.URI, MimeType: r.MimeType}
	switch {
	case r.Blob != nil:
		data, err := r.Blob(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to read resource %q: %w", r.URI, err)
		}
		contents.Blob = base64.StdEncoding.EncodeToString(data)
	case r.Text != nil:
		text, err := r.Text(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to read resource %q: %w", r.URI, err)
		}
		contents.Text = text
	}
	return ReadResourceResult{Contents: []ResourceContents{contents}}, nil
}

func (m *ResourcesManager) listTemplates() ListTemplatesResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifests := make([]TemplateManifest, 0, len(m.templateOrder))
	for _, uriTemplate := range m.templateOrder {
		t := m.templates[uriTemplate]
		manifests = append(manifests, TemplateManifest{
			URITemplate: t.URITemplate,
			Name:        t.Name,
			Description: t.Description,
			MimeType:    t.MimeType,
		})
	}
	return ListTemplatesResult{ResourceTemplates: manifests}
}

// subscribe increments the reference count for the URI. The URI must refer
// to a currently registered resource.
func (m *ResourcesManager) subscribe(params json.RawMessage) (any, error) {
	var p SubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid resources subscribe params: %s", err)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[p.URI]; !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.RESOURCE_NOT_FOUND, Message: fmt.Sprintf("Resource not found: %s", p.URI)}
	}
	m.subscriptions[p.URI]++
	return struct{}{}, nil
}

// unsubscribe decrements the reference count; at zero the entry is removed.
// Unknown URIs are a silent success.
func (m *ResourcesManager) unsubscribe(params json.RawMessage) (any, error) {
	var p SubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.INVALID_PARAMS, Message: fmt.Sprintf("invalid resources unsubscribe params: %s", err)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if count, ok := m.subscriptions[p.URI]; ok {
		if count <= 1 {
			delete(m.subscriptions, p.URI)
		} else {
			m.subscriptions[p.URI] = count - 1
		}
	}
	return struct{}{}, nil
}

// NotifyUpdated publishes notifications/resources/updated for the URI iff
// at least one subscription is active. Resource implementations and the
// file watcher call this on content change.
func (m *ResourcesManager) NotifyUpdated(uri string) {
	m.mu.Lock()
	_, subscribed := m.subscriptions[uri]
	m.mu.Unlock()
	if !subscribed {
		return
	}
	m.bus.Publish(bus.EventResourcesUpdated, map[string]any{"uri": uri})
}

// URIs returns the registered resource URIs in registration order. The
// completion provider uses this to complete resource references.
func (m *ResourcesManager) URIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}

// Subscribed reports whether the URI currently has active subscriptions.
func (m *ResourcesManager) Subscribed(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[uri] > 0
}
