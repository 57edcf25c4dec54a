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

package builtin

import (
	"context"
	"os"

	"github.com/relaymcp/relay/internal/capability"
)

// StaticTextResource returns a resource serving a fixed string.
func StaticTextResource(uri, name, description, mimeType, text string) capability.Resource {
	return capability.Resource{
		URI:         uri,
		Name:        name,
		Description: description,
		MimeType:    mimeType,
		Text: func(ctx context.Context) (string, error) {
			return text, nil
		},
	}
}

// FileTextResource returns a resource reading the file as UTF-8 text on
// every read, so watchers and clients always see the current content.
func FileTextResource(uri, name, description, mimeType, path string) capability.Resource {
	return capability.Resource{
		URI:         uri,
		Name:        name,
		Description: description,
		MimeType:    mimeType,
		Text: func(ctx context.Context) (string, error) {
			b, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}
}

// FileBlobResource returns a resource reading the file as binary content;
// the manager base64-encodes it on the wire.
func FileBlobResource(uri, name, description, mimeType, path string) capability.Resource {
	return capability.Resource{
		URI:         uri,
		Name:        name,
		Description: description,
		MimeType:    mimeType,
		Blob: func(ctx context.Context) ([]byte, error) {
			return os.ReadFile(path)
		},
	}
}
