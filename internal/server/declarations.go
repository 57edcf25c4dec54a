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
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	yaml "github.com/goccy/go-yaml"
)

// Declarations are the resources, templates and prompts a relay.yaml file
// declares. The file is optional; the built-ins are always registered.
type Declarations struct {
	Resources []ResourceDecl `yaml:"resources"`
	Templates []TemplateDecl `yaml:"templates"`
	Prompts   []PromptDecl   `yaml:"prompts"`
}

// ResourceDecl declares one resource. Exactly one of text, file or blobFile
// provides the content.
type ResourceDecl struct {
	URI         string `yaml:"uri" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mimeType"`
	Text        string `yaml:"text"`
	File        string `yaml:"file"`
	BlobFile    string `yaml:"blobFile"`
}

// contentKinds counts the declared content sources.
func (d ResourceDecl) contentKinds() int {
	n := 0
	if d.Text != "" {
		n++
	}
	if d.File != "" {
		n++
	}
	if d.BlobFile != "" {
		n++
	}
	return n
}

// TemplateDecl declares one RFC 6570 resource template.
type TemplateDecl struct {
	URITemplate string `yaml:"uriTemplate" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mimeType"`
}

// PromptDecl declares one prompt whose messages are literal text with
// {argument} substitution. Completions optionally declares candidate values
// per argument for completion/complete.
type PromptDecl struct {
	Name        string              `yaml:"name" validate:"required"`
	Description string              `yaml:"description"`
	Arguments   []ArgumentDecl      `yaml:"arguments"`
	Messages    []MessageDecl       `yaml:"messages" validate:"required,min=1"`
	Completions map[string][]string `yaml:"completions"`
}

// ArgumentDecl declares one prompt argument.
type ArgumentDecl struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// MessageDecl declares one prompt message.
type MessageDecl struct {
	Role string `yaml:"role" validate:"required,oneof=user assistant"`
	Text string `yaml:"text" validate:"required"`
}

// ParseDeclarations parses and validates a relay.yaml document.
func ParseDeclarations(raw []byte) (Declarations, error) {
	var decls Declarations
	if len(bytes.TrimSpace(raw)) == 0 {
		return decls, nil
	}
	dec := yaml.NewDecoder(
		bytes.NewReader(raw),
		yaml.Strict(),
		yaml.Validator(validator.New()),
	)
	if err := dec.Decode(&decls); err != nil {
		return Declarations{}, fmt.Errorf("unable to parse declarations: %w", err)
	}
	for _, r := range decls.Resources {
		if r.contentKinds() != 1 {
			return Declarations{}, fmt.Errorf("resource %q must declare exactly one of text, file, or blobFile", r.URI)
		}
	}
	return decls, nil
}
