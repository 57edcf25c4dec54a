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

// Package server assembles the capability managers, the request processor
// and the transports into a runnable MCP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"

	"github.com/relaymcp/relay/internal/builtin"
	"github.com/relaymcp/relay/internal/bus"
	"github.com/relaymcp/relay/internal/capability"
	"github.com/relaymcp/relay/internal/log"
	"github.com/relaymcp/relay/internal/processor"
	"github.com/relaymcp/relay/internal/telemetry"
	"github.com/relaymcp/relay/internal/transport"
)

// Server contains everything for running an instance of Relay. Should be
// instantiated with NewServer().
type Server struct {
	version  string
	srv      *http.Server
	listener net.Listener
	root     chi.Router
	logger   log.Logger

	bus       *bus.Bus
	registry  *capability.Registry
	processor *processor.Processor

	core      *capability.CoreManager
	tools     *capability.ToolsManager
	resources *capability.ResourcesManager
	prompts   *capability.PromptsManager
	logging   *capability.LoggingManager

	httpTransport  *transport.HTTP
	stdioTransport *transport.Stdio
	watcher        *builtin.FileWatcher
}

// NewServer returns a Server object based on the provided Config.
func NewServer(ctx context.Context, cfg ServerConfig, l log.Logger) (*Server, error) {
	b := bus.New(l)

	core := capability.NewCoreManager(cfg.Version, b)
	tools := capability.NewToolsManager(b)
	resources := capability.NewResourcesManager(b)
	prompts := capability.NewPromptsManager(b)
	logging := capability.NewLoggingManager(b)

	source := builtin.NewCompletionSource(resources)
	completion := capability.NewCompletionManager(source.Provider())

	registry := capability.NewRegistry()
	registry.Register(core)
	registry.Register(tools)
	registry.Register(resources)
	registry.Register(prompts)
	registry.Register(logging)
	registry.Register(completion)

	s := &Server{
		version:   cfg.Version,
		logger:    l,
		bus:       b,
		registry:  registry,
		processor: processor.New(registry, l),
		core:      core,
		tools:     tools,
		resources: resources,
		prompts:   prompts,
		logging:   logging,
	}

	builtin.RegisterTools(tools)
	if err := s.applyDeclarations(cfg.Declarations, source); err != nil {
		return nil, err
	}
	l.InfoContext(ctx, fmt.Sprintf("Initialized %d tools, %d resources, %d prompts.",
		len(tools.Tools()), len(resources.URIs()), len(prompts.Prompts())))

	inst, err := telemetry.CreateTelemetryInstrumentation(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("unable to create instrumentation: %w", err)
	}

	switch cfg.Transport {
	case TransportStdio:
		s.stdioTransport = transport.NewStdio(s.processor, b, l, os.Stdin, os.Stdout)
	default:
		s.httpTransport = transport.NewHTTP(transport.HTTPOptions{
			Endpoint:          cfg.Endpoint,
			CorsEnabled:       cfg.CorsEnabled,
			CorsOrigins:       cfg.CorsOrigins,
			KeepaliveInterval: cfg.KeepaliveInterval,
		}, cfg.Version, s.processor, b, l, inst)

		// set up http serving
		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		httpOpts, err := httplogOptions(cfg)
		if err != nil {
			return nil, err
		}
		httpLogger := httplog.NewLogger("httplog", httpOpts)
		r.Use(httplog.RequestLogger(httpLogger))

		r.Mount(s.httpTransport.Endpoint(), s.httpTransport.Routes())
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "not found"})
		})

		addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
		s.srv = &http.Server{Addr: addr, Handler: r}
		s.root = r
	}

	return s, nil
}

// httplogOptions maps the logging config onto httplog's request logger.
func httplogOptions(cfg ServerConfig) (httplog.Options, error) {
	logLevel, err := log.SeverityToLevel(cfg.LogLevel.String())
	if err != nil {
		return httplog.Options{}, fmt.Errorf("unable to initialize http log: %w", err)
	}
	switch cfg.LoggingFormat.String() {
	case "json":
		return httplog.Options{
			JSON:             true,
			LogLevel:         logLevel,
			Concise:          true,
			RequestHeaders:   true,
			MessageFieldName: "message",
			TimeFieldName:    "timestamp",
			LevelFieldName:   "severity",
		}, nil
	case "standard":
		return httplog.Options{
			LogLevel:         logLevel,
			Concise:          true,
			RequestHeaders:   true,
			MessageFieldName: "message",
		}, nil
	default:
		return httplog.Options{}, fmt.Errorf("invalid logging format: %q", cfg.LoggingFormat.String())
	}
}

// applyDeclarations registers the config-declared resources, templates and
// prompts, wiring file-backed resources to the update watcher and declared
// completions to the completion source.
func (s *Server) applyDeclarations(decls Declarations, source *builtin.CompletionSource) error {
	for _, d := range decls.Resources {
		switch {
		case d.Text != "":
			s.resources.Register(builtin.StaticTextResource(d.URI, d.Name, d.Description, d.MimeType, d.Text))
		case d.File != "":
			s.resources.Register(builtin.FileTextResource(d.URI, d.Name, d.Description, d.MimeType, d.File))
			if err := s.watchFile(d.File, d.URI); err != nil {
				return err
			}
		case d.BlobFile != "":
			s.resources.Register(builtin.FileBlobResource(d.URI, d.Name, d.Description, d.MimeType, d.BlobFile))
			if err := s.watchFile(d.BlobFile, d.URI); err != nil {
				return err
			}
		}
	}
	for _, d := range decls.Templates {
		s.resources.RegisterTemplate(capability.ResourceTemplate{
			URITemplate: d.URITemplate,
			Name:        d.Name,
			Description: d.Description,
			MimeType:    d.MimeType,
		})
	}
	for _, d := range decls.Prompts {
		args := make([]capability.PromptArgument, 0, len(d.Arguments))
		for _, a := range d.Arguments {
			args = append(args, capability.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		messages := make([]builtin.TemplateMessage, 0, len(d.Messages))
		for _, m := range d.Messages {
			messages = append(messages, builtin.TemplateMessage{
				Role: capability.Role(m.Role),
				Text: m.Text,
			})
		}
		s.prompts.Register(builtin.TemplatePrompt(d.Name, d.Description, args, messages))
		for arg, values := range d.Completions {
			source.DeclareArgumentValues(d.Name, arg, values)
		}
	}
	return nil
}

// watchFile lazily creates the file watcher and adds the path.
func (s *Server) watchFile(path, uri string) error {
	if s.watcher == nil {
		w, err := builtin.NewFileWatcher(s.resources, s.logger)
		if err != nil {
			return err
		}
		s.watcher = w
	}
	return s.watcher.Watch(path, uri)
}

// Listen starts a listener for the given Server instance.
func (s *Server) Listen(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server is not configured for http")
	}
	if s.listener != nil {
		return fmt.Errorf("server is already listening: %s", s.listener.Addr().String())
	}
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	var err error
	if s.listener, err = lc.Listen(ctx, "tcp", s.srv.Addr); err != nil {
		return fmt.Errorf("failed to open listener for %q: %w", s.srv.Addr, err)
	}
	s.logger.DebugContext(ctx, fmt.Sprintf("server listening on %s", s.srv.Addr))
	return nil
}

// Serve starts the HTTP server for the given Server instance. It blocks
// until Shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.httpTransport.Start(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, fmt.Sprintf("Relay %s serving MCP over http at %s%s", s.version, s.srv.Addr, s.httpTransport.Endpoint()))
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeStdio runs the stdio transport until end-of-stream or context
// cancellation.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.InfoContext(ctx, fmt.Sprintf("Relay %s serving MCP over stdio", s.version))
	return s.stdioTransport.Start(ctx)
}

// Shutdown gracefully stops the transports, draining in-flight requests
// before closing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.DebugContext(ctx, "shutting down the server.")

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	switch {
	case s.httpTransport != nil:
		errs = append(errs, s.httpTransport.Stop(ctx))
		errs = append(errs, s.srv.Shutdown(ctx))
	case s.stdioTransport != nil:
		errs = append(errs, s.stdioTransport.Stop(ctx))
	}
	return errors.Join(errs...)
}

// Registry exposes the capability registry, e.g. for embedding programs
// registering their own tools.
func (s *Server) Registry() *capability.Registry {
	return s.registry
}

// Tools exposes the tools manager.
func (s *Server) Tools() *capability.ToolsManager { return s.tools }

// Resources exposes the resources manager.
func (s *Server) Resources() *capability.ResourcesManager { return s.resources }

// Prompts exposes the prompts manager.
func (s *Server) Prompts() *capability.PromptsManager { return s.prompts }

// Logging exposes the logging manager.
func (s *Server) Logging() *capability.LoggingManager { return s.logging }

// Handler returns the HTTP handler for tests.
func (s *Server) Handler() http.Handler { return s.root }
