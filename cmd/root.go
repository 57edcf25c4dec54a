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

package cmd

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaymcp/relay/internal/log"
	"github.com/relaymcp/relay/internal/server"
	"github.com/relaymcp/relay/internal/telemetry"
	"github.com/relaymcp/relay/internal/transport"
)

var (
	// versionString indicates the version of this library.
	//go:embed version.txt
	versionString string
	// metadataString indicates additional build or distribution metadata.
	metadataString string
)

func init() {
	versionString = semanticVersion()
}

// semanticVersion returns the version of the CLI including a compile-time metadata.
func semanticVersion() string {
	v := strings.TrimSpace(versionString)
	if metadataString != "" {
		v += "+" + metadataString
	}
	return v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := NewCommand().Execute(); err != nil {
		exit := 1
		os.Exit(exit)
	}
}

// Command represents an invocation of the CLI.
type Command struct {
	*cobra.Command

	cfg        server.ServerConfig
	logger     log.Logger
	configFile string
	daemon     bool
	outStream  io.Writer
	errStream  io.Writer
}

// NewCommand returns a Command object representing an invocation of the CLI.
func NewCommand(opts ...Option) *Command {
	cmd := &Command{
		Command: &cobra.Command{
			Use:           "relay",
			Version:       versionString,
			Args:          cobra.MaximumNArgs(1),
			SilenceErrors: true,
		},
		outStream: os.Stdout,
		errStream: os.Stderr,
	}

	for _, o := range opts {
		o(cmd)
	}

	flags := cmd.Flags()
	flags.Var(&cmd.cfg.Transport, "transport", "Transport the server speaks MCP over. Allowed: 'http' or 'stdio'.")
	flags.StringVarP(&cmd.cfg.Address, "address", "a", "127.0.0.1", "Address of the interface the server will listen on.")
	flags.IntVarP(&cmd.cfg.Port, "port", "p", 3000, "Port the server will listen on.")
	flags.StringVar(&cmd.cfg.Endpoint, "endpoint", "/mcp", "HTTP path serving MCP.")
	flags.BoolVar(&cmd.cfg.CorsEnabled, "cors", false, "Enable origin checking for the HTTP transport.")
	flags.StringSliceVar(&cmd.cfg.CorsOrigins, "cors-origin", []string{"*"}, "Allowed origins when --cors is set; '*' allows any.")
	flags.DurationVar(&cmd.cfg.KeepaliveInterval, "keepalive-interval", transport.DEFAULT_KEEPALIVE_INTERVAL, "SSE keepalive period; 0 disables keepalive.")
	flags.StringVar(&cmd.configFile, "config", "", "File path declaring resources and prompts (relay.yaml).")
	flags.BoolVarP(&cmd.daemon, "daemon", "d", false, "Redirect process logs to relay.log.")
	flags.Var(&cmd.cfg.LogLevel, "log-level", "Specify the minimum level logged. Allowed: 'DEBUG', 'INFO', 'WARN', 'ERROR'.")
	flags.Var(&cmd.cfg.LoggingFormat, "logging-format", "Specify logging format to use. Allowed: 'standard' or 'JSON'.")
	flags.StringVar(&cmd.cfg.TelemetryOTLP, "telemetry-otlp", "", "Enable exporting directly to an OTLP endpoint (e.g. 'http://127.0.0.1:4318')")
	flags.StringVar(&cmd.cfg.TelemetryServiceName, "telemetry-service-name", "relay", "Sets the value of the service.name resource attribute")

	// wrap RunE command so that we have access to original Command object
	cmd.RunE = func(_ *cobra.Command, args []string) error { return run(cmd, args) }

	return cmd
}

// logWriters returns the writers for informational and error logs. The stdio
// transport owns stdout, so its logs go to stderr; daemon mode appends both
// streams to relay.log.
func (c *Command) logWriters() (io.Writer, io.Writer, error) {
	if c.daemon {
		f, err := os.OpenFile("relay.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open log file: %w", err)
		}
		return f, f, nil
	}
	if c.cfg.Transport == server.TransportStdio {
		return c.errStream, c.errStream, nil
	}
	return c.outStream, c.errStream, nil
}

func run(cmd *Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cmd.cfg.Version = versionString

	// A bare numeric argument is shorthand for --port.
	if len(args) == 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		cmd.cfg.Port = p
	}

	// Handle logger separately from config
	if cmd.logger == nil {
		outW, errW, err := cmd.logWriters()
		if err != nil {
			return err
		}
		switch strings.ToLower(cmd.cfg.LoggingFormat.String()) {
		case "json":
			logger, err := log.NewStructuredLogger(outW, errW, cmd.cfg.LogLevel.String())
			if err != nil {
				return fmt.Errorf("unable to initialize logger: %w", err)
			}
			cmd.logger = logger
		default:
			logger, err := log.NewStdLogger(outW, errW, cmd.cfg.LogLevel.String())
			if err != nil {
				return fmt.Errorf("unable to initialize logger: %w", err)
			}
			cmd.logger = logger
		}
	}

	// Set up OpenTelemetry
	otelEnabled := cmd.cfg.TelemetryOTLP != ""
	otelShutdown, err := telemetry.SetupOTel(ctx, versionString, cmd.cfg.TelemetryOTLP, otelEnabled, cmd.cfg.TelemetryServiceName)
	if err != nil {
		errMsg := fmt.Errorf("error setting up OpenTelemetry: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			errMsg := fmt.Errorf("error shutting down OpenTelemetry: %w", err)
			cmd.logger.Error(errMsg.Error())
		}
	}()

	// Read declaration file contents, if one was given.
	if cmd.configFile != "" {
		buf, err := os.ReadFile(cmd.configFile)
		if err != nil {
			errMsg := fmt.Errorf("unable to read config at %q: %w", cmd.configFile, err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
		cmd.cfg.Declarations, err = server.ParseDeclarations(buf)
		if err != nil {
			errMsg := fmt.Errorf("unable to parse config at %q: %w", cmd.configFile, err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
	}

	// run server
	s, err := server.NewServer(ctx, cmd.cfg, cmd.logger)
	if err != nil {
		errMsg := fmt.Errorf("relay failed to start with the following error: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvErr := make(chan error, 1)
	if cmd.cfg.Transport == server.TransportStdio {
		go func() { srvErr <- s.ServeStdio(signalCtx) }()
	} else {
		if err := s.Listen(signalCtx); err != nil {
			errMsg := fmt.Errorf("relay failed to start listener: %w", err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
		go func() { srvErr <- s.Serve(signalCtx) }()
	}

	select {
	case <-signalCtx.Done():
		stop()
		cmd.logger.InfoContext(ctx, "shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			errMsg := fmt.Errorf("relay crashed with the following error: %w", err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
	}

	if err := s.Shutdown(ctx); err != nil {
		errMsg := fmt.Errorf("error during shutdown: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	}
	return nil
}
