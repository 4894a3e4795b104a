package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ctagard/sdb-dap/internal/config"
	"github.com/ctagard/sdb-dap/internal/dap"
	"github.com/ctagard/sdb-dap/internal/logging"
	"github.com/ctagard/sdb-dap/internal/mcp"
	"github.com/ctagard/sdb-dap/internal/sdb"
)

// shutdownGrace bounds how long a stdio server may take to notice shutdown
const shutdownGrace = 2 * time.Second

// CLI represents the command-line interface structure
type CLI struct {
	Version  kong.VersionFlag `help:"Show version information"`
	Config   string           `help:"Path to a JSON or YAML configuration file" type:"path" env:"SDB_DAP_CONFIG"`
	LogLevel string           `help:"Log level (debug, info, warn, error); overrides the configuration"`
	LogFile  string           `help:"Write logs to this file instead of stderr" type:"path"`

	Stdio  StdioCmd  `cmd:"" help:"Serve one DAP session on stdin/stdout (default)" default:"1"`
	Listen ListenCmd `cmd:"" help:"Accept DAP clients over TCP, one session per connection"`
	MCP    MCPCmd    `cmd:"mcp" help:"Serve the sdb_* MCP tools on stdin/stdout"`
}

// runtimeEnv is what every command needs: configuration, a logger and a
// session manager
type runtimeEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *sdb.Manager
	closer  io.Closer
}

func (e *runtimeEnv) Close() {
	e.manager.Close()
	_ = e.closer.Close()
}

func (c *CLI) setup() (*runtimeEnv, error) {
	cfg, err := config.LoadConfig(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFile != "" {
		cfg.Log.File = c.LogFile
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	manager := sdb.NewManager(sdb.OptionsFromConfig(cfg, logger), cfg.MaxSessions, cfg.SessionTimeout.Std())
	return &runtimeEnv{cfg: cfg, logger: logger, manager: manager, closer: closer}, nil
}

// serveUntilDone runs serve and returns once it does, or shortly after ctx
// ends when a blocked stdin read keeps it from returning
func serveUntilDone(ctx context.Context, serve func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-errCh:
		return err
	case <-time.After(shutdownGrace):
		return nil
	}
}

// StdioCmd serves one DAP session over the process's standard streams
type StdioCmd struct{}

// Run executes the stdio adapter
func (s *StdioCmd) Run(ctx context.Context, cli *CLI) error {
	env, err := cli.setup()
	if err != nil {
		return err
	}
	defer env.Close()

	env.logger.Info("DAP adapter starting", "transport", "stdio")
	server := dap.NewServer(env.manager, dap.SessionOptionsFromConfig(env.cfg), env.logger)
	return serveUntilDone(ctx, func() error {
		return server.ServeStdio(ctx, os.Stdin, os.Stdout)
	})
}

// ListenCmd accepts DAP clients on a TCP address
type ListenCmd struct {
	Addr string `help:"Address to listen on" default:":4711"`
}

// Run executes the TCP adapter
func (l *ListenCmd) Run(ctx context.Context, cli *CLI) error {
	env, err := cli.setup()
	if err != nil {
		return err
	}
	defer env.Close()

	server := dap.NewServer(env.manager, dap.SessionOptionsFromConfig(env.cfg), env.logger)
	return server.ListenAndServe(ctx, l.Addr)
}

// MCPCmd serves the MCP tool API over stdio
type MCPCmd struct{}

// Run executes the MCP server
func (m *MCPCmd) Run(ctx context.Context, cli *CLI) error {
	env, err := cli.setup()
	if err != nil {
		return err
	}
	defer env.Close()

	env.logger.Info("MCP server starting")
	server := mcp.NewServer(env.cfg, env.manager, env.logger)
	return serveUntilDone(ctx, func() error {
		return server.ServeStdio(ctx, os.Stdin, os.Stdout)
	})
}
