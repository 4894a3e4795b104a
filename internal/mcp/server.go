// Package mcp provides the Model Context Protocol (MCP) front end of the bridge.
//
// It exposes the same runtimes the DAP front end drives as MCP tools, so an
// MCP client can debug an SDB target without a DAP client:
//
// Session Management:
//   - sdb_launch: Connect to a debugger (optionally spawning the program)
//   - sdb_disconnect: Disconnect and forget a session
//   - sdb_list_sessions: List active sessions
//
// Inspection:
//   - sdb_snapshot: Run state, stack, top-frame locals and recent output
//   - sdb_variables: List local or global variables at an iterator path
//   - sdb_evaluate: Resolve expressions to immediate values
//
// Control:
//   - sdb_breakpoints: Set, add or clear line breakpoints
//   - sdb_step: Step over/into/out and wait for the next stop
//   - sdb_continue: Resume execution
package mcp

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/sdb-dap/internal/config"
	"github.com/ctagard/sdb-dap/internal/logging"
	"github.com/ctagard/sdb-dap/internal/sdb"
	"github.com/ctagard/sdb-dap/internal/version"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	manager   *sdb.Manager
	config    *config.Config
	logger    *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
}

// NewServer creates an MCP server whose sessions live in manager
func NewServer(cfg *config.Config, manager *sdb.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := server.NewMCPServer(
		version.Name,
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		manager:   manager,
		config:    cfg,
		logger:    logger,
		monitors:  make(map[string]*monitor),
	}

	s.registerTools()

	return s
}

// ServeStdio serves MCP over in/out until ctx is cancelled or in is closed
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Close terminates every session
func (s *Server) Close() {
	s.manager.Close()
	s.mu.Lock()
	s.monitors = make(map[string]*monitor)
	s.mu.Unlock()
}

func (s *Server) monitorFor(id string) *monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitors[id]
}

// track starts monitoring session. The monitor is forgotten once the
// runtime is closed, whichever path closed it.
func (s *Server) track(session *sdb.Session) *monitor {
	m := newMonitor(session.Runtime.Events(), outputLimit)
	s.mu.Lock()
	s.monitors[session.ID] = m
	s.mu.Unlock()

	go func() {
		<-m.done
		s.mu.Lock()
		if s.monitors[session.ID] == m {
			delete(s.monitors, session.ID)
		}
		s.mu.Unlock()
	}()
	return m
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	delete(s.monitors, id)
	s.mu.Unlock()
}
