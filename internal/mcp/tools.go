package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the sdb tool API
func (s *Server) registerTools() {
	// Session Management
	s.registerLaunch()
	s.registerDisconnect()
	s.registerListSessions()

	// Inspection
	s.registerSnapshot()
	s.registerVariables()
	s.registerEvaluate()

	// Control
	s.registerBreakpoints()
	s.registerStep()
	s.registerContinue()
}

// Session Management Tools

func (s *Server) registerLaunch() {
	tool := mcp.NewTool("sdb_launch",
		mcp.WithDescription("Connect to an SDB debugger and start a debug session. Optionally spawns the program first. Breakpoints are verified and the first status is requested. Returns sessionId needed for all other tools."),
		mcp.WithString("hostnamePort",
			mcp.Description("Address of the debugger as host:port (default from configuration, usually localhost:8000)"),
		),
		mcp.WithString("program",
			mcp.Description("Command line to spawn before connecting. Omit to connect to an already running target."),
		),
		mcp.WithBoolean("noDebug",
			mcp.Description("Accepted for launch compatibility; the debugger has no run-without-debugging mode"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleLaunch)
}

func (s *Server) registerDisconnect() {
	tool := mcp.NewTool("sdb_disconnect",
		mcp.WithDescription("Disconnect from a debug session, kill a spawned program and forget the session"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID to disconnect from"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDisconnect)
}

func (s *Server) registerListSessions() {
	tool := mcp.NewTool("sdb_list_sessions",
		mcp.WithDescription("List all active debug sessions with their connection state"),
	)
	s.mcpServer.AddTool(tool, s.handleListSessions)
}

// Inspection Tools

func (s *Server) registerSnapshot() {
	tool := mcp.NewTool("sdb_snapshot",
		mcp.WithDescription("Get the debug state in ONE call: run state, stop reason, stack, top-frame local variables and recent program output. Use it after every step or stop."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("maxStackDepth",
			mcp.Description("Maximum stack depth to return (default: 10)"),
		),
		mcp.WithBoolean("expandVariables",
			mcp.Description("Include the local variables of the top frame (default: true)"),
		),
		mcp.WithNumber("outputLines",
			mcp.Description("How many recent output lines to include (default: 20)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleSnapshot)
}

func (s *Server) registerVariables() {
	tool := mcp.NewTool("sdb_variables",
		mcp.WithDescription("List variables of a scope. Children are addressed by an iterator path: the comma separated pathIterator values from the scope root, e.g. '3' then '3,0'."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("scope",
			mcp.Description("'local' (default) or 'global'"),
		),
		mcp.WithNumber("frame",
			mcp.Description("Stack frame index for local scope (default: 0, the innermost frame)"),
		),
		mcp.WithString("path",
			mcp.Description("Iterator path of the variable to expand; empty lists the scope root"),
		),
		mcp.WithBoolean("hex",
			mcp.Description("Render integers in hexadecimal (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVariables)
}

func (s *Server) registerEvaluate() {
	tool := mcp.NewTool("sdb_evaluate",
		mcp.WithDescription("Resolve one or more variable expressions to their current values. Supports single expression OR batch mode."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("expression",
			mcp.Description("Single expression to resolve (e.g., 'player.health')"),
		),
		mcp.WithString("expressions",
			mcp.Description("JSON array of expressions for batch evaluation: [\"x\", \"t.y\"]"),
		),
		mcp.WithNumber("frame",
			mcp.Description("Stack frame index for context (default: -1, no frame)"),
		),
		mcp.WithBoolean("hex",
			mcp.Description("Render integers in hexadecimal (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleEvaluate)
}

// Control Tools

func (s *Server) registerBreakpoints() {
	tool := mcp.NewTool("sdb_breakpoints",
		mcp.WithDescription("Manage line breakpoints of a source file. action='set' REPLACES all breakpoints of the file with 'lines'; 'add' adds one breakpoint at 'line'; 'clear' removes the breakpoint at 'line'. Returns the file's breakpoints."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("The source file path, as the target reports it"),
		),
		mcp.WithString("action",
			mcp.Description("'set' (default), 'add' or 'clear'"),
		),
		mcp.WithString("lines",
			mcp.Description("JSON array of 1-based line numbers for action='set': [12, 40]"),
		),
		mcp.WithNumber("line",
			mcp.Description("1-based line number for action='add' or 'clear'"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleBreakpoints)
}

func (s *Server) registerStep() {
	tool := mcp.NewTool("sdb_step",
		mcp.WithDescription("Execute a step command and wait for the target to stop again. Use type='over' to step to next line, 'into' to enter function calls, 'out' to exit current function."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Step type: 'over' (next line), 'into' (enter function), 'out' (exit function)"),
		),
		mcp.WithNumber("timeoutMs",
			mcp.Description("How long to wait for the stop (default: 5000)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleStep)
}

func (s *Server) registerContinue() {
	tool := mcp.NewTool("sdb_continue",
		mcp.WithDescription("Continue program execution until the next breakpoint. Returns immediately - use sdb_snapshot to check state after stopping."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleContinue)
}
