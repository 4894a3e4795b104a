package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	internaldap "github.com/ctagard/sdb-dap/internal/dap"
	"github.com/ctagard/sdb-dap/internal/errors"
	"github.com/ctagard/sdb-dap/internal/sdb"
	"github.com/ctagard/sdb-dap/pkg/types"
)

// Session Management Handlers

func (s *Server) handleLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hostPort := request.GetString("hostnamePort", s.config.DefaultHostnamePort)
	program := request.GetString("program", "")
	noDebug := request.GetBool("noDebug", false)

	session, err := s.manager.Create()
	if err != nil {
		return toolError(err), nil
	}
	m := s.track(session)

	if err := session.Runtime.Start(ctx, hostPort, program, noDebug); err != nil {
		state := m.state(5)
		_ = s.manager.Terminate(session.ID)
		s.forget(session.ID)

		var diagnostics []string
		for _, line := range state.Output {
			if line.Category == string(sdb.CategoryImportant) {
				diagnostics = append(diagnostics, line.Text)
			}
		}
		de := errors.FromError(err)
		if len(diagnostics) > 0 {
			de = de.WithDetails("output", diagnostics)
		}
		return toolError(de), nil
	}

	s.logger.Info("MCP session launched", "session_id", session.ID, "address", hostPort)
	result := map[string]interface{}{
		"sessionId": session.ID,
		"status":    session.Runtime.State().String(),
		"address":   hostPort,
	}
	if program != "" {
		result["program"] = program
	}
	return jsonResult(result)
}

func (s *Server) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return toolError(missingSessionID()), nil
	}

	if err := s.manager.Terminate(sessionID); err != nil {
		return toolError(err), nil
	}
	s.forget(sessionID)

	return jsonResult(map[string]interface{}{
		"sessionId": sessionID,
		"status":    "disconnected",
	})
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.manager.List()

	result := make([]sdb.SessionInfo, len(sessions))
	for i, session := range sessions {
		result[i] = session.Info()
	}

	return jsonResult(map[string]interface{}{
		"sessions": result,
	})
}

// Inspection Handlers

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, m, err := s.getSession(request)
	if err != nil {
		return toolError(err), nil
	}
	rt := session.Runtime

	maxStackDepth := int(request.GetFloat("maxStackDepth", 10))
	expandVariables := request.GetBool("expandVariables", true)
	outputLines := int(request.GetFloat("outputLines", 20))

	snapshot := map[string]interface{}{
		"sessionId": session.ID,
		"state":     rt.State().String(),
	}

	status, ok := rt.Status()
	if ok {
		snapshot["runstate"] = status.Runstate.String()
		if status.Paused() {
			snapshot["stopReason"] = string(sdb.InterpretStatus(status).Reason)
			if status.PausedAtBreakpointID > 0 {
				snapshot["breakpointId"] = status.PausedAtBreakpointID
			}
		}
	}

	frames, total := rt.Stack(0, maxStackDepth)
	snapshot["stack"] = frames
	snapshot["totalFrames"] = total

	if expandVariables && ok && status.Paused() && len(frames) > 0 {
		vars, err := rt.LocalVariables(ctx, 0, "")
		if err != nil {
			snapshot["variablesError"] = err.Error()
		} else {
			snapshot["locals"] = variableList(vars, false)
		}
	}

	if m != nil {
		state := m.state(outputLines)
		snapshot["output"] = state.Output
		snapshot["terminated"] = state.Terminated
	}

	return jsonResult(snapshot)
}

func (s *Server) handleVariables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, _, err := s.getSession(request)
	if err != nil {
		return toolError(err), nil
	}

	scope := request.GetString("scope", "local")
	frame := int(request.GetFloat("frame", 0))
	path := request.GetString("path", "")
	hex := request.GetBool("hex", false)

	var vars []types.Variable
	switch scope {
	case "local":
		vars, err = session.Runtime.LocalVariables(ctx, frame, path)
	case "global":
		vars, err = session.Runtime.GlobalVariables(ctx, path)
	default:
		return toolError(errors.InvalidParameter("scope", scope, "'local' or 'global'")), nil
	}
	if err != nil {
		return toolError(err), nil
	}

	return jsonResult(map[string]interface{}{
		"scope":     scope,
		"path":      path,
		"variables": variableList(vars, hex),
	})
}

func (s *Server) handleEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, _, err := s.getSession(request)
	if err != nil {
		return toolError(err), nil
	}

	var expressions []string
	if raw := request.GetString("expressions", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &expressions); err != nil {
			return toolError(errors.InvalidJSON("expressions", err, `["x", "t.y"]`)), nil
		}
	} else if expr := request.GetString("expression", ""); expr != "" {
		expressions = []string{expr}
	}
	if len(expressions) == 0 {
		return toolError(errors.MissingParameter("expression",
			"Provide 'expression' for a single value or 'expressions' as a JSON array.")), nil
	}

	frame := int(request.GetFloat("frame", -1))
	hex := request.GetBool("hex", false)

	values, err := session.Runtime.ImmediateValues(ctx, frame, expressions)
	if err != nil {
		return toolError(err), nil
	}

	results := make([]map[string]interface{}, 0, len(values))
	for i, iv := range values {
		entry := variableEntry(iv.Variable, hex)
		if i < len(expressions) {
			entry["expression"] = expressions[i]
		}
		entry["scope"] = iv.Scope.String()
		entry["iteratorPath"] = iv.IteratorPath
		results = append(results, entry)
	}

	return jsonResult(map[string]interface{}{
		"frame":   frame,
		"results": results,
	})
}

// Control Handlers

func (s *Server) handleBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, _, err := s.getSession(request)
	if err != nil {
		return toolError(err), nil
	}
	rt := session.Runtime

	path, err := request.RequireString("path")
	if err != nil {
		return toolError(errors.MissingParameter("path", "Provide the source file path as the target reports it.")), nil
	}

	result := map[string]interface{}{"path": path}

	switch action := request.GetString("action", "set"); action {
	case "set":
		raw, err := request.RequireString("lines")
		if err != nil {
			return toolError(errors.MissingParameter("lines", "Provide a JSON array of line numbers, e.g. [12, 40]. Use [] to remove every breakpoint of the file.")), nil
		}
		var lines []int
		if err := json.Unmarshal([]byte(raw), &lines); err != nil {
			return toolError(errors.InvalidJSON("lines", err, "[12, 40]")), nil
		}
		if _, err := rt.SetFileBreakpoints(ctx, path, lines); err != nil {
			result["warning"] = err.Error()
		}
	case "add":
		line, err := request.RequireFloat("line")
		if err != nil {
			return toolError(errors.MissingParameter("line", "Provide the 1-based line to break on.")), nil
		}
		if _, err := rt.SetBreakpoint(ctx, path, int(line)); err != nil {
			result["warning"] = err.Error()
		}
	case "clear":
		line, err := request.RequireFloat("line")
		if err != nil {
			return toolError(errors.MissingParameter("line", "Provide the 1-based line of the breakpoint to remove.")), nil
		}
		if _, ok := rt.ClearBreakpoint(path, int(line)); !ok {
			return toolError(errors.InvalidParameter("line", int(line), "a line that has a breakpoint")), nil
		}
	default:
		return toolError(errors.InvalidParameter("action", action, "'set', 'add' or 'clear'")), nil
	}

	bps := rt.Breakpoints(path)
	if bps == nil {
		bps = []sdb.Breakpoint{}
	}
	result["breakpoints"] = bps
	return jsonResult(result)
}

func (s *Server) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, m, err := s.getSession(request)
	if err != nil {
		return toolError(err), nil
	}
	rt := session.Runtime

	stepType, err := request.RequireString("type")
	if err != nil {
		return toolError(errors.MissingParameter("type", "Specify 'over', 'into' or 'out'.")), nil
	}

	var step func(context.Context) error
	switch stepType {
	case "over":
		step = rt.StepOver
	case "into":
		step = rt.StepIn
	case "out":
		step = rt.StepOut
	default:
		return toolError(errors.InvalidParameter("type", stepType, "'over', 'into' or 'out'")), nil
	}

	before := 0
	if m != nil {
		before = m.state(0).Stops
	}
	if err := step(ctx); err != nil {
		return toolError(err), nil
	}

	result := map[string]interface{}{
		"sessionId": session.ID,
		"step":      stepType,
		"stopped":   false,
	}
	if m != nil {
		timeout := time.Duration(request.GetFloat("timeoutMs", 5000)) * time.Millisecond
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if m.waitStop(waitCtx, before) {
			result["stopped"] = true
			result["reason"] = m.state(0).LastStop
			if frames, _ := rt.Stack(0, 1); len(frames) > 0 {
				result["location"] = frames[0]
			}
		}
	}
	result["state"] = rt.State().String()
	return jsonResult(result)
}

func (s *Server) handleContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, _, err := s.getSession(request)
	if err != nil {
		return toolError(err), nil
	}

	if err := session.Runtime.Continue(ctx); err != nil {
		return toolError(err), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": session.ID,
		"status":    "continued",
	})
}

// Helper functions

func missingSessionID() error {
	return errors.MissingParameter("sessionId", "Provide the sessionId returned from sdb_launch. Use sdb_list_sessions to see active sessions.")
}

func (s *Server) getSession(request mcp.CallToolRequest) (*sdb.Session, *monitor, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, nil, missingSessionID()
	}

	session, err := s.manager.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, s.monitorFor(sessionID), nil
}

func variableEntry(v types.Variable, hex bool) map[string]interface{} {
	entry := map[string]interface{}{
		"name":         v.PathUIString,
		"value":        internaldap.FormatValue(v, hex),
		"type":         v.ValueType.String(),
		"pathIterator": v.PathIterator,
	}
	if v.HasChildren() {
		entry["childCount"] = v.ChildCount
	}
	if v.InstanceClassName != "" {
		entry["class"] = v.InstanceClassName
	}
	return entry
}

func variableList(vars []types.Variable, hex bool) []map[string]interface{} {
	out := make([]map[string]interface{}, len(vars))
	for i, v := range vars {
		out[i] = variableEntry(v, hex)
	}
	return out
}

// toolError renders err as a structured error result with its code and hint
func toolError(err error) *mcp.CallToolResult {
	data, merr := json.Marshal(errors.FromError(err))
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
