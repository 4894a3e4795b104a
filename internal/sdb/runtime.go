// Package sdb implements the bridge to a remote SDB (squirrel) debugger.
//
// The debugger exposes two channels:
//   - an HTTP command/query interface under /DebugCommand/
//   - a WebSocket push-event stream at /ws carrying status snapshots and output
//
// This package provides:
//   - Runtime: connection lifecycle, commands and queries, event interpretation
//   - BreakpointTable: per-file breakpoints and the verification protocol
//   - Dispatcher: deferred, ordered delivery of runtime events
//   - Manager: multiple concurrent runtimes with limits and expiry
package sdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ctagard/sdb-dap/internal/errors"
	"github.com/ctagard/sdb-dap/pkg/types"
)

// ConnState is the lifecycle state of a Runtime
type ConnState int

const (
	StateIdle ConnState = iota
	StateProbing
	StateHandshaking
	StateConnected
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Frame is one entry of the paused stack
type Frame struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	File  string `json:"file"`
	Line  int    `json:"line"`
}

// Runtime connects to one debugger and tracks its state. Events are read
// from Events; every Runtime must be closed with Close.
type Runtime struct {
	opts   Options
	logger *slog.Logger

	dispatcher *Dispatcher
	sources    *SourceCache

	// verifyMu keeps verification round-trips strictly sequential
	verifyMu sync.Mutex

	mu           sync.Mutex
	state        ConnState
	hostPort     string
	program      string
	client       *Client
	conn         *websocket.Conn
	proc         *process
	breakpoints  *BreakpointTable
	status       *types.Status
	gotStatus    bool
	disconnected bool
	cancelStart  context.CancelFunc

	endOnce sync.Once
}

// NewRuntime creates an idle runtime
func NewRuntime(opts Options) *Runtime {
	opts = opts.withDefaults()
	return &Runtime{
		opts:        opts,
		logger:      opts.Logger,
		dispatcher:  NewDispatcher(),
		sources:     NewSourceCache(opts.Files),
		breakpoints: NewBreakpointTable(),
	}
}

// Events returns the runtime's event channel
func (r *Runtime) Events() <-chan Event {
	return r.dispatcher.Events()
}

// State returns the connection state
func (r *Runtime) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HostPort returns the debugger address given to Start
func (r *Runtime) HostPort() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostPort
}

// Program returns the command line given to Start
func (r *Runtime) Program() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.program
}

func (r *Runtime) setState(s ConnState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateTerminated {
		return false
	}
	r.logger.Debug("Connection state changed", "from", r.state.String(), "to", s.String())
	r.state = s
	return true
}

func (r *Runtime) emit(ev Event) {
	r.dispatcher.Emit(ev)
}

// end emits the End event once per runtime
func (r *Runtime) end() {
	r.endOnce.Do(func() {
		r.emit(Event{Kind: EventEnd})
	})
}

func (r *Runtime) important(text string) {
	r.emit(Event{Kind: EventOutput, Output: Output{Text: text, Category: CategoryImportant}})
}

// Start launches program (when non-empty), waits for the debugger at
// hostPort to answer, opens the event stream, replays breakpoint
// verification for every file and requests the first status snapshot.
//
// A connection failure is terminal: the runtime emits End and moves to
// StateTerminated. noDebug is accepted for launch compatibility; the
// debugger has no run-without-debugging mode.
func (r *Runtime) Start(ctx context.Context, hostPort, program string, noDebug bool) error {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return errors.AlreadyStarted(state.String())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelStart = cancel
	r.state = StateProbing
	r.hostPort = hostPort
	r.program = program
	r.client = NewClient(hostPort, r.opts.CommandTimeout, r.logger)
	r.mu.Unlock()

	r.logger.Info("Starting runtime", "address", hostPort, "program", program, "no_debug", noDebug)

	if program != "" {
		proc, err := startProcess(program, r.logger, r.onProcessExit)
		if err != nil {
			de := errors.SpawnFailed(program, err)
			r.important(fmt.Sprintf("Failed to launch instance: %v", err))
			r.fail(de)
			return de
		}
		r.mu.Lock()
		r.proc = proc
		killNow := r.disconnected
		r.mu.Unlock()
		if killNow {
			_ = proc.Kill()
		}
	}

	if err := r.opts.Probe.Do(ctx, r.client.Probe); err != nil {
		de := errors.ConnectFailed(hostPort, r.opts.Probe.Attempts, err)
		r.fail(de)
		return de
	}

	if !r.setState(StateHandshaking) {
		return errors.NotConnected("start")
	}
	conn, err := dialEventStream(ctx, hostPort, r.opts.HandshakeTimeout)
	if err != nil {
		de := errors.HandshakeFailed(eventStreamURL(hostPort), err)
		r.fail(de)
		return de
	}

	r.mu.Lock()
	if r.state == StateTerminated {
		r.mu.Unlock()
		_ = conn.Close()
		return errors.NotConnected("start")
	}
	r.conn = conn
	r.state = StateConnected
	files := r.breakpoints.Files()
	r.mu.Unlock()
	r.logger.Info("Connected to debugger", "address", hostPort)

	go r.readLoop(conn)

	for _, file := range files {
		if _, err := r.verifyBreakpoints(ctx, file); err != nil {
			r.logger.Warn("Breakpoint verification failed", "file", file, "error", err)
		}
	}

	if _, err := r.client.Command(ctx, "SendStatus", nil); err != nil {
		de := errors.CommandFailed("SendStatus", err)
		r.fail(de)
		return de
	}
	return nil
}

// fail tears the connection down after a start failure
func (r *Runtime) fail(err error) {
	r.logger.Error("Runtime failed", "error", err)
	r.teardown()
	r.end()
}

func (r *Runtime) onProcessExit(code int, lastStderr string) {
	r.mu.Lock()
	connected := r.gotStatus
	disconnected := r.disconnected
	r.mu.Unlock()

	if !disconnected {
		if msg, ok := exitDiagnostic(code, lastStderr, connected, r.opts.CoarseExitDiagnostics); ok {
			r.important(msg)
		}
	}
	r.end()
}

// readLoop consumes the event stream until it closes
func (r *Runtime) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
				r.state = StateTerminated
			}
			r.mu.Unlock()
			r.logger.Info("Websocket connection closed", "error", err)
			r.end()
			return
		}
		r.handleFrame(data)
	}
}

// handleFrame interprets one pushed message. Malformed messages are logged
// and dropped.
func (r *Runtime) handleFrame(data []byte) {
	msg, err := types.DecodeEventMessage(data)
	if err != nil {
		r.logger.Warn("Dropping malformed event", "error", err, "frame", string(data))
		return
	}

	switch msg.Type {
	case types.EventTypeStatus:
		status, err := types.DecodeStatus(msg.Message)
		if err != nil {
			r.logger.Warn("Dropping malformed status", "error", err)
			return
		}
		r.updateStatus(status)
	case types.EventTypeOutputLine:
		line, err := types.DecodeOutputLine(msg.Message)
		if err != nil {
			r.logger.Warn("Dropping malformed output line", "error", err)
			return
		}
		category := CategoryConsole
		if line.IsErr {
			category = CategoryStderr
		}
		r.emit(Event{Kind: EventOutput, Output: Output{
			Text:     line.Output,
			Category: category,
			File:     line.File,
			Line:     line.Line,
		}})
	}
}

func (r *Runtime) updateStatus(status types.Status) {
	r.mu.Lock()
	if !r.gotStatus {
		r.logger.Debug("First status received", "runstate", status.Runstate.String())
	}
	r.gotStatus = true
	r.status = &status
	r.mu.Unlock()

	ev := InterpretStatus(status)
	if ev.Kind == EventStopped && ev.Reason == StopBreakpoint {
		r.logger.Info("Hit breakpoint", "breakpoint_id", status.PausedAtBreakpointID)
	}
	r.emit(ev)
}

// InterpretStatus maps a status snapshot to the run-state event it implies
func InterpretStatus(status types.Status) Event {
	if !status.Paused() {
		return Event{Kind: EventContinued}
	}
	if status.PausedAtBreakpointID > 0 {
		return Event{Kind: EventStopped, Reason: StopBreakpoint}
	}
	return Event{Kind: EventStopped, Reason: StopStep}
}

// Disconnect closes the event stream and kills the launched process.
// It is idempotent and never fails.
func (r *Runtime) Disconnect() error {
	r.mu.Lock()
	r.disconnected = true
	if r.cancelStart != nil {
		r.cancelStart()
	}
	r.mu.Unlock()

	r.teardown()
	return nil
}

func (r *Runtime) teardown() {
	r.mu.Lock()
	r.state = StateTerminated
	conn := r.conn
	r.conn = nil
	proc := r.proc
	r.mu.Unlock()

	if conn != nil {
		if err := closeEventStream(conn); err != nil {
			r.logger.Debug("Closing websocket failed", "error", err)
		}
	}
	if proc != nil {
		if err := proc.Kill(); err != nil {
			r.logger.Warn("Failed to kill process group", "pid", proc.pid, "error", err)
		}
	}
}

// Close disconnects and stops event delivery. Events not yet received are
// dropped and the Events channel closes.
func (r *Runtime) Close() error {
	err := r.Disconnect()
	r.dispatcher.Close()
	return err
}

// connectedClient returns the HTTP client, or NotConnected outside StateConnected
func (r *Runtime) connectedClient(operation string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateConnected || r.client == nil {
		return nil, errors.NotConnected(operation)
	}
	return r.client, nil
}

func (r *Runtime) command(ctx context.Context, name string) error {
	client, err := r.connectedClient(name)
	if err != nil {
		return err
	}
	if _, err := client.Command(ctx, name, nil); err != nil {
		return errors.CommandFailed(name, err)
	}
	return nil
}

// Continue resumes execution
func (r *Runtime) Continue(ctx context.Context) error {
	return r.command(ctx, "Continue")
}

// StepOver steps to the next line in the current function
func (r *Runtime) StepOver(ctx context.Context) error {
	return r.command(ctx, "StepOver")
}

// StepIn steps into the call on the current line
func (r *Runtime) StepIn(ctx context.Context) error {
	return r.command(ctx, "StepIn")
}

// StepOut runs until the current function returns
func (r *Runtime) StepOut(ctx context.Context) error {
	return r.command(ctx, "StepOut")
}

// Status returns the last status snapshot
func (r *Runtime) Status() (types.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		return types.Status{}, false
	}
	return *r.status, true
}

// Stack returns up to levels frames starting at start (levels <= 0 means
// all) and the total frame count. The stack is empty unless paused.
func (r *Runtime) Stack(start, levels int) ([]Frame, int) {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	if status == nil || !status.Paused() {
		return []Frame{}, 0
	}

	total := len(status.Stack)
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if levels > 0 && start+levels < total {
		end = start + levels
	}

	frames := make([]Frame, 0, end-start)
	for i := start; i < end; i++ {
		entry := status.Stack[i]
		frames = append(frames, Frame{Index: i, Name: entry.Function, File: entry.File, Line: entry.Line})
	}
	return frames, total
}

// LocalVariables lists the children of path in the locals of frame
func (r *Runtime) LocalVariables(ctx context.Context, frame int, path string) ([]types.Variable, error) {
	return r.variables(ctx, "Variables/Local/"+strconv.Itoa(frame), path)
}

// GlobalVariables lists the children of path in the global table
func (r *Runtime) GlobalVariables(ctx context.Context, path string) ([]types.Variable, error) {
	return r.variables(ctx, "Variables/Global", path)
}

func (r *Runtime) variables(ctx context.Context, query, path string) ([]types.Variable, error) {
	client, err := r.connectedClient(query)
	if err != nil {
		return nil, err
	}
	data, err := client.Query(ctx, query, url.Values{"path": {path}})
	if err != nil {
		return nil, errors.QueryFailed(query, err)
	}
	vars, err := types.DecodeVariables(data)
	if err != nil {
		return nil, errors.DecodeFailed("variables", err)
	}
	return vars, nil
}

// ImmediateValues evaluates expression paths in frame; frame -1 evaluates
// in the global scope
func (r *Runtime) ImmediateValues(ctx context.Context, frame int, paths []string) ([]types.ImmediateValue, error) {
	name := "Variables/Immediate/" + strconv.Itoa(frame)
	client, err := r.connectedClient(name)
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	data, err := client.Command(ctx, name, paths)
	if err != nil {
		return nil, errors.CommandFailed(name, err)
	}
	values, err := types.DecodeImmediateValues(data)
	if err != nil {
		return nil, errors.DecodeFailed("immediate values", err)
	}
	return values, nil
}

// SetBreakpoint adds a breakpoint to file and verifies the file. The
// returned breakpoint reflects the verification result when the target
// kept its id.
func (r *Runtime) SetBreakpoint(ctx context.Context, file string, line int) (Breakpoint, error) {
	r.mu.Lock()
	bp := r.breakpoints.Add(file, line)
	r.mu.Unlock()

	bps, err := r.verifyBreakpoints(ctx, file)
	for _, b := range bps {
		if b.ID == bp.ID {
			return b, err
		}
	}
	return bp, err
}

// SetFileBreakpoints replaces every breakpoint of file with new ones on lines
// and verifies the file
func (r *Runtime) SetFileBreakpoints(ctx context.Context, file string, lines []int) ([]Breakpoint, error) {
	r.mu.Lock()
	bps := r.breakpoints.Replace(file, lines)
	r.mu.Unlock()

	verified, err := r.verifyBreakpoints(ctx, file)
	if err != nil {
		return bps, err
	}
	return verified, nil
}

// ClearBreakpoint removes the first breakpoint of file on line
func (r *Runtime) ClearBreakpoint(file string, line int) (Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakpoints.Remove(file, line)
}

// Breakpoints returns the current breakpoints of file
func (r *Runtime) Breakpoints(file string) []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakpoints.Get(file)
}

// BreakpointFiles lists every file with breakpoints
func (r *Runtime) BreakpointFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakpoints.Files()
}

// verifyBreakpoints reconciles the breakpoints of file with the target.
// Disconnected: every breakpoint is marked unverified and reported, with no
// network traffic. Connected: the whole set is sent in one FileBreakpoints
// command and the answer replaces the file's list.
func (r *Runtime) verifyBreakpoints(ctx context.Context, file string) ([]Breakpoint, error) {
	r.verifyMu.Lock()
	defer r.verifyMu.Unlock()

	r.mu.Lock()
	if !r.breakpoints.Has(file) {
		r.mu.Unlock()
		r.logger.Debug("No breakpoints for file", "file", file)
		return nil, nil
	}
	client := r.client
	if r.state != StateConnected || client == nil {
		bps := r.breakpoints.Unverify(file)
		r.mu.Unlock()
		r.logger.Debug("Not connected, marking breakpoints unverified", "file", file, "count", len(bps))
		for _, bp := range bps {
			r.emit(Event{Kind: EventBreakpointChanged, Breakpoint: bp})
		}
		return bps, nil
	}
	bps := r.breakpoints.Get(file)
	r.mu.Unlock()

	body := types.FileBreakpointsCommand{File: file, Breakpoints: make([]types.BreakpointRequest, 0, len(bps))}
	for _, bp := range bps {
		body.Breakpoints = append(body.Breakpoints, types.BreakpointRequest{ID: bp.ID, Line: bp.Line})
	}

	data, err := client.Command(ctx, "FileBreakpoints", body)
	if err != nil {
		return bps, errors.CommandFailed("FileBreakpoints", err)
	}
	resolved, err := types.DecodeResolvedBreakpoints(data)
	if err != nil {
		return bps, errors.DecodeFailed("FileBreakpoints", err)
	}

	r.mu.Lock()
	verified := r.breakpoints.Resolve(file, resolved)
	r.mu.Unlock()

	for _, bp := range verified {
		r.emit(Event{Kind: EventBreakpointChanged, Breakpoint: bp})
	}
	return verified, nil
}

// LoadSource returns the lines of file, read once and cached
func (r *Runtime) LoadSource(file string) ([]string, error) {
	lines, err := r.sources.Lines(file)
	if err != nil {
		return nil, errors.ReadFailed(file, err)
	}
	return lines, nil
}
