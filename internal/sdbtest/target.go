// Package sdbtest provides an in-process SDB debugger for tests. It serves
// the liveness probe, the /ws event stream and the /DebugCommand endpoints
// from canned data and records every request it receives.
package sdbtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ctagard/sdb-dap/pkg/types"
)

// Request is a recorded /DebugCommand request
type Request struct {
	Method string
	Name   string
	Path   string
	Body   []byte
}

// BreakpointResolver decides what the target answers to FileBreakpoints.
// It runs with the target locked and must not call Target methods.
type BreakpointResolver func(cmd types.FileBreakpointsCommand) []types.ResolvedBreakpoint

// ImmediateResolver answers Variables/Immediate/{frame}
type ImmediateResolver func(frame int, paths []string) []types.ImmediateValue

// CommandHook runs after a command was recorded; returning false answers 500
type CommandHook func(t *Target, name string) bool

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Target is a fake debugger
type Target struct {
	server *httptest.Server

	mu            sync.Mutex
	probeFailures int
	probes        int
	rejectUpgrade bool
	requests      []Request
	conns         []*websocket.Conn
	connected     chan struct{}
	status        types.Status
	locals        map[string][]types.Variable
	globals       map[string][]types.Variable
	resolve       BreakpointResolver
	immediate     ImmediateResolver
	hook          CommandHook
	failing       map[string]bool
	nextServerID  int
}

// New starts a target and stops it when the test ends
func New(tb testing.TB) *Target {
	tb.Helper()
	t := &Target{
		connected:    make(chan struct{}),
		status:       types.Status{Runstate: types.RunstateRunning, Stack: []types.StackEntry{}},
		locals:       make(map[string][]types.Variable),
		globals:      make(map[string][]types.Variable),
		failing:      make(map[string]bool),
		nextServerID: 1000,
		hook:         DefaultCommandHook,
	}
	t.resolve = t.defaultResolver
	t.server = httptest.NewServer(t.router())
	tb.Cleanup(t.Close)
	return t
}

func (t *Target) router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", t.handleProbe)
	r.Get("/ws", t.handleWS)
	r.Route("/DebugCommand", func(r chi.Router) {
		r.Get("/Variables/Local/{frame}", t.handleLocals)
		r.Get("/Variables/Global", t.handleGlobals)
		r.Put("/Variables/Immediate/{frame}", t.handleImmediate)
		r.Put("/{name}", t.handleCommand)
	})
	return r
}

// HostPort returns the "host:port" the target listens on
func (t *Target) HostPort() string {
	return strings.TrimPrefix(t.server.URL, "http://")
}

// Close drops every event stream and stops the server
func (t *Target) Close() {
	t.DropConnections()
	t.server.Close()
}

// FailProbes answers the next n liveness probes with 503
func (t *Target) FailProbes(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probeFailures = n
}

// RejectUpgrade makes /ws answer with an error instead of upgrading
func (t *Target) RejectUpgrade() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectUpgrade = true
}

// Probes returns how many liveness probes were received
func (t *Target) Probes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.probes
}

// Requests returns the recorded /DebugCommand requests named name, or all
// of them when name is empty
func (t *Target) Requests(name string) []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Request
	for _, req := range t.requests {
		if name == "" || req.Name == name {
			out = append(out, req)
		}
	}
	return out
}

// FailCommand answers every request named name with 500
func (t *Target) FailCommand(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing[name] = true
}

// SetStatus sets the snapshot pushed in answer to SendStatus
func (t *Target) SetStatus(status types.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

// Status returns the current snapshot
func (t *Target) Status() types.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetLocals sets the answer of Variables/Local/{frame}?path=path
func (t *Target) SetLocals(frame int, path string, vars []types.Variable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locals[localKey(frame, path)] = vars
}

// SetGlobals sets the answer of Variables/Global?path=path
func (t *Target) SetGlobals(path string, vars []types.Variable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globals[path] = vars
}

// SetBreakpointResolver replaces the FileBreakpoints behaviour
func (t *Target) SetBreakpointResolver(fn BreakpointResolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolve = fn
}

// SetImmediateResolver sets the Variables/Immediate behaviour
func (t *Target) SetImmediateResolver(fn ImmediateResolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.immediate = fn
}

// SetCommandHook replaces the behaviour run after each command
func (t *Target) SetCommandHook(fn CommandHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = fn
}

// WaitConnected waits for the first event stream connection
func (t *Target) WaitConnected(timeout time.Duration) bool {
	select {
	case <-t.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// DropConnections closes every open event stream
func (t *Target) DropConnections() {
	t.mu.Lock()
	conns := t.conns
	t.conns = nil
	t.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// PushRaw sends data verbatim on every event stream
func (t *Target) PushRaw(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) push(kind types.EventType, message interface{}) error {
	data, err := json.Marshal(map[string]interface{}{"type": kind, "message": message})
	if err != nil {
		return err
	}
	return t.PushRaw(data)
}

// PushStatus sets and pushes a status snapshot
func (t *Target) PushStatus(status types.Status) error {
	t.SetStatus(status)
	return t.push(types.EventTypeStatus, status)
}

// PushOutput pushes an output line
func (t *Target) PushOutput(line types.OutputLine) error {
	return t.push(types.EventTypeOutputLine, line)
}

// DefaultCommandHook pushes the current snapshot for SendStatus, a running
// snapshot for Continue and a paused one for steps
func DefaultCommandHook(t *Target, name string) bool {
	switch name {
	case "SendStatus":
		_ = t.push(types.EventTypeStatus, t.Status())
	case "Continue":
		_ = t.PushStatus(types.Status{Runstate: types.RunstateRunning, Stack: []types.StackEntry{}})
	case "StepOver", "StepIn", "StepOut":
		status := t.Status()
		status.Runstate = types.RunstatePaused
		status.PausedAtBreakpointID = 0
		_ = t.PushStatus(status)
	}
	return true
}

func (t *Target) defaultResolver(cmd types.FileBreakpointsCommand) []types.ResolvedBreakpoint {
	out := make([]types.ResolvedBreakpoint, 0, len(cmd.Breakpoints))
	for _, bp := range cmd.Breakpoints {
		out = append(out, types.ResolvedBreakpoint{ID: t.nextServerID, Line: bp.Line, Verified: true})
		t.nextServerID++
	}
	return out
}

func (t *Target) record(r *http.Request, name string) ([]byte, bool) {
	body, _ := io.ReadAll(r.Body)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, Request{Method: r.Method, Name: name, Path: r.URL.RequestURI(), Body: body})
	return body, !t.failing[name]
}

func (t *Target) handleProbe(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	t.probes++
	fail := t.probeFailures > 0
	if fail {
		t.probeFailures--
	}
	t.mu.Unlock()

	if fail {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "sdb")
}

func (t *Target) handleWS(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	reject := t.rejectUpgrade
	t.mu.Unlock()
	if reject {
		http.Error(w, "busy", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.mu.Lock()
	first := len(t.conns) == 0
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	if first {
		select {
		case <-t.connected:
		default:
			close(t.connected)
		}
	}

	// Drain until the client goes away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (t *Target) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, ok := t.record(r, name)
	if !ok {
		http.Error(w, "command failed", http.StatusInternalServerError)
		return
	}

	if name == "FileBreakpoints" {
		var cmd types.FileBreakpointsCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t.mu.Lock()
		resolved := t.resolve(cmd)
		t.mu.Unlock()
		writeJSON(w, map[string]interface{}{"breakpoints": resolved})
		return
	}

	t.mu.Lock()
	hook := t.hook
	t.mu.Unlock()
	if hook != nil && !hook(t, name) {
		http.Error(w, "command failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{})
}

func (t *Target) handleLocals(w http.ResponseWriter, r *http.Request) {
	frame, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil {
		http.Error(w, "bad frame", http.StatusBadRequest)
		return
	}
	if _, ok := t.record(r, "Variables/Local"); !ok {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	t.mu.Lock()
	vars, ok := t.locals[localKey(frame, r.URL.Query().Get("path"))]
	t.mu.Unlock()
	if !ok {
		http.Error(w, "no such path", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{"variables": vars})
}

func (t *Target) handleGlobals(w http.ResponseWriter, r *http.Request) {
	if _, ok := t.record(r, "Variables/Global"); !ok {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	t.mu.Lock()
	vars, ok := t.globals[r.URL.Query().Get("path")]
	t.mu.Unlock()
	if !ok {
		http.Error(w, "no such path", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{"variables": vars})
}

func (t *Target) handleImmediate(w http.ResponseWriter, r *http.Request) {
	frame, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil {
		http.Error(w, "bad frame", http.StatusBadRequest)
		return
	}
	body, ok := t.record(r, "Variables/Immediate")
	if !ok {
		http.Error(w, "command failed", http.StatusInternalServerError)
		return
	}
	var paths []string
	if err := json.Unmarshal(body, &paths); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t.mu.Lock()
	fn := t.immediate
	t.mu.Unlock()

	values := []types.ImmediateValue{}
	if fn != nil {
		values = fn(frame, paths)
	}
	writeJSON(w, map[string]interface{}{"values": values})
}

func localKey(frame int, path string) string {
	return strconv.Itoa(frame) + ":" + path
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
