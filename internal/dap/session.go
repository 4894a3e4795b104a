package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/ctagard/sdb-dap/internal/config"
	"github.com/ctagard/sdb-dap/internal/logging"
	"github.com/ctagard/sdb-dap/internal/sdb"
	"github.com/ctagard/sdb-dap/pkg/types"
)

// threadID is the single logical thread of the target
const threadID = 1

// adapterData tags every Source this adapter hands out
var adapterData = json.RawMessage(`"sdb-adapter-data"`)

// Error ids reported in ErrorResponse bodies
const (
	ErrUnsupportedCommand = 1000 + iota
	ErrLaunchFailed
	ErrAttachUnsupported
	ErrCommandFailed
	ErrVariablesFailed
	ErrEvaluateFailed
	ErrSourceFailed
	ErrNotPaused
	ErrCancelled
)

// SessionOptions configure the DAP front end
type SessionOptions struct {
	// DefaultHostnamePort is used when launch omits hostnamePort
	DefaultHostnamePort string
	// ConfigurationDoneTimeout bounds how long launch waits for configurationDone
	ConfigurationDoneTimeout time.Duration
	// ProgressInterval is how often launch progress polls for cancellation
	ProgressInterval time.Duration
	// DisableImmediateValues makes hover and watch evaluation echo the request
	DisableImmediateValues bool
}

// DefaultSessionOptions mirrors config.DefaultConfig
func DefaultSessionOptions() SessionOptions {
	return SessionOptionsFromConfig(config.DefaultConfig())
}

// SessionOptionsFromConfig builds session options from the loaded configuration
func SessionOptionsFromConfig(cfg *config.Config) SessionOptions {
	return SessionOptions{
		DefaultHostnamePort:      cfg.DefaultHostnamePort,
		ConfigurationDoneTimeout: cfg.ConfigurationDoneTimeout.Std(),
		ProgressInterval:         cfg.ProgressInterval.Std(),
		DisableImmediateValues:   cfg.Legacy.DisableImmediateValues,
	}
}

// clientCapabilities are the initialize flags that change what we send
type clientCapabilities struct {
	linesStartAt1    bool
	progress         bool
	variableType     bool
	invalidated      bool
	memoryReferences bool
}

// launchArguments are the sdb specific launch attributes
type launchArguments struct {
	HostnamePort string `json:"hostnamePort"`
	Program      string `json:"program"`
	NoDebug      bool   `json:"noDebug"`
	Trace        bool   `json:"trace"`
}

// Session is one front-end conversation. Requests are served concurrently;
// runtime events are forwarded in order as DAP events.
type Session struct {
	transport *Transport
	runtime   *sdb.Runtime
	handles   *Handles
	opts      SessionOptions
	logger    *slog.Logger

	mu        sync.Mutex
	caps      clientCapabilities
	hex       bool
	pending   map[int]context.CancelFunc
	cancelled map[int]bool
	progress  map[string]bool

	configDone     chan struct{}
	configDoneOnce sync.Once

	wg sync.WaitGroup
}

// NewSession creates a session speaking DAP on transport and driving rt
func NewSession(transport *Transport, rt *sdb.Runtime, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Session{
		transport:  transport,
		runtime:    rt,
		handles:    NewHandles(),
		opts:       opts,
		logger:     logger,
		caps:       clientCapabilities{linesStartAt1: true},
		pending:    make(map[int]context.CancelFunc),
		cancelled:  make(map[int]bool),
		progress:   make(map[string]bool),
		configDone: make(chan struct{}),
	}
}

// Serve reads requests until the stream ends or ctx is cancelled. The
// runtime is disconnected on return.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = s.transport.Close()
	}()

	events := make(chan struct{})
	go func() {
		defer close(events)
		s.forwardEvents(ctx)
	}()

	var serveErr error
	for {
		msg, env, err := s.transport.Receive()
		if err != nil {
			if !isClosed(err) && ctx.Err() == nil {
				serveErr = err
			}
			break
		}
		if env.Type != "request" {
			s.logger.Debug("Ignoring non-request message", "type", env.Type)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(ctx, msg, env)
		}()
	}

	cancel()
	_ = s.runtime.Disconnect()
	s.wg.Wait()
	<-events
	return serveErr
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// forwardEvents turns runtime events into DAP events
func (s *Session) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.runtime.Events():
			if !ok {
				return
			}
			if msg := s.translateEvent(ev); msg != nil {
				s.send(msg)
			}
		}
	}
}

func (s *Session) translateEvent(ev sdb.Event) dap.Message {
	switch ev.Kind {
	case sdb.EventStopped:
		return &dap.StoppedEvent{
			Event: newEvent("stopped"),
			Body: dap.StoppedEventBody{
				Reason:            string(ev.Reason),
				ThreadId:          threadID,
				AllThreadsStopped: true,
			},
		}
	case sdb.EventContinued:
		return &dap.ContinuedEvent{
			Event: newEvent("continued"),
			Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
		}
	case sdb.EventBreakpointChanged:
		return &dap.BreakpointEvent{
			Event: newEvent("breakpoint"),
			Body: dap.BreakpointEventBody{
				Reason: "changed",
				Breakpoint: dap.Breakpoint{
					Id:       ev.Breakpoint.ID,
					Verified: ev.Breakpoint.Verified,
					Line:     s.toClientLine(ev.Breakpoint.Line),
				},
			},
		}
	case sdb.EventOutput:
		body := dap.OutputEventBody{
			Category: string(ev.Output.Category),
			Output:   ev.Output.Text,
		}
		if ev.Output.File != "" {
			body.Source = &dap.Source{Path: ev.Output.File}
		}
		if ev.Output.Line > 0 {
			body.Line = s.toClientLine(ev.Output.Line)
		}
		return &dap.OutputEvent{Event: newEvent("output"), Body: body}
	case sdb.EventEnd:
		return &dap.TerminatedEvent{Event: newEvent("terminated")}
	}
	return nil
}

// dispatch routes one request to its handler
func (s *Session) dispatch(ctx context.Context, msg dap.Message, env Envelope) {
	ctx, done := s.track(ctx, env.Seq)
	defer done()

	switch req := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(req, env)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(req)
	case *dap.LaunchRequest:
		s.onLaunch(ctx, &req.Request, env)
	case *dap.AttachRequest:
		s.sendError(&req.Request, ErrAttachUnsupported,
			"attach is not supported: use launch with an empty program to connect to a running target")
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(ctx, req)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpoints(req)
	case *dap.ThreadsRequest:
		s.onThreads(req)
	case *dap.StackTraceRequest:
		s.onStackTrace(req)
	case *dap.ScopesRequest:
		s.onScopes(req)
	case *dap.VariablesRequest:
		s.onVariables(ctx, req)
	case *dap.ContinueRequest:
		s.onContinue(ctx, req)
	case *dap.NextRequest:
		s.onStep(ctx, &req.Request, &dap.NextResponse{}, s.runtime.StepOver)
	case *dap.StepInRequest:
		s.onStep(ctx, &req.Request, &dap.StepInResponse{}, s.runtime.StepIn)
	case *dap.StepOutRequest:
		s.onStep(ctx, &req.Request, &dap.StepOutResponse{}, s.runtime.StepOut)
	case *dap.EvaluateRequest:
		s.onEvaluate(ctx, req, env)
	case *dap.DisconnectRequest:
		s.onDisconnect(req)
	case *dap.CancelRequest:
		s.onCancel(req)
	case *dap.ExceptionInfoRequest:
		s.onExceptionInfo(req)
	case *dap.StepInTargetsRequest:
		s.onStepInTargets(req)
	case *dap.CompletionsRequest:
		s.onCompletions(ctx, req, env)
	case *dap.SourceRequest:
		s.onSource(req)
	default:
		base := &dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: env.Seq, Type: "request"},
			Command:         env.Command,
		}
		if env.Command == "toggleFormatting" {
			s.onToggleFormatting(base)
			return
		}
		s.logger.Debug("Unsupported request", "command", env.Command)
		s.sendError(base, ErrUnsupportedCommand, fmt.Sprintf("unsupported command '%s'", env.Command))
	}
}

// track registers a cancellable request context
func (s *Session) track(ctx context.Context, seq int) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.pending[seq] = cancel
	if s.cancelled[seq] {
		cancel()
	}
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.pending, seq)
		delete(s.cancelled, seq)
		s.mu.Unlock()
		cancel()
	}
}

func (s *Session) send(msg dap.Message) {
	if err := s.transport.Send(msg); err != nil {
		s.logger.Debug("Failed to send DAP message", "error", err)
	}
}

func newResponse(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           name,
	}
}

func (s *Session) sendError(req *dap.Request, id int, message string) {
	resp := newResponse(req)
	resp.Success = false
	resp.Message = message
	s.send(&dap.ErrorResponse{
		Response: resp,
		Body:     dap.ErrorResponseBody{Error: &dap.ErrorMessage{Id: id, Format: message}},
	})
}

// sendFailure answers a request whose round-trip failed, or "cancelled"
// when the request context was cancelled
func (s *Session) sendFailure(ctx context.Context, req *dap.Request, id int, message string, err error) {
	if ctx.Err() != nil {
		s.sendError(req, ErrCancelled, "cancelled")
		return
	}
	s.logger.Warn("Request failed", "command", req.Command, "error", err)
	s.sendError(req, id, message)
}

func (s *Session) capabilities() clientCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *Session) showHex() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hex
}

// formatHex applies a request's value format over the session toggle
func (s *Session) formatHex(f *dap.ValueFormat) bool {
	if f != nil {
		return f.Hex
	}
	return s.showHex()
}

func (s *Session) toClientLine(line int) int {
	if s.capabilities().linesStartAt1 {
		return line
	}
	return line - 1
}

func (s *Session) fromClientLine(line int) int {
	if s.capabilities().linesStartAt1 {
		return line
	}
	return line + 1
}

func source(path string) *dap.Source {
	return &dap.Source{
		Name:        filepath.Base(path),
		Path:        path,
		AdapterData: adapterData,
	}
}

func (s *Session) onInitialize(req *dap.InitializeRequest, env Envelope) {
	var raw struct {
		LinesStartAt1 *bool `json:"linesStartAt1"`
	}
	_ = json.Unmarshal(env.Arguments, &raw)

	args := req.Arguments
	s.mu.Lock()
	s.caps = clientCapabilities{
		linesStartAt1:    raw.LinesStartAt1 == nil || *raw.LinesStartAt1,
		progress:         args.SupportsProgressReporting,
		variableType:     args.SupportsVariableType,
		invalidated:      args.SupportsInvalidatedEvent,
		memoryReferences: args.SupportsMemoryReferences,
	}
	s.mu.Unlock()
	s.logger.Info("Initialize", "client", args.ClientID, "adapter", args.AdapterID)

	s.send(&dap.InitializeResponse{
		Response: newResponse(&req.Request),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsEvaluateForHovers:        true,
			SupportsStepBack:                 false,
			SupportsDataBreakpoints:          false,
			SupportsLogPoints:                true,
			SupportsCompletionsRequest:       true,
			CompletionTriggerCharacters:      []string{".", "["},
			SupportsCancelRequest:            true,
			SupportsStepInTargetsRequest:     true,
			SupportsExceptionInfoRequest:     true,
			ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
				{
					Filter:               "namedException",
					Label:                "Named Exception",
					Description:          "Break on named exceptions. Enter the exception's name as the Condition.",
					Default:              false,
					SupportsCondition:    true,
					ConditionDescription: "Enter the exception's name",
				},
				{
					Filter:      "otherExceptions",
					Label:       "Other Exceptions",
					Description: "Break on all other exceptions",
					Default:     true,
				},
			},
		},
	})
	s.send(&dap.InitializedEvent{Event: newEvent("initialized")})
}

func (s *Session) onConfigurationDone(req *dap.ConfigurationDoneRequest) {
	s.send(&dap.ConfigurationDoneResponse{Response: newResponse(&req.Request)})
	s.configDoneOnce.Do(func() {
		close(s.configDone)
	})
}

// waitConfigurationDone blocks until configurationDone or the configured
// timeout; launch proceeds either way
func (s *Session) waitConfigurationDone(ctx context.Context) {
	timer := time.NewTimer(s.opts.ConfigurationDoneTimeout)
	defer timer.Stop()
	select {
	case <-s.configDone:
	case <-timer.C:
		s.logger.Debug("configurationDone not received, launching anyway")
	case <-ctx.Done():
	}
}

func (s *Session) onLaunch(ctx context.Context, req *dap.Request, env Envelope) {
	var args launchArguments
	if len(env.Arguments) > 0 {
		if err := json.Unmarshal(env.Arguments, &args); err != nil {
			s.sendError(req, ErrLaunchFailed, fmt.Sprintf("invalid launch arguments: %v", err))
			return
		}
	}
	if args.HostnamePort == "" {
		args.HostnamePort = s.opts.DefaultHostnamePort
	}
	if args.Trace {
		s.logger.Debug("Launch", "hostname_port", args.HostnamePort, "program", args.Program, "no_debug", args.NoDebug)
	}

	s.waitConfigurationDone(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	endProgress := func(string) {}
	if s.capabilities().progress {
		endProgress = s.startProgress(req.Seq, "Connecting to "+args.HostnamePort, cancel)
	}

	err := s.runtime.Start(ctx, args.HostnamePort, args.Program, args.NoDebug)
	if err != nil {
		if ctx.Err() != nil {
			endProgress("cancelled")
			s.sendError(req, ErrCancelled, "cancelled")
			return
		}
		endProgress("failed")
		s.logger.Warn("Launch failed", "error", err)
		s.sendError(req, ErrLaunchFailed, fmt.Sprintf("Failed to launch: %v", err))
		return
	}
	endProgress("connected")
	s.send(&dap.LaunchResponse{Response: newResponse(req)})
}

// startProgress reports a cancellable operation. It polls the cancellation
// flag once per ProgressInterval and calls cancel when it is set. The
// returned function ends the progress.
func (s *Session) startProgress(requestSeq int, title string, cancel context.CancelFunc) func(message string) {
	id := uuid.New().String()
	s.mu.Lock()
	s.progress[id] = false
	s.mu.Unlock()

	s.send(&dap.ProgressStartEvent{
		Event: newEvent("progressStart"),
		Body: dap.ProgressStartEventBody{
			ProgressId:  id,
			Title:       title,
			RequestId:   requestSeq,
			Cancellable: true,
		},
	})

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				cancelled := s.progress[id]
				s.mu.Unlock()
				if cancelled {
					cancel()
					return
				}
				s.send(&dap.ProgressUpdateEvent{
					Event: newEvent("progressUpdate"),
					Body:  dap.ProgressUpdateEventBody{ProgressId: id, Message: s.runtime.State().String()},
				})
			}
		}
	}()

	return func(message string) {
		close(stop)
		<-stopped
		s.mu.Lock()
		delete(s.progress, id)
		s.mu.Unlock()
		s.send(&dap.ProgressEndEvent{
			Event: newEvent("progressEnd"),
			Body:  dap.ProgressEndEventBody{ProgressId: id, Message: message},
		})
	}
}

func (s *Session) onSetBreakpoints(ctx context.Context, req *dap.SetBreakpointsRequest) {
	path := req.Arguments.Source.Path
	lines := make([]int, 0, len(req.Arguments.Breakpoints))
	for _, bp := range req.Arguments.Breakpoints {
		lines = append(lines, s.fromClientLine(bp.Line))
	}
	if len(req.Arguments.Breakpoints) == 0 {
		for _, line := range req.Arguments.Lines {
			lines = append(lines, s.fromClientLine(line))
		}
	}
	s.logger.Debug("setBreakpoints", "file", path, "lines", lines)

	bps, err := s.runtime.SetFileBreakpoints(ctx, path, lines)
	message := ""
	if err != nil {
		// the breakpoints stay registered and are verified on the next connect
		s.logger.Warn("Breakpoint verification failed", "file", path, "error", err)
		message = "Breakpoint could not be verified"
	}

	out := make([]dap.Breakpoint, 0, len(bps))
	for _, bp := range bps {
		out = append(out, dap.Breakpoint{
			Id:       bp.ID,
			Verified: bp.Verified,
			Line:     s.toClientLine(bp.Line),
			Source:   source(path),
			Message:  message,
		})
	}
	s.send(&dap.SetBreakpointsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: out},
	})
}

func (s *Session) onSetExceptionBreakpoints(req *dap.SetExceptionBreakpointsRequest) {
	// the target has no exception control; filters are only recorded
	s.logger.Info("Exception filters not supported by target", "filters", req.Arguments.Filters)
	s.send(&dap.SetExceptionBreakpointsResponse{Response: newResponse(&req.Request)})
}

func (s *Session) onThreads(req *dap.ThreadsRequest) {
	s.send(&dap.ThreadsResponse{
		Response: newResponse(&req.Request),
		Body: dap.ThreadsResponseBody{
			Threads: []dap.Thread{{Id: threadID, Name: "thread 1"}},
		},
	})
}

func (s *Session) onStackTrace(req *dap.StackTraceRequest) {
	levels := req.Arguments.Levels
	if levels <= 0 {
		levels = 1000
	}
	frames, total := s.runtime.Stack(req.Arguments.StartFrame, levels)

	out := make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		out = append(out, dap.StackFrame{
			Id:     f.Index,
			Name:   f.Name,
			Source: source(f.File),
			Line:   s.toClientLine(f.Line),
		})
	}
	s.send(&dap.StackTraceResponse{
		Response: newResponse(&req.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: out, TotalFrames: total},
	})
}

func (s *Session) onScopes(req *dap.ScopesRequest) {
	s.send(&dap.ScopesResponse{
		Response: newResponse(&req.Request),
		Body: dap.ScopesResponseBody{
			Scopes: []dap.Scope{
				{Name: "Local", VariablesReference: s.handles.Create(LocalPath(req.Arguments.FrameId)), Expensive: false},
				{Name: "Global", VariablesReference: s.handles.Create(GlobalPath()), Expensive: true},
			},
		},
	})
}

// queryScope lists the children of a parsed handle path
func (s *Session) queryScope(ctx context.Context, sp ScopePath) ([]types.Variable, error) {
	if sp.Kind == ScopeLocal {
		return s.runtime.LocalVariables(ctx, sp.Frame, sp.Path)
	}
	return s.runtime.GlobalVariables(ctx, sp.Path)
}

// toVariable converts a target variable, allocating a child handle below
// parent when it has children
func (s *Session) toVariable(v types.Variable, parent string, hex bool) dap.Variable {
	caps := s.capabilities()
	out := dap.Variable{
		Name:             v.PathUIString,
		Value:            FormatValue(v, hex),
		PresentationHint: PresentationHint(v),
	}
	if caps.variableType {
		out.Type = v.ValueType.String()
	}
	if caps.memoryReferences && v.ValueRawAddress != 0 {
		out.MemoryReference = memoryReference(v.ValueRawAddress)
	}
	if v.HasChildren() {
		out.VariablesReference = s.handles.Create(ChildPath(parent, v.PathIterator))
	}
	return out
}

func (s *Session) onVariables(ctx context.Context, req *dap.VariablesRequest) {
	const failed = "Failed to retrieve variables."

	path, ok := s.handles.Get(req.Arguments.VariablesReference)
	if !ok {
		s.sendFailure(ctx, &req.Request, ErrVariablesFailed, failed,
			fmt.Errorf("unknown variables reference %d", req.Arguments.VariablesReference))
		return
	}
	sp, err := ParseScopePath(path)
	if err != nil {
		s.sendFailure(ctx, &req.Request, ErrVariablesFailed, failed, err)
		return
	}

	vars, err := s.queryScope(ctx, sp)
	if err != nil {
		s.sendFailure(ctx, &req.Request, ErrVariablesFailed, failed, err)
		return
	}

	hex := s.formatHex(req.Arguments.Format)
	out := make([]dap.Variable, 0, len(vars))
	for _, v := range vars {
		out = append(out, s.toVariable(v, path, hex))
	}
	s.send(&dap.VariablesResponse{
		Response: newResponse(&req.Request),
		Body:     dap.VariablesResponseBody{Variables: out},
	})
}

func (s *Session) onContinue(ctx context.Context, req *dap.ContinueRequest) {
	if err := s.runtime.Continue(ctx); err != nil {
		s.sendFailure(ctx, &req.Request, ErrCommandFailed, "Failed to continue.", err)
		return
	}
	s.send(&dap.ContinueResponse{
		Response: newResponse(&req.Request),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
	})
}

// onStep forwards one step command and answers with resp once it completed
func (s *Session) onStep(ctx context.Context, req *dap.Request, resp dap.ResponseMessage, step func(context.Context) error) {
	if err := step(ctx); err != nil {
		s.sendFailure(ctx, req, ErrCommandFailed, fmt.Sprintf("Failed to %s.", req.Command), err)
		return
	}
	*resp.GetResponse() = newResponse(req)
	s.send(resp)
}

func echo(evalContext, expression string) string {
	return fmt.Sprintf("evaluate(context: '%s', '%s')", evalContext, expression)
}

func (s *Session) onEvaluate(ctx context.Context, req *dap.EvaluateRequest, env Envelope) {
	args := req.Arguments
	immediate := (args.Context == "hover" || args.Context == "watch") && !s.opts.DisableImmediateValues
	if !immediate {
		s.send(&dap.EvaluateResponse{
			Response: newResponse(&req.Request),
			Body:     dap.EvaluateResponseBody{Result: echo(args.Context, args.Expression)},
		})
		return
	}

	var raw struct {
		FrameID *int `json:"frameId"`
	}
	_ = json.Unmarshal(env.Arguments, &raw)
	frame := -1
	if raw.FrameID != nil {
		frame = *raw.FrameID
	}

	const failed = "Failed to retrieve immediate value result."
	values, err := s.runtime.ImmediateValues(ctx, frame, []string{args.Expression})
	if err == nil && len(values) == 0 {
		err = fmt.Errorf("no value returned for %q", args.Expression)
	}
	if err != nil {
		s.sendFailure(ctx, &req.Request, ErrEvaluateFailed, failed, err)
		return
	}

	iv := values[0]
	v := iv.Variable
	hex := s.formatHex(args.Format)
	caps := s.capabilities()
	body := dap.EvaluateResponseBody{
		Result:           FormatValue(v, hex),
		PresentationHint: PresentationHint(v),
	}
	if caps.variableType {
		body.Type = v.ValueType.String()
	}
	if caps.memoryReferences && v.ValueRawAddress != 0 {
		body.MemoryReference = memoryReference(v.ValueRawAddress)
	}
	if v.HasChildren() {
		switch iv.Scope {
		case types.ScopeLocal:
			body.VariablesReference = s.handles.Create(LocalPath(frame) + joinIterators(iv.IteratorPath))
		case types.ScopeGlobal:
			body.VariablesReference = s.handles.Create(GlobalPath() + joinIterators(iv.IteratorPath))
		}
	}
	s.send(&dap.EvaluateResponse{Response: newResponse(&req.Request), Body: body})
}

func (s *Session) onDisconnect(req *dap.DisconnectRequest) {
	if err := s.runtime.Disconnect(); err != nil {
		s.logger.Debug("Disconnect", "error", err)
	}
	s.send(&dap.DisconnectResponse{Response: newResponse(&req.Request)})
}

func (s *Session) onCancel(req *dap.CancelRequest) {
	if args := req.Arguments; args != nil {
		s.mu.Lock()
		if args.RequestId != 0 {
			s.cancelled[args.RequestId] = true
			if cancel, ok := s.pending[args.RequestId]; ok {
				cancel()
			}
		}
		if args.ProgressId != "" {
			if _, ok := s.progress[args.ProgressId]; ok {
				s.progress[args.ProgressId] = true
			}
		}
		s.mu.Unlock()
		s.logger.Debug("Cancel", "request_id", args.RequestId, "progress_id", args.ProgressId)
	}
	s.send(&dap.CancelResponse{Response: newResponse(&req.Request)})
}

func (s *Session) onToggleFormatting(req *dap.Request) {
	s.mu.Lock()
	s.hex = !s.hex
	hex := s.hex
	invalidated := s.caps.invalidated
	s.mu.Unlock()
	s.logger.Debug("Toggled hex formatting", "hex", hex)

	if invalidated {
		s.send(&dap.InvalidatedEvent{
			Event: newEvent("invalidated"),
			Body:  dap.InvalidatedEventBody{Areas: []dap.InvalidatedAreas{"variables"}},
		})
	}
	resp := newResponse(req)
	s.send(&resp)
}

func (s *Session) onExceptionInfo(req *dap.ExceptionInfoRequest) {
	status, ok := s.runtime.Status()
	if !ok || !status.Paused() || len(status.Stack) == 0 {
		s.sendError(&req.Request, ErrNotPaused, "The target is not paused.")
		return
	}

	reason := sdb.InterpretStatus(status).Reason
	top := status.Stack[0]
	trace := make([]string, 0, len(status.Stack))
	for _, e := range status.Stack {
		trace = append(trace, fmt.Sprintf("%s (%s:%d)", e.Function, e.File, e.Line))
	}
	s.send(&dap.ExceptionInfoResponse{
		Response: newResponse(&req.Request),
		Body: dap.ExceptionInfoResponseBody{
			ExceptionId: string(reason),
			Description: fmt.Sprintf("Paused in %s at %s:%d", top.Function, top.File, s.toClientLine(top.Line)),
			BreakMode:   "always",
			Details: &dap.ExceptionDetails{
				Message:    fmt.Sprintf("stopped on %s", reason),
				TypeName:   string(reason),
				StackTrace: strings.Join(trace, "\n"),
			},
		},
	})
}

func (s *Session) onStepInTargets(req *dap.StepInTargetsRequest) {
	s.send(&dap.StepInTargetsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.StepInTargetsResponseBody{Targets: []dap.StepInTarget{}},
	})
}

// completionPrefix returns the identifier fragment ending at column
func completionPrefix(text string, column int) string {
	end := column - 1
	if end < 0 || end > len(text) {
		end = len(text)
	}
	start := end
	for start > 0 {
		c := text[start-1]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			start--
			continue
		}
		break
	}
	return text[start:end]
}

func (s *Session) onCompletions(ctx context.Context, req *dap.CompletionsRequest, env Envelope) {
	var raw struct {
		FrameID *int `json:"frameId"`
	}
	_ = json.Unmarshal(env.Arguments, &raw)

	prefix := completionPrefix(req.Arguments.Text, req.Arguments.Column)

	var vars []types.Variable
	var err error
	if raw.FrameID != nil {
		vars, err = s.runtime.LocalVariables(ctx, *raw.FrameID, "")
	} else {
		vars, err = s.runtime.GlobalVariables(ctx, "")
	}
	if err != nil {
		if ctx.Err() != nil {
			s.sendError(&req.Request, ErrCancelled, "cancelled")
			return
		}
		s.logger.Debug("Completions unavailable", "error", err)
		vars = nil
	}

	targets := make([]dap.CompletionItem, 0, len(vars))
	for _, v := range vars {
		if strings.HasPrefix(v.PathUIString, prefix) {
			targets = append(targets, dap.CompletionItem{Label: v.PathUIString, Type: "variable"})
		}
	}
	s.send(&dap.CompletionsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.CompletionsResponseBody{Targets: targets},
	})
}

func (s *Session) onSource(req *dap.SourceRequest) {
	if req.Arguments.Source == nil || req.Arguments.Source.Path == "" {
		s.sendError(&req.Request, ErrSourceFailed, "source request without a path")
		return
	}
	path := req.Arguments.Source.Path
	lines, err := s.runtime.LoadSource(path)
	if err != nil {
		s.logger.Warn("Failed to load source", "path", path, "error", err)
		s.sendError(&req.Request, ErrSourceFailed, fmt.Sprintf("Could not load source '%s'.", path))
		return
	}
	s.send(&dap.SourceResponse{
		Response: newResponse(&req.Request),
		Body:     dap.SourceResponseBody{Content: strings.Join(lines, "\n")},
	})
}
