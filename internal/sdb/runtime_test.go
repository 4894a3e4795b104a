package sdb

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/sdb-dap/internal/config"
	sdberrors "github.com/ctagard/sdb-dap/internal/errors"
	"github.com/ctagard/sdb-dap/internal/sdbtest"
	"github.com/ctagard/sdb-dap/pkg/types"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Probe = RetryPolicy{Attempts: 5, Backoff: config.BackoffFixed, Interval: time.Millisecond}
	opts.HandshakeTimeout = time.Second
	opts.CommandTimeout = 2 * time.Second
	return opts
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := NewRuntime(testOptions())
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// nextOf skips events until one of kind arrives
func nextOf(t *testing.T, rt *Runtime, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-rt.Events():
			require.True(t, ok, "event channel closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func pausedAt(bpID int, entries ...types.StackEntry) types.Status {
	return types.Status{Runstate: types.RunstatePaused, Stack: entries, PausedAtBreakpointID: bpID}
}

func TestInterpretStatus(t *testing.T) {
	running := types.Status{Runstate: types.RunstateRunning, PausedAtBreakpointID: 7}
	assert.Equal(t, Event{Kind: EventContinued}, InterpretStatus(running))

	stepping := types.Status{Runstate: types.RunstateStepping}
	assert.Equal(t, EventContinued, InterpretStatus(stepping).Kind)

	entry := types.StackEntry{File: "main.nut", Line: 3, Function: "main"}
	assert.Equal(t, Event{Kind: EventStopped, Reason: StopStep}, InterpretStatus(pausedAt(0, entry)))
	assert.Equal(t, Event{Kind: EventStopped, Reason: StopBreakpoint}, InterpretStatus(pausedAt(7, entry)))
}

func TestRuntime_DisconnectedVerificationIsLocal(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()

	bp, err := rt.SetBreakpoint(ctx, "a.nut", 5)
	require.NoError(t, err)
	assert.Equal(t, Breakpoint{ID: 1, Line: 5}, bp)
	ev := nextOf(t, rt, EventBreakpointChanged)
	assert.Equal(t, bp, ev.Breakpoint)

	bps, err := rt.SetFileBreakpoints(ctx, "b.nut", []int{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, bps, 3)
	for _, want := range bps {
		ev := nextOf(t, rt, EventBreakpointChanged)
		assert.Equal(t, want, ev.Breakpoint)
		assert.False(t, ev.Breakpoint.Verified)
	}

	assert.Empty(t, target.Requests(""))
	assert.Zero(t, target.Probes())
	assert.Equal(t, StateIdle, rt.State())
}

func TestRuntime_StartReplaysBreakpoints(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()

	local, err := rt.SetFileBreakpoints(ctx, "main.nut", []int{10, 20})
	require.NoError(t, err)
	nextOf(t, rt, EventBreakpointChanged)
	nextOf(t, rt, EventBreakpointChanged)

	require.NoError(t, rt.Start(ctx, target.HostPort(), "", false))
	assert.Equal(t, StateConnected, rt.State())

	reqs := target.Requests("FileBreakpoints")
	require.Len(t, reqs, 1)
	assert.Equal(t, "PUT", reqs[0].Method)
	var body types.FileBreakpointsCommand
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, "main.nut", body.File)
	assert.Equal(t, []types.BreakpointRequest{
		{ID: local[0].ID, Line: 10},
		{ID: local[1].ID, Line: 20},
	}, body.Breakpoints)

	first := nextOf(t, rt, EventBreakpointChanged)
	second := nextOf(t, rt, EventBreakpointChanged)
	assert.Equal(t, Breakpoint{ID: 1000, Line: 10, Verified: true}, first.Breakpoint)
	assert.Equal(t, Breakpoint{ID: 1001, Line: 20, Verified: true}, second.Breakpoint)
	assert.Equal(t, []Breakpoint{first.Breakpoint, second.Breakpoint}, rt.Breakpoints("main.nut"))

	// SendStatus follows verification and the running snapshot continues
	nextOf(t, rt, EventContinued)
	assert.Len(t, target.Requests("SendStatus"), 1)
}

func TestRuntime_ProbeBudgetExhausted(t *testing.T) {
	target := sdbtest.New(t)
	target.FailProbes(5)
	rt := newTestRuntime(t)

	err := rt.Start(context.Background(), target.HostPort(), "", false)
	require.Error(t, err)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeConnectFailed))

	nextOf(t, rt, EventEnd)
	assert.Equal(t, 5, target.Probes())
	assert.Empty(t, target.Requests(""))
	assert.Equal(t, StateTerminated, rt.State())
}

func TestRuntime_ProbeRecovers(t *testing.T) {
	target := sdbtest.New(t)
	target.FailProbes(4)
	rt := newTestRuntime(t)

	require.NoError(t, rt.Start(context.Background(), target.HostPort(), "", false))
	assert.Equal(t, 5, target.Probes())
	nextOf(t, rt, EventContinued)
}

func TestRuntime_HandshakeRejected(t *testing.T) {
	target := sdbtest.New(t)
	target.RejectUpgrade()
	rt := newTestRuntime(t)

	err := rt.Start(context.Background(), target.HostPort(), "", false)
	require.Error(t, err)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeHandshakeFailed))
	nextOf(t, rt, EventEnd)
	assert.Empty(t, target.Requests("SendStatus"))
}

func TestRuntime_StartTwice(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx, target.HostPort(), "", false))
	err := rt.Start(ctx, target.HostPort(), "", false)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeAlreadyStarted))
}

func TestRuntime_SendStatusFailureIsFatal(t *testing.T) {
	target := sdbtest.New(t)
	target.FailCommand("SendStatus")
	rt := newTestRuntime(t)

	err := rt.Start(context.Background(), target.HostPort(), "", false)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeCommandFailed))
	nextOf(t, rt, EventEnd)
	assert.Equal(t, StateTerminated, rt.State())
}

func TestRuntime_PushedEvents(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	require.NoError(t, rt.Start(context.Background(), target.HostPort(), "", false))
	nextOf(t, rt, EventContinued)

	// malformed frames are dropped without ending the session
	require.NoError(t, target.PushRaw([]byte("not json")))
	require.NoError(t, target.PushRaw([]byte(`{"type":"bogus","message":{}}`)))
	require.NoError(t, target.PushRaw([]byte(`{"type":"status","message":{"stack":[]}}`)))

	require.NoError(t, target.PushOutput(types.OutputLine{Output: "hello", File: "main.nut", Line: 4}))
	require.NoError(t, target.PushOutput(types.OutputLine{Output: "oops", IsErr: true}))

	entry := types.StackEntry{File: "main.nut", Line: 3, Function: "main"}
	require.NoError(t, target.PushStatus(pausedAt(7, entry)))

	out := nextOf(t, rt, EventOutput)
	assert.Equal(t, Output{Text: "hello", Category: CategoryConsole, File: "main.nut", Line: 4}, out.Output)
	out = nextOf(t, rt, EventOutput)
	assert.Equal(t, CategoryStderr, out.Output.Category)

	stopped := nextOf(t, rt, EventStopped)
	assert.Equal(t, StopBreakpoint, stopped.Reason)

	status, ok := rt.Status()
	require.True(t, ok)
	assert.Equal(t, 7, status.PausedAtBreakpointID)
	assert.Equal(t, []types.StackEntry{entry}, status.Stack)
	assert.Equal(t, StateConnected, rt.State())
}

func TestRuntime_Stack(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	require.NoError(t, rt.Start(context.Background(), target.HostPort(), "", false))
	nextOf(t, rt, EventContinued)

	frames, total := rt.Stack(0, 0)
	assert.Empty(t, frames)
	assert.Zero(t, total)

	require.NoError(t, target.PushStatus(pausedAt(0,
		types.StackEntry{File: "a.nut", Line: 1, Function: "inner"},
		types.StackEntry{File: "a.nut", Line: 5, Function: "middle"},
		types.StackEntry{File: "b.nut", Line: 9, Function: "outer"},
	)))
	nextOf(t, rt, EventStopped)

	frames, total = rt.Stack(0, 1000)
	assert.Equal(t, 3, total)
	require.Len(t, frames, 3)
	assert.Equal(t, Frame{Index: 0, Name: "inner", File: "a.nut", Line: 1}, frames[0])

	frames, total = rt.Stack(1, 1)
	assert.Equal(t, 3, total)
	assert.Equal(t, []Frame{{Index: 1, Name: "middle", File: "a.nut", Line: 5}}, frames)

	frames, _ = rt.Stack(5, 0)
	assert.Empty(t, frames)
}

func TestRuntime_Commands(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()

	err := rt.Continue(ctx)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeNotConnected))

	require.NoError(t, rt.Start(ctx, target.HostPort(), "", false))
	nextOf(t, rt, EventContinued)

	require.NoError(t, rt.StepOver(ctx))
	assert.Equal(t, StopStep, nextOf(t, rt, EventStopped).Reason)
	require.NoError(t, rt.StepIn(ctx))
	nextOf(t, rt, EventStopped)
	require.NoError(t, rt.StepOut(ctx))
	nextOf(t, rt, EventStopped)
	require.NoError(t, rt.Continue(ctx))
	nextOf(t, rt, EventContinued)

	for _, name := range []string{"StepOver", "StepIn", "StepOut", "Continue"} {
		reqs := target.Requests(name)
		require.Len(t, reqs, 1, name)
		assert.Equal(t, "PUT", reqs[0].Method)
		assert.Equal(t, "/DebugCommand/"+name, reqs[0].Path)
	}

	target.FailCommand("Continue")
	err = rt.Continue(ctx)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeCommandFailed))
}

func TestRuntime_Variables(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx, target.HostPort(), "", false))

	locals := []types.Variable{
		{PathIterator: 0, PathUIString: "x", ValueType: types.VariableTypeInteger, Value: "42"},
		{PathIterator: 1, PathUIString: "t", ValueType: types.VariableTypeTable, Value: "{...}", ChildCount: 2},
	}
	target.SetLocals(2, "", locals)
	target.SetLocals(2, "1", locals[:1])
	target.SetGlobals("3,0", locals[1:])

	got, err := rt.LocalVariables(ctx, 2, "")
	require.NoError(t, err)
	assert.Equal(t, locals, got)

	got, err = rt.LocalVariables(ctx, 2, "1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = rt.GlobalVariables(ctx, "3,0")
	require.NoError(t, err)
	assert.Equal(t, "t", got[0].PathUIString)
	reqs := target.Requests("Variables/Global")
	require.Len(t, reqs, 1)
	assert.Equal(t, "GET", reqs[0].Method)
	assert.Equal(t, "/DebugCommand/Variables/Global?path=3%2C0", reqs[0].Path)

	_, err = rt.LocalVariables(ctx, 9, "")
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeQueryFailed))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 404, statusErr.StatusCode)
}

func TestRuntime_ImmediateValues(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx, target.HostPort(), "", false))

	target.SetImmediateResolver(func(frame int, paths []string) []types.ImmediateValue {
		out := make([]types.ImmediateValue, 0, len(paths))
		for i, p := range paths {
			out = append(out, types.ImmediateValue{
				Variable:     types.Variable{PathIterator: i, PathUIString: p, ValueType: types.VariableTypeInteger, Value: "1"},
				Scope:        types.ScopeLocal,
				IteratorPath: []int{frame, i},
			})
		}
		return out
	})

	values, err := rt.ImmediateValues(ctx, 0, []string{"a", "b.c"})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "b.c", values[1].Variable.PathUIString)
	assert.Equal(t, []int{0, 1}, values[1].IteratorPath)

	reqs := target.Requests("Variables/Immediate")
	require.Len(t, reqs, 1)
	assert.Equal(t, "/DebugCommand/Variables/Immediate/0", reqs[0].Path)
	assert.JSONEq(t, `["a","b.c"]`, string(reqs[0].Body))

	_, err = rt.ImmediateValues(ctx, -1, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(target.Requests("Variables/Immediate")[1].Body))
}

func TestRuntime_ConnectedBreakpoints(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx, target.HostPort(), "", false))

	bp, err := rt.SetBreakpoint(ctx, "main.nut", 4)
	require.NoError(t, err)
	// the target assigned a new id, so the local entry is returned
	assert.Equal(t, Breakpoint{ID: 1, Line: 4}, bp)
	changed := nextOf(t, rt, EventBreakpointChanged)
	assert.Equal(t, Breakpoint{ID: 1000, Line: 4, Verified: true}, changed.Breakpoint)

	target.SetBreakpointResolver(func(cmd types.FileBreakpointsCommand) []types.ResolvedBreakpoint {
		out := make([]types.ResolvedBreakpoint, 0, len(cmd.Breakpoints))
		for _, b := range cmd.Breakpoints {
			out = append(out, types.ResolvedBreakpoint{ID: b.ID, Line: b.Line + 1, Verified: b.Line != 99})
		}
		return out
	})
	bps, err := rt.SetFileBreakpoints(ctx, "main.nut", []int{7, 99})
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.Equal(t, 8, bps[0].Line)
	assert.True(t, bps[0].Verified)
	assert.False(t, bps[1].Verified)

	target.FailCommand("FileBreakpoints")
	bps, err = rt.SetFileBreakpoints(ctx, "other.nut", []int{1})
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeCommandFailed))
	require.Len(t, bps, 1)
	assert.False(t, bps[0].Verified)

	removed, ok := rt.ClearBreakpoint("main.nut", 8)
	require.True(t, ok)
	assert.Equal(t, 8, removed.Line)
	assert.ElementsMatch(t, []string{"main.nut", "other.nut"}, rt.BreakpointFiles())
}

func TestRuntime_StreamClosedByTarget(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	require.NoError(t, rt.Start(context.Background(), target.HostPort(), "", false))
	nextOf(t, rt, EventContinued)

	target.DropConnections()
	nextOf(t, rt, EventEnd)
	assert.Equal(t, StateTerminated, rt.State())
}

func TestRuntime_DisconnectIsIdempotent(t *testing.T) {
	target := sdbtest.New(t)
	rt := newTestRuntime(t)
	require.NoError(t, rt.Start(context.Background(), target.HostPort(), "", false))

	require.NoError(t, rt.Disconnect())
	require.NoError(t, rt.Disconnect())
	nextOf(t, rt, EventEnd)
	assert.Equal(t, StateTerminated, rt.State())
}

func TestRuntime_CloseWithoutReadingEvents(t *testing.T) {
	target := sdbtest.New(t)
	rt := NewRuntime(testOptions())
	require.NoError(t, rt.Start(context.Background(), target.HostPort(), "", false))

	require.NoError(t, rt.Close())
	waitClosed(t, rt.Events())
}

func TestRuntime_ProcessExitBeforeConnection(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	target := sdbtest.New(t)
	target.FailProbes(1 << 20)

	opts := testOptions()
	opts.Probe = RetryPolicy{Attempts: 1000, Backoff: config.BackoffFixed, Interval: 10 * time.Millisecond}
	rt := NewRuntime(opts)
	t.Cleanup(func() { _ = rt.Close() })

	done := make(chan error, 1)
	go func() {
		done <- rt.Start(context.Background(), target.HostPort(), "echo oops 1>&2; exit 2", false)
	}()

	out := nextOf(t, rt, EventOutput)
	assert.Equal(t, CategoryImportant, out.Output.Category)
	assert.Equal(t, "Process exited with code 2 before connection to debugger websocket could be established.\nLast stderr: oops", out.Output.Text)
	nextOf(t, rt, EventEnd)

	require.NoError(t, rt.Disconnect())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Disconnect")
	}
}

func TestRuntime_LoadSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.nut")
	require.NoError(t, os.WriteFile(path, []byte("local a = 1\r\nprint(a)\n"), 0o644))

	rt := newTestRuntime(t)
	lines, err := rt.LoadSource(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"local a = 1", "print(a)", ""}, lines)

	_, err = rt.LoadSource(filepath.Join(dir, "missing.nut"))
	require.Error(t, err)
	assert.True(t, sdberrors.HasCode(err, sdberrors.CodeReadFailed))
	assert.True(t, strings.Contains(err.Error(), "missing.nut"))
}
