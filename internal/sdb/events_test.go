package sdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestDispatcher_DeliversInOrderAfterEmit(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	// nothing is listening yet; emitting must not block
	for i := 1; i <= 100; i++ {
		require.True(t, d.Emit(Event{Kind: EventOutput, Output: Output{Line: i}}))
	}

	for i := 1; i <= 100; i++ {
		ev := receive(t, d.Events())
		assert.Equal(t, i, ev.Output.Line)
	}
}

func TestDispatcher_CloseRejectsEmit(t *testing.T) {
	d := NewDispatcher()
	d.Emit(Event{Kind: EventContinued})
	assert.Equal(t, EventContinued, receive(t, d.Events()).Kind)

	d.Close()
	d.Close()
	assert.False(t, d.Emit(Event{Kind: EventOutput}))
	waitClosed(t, d.Events())
}

func TestDispatcher_CloseWithoutListener(t *testing.T) {
	d := NewDispatcher()
	for i := 0; i < 10; i++ {
		d.Emit(Event{Kind: EventOutput, Output: Output{Line: i}})
	}
	// give the pump time to block on the first send
	time.Sleep(20 * time.Millisecond)

	d.Close()
	waitClosed(t, d.Events())
}

// waitClosed drains ch and fails unless it closes within a deadline
func waitClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed")
		}
	}
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "stopped", EventStopped.String())
	assert.Equal(t, "breakpointChanged", EventBreakpointChanged.String())
	assert.Equal(t, "end", EventEnd.String())
	assert.Equal(t, "event(42)", EventKind(42).String())
}
