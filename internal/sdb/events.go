package sdb

import (
	"fmt"
	"sync"
)

// EventKind tags the variant carried by an Event
type EventKind int

const (
	EventStopped EventKind = iota
	EventContinued
	EventBreakpointChanged
	EventOutput
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStopped:
		return "stopped"
	case EventContinued:
		return "continued"
	case EventBreakpointChanged:
		return "breakpointChanged"
	case EventOutput:
		return "output"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// StopReason is why a Stopped event fired
type StopReason string

const (
	StopBreakpoint StopReason = "breakpoint"
	StopStep       StopReason = "step"
)

// OutputCategory classifies an Output event the way DAP output events do
type OutputCategory string

const (
	CategoryConsole   OutputCategory = "console"
	CategoryStderr    OutputCategory = "stderr"
	CategoryImportant OutputCategory = "important"
)

// Output is the payload of an Output event
type Output struct {
	Text     string
	Category OutputCategory
	File     string
	Line     int
}

// Event is one notification from the runtime. Only the field matching Kind
// is meaningful.
type Event struct {
	Kind       EventKind
	Reason     StopReason
	Breakpoint Breakpoint
	Output     Output
}

// Dispatcher delivers events in emission order on its own goroutine.
// Emit only enqueues, so a listener attached before Start sees every event
// and an emitter never blocks on a slow listener.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	signal chan struct{}
	done   chan struct{}
	out    chan Event
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event),
	}
	go d.pump()
	return d
}

// Emit queues an event. It returns false once the dispatcher is closed.
func (d *Dispatcher) Emit(ev Event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	d.wake()
	return true
}

// Events returns the delivery channel. It is closed once Close has been
// called and the delivery goroutine has stopped.
func (d *Dispatcher) Events() <-chan Event {
	return d.out
}

// Close stops accepting events. Queued events nobody receives are dropped,
// so the delivery goroutine exits even without a listener.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	close(d.done)
}

func (d *Dispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pump() {
	defer close(d.out)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-d.signal:
			case <-d.done:
			}
			continue
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			select {
			case d.out <- ev:
			case <-d.done:
				return
			}
		}
	}
}
