package mcp

import (
	"context"
	"sync"

	"github.com/ctagard/sdb-dap/internal/sdb"
)

// outputLimit is how many output lines a monitor keeps
const outputLimit = 200

// outputLine is one remembered Output event
type outputLine struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// monitor drains the events of one runtime. MCP sessions have no DAP client
// reading them, so the monitor keeps what a snapshot needs.
type monitor struct {
	mu         sync.Mutex
	output     []outputLine
	limit      int
	stops      int
	lastStop   string
	running    bool
	terminated bool
	changed    chan struct{}
	done       chan struct{}
}

func newMonitor(events <-chan sdb.Event, limit int) *monitor {
	m := &monitor{
		limit:   limit,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.run(events)
	return m
}

func (m *monitor) run(events <-chan sdb.Event) {
	defer close(m.done)
	for ev := range events {
		m.mu.Lock()
		switch ev.Kind {
		case sdb.EventStopped:
			m.stops++
			m.lastStop = string(ev.Reason)
			m.running = false
		case sdb.EventContinued:
			m.running = true
		case sdb.EventOutput:
			m.output = append(m.output, outputLine{
				Text:     ev.Output.Text,
				Category: string(ev.Output.Category),
				File:     ev.Output.File,
				Line:     ev.Output.Line,
			})
			if over := len(m.output) - m.limit; over > 0 {
				m.output = append([]outputLine(nil), m.output[over:]...)
			}
		case sdb.EventEnd:
			m.terminated = true
		}
		close(m.changed)
		m.changed = make(chan struct{})
		m.mu.Unlock()
	}

	// the runtime was closed
	m.mu.Lock()
	m.terminated = true
	m.mu.Unlock()
}

// monitorState is a copy of what the monitor has seen
type monitorState struct {
	Stops      int
	LastStop   string
	Running    bool
	Terminated bool
	Output     []outputLine
}

// state returns the current state with at most n recent output lines
func (m *monitor) state(n int) monitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.output
	if n >= 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return monitorState{
		Stops:      m.stops,
		LastStop:   m.lastStop,
		Running:    m.running,
		Terminated: m.terminated,
		Output:     append([]outputLine(nil), out...),
	}
}

// waitStop blocks until more than after stops were seen, the runtime ended
// or ctx is done. It reports whether a new stop arrived.
func (m *monitor) waitStop(ctx context.Context, after int) bool {
	for {
		m.mu.Lock()
		stops, terminated, changed := m.stops, m.terminated, m.changed
		m.mu.Unlock()

		if stops > after {
			return true
		}
		if terminated {
			return false
		}
		select {
		case <-changed:
		case <-m.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
