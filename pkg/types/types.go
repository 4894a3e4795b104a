// Package types defines the wire data model of the SDB remote debugger.
//
// This package provides:
//   - Runstate, VariableType, VariableScope: enumerations sent by name
//   - Status, StackEntry: run-state snapshots pushed over the event stream
//   - Variable, ImmediateValue: variable listings and expression results
//   - OutputLine, EventMessage: the push-event envelope and its payloads
//   - ResolvedBreakpoint: breakpoints as accepted by the target
//
// Values are only produced by the Decode* functions, which enumerate every
// required field and reject incomplete payloads with a *DecodeError instead of
// returning partially populated values.
package types

import "fmt"

// Runstate is the execution mode reported by the target
type Runstate int

const (
	RunstateRunning Runstate = iota
	RunstatePausing
	RunstatePaused
	RunstateStepping
)

var runstateNames = map[string]Runstate{
	"running":  RunstateRunning,
	"pausing":  RunstatePausing,
	"paused":   RunstatePaused,
	"stepping": RunstateStepping,
}

func (r Runstate) String() string {
	switch r {
	case RunstateRunning:
		return "running"
	case RunstatePausing:
		return "pausing"
	case RunstatePaused:
		return "paused"
	case RunstateStepping:
		return "stepping"
	default:
		return fmt.Sprintf("runstate(%d)", int(r))
	}
}

// ParseRunstate maps a wire name to a Runstate
func ParseRunstate(name string) (Runstate, bool) {
	r, ok := runstateNames[name]
	return r, ok
}

// VariableType is the declared type of a variable value
type VariableType int

const (
	VariableTypeString VariableType = iota
	VariableTypeBool
	VariableTypeInteger
	VariableTypeFloat
	VariableTypeClosure
	VariableTypeClass
	VariableTypeInstance
	VariableTypeArray
	VariableTypeTable
	VariableTypeOther
	VariableTypeNull
)

var variableTypeNames = []string{
	"string", "bool", "integer", "float", "closure", "class",
	"instance", "array", "table", "other", "null",
}

func (t VariableType) String() string {
	if int(t) >= 0 && int(t) < len(variableTypeNames) {
		return variableTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseVariableType maps a wire name to a VariableType
func ParseVariableType(name string) (VariableType, bool) {
	for i, n := range variableTypeNames {
		if n == name {
			return VariableType(i), true
		}
	}
	return 0, false
}

// VariableScope identifies where an immediate value was resolved
type VariableScope int

const (
	ScopeLocal VariableScope = iota
	ScopeGlobal
	ScopeEvaluation
)

func (s VariableScope) String() string {
	switch s {
	case ScopeLocal:
		return "local"
	case ScopeGlobal:
		return "global"
	case ScopeEvaluation:
		return "evaluation"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseVariableScope maps a wire name to a VariableScope
func ParseVariableScope(name string) (VariableScope, bool) {
	switch name {
	case "local":
		return ScopeLocal, true
	case "global":
		return ScopeGlobal, true
	case "evaluation":
		return ScopeEvaluation, true
	}
	return 0, false
}

// EventType is the kind of a pushed event message
type EventType string

const (
	EventTypeStatus     EventType = "status"
	EventTypeOutputLine EventType = "output_line"
)

// StackEntry is one frame of a paused target; line is 1-based
type StackEntry struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Status is a full run-state snapshot. Index 0 of Stack is the innermost frame.
type Status struct {
	Runstate             Runstate     `json:"runstate"`
	Stack                []StackEntry `json:"stack"`
	PausedAtBreakpointID int          `json:"pausedAtBreakpointId"`
}

// Paused reports whether the target is stopped
func (s Status) Paused() bool {
	return s.Runstate == RunstatePaused
}

// OutputLine is a line the target printed
type OutputLine struct {
	Output string `json:"output"`
	IsErr  bool   `json:"isErr"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// Variable is one entry of a variable listing
type Variable struct {
	PathIterator      int          `json:"pathIterator"`
	PathUIString      string       `json:"pathUiString"`
	PathTableKeyType  VariableType `json:"pathTableKeyType"`
	ValueType         VariableType `json:"valueType"`
	Value             string       `json:"value"`
	ValueRawAddress   uint64       `json:"valueRawAddress,omitempty"`
	ChildCount        int          `json:"childCount"`
	InstanceClassName string       `json:"instanceClassName,omitempty"`
}

// HasChildren reports whether the variable can be expanded
func (v Variable) HasChildren() bool {
	return v.ChildCount > 0
}

// ImmediateValue is the result of evaluating one expression path
type ImmediateValue struct {
	Variable     Variable      `json:"variable"`
	Scope        VariableScope `json:"scope"`
	IteratorPath []int         `json:"iteratorPath"`
}

// ResolvedBreakpoint is a breakpoint as placed by the target
type ResolvedBreakpoint struct {
	ID       int  `json:"id"`
	Line     int  `json:"line"`
	Verified bool `json:"verified"`
}

// BreakpointRequest is one entry of a FileBreakpoints command body
type BreakpointRequest struct {
	ID   int `json:"id"`
	Line int `json:"line"`
}

// FileBreakpointsCommand is the body of the FileBreakpoints command
type FileBreakpointsCommand struct {
	File        string              `json:"file"`
	Breakpoints []BreakpointRequest `json:"breakpoints"`
}

// EventMessage is the envelope of every pushed WebSocket frame
type EventMessage struct {
	Type    EventType
	Message []byte
}

// MarshalText encodes the runstate by name, as the target sends it
func (r Runstate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// MarshalText encodes the variable type by name
func (t VariableType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// MarshalText encodes the scope by name
func (s VariableScope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
