package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingField is matched by a DecodeError for an absent required field
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is matched by a DecodeError for a field with a bad value
	ErrInvalidField = errors.New("invalid field value")
	// ErrMalformed is matched by a DecodeError for payloads that are not JSON objects
	ErrMalformed = errors.New("malformed payload")
)

// DecodeError reports why a wire payload could not be turned into a DTO
type DecodeError struct {
	Entity string
	Field  string
	Reason error
	Detail string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s", e.Entity)
	if e.Field != "" {
		msg += "." + e.Field
	}
	msg += ": " + e.Reason.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is lets errors.Is match the reason sentinel
func (e *DecodeError) Is(target error) bool {
	return e.Reason == target
}

func missing(entity, field string) error {
	return &DecodeError{Entity: entity, Field: field, Reason: ErrMissingField}
}

func invalid(entity, field, detail string) error {
	return &DecodeError{Entity: entity, Field: field, Reason: ErrInvalidField, Detail: detail}
}

func malformed(entity string, err error) error {
	return &DecodeError{Entity: entity, Reason: ErrMalformed, Detail: err.Error()}
}

// nested prefixes the field path of a DecodeError raised by a child decoder
func nested(err error, entity, field string) error {
	var de *DecodeError
	if errors.As(err, &de) {
		f := field
		if de.Field != "" {
			f += "." + de.Field
		}
		return &DecodeError{Entity: entity, Field: f, Reason: de.Reason, Detail: de.Detail}
	}
	return err
}

type eventMessageWire struct {
	Type    *string         `json:"type"`
	Message json.RawMessage `json:"message"`
}

// DecodeEventMessage parses a WebSocket frame envelope. The payload is kept
// raw; it is decoded according to Type by the caller.
func DecodeEventMessage(data []byte) (EventMessage, error) {
	var w eventMessageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return EventMessage{}, malformed("EventMessage", err)
	}
	if w.Type == nil {
		return EventMessage{}, missing("EventMessage", "type")
	}
	t := EventType(*w.Type)
	if t != EventTypeStatus && t != EventTypeOutputLine {
		return EventMessage{}, invalid("EventMessage", "type", *w.Type)
	}
	if len(w.Message) == 0 || string(w.Message) == "null" {
		return EventMessage{}, missing("EventMessage", "message")
	}
	return EventMessage{Type: t, Message: w.Message}, nil
}

type stackEntryWire struct {
	File     *string `json:"file"`
	Line     *int    `json:"line"`
	Function *string `json:"function"`
}

// DecodeStackEntry parses one stack frame
func DecodeStackEntry(data []byte) (StackEntry, error) {
	var w stackEntryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return StackEntry{}, malformed("StackEntry", err)
	}
	switch {
	case w.File == nil:
		return StackEntry{}, missing("StackEntry", "file")
	case w.Line == nil:
		return StackEntry{}, missing("StackEntry", "line")
	case w.Function == nil:
		return StackEntry{}, missing("StackEntry", "function")
	}
	return StackEntry{File: *w.File, Line: *w.Line, Function: *w.Function}, nil
}

type statusWire struct {
	Runstate             *string           `json:"runstate"`
	Stack                []json.RawMessage `json:"stack"`
	PausedAtBreakpointID *int              `json:"pausedAtBreakpointId"`
}

// DecodeStatus parses a run-state snapshot. A missing stack is an empty stack
// and a missing pausedAtBreakpointId means the stop was not at a breakpoint.
func DecodeStatus(data []byte) (Status, error) {
	var w statusWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Status{}, malformed("Status", err)
	}
	if w.Runstate == nil {
		return Status{}, missing("Status", "runstate")
	}
	rs, ok := ParseRunstate(*w.Runstate)
	if !ok {
		return Status{}, invalid("Status", "runstate", *w.Runstate)
	}

	status := Status{Runstate: rs, Stack: make([]StackEntry, 0, len(w.Stack))}
	for i, raw := range w.Stack {
		entry, err := DecodeStackEntry(raw)
		if err != nil {
			return Status{}, nested(err, "Status", fmt.Sprintf("stack[%d]", i))
		}
		status.Stack = append(status.Stack, entry)
	}
	if w.PausedAtBreakpointID != nil {
		status.PausedAtBreakpointID = *w.PausedAtBreakpointID
	}
	return status, nil
}

type outputLineWire struct {
	Output *string `json:"output"`
	IsErr  bool    `json:"isErr"`
	File   string  `json:"file"`
	Line   int     `json:"line"`
}

// DecodeOutputLine parses a printed line
func DecodeOutputLine(data []byte) (OutputLine, error) {
	var w outputLineWire
	if err := json.Unmarshal(data, &w); err != nil {
		return OutputLine{}, malformed("OutputLine", err)
	}
	if w.Output == nil {
		return OutputLine{}, missing("OutputLine", "output")
	}
	return OutputLine{Output: *w.Output, IsErr: w.IsErr, File: w.File, Line: w.Line}, nil
}

type variableWire struct {
	PathIterator      *int    `json:"pathIterator"`
	PathUIString      *string `json:"pathUiString"`
	PathTableKeyType  *string `json:"pathTableKeyType"`
	ValueType         *string `json:"valueType"`
	Value             *string `json:"value"`
	ValueRawAddress   uint64  `json:"valueRawAddress"`
	ChildCount        *int    `json:"childCount"`
	InstanceClassName string  `json:"instanceClassName"`
}

// DecodeVariable parses one variable listing entry
func DecodeVariable(data []byte) (Variable, error) {
	var w variableWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Variable{}, malformed("Variable", err)
	}
	switch {
	case w.PathIterator == nil:
		return Variable{}, missing("Variable", "pathIterator")
	case w.PathUIString == nil:
		return Variable{}, missing("Variable", "pathUiString")
	case w.ValueType == nil:
		return Variable{}, missing("Variable", "valueType")
	case w.Value == nil:
		return Variable{}, missing("Variable", "value")
	case w.ChildCount == nil:
		return Variable{}, missing("Variable", "childCount")
	}

	valueType, ok := ParseVariableType(*w.ValueType)
	if !ok {
		return Variable{}, invalid("Variable", "valueType", *w.ValueType)
	}
	keyType := VariableTypeNull
	if w.PathTableKeyType != nil {
		if keyType, ok = ParseVariableType(*w.PathTableKeyType); !ok {
			return Variable{}, invalid("Variable", "pathTableKeyType", *w.PathTableKeyType)
		}
	}
	if *w.ChildCount < 0 {
		return Variable{}, invalid("Variable", "childCount", fmt.Sprint(*w.ChildCount))
	}

	return Variable{
		PathIterator:      *w.PathIterator,
		PathUIString:      *w.PathUIString,
		PathTableKeyType:  keyType,
		ValueType:         valueType,
		Value:             *w.Value,
		ValueRawAddress:   w.ValueRawAddress,
		ChildCount:        *w.ChildCount,
		InstanceClassName: w.InstanceClassName,
	}, nil
}

type variablesWire struct {
	Variables []json.RawMessage `json:"variables"`
}

// DecodeVariables parses a {variables:[...]} query response
func DecodeVariables(data []byte) ([]Variable, error) {
	var w variablesWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed("Variables", err)
	}
	if w.Variables == nil {
		return nil, missing("Variables", "variables")
	}
	vars := make([]Variable, 0, len(w.Variables))
	for i, raw := range w.Variables {
		v, err := DecodeVariable(raw)
		if err != nil {
			return nil, nested(err, "Variables", fmt.Sprintf("variables[%d]", i))
		}
		vars = append(vars, v)
	}
	return vars, nil
}

type immediateValueWire struct {
	Variable     json.RawMessage `json:"variable"`
	Scope        *string         `json:"scope"`
	IteratorPath []int           `json:"iteratorPath"`
}

// DecodeImmediateValue parses one expression result
func DecodeImmediateValue(data []byte) (ImmediateValue, error) {
	var w immediateValueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return ImmediateValue{}, malformed("ImmediateValue", err)
	}
	if len(w.Variable) == 0 || string(w.Variable) == "null" {
		return ImmediateValue{}, missing("ImmediateValue", "variable")
	}
	if w.Scope == nil {
		return ImmediateValue{}, missing("ImmediateValue", "scope")
	}
	scope, ok := ParseVariableScope(*w.Scope)
	if !ok {
		return ImmediateValue{}, invalid("ImmediateValue", "scope", *w.Scope)
	}
	v, err := DecodeVariable(w.Variable)
	if err != nil {
		return ImmediateValue{}, nested(err, "ImmediateValue", "variable")
	}
	path := w.IteratorPath
	if path == nil {
		path = []int{}
	}
	return ImmediateValue{Variable: v, Scope: scope, IteratorPath: path}, nil
}

type immediateValuesWire struct {
	Values []json.RawMessage `json:"values"`
}

// DecodeImmediateValues parses a {values:[...]} command response
func DecodeImmediateValues(data []byte) ([]ImmediateValue, error) {
	var w immediateValuesWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed("ImmediateValues", err)
	}
	if w.Values == nil {
		return nil, missing("ImmediateValues", "values")
	}
	values := make([]ImmediateValue, 0, len(w.Values))
	for i, raw := range w.Values {
		v, err := DecodeImmediateValue(raw)
		if err != nil {
			return nil, nested(err, "ImmediateValues", fmt.Sprintf("values[%d]", i))
		}
		values = append(values, v)
	}
	return values, nil
}

type resolvedBreakpointWire struct {
	ID       *int  `json:"id"`
	Line     *int  `json:"line"`
	Verified *bool `json:"verified"`
}

// DecodeResolvedBreakpoint parses one breakpoint returned by the target
func DecodeResolvedBreakpoint(data []byte) (ResolvedBreakpoint, error) {
	var w resolvedBreakpointWire
	if err := json.Unmarshal(data, &w); err != nil {
		return ResolvedBreakpoint{}, malformed("ResolvedBreakpoint", err)
	}
	switch {
	case w.ID == nil:
		return ResolvedBreakpoint{}, missing("ResolvedBreakpoint", "id")
	case w.Line == nil:
		return ResolvedBreakpoint{}, missing("ResolvedBreakpoint", "line")
	case w.Verified == nil:
		return ResolvedBreakpoint{}, missing("ResolvedBreakpoint", "verified")
	}
	return ResolvedBreakpoint{ID: *w.ID, Line: *w.Line, Verified: *w.Verified}, nil
}

type resolvedBreakpointsWire struct {
	Breakpoints []json.RawMessage `json:"breakpoints"`
}

// DecodeResolvedBreakpoints parses a FileBreakpoints response
func DecodeResolvedBreakpoints(data []byte) ([]ResolvedBreakpoint, error) {
	var w resolvedBreakpointsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed("FileBreakpoints", err)
	}
	if w.Breakpoints == nil {
		return nil, missing("FileBreakpoints", "breakpoints")
	}
	bps := make([]ResolvedBreakpoint, 0, len(w.Breakpoints))
	for i, raw := range w.Breakpoints {
		bp, err := DecodeResolvedBreakpoint(raw)
		if err != nil {
			return nil, nested(err, "FileBreakpoints", fmt.Sprintf("breakpoints[%d]", i))
		}
		bps = append(bps, bp)
	}
	return bps, nil
}
