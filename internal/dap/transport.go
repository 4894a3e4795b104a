// Package dap implements the Debug Adapter Protocol front end of the bridge.
//
// DAP is a protocol used to communicate between a development tool (like an IDE)
// and a debug adapter. This package provides:
//   - Transport: framed message sending/receiving over stdio or a socket
//   - Session: one front-end conversation driving one sdb.Runtime
//   - Handles: opaque variable references for lazy variable expansion
//   - Server: stdio and TCP listeners that create sessions
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"
)

// Transport handles communication with a DAP front end
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex
	seq    int
}

// NewTransport creates a transport over a bidirectional stream
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		seq:    1,
	}
}

// NewStdioTransport creates a transport using stdio streams
func NewStdioTransport(stdin io.ReadCloser, stdout io.WriteCloser) *Transport {
	return NewTransport(&stdioRWC{reader: stdin, writer: stdout})
}

type stdioRWC struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioRWC) Read(p []byte) (n int, err error) {
	return s.reader.Read(p)
}

func (s *stdioRWC) Write(p []byte) (n int, err error) {
	return s.writer.Write(p)
}

func (s *stdioRWC) Close() error {
	err1 := s.reader.Close()
	err2 := s.writer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Send stamps the next sequence number on msg and writes it
func (t *Transport) Send(msg dap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seq
	t.seq++
	switch m := msg.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	case dap.RequestMessage:
		m.GetRequest().Seq = seq
	}

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}

	return nil
}

// Envelope is the raw form of a received message, kept for fields go-dap
// does not model (custom commands, absent-vs-zero arguments)
type Envelope struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments"`
}

// Receive reads one framed message. msg is nil when go-dap cannot decode the
// command; the envelope is still returned so the caller can handle it.
func (t *Transport) Receive() (dap.Message, Envelope, error) {
	content, err := dap.ReadBaseMessage(t.reader)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("failed to read DAP message: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, Envelope{}, fmt.Errorf("failed to parse DAP message: %w", err)
	}

	msg, err := dap.DecodeProtocolMessage(content)
	if err != nil {
		return nil, env, nil
	}
	return msg, env, nil
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.conn.Close()
}
