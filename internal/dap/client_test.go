package dap

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

// header is the part of every message the test client routes on
type header struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	Command    string `json:"command"`
	Event      string `json:"event"`
	RequestSeq int    `json:"request_seq"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// frame is one received message. msg is nil for commands go-dap does not know.
type frame struct {
	header header
	msg    dap.Message
	raw    []byte
}

// testClient drives a Session the way a front end would
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader

	wmu sync.Mutex
	seq int

	mu      sync.Mutex
	pending map[int]chan frame
	events  []frame
	seqs    []int
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	c := &testClient{
		t:       t,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		pending: make(map[int]chan frame),
	}
	go c.readLoop()
	return c
}

func (c *testClient) readLoop() {
	for {
		content, err := dap.ReadBaseMessage(c.reader)
		if err != nil {
			return
		}
		var f frame
		f.raw = content
		if err := json.Unmarshal(content, &f.header); err != nil {
			continue
		}
		if msg, err := dap.DecodeProtocolMessage(content); err == nil {
			f.msg = msg
		}

		c.mu.Lock()
		c.seqs = append(c.seqs, f.header.Seq)
		switch f.header.Type {
		case "response":
			if ch, ok := c.pending[f.header.RequestSeq]; ok {
				ch <- f
				delete(c.pending, f.header.RequestSeq)
			}
		case "event":
			c.events = append(c.events, f)
		}
		c.mu.Unlock()
	}
}

// send writes req with the next sequence number and returns a channel for
// its response
func (c *testClient) send(req dap.RequestMessage) (int, <-chan frame) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.seq++
	r := req.GetRequest()
	r.Seq = c.seq
	r.Type = "request"

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[c.seq] = ch
	c.mu.Unlock()

	w := bufio.NewWriter(c.conn)
	require.NoError(c.t, dap.WriteProtocolMessage(w, req))
	require.NoError(c.t, w.Flush())
	return c.seq, ch
}

func (c *testClient) await(ch <-chan frame) frame {
	c.t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for response")
		return frame{}
	}
}

// request sends req and waits for its response
func (c *testClient) request(req dap.RequestMessage) frame {
	c.t.Helper()
	_, ch := c.send(req)
	return c.await(ch)
}

// event waits for the n-th event (zero-based) named name
func (c *testClient) event(name string, n int) frame {
	c.t.Helper()
	var found frame
	require.Eventually(c.t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		i := 0
		for _, f := range c.events {
			if f.header.Event != name {
				continue
			}
			if i == n {
				found = f
				return true
			}
			i++
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "event %s #%d", name, n)
	return found
}

// eventCount counts the events named name received so far
func (c *testClient) eventCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.events {
		if f.header.Event == name {
			n++
		}
	}
	return n
}

// messageIndex is the arrival position of the message with seq, or -1
func (c *testClient) messageIndex(seq int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.seqs {
		if s == seq {
			return i
		}
	}
	return -1
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// as asserts the decoded type of a frame
func as[T dap.Message](t *testing.T, f frame) T {
	t.Helper()
	m, ok := f.msg.(T)
	require.True(t, ok, "unexpected message %T: %s", f.msg, string(f.raw))
	return m
}

// rawRequest carries arguments exactly as given, so a test controls which
// fields are present
type rawRequest struct {
	dap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func newRawRequest(t *testing.T, command string, args interface{}) *rawRequest {
	t.Helper()
	data, err := json.Marshal(args)
	require.NoError(t, err)
	return &rawRequest{Request: newRequest(command), Arguments: data}
}
