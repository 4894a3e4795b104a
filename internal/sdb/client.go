package sdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ctagard/sdb-dap/internal/version"
)

const maxErrorBody = 512

// HTTPDoer is the part of *http.Client the debugger client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the command/query side of the debugger:
// GET / for liveness, PUT /DebugCommand/{name} for commands and
// GET /DebugCommand/{name} for queries.
type Client struct {
	hostPort string
	http     HTTPDoer
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a client for the debugger at hostPort ("host:port")
func NewClient(hostPort string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		hostPort: hostPort,
		http:     &http.Client{},
		timeout:  timeout,
		logger:   logger,
	}
}

// HostPort returns the debugger address
func (c *Client) HostPort() string {
	return c.hostPort
}

func (c *Client) url(path string) string {
	return "http://" + c.hostPort + path
}

// Probe checks that the debugger's HTTP server answers
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.url("/"), nil)
	if err != nil {
		c.logger.Debug("Liveness probe failed", "address", c.hostPort, "error", err)
	}
	return err
}

// Command sends PUT /DebugCommand/{name} with body encoded as JSON (no body
// when nil) and returns the raw response body
func (c *Client) Command(ctx context.Context, name string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", name, err)
		}
	}
	c.logger.Debug("Sending command", "command", name)
	return c.do(ctx, http.MethodPut, c.url("/DebugCommand/"+name), payload)
}

// Query sends GET /DebugCommand/{name}?params and returns the raw response body
func (c *Client) Query(ctx context.Context, name string, params url.Values) ([]byte, error) {
	u := c.url("/DebugCommand/" + name)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	c.logger.Debug("Sending query", "query", name)
	return c.do(ctx, http.MethodGet, u, nil)
}

func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return nil, &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: msg}
	}
	return data, nil
}

// StatusError is returned for HTTP responses with an error status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
