package sdb

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ctagard/sdb-dap/internal/version"
)

// eventStreamURL is the push-event endpoint of the debugger at hostPort
func eventStreamURL(hostPort string) string {
	return fmt.Sprintf("ws://%s/ws", hostPort)
}

// dialEventStream opens the debugger's push-event WebSocket
func dialEventStream(ctx context.Context, hostPort string, handshakeTimeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, eventStreamURL(hostPort), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeEventStream sends a close frame and closes the connection
func closeEventStream(conn *websocket.Conn) error {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}
