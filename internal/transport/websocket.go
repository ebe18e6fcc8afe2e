package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/gorilla/websocket"
)

// WebSocket dials a bridge that relays the serial byte stream as websocket
// messages. Message boundaries carry no meaning; payloads are concatenated.
type WebSocket struct {
	HandshakeTimeout time.Duration
	Binary           bool
	Header           http.Header
}

func (w WebSocket) Dial(ctx context.Context, target Target) (session.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target.Address, w.Header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	msgType := websocket.TextMessage
	if w.Binary {
		msgType = websocket.BinaryMessage
	}
	return &wsConn{conn: conn, msgType: msgType}, nil
}

// wsConn adapts message reads to a byte stream. It has no SetReadDeadline:
// a timed-out websocket read leaves the connection unusable, so the receive
// loop is interrupted by Close instead.
type wsConn struct {
	conn    *websocket.Conn
	msgType int
	r       io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(c.msgType, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
