package transport

import (
	"context"
	"net"
	"time"

	"github.com/danmuck/linectl/internal/protocol/session"
)

// TCP dials serial-over-TCP bridges (ser2net, socat, RFCOMM proxies).
type TCP struct {
	Timeout time.Duration
}

func (t TCP) Dial(ctx context.Context, target Target) (session.Conn, error) {
	dialer := net.Dialer{Timeout: t.Timeout, KeepAlive: 30 * time.Second}
	return dialer.DialContext(ctx, "tcp", target.Address)
}
