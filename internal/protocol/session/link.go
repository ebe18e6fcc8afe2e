package session

import (
	"sync"
	"time"

	"github.com/danmuck/linectl/internal/protocol/line"
)

// link is one connected Conn and the decoder/worker bound to it.
type link struct {
	conn    Conn
	decoder *line.Decoder

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error

	writeMu sync.Mutex
}

func newLink(conn Conn, decoder *line.Decoder) *link {
	return &link{
		conn:    conn,
		decoder: decoder,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *link) halt() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *link) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// close releases the conn exactly once and returns the first Close error.
func (l *link) close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// idle waits d or until the link is halted.
func (l *link) idle(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.stop:
	case <-timer.C:
	}
}
