package session

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Conn is one open transport handle. Close must unblock a pending Read.
type Conn interface {
	io.ReadWriteCloser
}

// Transport opens a Conn to a peer target.
type Transport interface {
	Open(ctx context.Context, target string) (Conn, error)
}

type TransportFunc func(ctx context.Context, target string) (Conn, error)

func (f TransportFunc) Open(ctx context.Context, target string) (Conn, error) {
	return f(ctx, target)
}

// Sink receives decoded messages and errors from the receive goroutine.
type Sink interface {
	OnMessage(text string)
	OnError(err error)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are ignored.
type SinkFuncs struct {
	Message func(text string)
	Error   func(err error)
}

func (f SinkFuncs) OnMessage(text string) {
	if f.Message != nil {
		f.Message(text)
	}
}

func (f SinkFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
