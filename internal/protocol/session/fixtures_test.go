package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// recordSink collects sink callbacks in delivery order.
type recordSink struct {
	msgs chan string
	errs chan error
}

func newRecordSink() *recordSink {
	return &recordSink{
		msgs: make(chan string, 64),
		errs: make(chan error, 64),
	}
}

func (r *recordSink) OnMessage(text string) { r.msgs <- text }
func (r *recordSink) OnError(err error)     { r.errs <- err }

func (r *recordSink) nextMessage(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-r.msgs:
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for message")
		return ""
	}
}

func (r *recordSink) nextError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for sink error")
		return nil
	}
}

// countingConn wraps a net.Conn and counts Close calls.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// pipeTransport hands out net.Pipe client ends and exposes the peer ends.
type pipeTransport struct {
	peers chan net.Conn
	mu    sync.Mutex
	conns []*countingConn
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{peers: make(chan net.Conn, 4)}
}

func (p *pipeTransport) Open(_ context.Context, _ string) (Conn, error) {
	client, peer := net.Pipe()
	conn := &countingConn{Conn: client}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	p.peers <- peer
	return conn, nil
}

func (p *pipeTransport) peer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-p.peers:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("no peer conn opened")
		return nil
	}
}

type readResult struct {
	data []byte
	err  error
}

// scriptedConn has no deadlines: Read blocks until a scripted result or Close.
type scriptedConn struct {
	reads     chan readResult
	writeErr  error
	mu        sync.Mutex
	written   []byte
	closes    atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	select {
	case r := <-c.reads:
		n := copy(p, r.data)
		return n, r.err
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *scriptedConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) writtenBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

// fixedTransport returns the same conn on every Open and counts calls.
type fixedTransport struct {
	conn  Conn
	fail  int
	opens atomic.Int32
}

var errDialRefused = errors.New("dial refused")

func (f *fixedTransport) Open(_ context.Context, _ string) (Conn, error) {
	n := f.opens.Add(1)
	if int(n) <= f.fail {
		return nil, errDialRefused
	}
	return f.conn, nil
}

// gatedTransport blocks Open until release is closed, then returns conn.
type gatedTransport struct {
	conn    Conn
	entered chan struct{}
	release chan struct{}
}

func newGatedTransport(conn Conn) *gatedTransport {
	return &gatedTransport{
		conn:    conn,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedTransport) Open(ctx context.Context, _ string) (Conn, error) {
	close(g.entered)
	select {
	case <-g.release:
		return g.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// idleConn returns (0, nil) from every Read and has no deadlines.
type idleConn struct {
	reads  atomic.Int32
	closes atomic.Int32
}

func (c *idleConn) Read(_ []byte) (int, error) {
	c.reads.Add(1)
	return 0, nil
}

func (c *idleConn) Write(p []byte) (int, error) { return len(p), nil }

func (c *idleConn) Close() error {
	c.closes.Add(1)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	return cfg
}

func newTestSession(t *testing.T, tr Transport, sink Sink, cfg Config) *Session {
	t.Helper()
	s, err := New(tr, sink, cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state=%s want=%s", s.State(), want)
}
