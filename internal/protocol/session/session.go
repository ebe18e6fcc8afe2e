package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/linectl/internal/observability"
	"github.com/danmuck/linectl/internal/protocol/line"
	"github.com/rs/zerolog/log"
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Status is a point-in-time snapshot of a Session.
type Status struct {
	State       State     `json:"state"`
	Target      string    `json:"target,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	MessagesIn  uint64    `json:"messages_in"`
	MessagesOut uint64    `json:"messages_out"`
	FrameErrors uint64    `json:"frame_errors"`
	LastMessage string    `json:"last_message,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Session is a single-peer line-framed connection.
type Session struct {
	cfg       Config
	codec     line.Codec
	transport Transport
	sink      Sink

	mu          sync.Mutex
	state       State
	attempt     uint64
	target      string
	link        *link
	connectedAt time.Time
	lastErr     error
	lastMessage string

	messagesIn  atomic.Uint64
	messagesOut atomic.Uint64
	frameErrors atomic.Uint64
}

func New(transport Transport, sink Sink, cfg Config) (*Session, error) {
	if transport == nil {
		return nil, ErrTransportRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = SinkFuncs{}
	}
	observability.RecordSessionState(int(StateDisconnected))
	return &Session{
		cfg:       cfg,
		codec:     cfg.Codec(),
		transport: transport,
		sink:      sink,
	}, nil
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current link ends. With no link it is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return closedChan
	}
	return s.link.done
}

// Err returns the error that ended the last link or connect attempt, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:       s.state,
		Target:      s.target,
		LastMessage: s.lastMessage,
	}
	if s.state == StateConnected {
		st.ConnectedAt = s.connectedAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	st.MessagesIn = s.messagesIn.Load()
	st.MessagesOut = s.messagesOut.Load()
	st.FrameErrors = s.frameErrors.Load()
	return st
}

// Connect opens target and starts the receive loop. It never retries.
func (s *Session) Connect(ctx context.Context, target string) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.attempt++
	attempt := s.attempt
	s.target = target
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	openCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, err := s.transport.Open(openCtx, target)

	s.mu.Lock()
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrTransportOpenFailed, target, err)
		if s.state == StateConnecting && s.attempt == attempt {
			s.setStateLocked(StateFailed)
		}
		s.lastErr = err
		s.mu.Unlock()
		observability.RecordConnect(false)
		observability.RecordSessionError(string(KindTransportOpenFailed))
		log.Warn().Str("target", target).Err(err).Msg("session.Session.Connect failed")
		return err
	}
	if s.state != StateConnecting || s.attempt != attempt {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	l := newLink(conn, s.codec.NewDecoder())
	s.link = l
	s.connectedAt = time.Now()
	s.lastErr = nil
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	observability.RecordConnect(true)
	log.Info().Str("target", target).Msg("session.Session.Connect connected")
	go s.receiveLoop(l)
	return nil
}

// ConnectWithRetry calls Connect until it succeeds, a non-open or invalid
// target error occurs, Config.MaxConnectAttempts is reached, or ctx is done.
func (s *Session) ConnectWithRetry(ctx context.Context, target string) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		err := s.Connect(ctx, target)
		if err == nil || !errors.Is(err, ErrTransportOpenFailed) || errors.Is(err, ErrInvalidTarget) {
			return err
		}
		if s.cfg.MaxConnectAttempts > 0 && attempt >= s.cfg.MaxConnectAttempts {
			return err
		}
		log.Warn().Int("attempt", attempt).Str("target", target).Msg("session.Session.ConnectWithRetry backoff")
		if werr := waitBackoff(ctx, s.cfg.Backoff, attempt, rng); werr != nil {
			return errors.Join(err, werr)
		}
	}
}

// Close stops the receive loop and releases the conn. Calling it again, or
// with no active link, is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	if s.state != StateDisconnected {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()
	if l == nil {
		return nil
	}

	l.halt()
	err := l.close()
	<-l.done
	log.Info().Str("target", s.Status().Target).Msg("session.Session.Close closed")
	return err
}

// Send encodes msg and writes it before returning. A failed write leaves the
// session connected.
func (s *Session) Send(ctx context.Context, msg string) error {
	s.mu.Lock()
	l := s.link
	connected := s.state == StateConnected && l != nil
	s.mu.Unlock()
	if !connected {
		observability.RecordSend(false)
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := s.codec.Encode(msg)
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if wd, ok := l.conn.(writeDeadliner); ok && s.cfg.WriteTimeout > 0 {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		_ = wd.SetWriteDeadline(deadline)
	}
	n, err := l.conn.Write(payload)
	observability.RecordBytes("out", n)
	if err != nil {
		observability.RecordSend(false)
		observability.RecordSessionError(string(KindTransportWrite))
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}
	s.messagesOut.Add(1)
	observability.RecordSend(true)
	log.Info().Str("text", msg).Msg("session.Session.Send")
	return nil
}

func (s *Session) receiveLoop(l *link) {
	defer close(l.done)

	buf := make([]byte, s.cfg.ReadBufferBytes)
	rd, canPoll := l.conn.(readDeadliner)
	for !l.stopped() {
		if canPoll {
			if err := rd.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
				canPoll = false
			}
		}
		n, err := l.conn.Read(buf)
		if n > 0 {
			observability.RecordBytes("in", n)
			s.deliver(l, buf[:n])
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if l.stopped() {
				return
			}
			s.readFailed(l, err)
			return
		}
		if n == 0 {
			l.idle(s.cfg.PollInterval)
		}
	}
}

func (s *Session) deliver(l *link, chunk []byte) {
	for _, msg := range l.decoder.Feed(chunk) {
		if msg.Err != nil {
			kind := KindOf(msg.Err)
			s.frameErrors.Add(1)
			observability.RecordFrame(string(kind))
			log.Warn().Str("kind", string(kind)).Err(msg.Err).Msg("session.Session.receiveLoop frame dropped")
			s.sink.OnError(msg.Err)
			continue
		}
		s.messagesIn.Add(1)
		s.mu.Lock()
		s.lastMessage = msg.Text
		s.mu.Unlock()
		observability.RecordFrame("message")
		s.sink.OnMessage(msg.Text)
	}
}

// readFailed ends l after a transport read error. If Close already detached
// l, the error is not reported.
func (s *Session) readFailed(l *link, cause error) {
	err := fmt.Errorf("%w: %w", ErrTransportRead, cause)
	s.mu.Lock()
	current := s.link == l
	if current {
		s.link = nil
		s.lastErr = err
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	l.halt()
	_ = l.close()
	if !current {
		return
	}
	observability.RecordSessionError(string(KindTransportRead))
	log.Warn().Err(err).Msg("session.Session.receiveLoop disconnected")
	s.sink.OnError(err)
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	log.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("session.Session state")
	s.state = next
	observability.RecordSessionState(int(next))
}
