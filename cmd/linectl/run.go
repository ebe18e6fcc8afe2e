package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/linectl/internal/config"
	"github.com/danmuck/linectl/internal/console"
	"github.com/danmuck/linectl/internal/history"
	"github.com/danmuck/linectl/internal/observability"
	"github.com/danmuck/linectl/internal/protocol/line"
	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/danmuck/linectl/internal/sink"
	"github.com/danmuck/linectl/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg    config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	prefix string

	// connected, when set, is signalled after each successful connect.
	connected chan struct{}

	// relink carries targets opened through the console to supervise.
	relink chan string
	rec    *history.Recorder
}

func newApp(cfg config.Config, in io.Reader, out, errOut io.Writer, prefix string) *app {
	return &app{cfg: cfg, in: in, out: out, errOut: errOut, prefix: prefix, relink: make(chan string, 1)}
}

// linked records a console connect: history rows take the new target and
// supervise watches the new link.
func (a *app) linked(target string) {
	if a.rec != nil {
		a.rec.SetTarget(target)
	}
	select {
	case <-a.relink:
	default:
	}
	select {
	case a.relink <- target:
	default:
	}
}

// awaitRelink blocks until the console opens a link or ctx is done.
func (a *app) awaitRelink(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case target := <-a.relink:
		return target, true
	}
}

func (a *app) run(ctx context.Context) error {
	observability.RegisterMetrics()
	logger := observability.InitLogger("linectl")

	bus := sink.NewBus(64)
	sinks := []session.Sink{
		sink.NewWriter(a.out, a.errOut, a.prefix),
		sink.NewLog(logger),
		bus,
	}

	var db *history.DB
	if a.cfg.History.Path != "" {
		var err error
		db, err = history.Open(a.cfg.History.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := history.Migrate(db); err != nil {
			return err
		}
		a.rec = history.NewRecorder(db)
		a.rec.SetTarget(a.cfg.Target)
		sinks = append(sinks, a.rec)
	}
	fanout := sink.NewMulti(sinks...)

	sess, err := session.New(transport.New(a.cfg.Transport), fanout, a.cfg.Session)
	if err != nil {
		return err
	}
	defer sess.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.supervise(gctx, sess, bus)
	})
	if a.in != nil {
		lines := readLines(gctx, a.in)
		g.Go(func() error {
			return a.pump(gctx, sess, fanout, lines)
		})
	}
	if a.cfg.HTTP.Addr != "" {
		c := console.New(sess, console.Options{
			Name:        "linectl",
			CorsOrigins: a.cfg.HTTP.CorsOrigins,
			Target:      a.cfg.Target,
			History:     db,
			Bus:         bus,
			Outbound:    fanout,
			OnConnect:   a.linked,
		})
		g.Go(func() error {
			return c.Serve(gctx, a.cfg.HTTP.Addr)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// supervise owns the initial connect and, with Reconnect set, re-establishes
// the link after transport read failures. Reconnects go to the target of the
// link that dropped, which follows connects made through the console. A link
// closed through the console is left closed until the console opens another.
func (a *app) supervise(ctx context.Context, sess *session.Session, bus *sink.Bus) error {
	keepAlive := a.cfg.HTTP.Addr != ""
	target := a.cfg.Target
	for {
		err := sess.ConnectWithRetry(ctx, target)
		switch {
		case err == nil, errors.Is(err, session.ErrAlreadyConnected):
		case ctx.Err() != nil:
			return nil
		case a.cfg.Reconnect && !errors.Is(err, session.ErrInvalidTarget):
			log.Warn().Err(err).Str("target", target).Msg("linectl.supervise connect failed; retrying")
			if !sleepCtx(ctx, a.cfg.Session.Backoff.MaxDelay) {
				return nil
			}
			continue
		case keepAlive:
			log.Error().Err(err).Str("target", target).Msg("linectl.supervise connect failed; console stays up")
			next, ok := a.awaitRelink(ctx)
			if !ok {
				return nil
			}
			target = next
			continue
		default:
			return err
		}

		select {
		case <-a.relink:
		default:
		}
		if current := sess.Status().Target; current != "" {
			target = current
		}
		bus.PublishStatus(sess.Status())
		if a.connected != nil {
			select {
			case a.connected <- struct{}{}:
			default:
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
		}
		bus.PublishStatus(sess.Status())
		if current := sess.Status().Target; current != "" {
			target = current
		}

		linkErr := sess.Err()
		if linkErr != nil && a.cfg.Reconnect && errors.Is(linkErr, session.ErrTransportRead) {
			log.Info().Str("target", target).Msg("linectl.supervise reconnecting")
			continue
		}
		if !keepAlive {
			return linkErr
		}
		next, ok := a.awaitRelink(ctx)
		if !ok {
			return nil
		}
		target = next
	}
}

// pump sends each stdin line. Send failures are reported and the pump keeps going.
func (a *app) pump(ctx context.Context, sess *session.Session, out sink.Outbound, lines <-chan string) error {
	delim := sess.Config().Delimiter
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			if line.ContainsDelimiter(text, delim) {
				fmt.Fprintf(a.errOut, "! not sent: line contains the frame delimiter\n")
				continue
			}
			if err := sess.Send(ctx, text); err != nil {
				fmt.Fprintf(a.errOut, "! %s: %v\n", session.KindOf(err), err)
				continue
			}
			out.RecordSent(text)
		}
	}
}

// readLines scans r on its own goroutine. The goroutine exits at EOF or once
// ctx is done; a blocked terminal read is abandoned at process exit.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case ch <- strings.TrimSuffix(scanner.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
