// Package console serves the HTTP control surface for a running session:
// health, status, metrics, history, send/connect/disconnect and a websocket
// stream of session events.
package console

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/linectl/internal/history"
	"github.com/danmuck/linectl/internal/observability"
	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/danmuck/linectl/internal/sink"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Session is the subset of *session.Session the console drives.
type Session interface {
	Connect(ctx context.Context, target string) error
	Close() error
	Send(ctx context.Context, msg string) error
	Status() session.Status
	Config() session.Config
}

type Options struct {
	Name        string
	CorsOrigins []string

	// Target is used by POST /connect when the request names none.
	Target string

	// History backs GET /messages; nil disables it.
	History *history.DB

	// Bus backs GET /stream; nil disables it.
	Bus *sink.Bus

	// Outbound is told about every line sent through POST /send.
	Outbound sink.Outbound

	// OnConnect runs after POST /connect opens a link, with the target used.
	OnConnect func(target string)
}

type Console struct {
	Name     string
	Appeared time.Time

	session  Session
	opts     Options
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func New(sess Session, opts Options) *Console {
	if opts.Name == "" {
		opts.Name = "linectl"
	}
	opts.CorsOrigins = normalizeOrigins(opts.CorsOrigins)

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: opts.CorsOrigins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	c := &Console{
		Name:     opts.Name,
		Appeared: time.Now(),
		session:  sess,
		opts:     opts,
		router:   r,
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.originAllowed,
	}
	c.registerRoutes()
	return c
}

func (c *Console) HTTPRouter() *gin.Engine {
	return c.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (c *Console) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           c.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("console.Console.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("addr", addr).Msg("console.Console.Serve stopped")
	return nil
}

func (c *Console) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.opts.CorsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
