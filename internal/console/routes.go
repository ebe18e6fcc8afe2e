package console

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/linectl/internal/protocol/line"
	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/danmuck/linectl/internal/sink"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	streamWriteTimeout  = 5 * time.Second
)

var (
	ErrHistoryDisabled = errors.New("console: history disabled")
	ErrStreamDisabled  = errors.New("console: stream disabled")
	ErrTargetMissing   = errors.New("console: no target configured")
)

type sendRequest struct {
	Text string `json:"text"`
}

type connectRequest struct {
	Target string `json:"target"`
}

func (c *Console) registerRoutes() {
	r := c.router

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(c.Appeared).String(),
			"service": c.Name,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(ctx *gin.Context) {
		st := c.session.Status()
		code := http.StatusOK
		if st.State != session.StateConnected {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, gin.H{
			"ready":   st.State == session.StateConnected,
			"state":   st.State,
			"service": c.Name,
			"version": version,
		})
	})

	r.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.session.Status())
	})

	r.GET("/messages", c.handleMessages)
	r.POST("/send", c.handleSend)
	r.POST("/connect", c.handleConnect)
	r.POST("/disconnect", c.handleDisconnect)
	r.GET("/stream", c.handleStream)
}

func (c *Console) handleMessages(ctx *gin.Context) {
	if c.opts.History == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": ErrHistoryDisabled.Error()})
		return
	}
	limit := defaultHistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := c.opts.History.Recent(ctx.Request.Context(), limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"messages": entries})
}

func (c *Console) handleSend(ctx *gin.Context) {
	var req sendRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The peer would split an embedded delimiter into two messages.
	if line.ContainsDelimiter(req.Text, c.session.Config().Delimiter) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "text contains the frame delimiter"})
		return
	}

	err := c.session.Send(ctx.Request.Context(), req.Text)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotConnected):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrTransportWrite):
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": session.KindOf(err)})
		return
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.opts.Outbound != nil {
		c.opts.Outbound.RecordSent(req.Text)
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "text": req.Text})
}

func (c *Console) handleConnect(ctx *gin.Context) {
	var req connectRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	target := req.Target
	if target == "" {
		target = c.opts.Target
	}
	if target == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": ErrTargetMissing.Error()})
		return
	}

	err := c.session.Connect(ctx.Request.Context(), target)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrAlreadyConnected):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrInvalidTarget):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": session.KindOf(err)})
		return
	case errors.Is(err, session.ErrTransportOpenFailed):
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": session.KindOf(err)})
		return
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(target)
	}
	c.publishStatus()
	ctx.JSON(http.StatusOK, c.session.Status())
}

func (c *Console) handleDisconnect(ctx *gin.Context) {
	if err := c.session.Close(); err != nil {
		log.Warn().Err(err).Msg("console.Console.disconnect close error")
	}
	c.publishStatus()
	ctx.JSON(http.StatusOK, c.session.Status())
}

func (c *Console) publishStatus() {
	if c.opts.Bus != nil {
		c.opts.Bus.PublishStatus(c.session.Status())
	}
}

// handleStream upgrades to a websocket and relays bus events as JSON until
// the client goes away.
func (c *Console) handleStream(ctx *gin.Context) {
	if c.opts.Bus == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": ErrStreamDisabled.Error()})
		return
	}
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("console.Console.stream upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := c.opts.Bus.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeEvent(conn, sink.Event{
		Type:      sink.EventStatus,
		Timestamp: time.Now().UTC(),
		Data:      c.session.Status(),
	}); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-ctx.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Debug().Err(err).Msg("console.Console.stream write failed")
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev sink.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(ev)
}
