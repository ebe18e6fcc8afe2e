package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/linectl/internal/history"
	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/danmuck/linectl/internal/sink"
	"github.com/danmuck/linectl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeSession struct {
	mu       sync.Mutex
	state    session.State
	target   string
	sent     []string
	sendErr  error
	openErr  error
	closes   int
	lastText string
}

func (f *fakeSession) Connect(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == session.StateConnected {
		return session.ErrAlreadyConnected
	}
	if f.openErr != nil {
		f.state = session.StateFailed
		return fmt.Errorf("%w: %s: %w", session.ErrTransportOpenFailed, target, f.openErr)
	}
	f.state = session.StateConnected
	f.target = target
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = session.StateDisconnected
	return nil
}

func (f *fakeSession) Send(_ context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.StateConnected {
		return session.ErrNotConnected
	}
	if f.sendErr != nil {
		return fmt.Errorf("%w: %w", session.ErrTransportWrite, f.sendErr)
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{State: f.state, Target: f.target, LastMessage: f.lastText}
}

func (f *fakeSession) Config() session.Config {
	return session.DefaultConfig()
}

type sentLog struct {
	mu   sync.Mutex
	sent []string
}

func (s *sentLog) RecordSent(text string) {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
}

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, c *Console, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	c.HTTPRouter().ServeHTTP(rr, req)

	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, out
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)

	fs := &fakeSession{}
	c := New(fs, Options{Name: "linectl-test"})

	rr, body := do(t, c, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["service"] != "linectl-test" {
		t.Fatalf("health code=%d body=%v", rr.Code, body)
	}

	rr, body = do(t, c, http.MethodGet, "/ready", "")
	if rr.Code != http.StatusServiceUnavailable || body["ready"] != false {
		t.Fatalf("ready while disconnected code=%d body=%v", rr.Code, body)
	}

	fs.state = session.StateConnected
	rr, body = do(t, c, http.MethodGet, "/ready", "")
	if rr.Code != http.StatusOK || body["state"] != "connected" {
		t.Fatalf("ready while connected code=%d body=%v", rr.Code, body)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	testlog.Start(t)

	fs := &fakeSession{}
	out := &sentLog{}
	c := New(fs, Options{Outbound: out})

	rr, _ := do(t, c, http.MethodPost, "/send", `{"text":"PING"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("code=%d want=409", rr.Code)
	}
	if len(out.sent) != 0 {
		t.Fatalf("outbound recorded failed send: %v", out.sent)
	}
}

func TestConnectSendDisconnect(t *testing.T) {
	testlog.Start(t)

	fs := &fakeSession{}
	out := &sentLog{}
	c := New(fs, Options{Target: "tcp://127.0.0.1:7000", Outbound: out})

	rr, body := do(t, c, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusOK || body["target"] != "tcp://127.0.0.1:7000" {
		t.Fatalf("connect code=%d body=%v", rr.Code, body)
	}
	rr, _ = do(t, c, http.MethodPost, "/connect", `{"target":"/dev/rfcomm0"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second connect code=%d want=409", rr.Code)
	}

	rr, _ = do(t, c, http.MethodPost, "/send", `{"text":"PING"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send code=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(fs.sent) != 1 || fs.sent[0] != "PING" || len(out.sent) != 1 {
		t.Fatalf("sent=%v outbound=%v", fs.sent, out.sent)
	}

	rr, _ = do(t, c, http.MethodPost, "/send", `{"text":"A\nB"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("embedded delimiter code=%d want=400", rr.Code)
	}

	fs.sendErr = fmt.Errorf("broken pipe")
	rr, body = do(t, c, http.MethodPost, "/send", `{"text":"STOP"}`)
	if rr.Code != http.StatusBadGateway || body["kind"] != "transport_write" {
		t.Fatalf("write failure code=%d body=%v", rr.Code, body)
	}

	rr, body = do(t, c, http.MethodPost, "/disconnect", "")
	if rr.Code != http.StatusOK || body["state"] != "disconnected" || fs.closes != 1 {
		t.Fatalf("disconnect code=%d body=%v closes=%d", rr.Code, body, fs.closes)
	}
}

func TestConnectErrors(t *testing.T) {
	testlog.Start(t)

	c := New(&fakeSession{}, Options{})
	if rr, _ := do(t, c, http.MethodPost, "/connect", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing target code=%d want=400", rr.Code)
	}

	fs := &fakeSession{openErr: fmt.Errorf("connection refused")}
	c = New(fs, Options{Target: "127.0.0.1:1"})
	rr, body := do(t, c, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusBadGateway || body["kind"] != "transport_open_failed" {
		t.Fatalf("open failure code=%d body=%v", rr.Code, body)
	}

	fs = &fakeSession{openErr: session.ErrInvalidTarget}
	c = New(fs, Options{Target: "bt://rfcomm0"})
	rr, body = do(t, c, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusBadRequest || body["kind"] != "invalid_target" {
		t.Fatalf("invalid target code=%d body=%v", rr.Code, body)
	}
}

func TestConnectToNewTargetRetagsHistory(t *testing.T) {
	testlog.Start(t)

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := history.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := history.NewRecorder(db)
	rec.SetTarget("/dev/rfcomm0")

	var linked []string
	fs := &fakeSession{}
	c := New(fs, Options{
		Target:  "/dev/rfcomm0",
		History: db,
		OnConnect: func(target string) {
			linked = append(linked, target)
			rec.SetTarget(target)
		},
	})

	if rr, _ := do(t, c, http.MethodPost, "/connect", ""); rr.Code != http.StatusOK {
		t.Fatalf("first connect code=%d", rr.Code)
	}
	rec.OnMessage("FIRST")
	if rr, _ := do(t, c, http.MethodPost, "/disconnect", ""); rr.Code != http.StatusOK {
		t.Fatalf("disconnect code=%d", rr.Code)
	}
	rr, body := do(t, c, http.MethodPost, "/connect", `{"target":"127.0.0.1:7001"}`)
	if rr.Code != http.StatusOK || body["target"] != "127.0.0.1:7001" {
		t.Fatalf("second connect code=%d body=%v", rr.Code, body)
	}
	rec.OnMessage("SECOND")

	if len(linked) != 2 || linked[0] != "/dev/rfcomm0" || linked[1] != "127.0.0.1:7001" {
		t.Fatalf("linked targets=%v", linked)
	}
	entries, err := db.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries=%d want=2", len(entries))
	}
	if entries[0].Text != "SECOND" || entries[0].Target != "127.0.0.1:7001" {
		t.Fatalf("newest entry=%+v", entries[0])
	}
	if entries[1].Text != "FIRST" || entries[1].Target != "/dev/rfcomm0" {
		t.Fatalf("older entry=%+v", entries[1])
	}
}

func TestMessagesFromHistory(t *testing.T) {
	testlog.Start(t)

	c := New(&fakeSession{}, Options{})
	if rr, _ := do(t, c, http.MethodGet, "/messages", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("history disabled code=%d want=404", rr.Code)
	}

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := history.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := history.NewRecorder(db)
	rec.RecordSent("PING")
	rec.OnMessage("PONG")
	rec.OnMessage("OK")

	c = New(&fakeSession{}, Options{History: db})
	rr, body := do(t, c, http.MethodGet, "/messages?limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("messages code=%d body=%s", rr.Code, rr.Body.String())
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages=%v", body["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["text"] != "OK" || first["direction"] != "in" {
		t.Fatalf("newest message=%v", first)
	}

	if rr, _ := do(t, c, http.MethodGet, "/messages?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code=%d want=400", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)

	c := New(&fakeSession{}, Options{})
	rr, _ := do(t, c, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "linectl_") {
		t.Fatalf("metrics code=%d", rr.Code)
	}
}

func TestStreamRelaysBusEvents(t *testing.T) {
	testlog.Start(t)

	bus := sink.NewBus(8)
	fs := &fakeSession{state: session.StateConnected, target: "/dev/rfcomm0"}
	c := New(fs, Options{Bus: bus})
	srv := httptest.NewServer(c.HTTPRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	if resp.Body != nil {
		resp.Body.Close()
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev sink.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read status event: %v", err)
	}
	if ev.Type != sink.EventStatus {
		t.Fatalf("first event=%s want=status", ev.Type)
	}

	bus.OnMessage("PONG")
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read message event: %v", err)
	}
	if ev.Type != sink.EventMessage || ev.Text != "PONG" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestStreamDisabledWithoutBus(t *testing.T) {
	testlog.Start(t)

	c := New(&fakeSession{}, Options{})
	if rr, _ := do(t, c, http.MethodGet, "/stream", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("code=%d want=404", rr.Code)
	}
}
