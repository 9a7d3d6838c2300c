package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"watchflow/internal/config"
	"watchflow/internal/event"
	"watchflow/internal/logging"
	"watchflow/internal/watch"
)

func streamURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dialStream(t *testing.T, handler http.Handler, path string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(srv, path), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func waitForSubscriber[T any](bus *event.Bus[T]) {
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChangesStreamFiltersByWatch(t *testing.T) {
	manager := newTestManager(t)
	conn := dialStream(t, newTestMux(t, manager, ""), "/ws/changes?watch=media")

	ignored := newChange(t, manager, "docs", "a.txt")
	wanted := newChange(t, manager, "media", "b.png")
	go func() {
		waitForSubscriber(manager.Changes())
		manager.Changes().Publish(ignored)
		manager.Changes().Publish(wanted)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var payload struct {
		WatchID string `json:"watch_id"`
		Change  struct {
			Trigger string `json:"trigger"`
			Name    string `json:"name"`
		} `json:"change"`
	}
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload.WatchID != "media" || payload.Change.Name != "b.png" || payload.Change.Trigger != "create" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestChangesStreamRejectsBeforeUpgrade(t *testing.T) {
	manager := newTestManager(t)
	srv := httptest.NewServer(newTestMux(t, manager, ""))
	defer srv.Close()
	missing := httptest.NewServer(&ChangesHandler{})
	defer missing.Close()

	cases := []struct {
		name   string
		url    string
		status int
	}{
		{name: "unknown watch", url: streamURL(srv, "/ws/changes?watch=ghost"), status: http.StatusNotFound},
		{name: "no manager", url: streamURL(missing, "/ws/changes"), status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tc.url, nil)
			if err == nil {
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tc.status {
				t.Fatalf("expected %d response, got %v", tc.status, resp)
			}
			var body errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Code != errorCodeForStatus(tc.status) {
				t.Fatalf("unexpected error body %+v", body)
			}
		})
	}
}

func TestChangesStreamClosesWhenBusCloses(t *testing.T) {
	bus := event.NewBus[watch.Change](context.Background(), event.BusOptions{Name: "changes"})
	manager, err := watch.NewManager([]config.WatchConfig{{ID: "docs", Path: t.TempDir()}}, watch.Dependencies{Changes: bus})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	conn := dialStream(t, &ChangesHandler{Manager: manager}, "/ws/changes")

	waitForSubscriber(bus)
	bus.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closeErr.Code != websocket.CloseGoingAway || closeErr.Text != shutdownReason {
		t.Fatalf("unexpected close %d %q", closeErr.Code, closeErr.Text)
	}
}

func TestLogsStreamReplaysAndFollowsLevel(t *testing.T) {
	buffer := logging.NewLogBuffer(10)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelDebug, io.Discard)
	logger.Debug("quiet", nil)
	logger.Warn("before connect", map[string]string{"source": "backlog"})

	conn := dialStream(t, &LogsHandler{Logger: logger}, "/ws/logs?level=warning")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var entry logging.LogEntry
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if entry.Message != "before connect" || entry.Context["source"] != "backlog" {
		t.Fatalf("unexpected backlog entry %+v", entry)
	}

	logger.Info("filtered out", nil)
	logger.Error("after connect", nil)
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read live entry: %v", err)
	}
	if entry.Message != "after connect" || entry.Level != logging.LevelError {
		t.Fatalf("unexpected live entry %+v", entry)
	}

	request, _ := json.Marshal(levelRequest{Level: "debug"})
	if err := conn.WriteMessage(websocket.TextMessage, request); err != nil {
		t.Fatalf("write level: %v", err)
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				logger.Debug("verbose", nil)
			}
		}
	}()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if err := conn.ReadJSON(&entry); err != nil {
			t.Fatalf("expected debug entries after lowering the level: %v", err)
		}
		if entry.Message == "verbose" {
			return
		}
	}
}

func TestLogsStreamRequiresToken(t *testing.T) {
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(10), logging.LevelInfo, io.Discard)
	srv := httptest.NewServer(&LogsHandler{Logger: logger, AuthToken: "secret"})
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(srv, "/ws/logs"), nil)
	if err == nil {
		t.Fatal("expected unauthorized websocket dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(srv, "/ws/logs?token=secret"), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	_ = conn.Close()
}

func TestMinLevel(t *testing.T) {
	cases := []struct {
		raw   string
		entry logging.Level
		allow bool
	}{
		{raw: "", entry: logging.LevelDebug, allow: true},
		{raw: "bogus", entry: logging.LevelDebug, allow: true},
		{raw: "warning", entry: logging.LevelInfo, allow: false},
		{raw: "warn", entry: logging.LevelError, allow: true},
	}
	for _, tc := range cases {
		level := newMinLevel(tc.raw)
		if got := level.Allow(logging.LogEntry{Level: tc.entry}); got != tc.allow {
			t.Fatalf("level %q entry %s: expected %v, got %v", tc.raw, tc.entry, tc.allow, got)
		}
	}
}
