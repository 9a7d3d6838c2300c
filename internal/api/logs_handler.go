package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"watchflow/internal/logging"
)

// LogsHandler streams log entries over a websocket, starting with the
// buffered backlog. The level query parameter sets the initial minimum level;
// clients change it later by sending {"level": "..."}. An unknown level
// passes everything.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type levelRequest struct {
	Level string `json:"level"`
}

// minLevel is read by the writer and replaced by the reader goroutine.
type minLevel struct {
	value atomic.Value
}

func newMinLevel(raw string) *minLevel {
	level := &minLevel{}
	level.Set(raw)
	return level
}

func (m *minLevel) Set(raw string) {
	parsed, _ := logging.ParseLevel(raw)
	m.value.Store(parsed)
}

func (m *minLevel) Allow(entry logging.LogEntry) bool {
	level, _ := m.value.Load().(logging.Level)
	return logging.LevelAtLeast(entry.Level, level)
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		rejectStream(w, r, h.Logger, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.Logger == nil {
		rejectStream(w, r, nil, http.StatusServiceUnavailable, "log stream unavailable")
		return
	}

	level := newMinLevel(r.URL.Query().Get("level"))
	entries, cancel := h.Logger.Subscribe()
	defer cancel()
	backlog := h.Logger.Buffer().List()

	stream, err := openStream(w, r, h.AllowedOrigins, func(data []byte) {
		var request levelRequest
		if json.Unmarshal(data, &request) == nil {
			level.Set(request.Level)
		}
	})
	if err != nil {
		logUpgradeFailure(h.Logger, r, err)
		return
	}
	defer stream.Close()

	for _, entry := range backlog {
		if !level.Allow(entry) {
			continue
		}
		if err := stream.Send(entry); err != nil {
			return
		}
	}
	for {
		select {
		case <-stream.Gone():
			return
		case entry, ok := <-entries:
			if !ok {
				stream.Shutdown()
				return
			}
			if !level.Allow(entry) {
				continue
			}
			if err := stream.Send(entry); err != nil {
				return
			}
		}
	}
}
