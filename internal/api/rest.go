package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"watchflow/internal/logging"
	"watchflow/internal/version"
	"watchflow/internal/watch"
)

const defaultChangesLimit = 50

type RestHandler struct {
	Manager *watch.Manager
	Logger  *logging.Logger
	Started time.Time
}

type statusResponse struct {
	Version    string         `json:"version"`
	GitCommit  string         `json:"git_commit,omitempty"`
	ServerTime time.Time      `json:"server_time"`
	Uptime     string         `json:"uptime"`
	Active     int            `json:"active"`
	Watches    []watch.Status `json:"watches"`
}

type changesResponse struct {
	Changes []watch.Change `json:"changes"`
}

func (h *RestHandler) requireManager() *apiError {
	if h == nil || h.Manager == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "watch manager unavailable"}
	}
	return nil
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	if err := h.requireManager(); err != nil {
		return err
	}

	statuses := h.Manager.Statuses()
	active := 0
	for _, status := range statuses {
		if status.State == watch.StateActive {
			active++
		}
	}
	info := version.GetVersionInfo()
	response := statusResponse{
		Version:    info.Version,
		GitCommit:  info.GitCommit,
		ServerTime: time.Now().UTC(),
		Active:     active,
		Watches:    statuses,
	}
	if !h.Started.IsZero() {
		response.Uptime = time.Since(h.Started).Truncate(time.Second).String()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

// handleChanges returns recent dispatched changes, newest last. The watch
// query parameter narrows the list to one watch.
func (h *RestHandler) handleChanges(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	if err := h.requireManager(); err != nil {
		return err
	}

	limit := defaultChangesLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "limit must be a positive integer"}
		}
		limit = parsed
	}
	watchID := strings.TrimSpace(r.URL.Query().Get("watch"))
	if watchID != "" && h.Manager.Pipeline(watchID) == nil {
		return &apiError{Status: http.StatusNotFound, Message: "watch not found"}
	}

	history := h.Manager.Changes().History(0)
	changes := make([]watch.Change, 0, len(history))
	for _, item := range history {
		if watchID != "" && item.WatchID != watchID {
			continue
		}
		changes = append(changes, item)
	}
	if len(changes) > limit {
		changes = changes[len(changes)-limit:]
	}
	writeJSON(w, http.StatusOK, changesResponse{Changes: changes})
	return nil
}
