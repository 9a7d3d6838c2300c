package api

import (
	"net/http"
	"strings"

	"watchflow/internal/logging"
	"watchflow/internal/watch"
)

// ChangesHandler streams dispatched changes over a websocket. The watch query
// parameter narrows the stream to one watch.
type ChangesHandler struct {
	Manager        *watch.Manager
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *ChangesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		rejectStream(w, r, h.Logger, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.Manager == nil {
		rejectStream(w, r, h.Logger, http.StatusServiceUnavailable, "change stream unavailable")
		return
	}
	var onlyWatch func(watch.Change) bool
	if watchID := strings.TrimSpace(r.URL.Query().Get("watch")); watchID != "" {
		if h.Manager.Pipeline(watchID) == nil {
			rejectStream(w, r, h.Logger, http.StatusNotFound, "unknown watch "+watchID)
			return
		}
		onlyWatch = func(item watch.Change) bool {
			return item.WatchID == watchID
		}
	}

	changes, cancel := h.Manager.Changes().SubscribeFiltered(onlyWatch)
	defer cancel()
	stream, err := openStream(w, r, h.AllowedOrigins, nil)
	if err != nil {
		logUpgradeFailure(h.Logger, r, err)
		return
	}
	defer stream.Close()

	for {
		select {
		case <-stream.Gone():
			return
		case item, ok := <-changes:
			if !ok {
				stream.Shutdown()
				return
			}
			if err := stream.Send(item); err != nil {
				return
			}
		}
	}
}
