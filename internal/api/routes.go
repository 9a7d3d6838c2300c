// Package api serves the optional HTTP status surface: JSON status, recent
// changes, websocket streams of changes and logs, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"watchflow/internal/logging"
	"watchflow/internal/metrics"
	"watchflow/internal/watch"
)

type Options struct {
	Manager        *watch.Manager
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
	Started        time.Time
}

func RegisterRoutes(mux *http.ServeMux, options Options) {
	logger := options.Logger.Component("api")
	rest := &RestHandler{
		Manager: options.Manager,
		Logger:  logger,
		Started: options.Started,
	}
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(logger, handler)
	}

	mux.Handle("/api/status", wrap(restHandler(options.AuthToken, rest.handleStatus)))
	mux.Handle("/api/changes", wrap(restHandler(options.AuthToken, rest.handleChanges)))
	mux.Handle("/ws/changes", securityHeadersMiddleware(cacheControlNoStore, &ChangesHandler{
		Manager:        options.Manager,
		Logger:         logger,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
	}))
	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, &LogsHandler{
		Logger:         options.Logger,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
	}))
	mux.Handle("/metrics", wrap(requireToken(options.AuthToken, options.Metrics.Handler())))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))
}
