package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"watchflow/internal/change"
	"watchflow/internal/config"
	"watchflow/internal/logging"
	"watchflow/internal/metrics"
	"watchflow/internal/watch"
)

func newTestManager(t *testing.T) *watch.Manager {
	t.Helper()
	root := t.TempDir()
	manager, err := watch.NewManager([]config.WatchConfig{
		{ID: "docs", Path: root},
		{ID: "media", Path: root},
	}, watch.Dependencies{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func newChange(t *testing.T, manager *watch.Manager, watchID, name string) watch.Change {
	t.Helper()
	root := manager.Pipeline(watchID).Root()
	record, err := change.NewRecord(root, change.RawEvent{
		Trigger:  change.TriggerCreate,
		Name:     name,
		FullPath: filepath.Join(root, name),
	})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	return watch.Change{WatchID: watchID, Record: record, OccurredAt: time.Now()}
}

func publishChange(t *testing.T, manager *watch.Manager, watchID, name string) {
	t.Helper()
	manager.Changes().Publish(newChange(t, manager, watchID, name))
}

func newTestMux(t *testing.T, manager *watch.Manager, token string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, Options{
		Manager:   manager,
		Logger:    logging.NewLoggerWithOutput(logging.NewLogBuffer(50), logging.LevelDebug, io.Discard),
		Metrics:   metrics.NewRegistry(),
		AuthToken: token,
	})
	return mux
}

func TestStatusReportsWatches(t *testing.T) {
	mux := newTestMux(t, newTestManager(t), "")

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Cache-Control"); got != cacheControlNoStore {
		t.Fatalf("expected no-store cache control, got %q", got)
	}

	var payload statusResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(payload.Watches) != 2 || payload.Watches[0].ID != "docs" {
		t.Fatalf("unexpected watches %+v", payload.Watches)
	}
	if payload.Active != 0 {
		t.Fatalf("expected no active watches, got %d", payload.Active)
	}
}

func TestStatusRejectsOtherMethods(t *testing.T) {
	mux := newTestMux(t, newTestManager(t), "")

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
	if recorder.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("expected Allow header")
	}
}

func TestChangesFiltersByWatchAndLimit(t *testing.T) {
	manager := newTestManager(t)
	publishChange(t, manager, "docs", "a.txt")
	publishChange(t, manager, "media", "b.png")
	publishChange(t, manager, "docs", "c.txt")
	mux := newTestMux(t, manager, "")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "all", query: "", want: []string{"a.txt", "b.png", "c.txt"}},
		{name: "one watch", query: "?watch=docs", want: []string{"a.txt", "c.txt"}},
		{name: "limit", query: "?limit=1", want: []string{"c.txt"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/changes"+test.query, nil))
			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", recorder.Code)
			}
			var payload struct {
				Changes []struct {
					WatchID string `json:"watch_id"`
					Change  struct {
						Name string `json:"name"`
					} `json:"change"`
				} `json:"changes"`
			}
			if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
				t.Fatalf("decode changes: %v", err)
			}
			var names []string
			for _, item := range payload.Changes {
				names = append(names, item.Change.Name)
			}
			if strings.Join(names, ",") != strings.Join(test.want, ",") {
				t.Fatalf("expected %v, got %v", test.want, names)
			}
		})
	}
}

func TestChangesRejectsBadRequests(t *testing.T) {
	mux := newTestMux(t, newTestManager(t), "")

	for query, status := range map[string]int{
		"?limit=zero":    http.StatusBadRequest,
		"?limit=-1":      http.StatusBadRequest,
		"?watch=unknown": http.StatusNotFound,
	} {
		recorder := httptest.NewRecorder()
		mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/changes"+query, nil))
		if recorder.Code != status {
			t.Fatalf("%s: expected %d, got %d", query, status, recorder.Code)
		}
		var payload errorResponse
		if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if payload.Code != errorCodeForStatus(status) {
			t.Fatalf("%s: unexpected error code %q", query, payload.Code)
		}
	}
}

func TestRoutesRequireToken(t *testing.T) {
	mux := newTestMux(t, newTestManager(t), "secret")

	for _, path := range []string{"/api/status", "/api/changes", "/metrics"} {
		recorder := httptest.NewRecorder()
		mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, recorder.Code)
		}

		request := httptest.NewRequest(http.MethodGet, path, nil)
		request.Header.Set("Authorization", "Bearer secret")
		recorder = httptest.NewRecorder()
		mux.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 with token, got %d", path, recorder.Code)
		}
	}
}

func TestMetricsEndpointServesCollectors(t *testing.T) {
	mux := newTestMux(t, newTestManager(t), "")

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector output")
	}
}
