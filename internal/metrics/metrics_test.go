package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, registry *Registry) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestRegistryExposesCollectors(t *testing.T) {
	registry := NewRegistry()
	registry.RecordChange("docs", "create")
	registry.RecordChange("docs", "create")
	registry.RecordDropped("docs")
	registry.SetQueueDepth("docs", 3)
	registry.ObserveDispatch("docs", 20*time.Millisecond)
	registry.RecordStep("publish", "completed")
	registry.RecordRun("publish")
	registry.RecordDelivery(false)
	registry.RecordRearm("docs")
	registry.SetActive("docs", true)

	body := scrape(t, registry)
	for _, want := range []string{
		`watchflow_changes_total{trigger="create",watch="docs"} 2`,
		`watchflow_changes_dropped_total{watch="docs"} 1`,
		`watchflow_queue_depth{watch="docs"} 3`,
		`watchflow_dispatch_duration_seconds_count{watch="docs"} 1`,
		`watchflow_workflow_steps_total{phase="completed",workflow="publish"} 1`,
		`watchflow_workflow_runs_total{workflow="publish"} 1`,
		`watchflow_notification_deliveries_total{outcome="failure"} 1`,
		`watchflow_watcher_rearms_total{watch="docs"} 1`,
		`watchflow_watch_active{watch="docs"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.RecordChange("docs", "create")
	registry.SetActive("docs", false)

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 404 {
		t.Fatalf("expected 404 from nil registry, got %d", recorder.Code)
	}
}

func TestEmptyLabelsAreNamed(t *testing.T) {
	registry := NewRegistry()
	registry.RecordChange("", " ")

	body := scrape(t, registry)
	if !strings.Contains(body, `watchflow_changes_total{trigger="unknown",watch="unknown"} 1`) {
		t.Fatalf("expected unknown labels in scrape output")
	}
}
