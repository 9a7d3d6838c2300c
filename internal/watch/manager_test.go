package watch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"watchflow/internal/change"
	"watchflow/internal/config"
	"watchflow/internal/dag"
	"watchflow/internal/metrics"
)

func TestNewManagerLinksNeeds(t *testing.T) {
	root := t.TempDir()
	manager, err := NewManager([]config.WatchConfig{
		{ID: "first", Path: root},
		{ID: "second", Path: root, Needs: []string{"first", "ghost"}},
	}, Dependencies{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	statuses := manager.Statuses()
	ids := []string{statuses[0].ID, statuses[1].ID}
	if diff := cmp.Diff([]string{"first", "second"}, ids); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"first"}, statuses[1].Needs); diff != "" {
		t.Fatalf("unexpected needs (-want +got):\n%s", diff)
	}
	if manager.Pipeline("second") == nil || manager.Pipeline("ghost") != nil {
		t.Fatalf("unexpected pipeline lookup")
	}
}

func TestNewManagerRejectsCycles(t *testing.T) {
	root := t.TempDir()
	_, err := NewManager([]config.WatchConfig{
		{ID: "a", Path: root, Needs: []string{"b"}},
		{ID: "b", Path: root, Needs: []string{"a"}},
	}, Dependencies{})
	if !errors.Is(err, dag.ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestDependentWaitsForNeededWatch(t *testing.T) {
	root := t.TempDir()
	manager, err := NewManager([]config.WatchConfig{
		{ID: "first", Path: root},
		{ID: "second", Path: root, Needs: []string{"first"}},
	}, Dependencies{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	first := manager.Pipeline("first")
	second := manager.Pipeline("second")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go second.work(ctx)

	first.setRunning(true)
	second.enqueue(newRecord(t, root, "a.txt", change.TriggerCreate))

	time.Sleep(100 * time.Millisecond)
	if status := second.Status(); status.Pending != 1 || status.Processed != 0 {
		t.Fatalf("expected record to wait for the needed watch, got %+v", status)
	}

	first.setRunning(false)
	first.signalDependents()
	waitUntil(t, 2*time.Second, func() bool {
		return second.Status().Processed == 1
	}, "expected dependent to drain once the needed watch is idle")
	if !second.Idle() {
		t.Fatal("expected dependent to be idle after draining")
	}
}

func TestQueueDrainsInArrivalOrder(t *testing.T) {
	root := t.TempDir()
	manager, err := NewManager([]config.WatchConfig{{ID: "ordered", Path: root}}, Dependencies{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	pipeline := manager.Pipeline("ordered")
	for _, name := range []string{"1.txt", "2.txt", "3.txt"} {
		pipeline.enqueue(newRecord(t, root, name, change.TriggerCreate))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.work(ctx)

	waitUntil(t, 2*time.Second, func() bool {
		return pipeline.Status().Processed == 3
	}, "expected every record to be processed")
	var names []string
	for _, record := range pipeline.History(0) {
		names = append(names, record.Name())
	}
	if diff := cmp.Diff([]string{"1.txt", "2.txt", "3.txt"}, names); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestManagerStartAndStop(t *testing.T) {
	root := t.TempDir()
	manager, err := NewManager([]config.WatchConfig{
		{ID: "present", Path: root},
		{ID: "absent", Path: filepath.Join(root, "missing")},
	}, Dependencies{Metrics: metrics.NewRegistry()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	err = manager.Start(context.Background())
	if !errors.Is(err, ErrRootMissing) {
		t.Fatalf("expected missing root error, got %v", err)
	}
	if manager.Active() != 1 {
		t.Fatalf("expected one active watch, got %d", manager.Active())
	}

	if err := manager.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	for _, status := range manager.Statuses() {
		if status.State == StateActive {
			t.Fatalf("expected %s to be inactive after stop", status.ID)
		}
	}
}
