package dag

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveDropsUnknownNeeds(t *testing.T) {
	resolution, err := Resolve(Graph{
		"a": nil,
		"b": {"a", "ghost"},
		"c": {"a", "b", "a"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, resolution.Needs["b"]); diff != "" {
		t.Fatalf("unexpected needs for b (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, resolution.Needs["c"]); diff != "" {
		t.Fatalf("unexpected needs for c (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ghost"}, resolution.Unresolved["b"]); diff != "" {
		t.Fatalf("unexpected unresolved (-want +got):\n%s", diff)
	}
}

func TestResolveRejectsCycle(t *testing.T) {
	_, err := Resolve(Graph{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %T", err)
	}
	if diff := cmp.Diff([]string{"a", "c", "b", "a"}, cycleErr.Path); diff != "" {
		t.Fatalf("unexpected cycle path (-want +got):\n%s", diff)
	}
}

func TestFindCycleSelfLoop(t *testing.T) {
	cycle := FindCycle(map[string][]string{"a": {"a"}})
	if diff := cmp.Diff([]string{"a", "a"}, cycle); diff != "" {
		t.Fatalf("unexpected cycle (-want +got):\n%s", diff)
	}
}

func TestFindCycleDiamondIsAcyclic(t *testing.T) {
	cycle := FindCycle(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	if cycle != nil {
		t.Fatalf("expected no cycle, got %v", cycle)
	}
}
