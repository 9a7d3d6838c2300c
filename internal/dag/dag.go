// Package dag resolves "needs" edges between named nodes and rejects cyclic
// graphs. Steps inside a workflow and watches inside a configuration both use
// it.
package dag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrCycle = errors.New("dependency cycle")

// CycleError reports the nodes that form a cycle, first node repeated last.
type CycleError struct {
	Path []string
}

func (err *CycleError) Error() string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(err.Path, " -> "))
}

func (err *CycleError) Unwrap() error {
	return ErrCycle
}

// Graph maps a node id to the ids it needs.
type Graph map[string][]string

// Resolution is the outcome of resolving a Graph: each node's needs limited to
// ids that exist, plus the ids that could not be found.
type Resolution struct {
	Needs      map[string][]string
	Unresolved map[string][]string
}

// Resolve drops needs that do not name a node in the graph and then checks the
// remaining edges for cycles.
func Resolve(graph Graph) (Resolution, error) {
	resolution := Resolution{
		Needs:      make(map[string][]string, len(graph)),
		Unresolved: map[string][]string{},
	}
	for id, needs := range graph {
		resolved := make([]string, 0, len(needs))
		seen := map[string]struct{}{}
		for _, need := range needs {
			need = strings.TrimSpace(need)
			if need == "" {
				continue
			}
			if _, ok := graph[need]; !ok {
				resolution.Unresolved[id] = append(resolution.Unresolved[id], need)
				continue
			}
			if _, dup := seen[need]; dup {
				continue
			}
			seen[need] = struct{}{}
			resolved = append(resolved, need)
		}
		resolution.Needs[id] = resolved
	}
	if cycle := FindCycle(resolution.Needs); len(cycle) > 0 {
		return resolution, &CycleError{Path: cycle}
	}
	return resolution, nil
}

const (
	unvisited = iota
	visiting
	visited
)

// FindCycle returns one cycle in graph, or nil when the graph is acyclic. Nodes
// are visited in sorted order so the reported cycle is deterministic.
func FindCycle(graph map[string][]string) []string {
	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	state := make(map[string]int, len(graph))
	stack := []string{}
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, next := range graph[id] {
			switch state[next] {
			case visiting:
				start := 0
				for index, candidate := range stack {
					if candidate == next {
						start = index
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), next)
				return true
			case unvisited:
				if _, known := graph[next]; !known {
					continue
				}
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return false
	}

	for _, id := range ids {
		if state[id] != unvisited {
			continue
		}
		if visit(id) {
			return cycle
		}
	}
	return nil
}
