package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchflow/internal/change"
	"watchflow/internal/dag"
	"watchflow/internal/logging"
)

type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseRun       Phase = "run_completed"
)

// StepEvent is emitted when a step starts or completes, and once more when
// the whole run completes.
type StepEvent struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	StepID     string    `json:"step_id,omitempty"`
	Phase      Phase     `json:"phase"`
	Path       string    `json:"path"`
	OccurredAt time.Time `json:"timestamp"`
}

type Listener func(StepEvent)

// Steps is the DAG of one workflow. After every step has completed, all steps
// are reset so the same instance serves the next run.
type Steps struct {
	workflowID string
	items      []*Step
	index      map[string]*Step
	logger     *logging.Logger

	initOnce sync.Once
	initErr  error

	runMu     sync.Mutex
	stateMu   sync.Mutex
	runID     string
	runs      int
	listeners []Listener
}

func NewSteps(workflowID string, items []*Step, logger *logging.Logger) *Steps {
	steps := &Steps{
		workflowID: workflowID,
		items:      items,
		index:      make(map[string]*Step, len(items)),
		logger:     logger,
	}
	for _, item := range items {
		item.owner = steps
		if _, exists := steps.index[item.id]; !exists {
			steps.index[item.id] = item
		}
	}
	return steps
}

// OnEvent registers a listener. Listeners run synchronously on the goroutine
// executing the step.
func (s *Steps) OnEvent(listener Listener) {
	if listener == nil {
		return
	}
	s.stateMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.stateMu.Unlock()
}

func (s *Steps) Items() []*Step {
	return append([]*Step(nil), s.items...)
}

func (s *Steps) Step(id string) *Step {
	return s.index[id]
}

// Initialize resolves needs into direct references once per lifetime. Unknown
// ids are dropped with a warning; a cycle is an error.
func (s *Steps) Initialize() error {
	s.initOnce.Do(func() {
		graph := dag.Graph{}
		for _, item := range s.items {
			if _, exists := graph[item.id]; exists {
				s.initErr = fmt.Errorf("workflow %s: duplicate step id %q", s.workflowID, item.id)
				return
			}
			graph[item.id] = item.needs
		}
		resolution, err := dag.Resolve(graph)
		for id, missing := range resolution.Unresolved {
			s.warn("step needs unknown steps", map[string]string{
				"step":    id,
				"missing": strings.Join(missing, ","),
			})
		}
		if err != nil {
			s.initErr = fmt.Errorf("workflow %s: %w", s.workflowID, err)
			return
		}
		for _, item := range s.items {
			for _, needID := range resolution.Needs[item.id] {
				need := s.index[needID]
				item.resolved = append(item.resolved, need)
				need.dependents = append(need.dependents, item)
			}
		}
		for _, item := range s.items {
			item.mu.Lock()
			item.initialized = true
			item.mu.Unlock()
		}
	})
	return s.initErr
}

// Run offers record to every step in declaration order. Steps with pending
// prerequisites are reached again when those complete.
func (s *Steps) Run(ctx context.Context, record change.Record, trigger change.Trigger) error {
	if err := s.Initialize(); err != nil {
		return err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	for _, item := range s.items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		item.Run(ctx, record, trigger)
	}
	return nil
}

// Completed reports whether every step has completed in the current run.
func (s *Steps) Completed() bool {
	if len(s.items) == 0 {
		return false
	}
	for _, item := range s.items {
		if !item.Completed() {
			return false
		}
	}
	return true
}

// Runs returns how many full runs have completed.
func (s *Steps) Runs() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.runs
}

func (s *Steps) Reset() {
	for _, item := range s.items {
		item.reset()
	}
	s.stateMu.Lock()
	s.runID = ""
	s.stateMu.Unlock()
}

func (s *Steps) stepStarted(step *Step, record change.Record) {
	s.stateMu.Lock()
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	runID := s.runID
	s.stateMu.Unlock()

	s.emit(StepEvent{WorkflowID: s.workflowID, RunID: runID, StepID: step.id, Phase: PhaseStarted, Path: record.FullPath()})
}

func (s *Steps) stepCompleted(ctx context.Context, step *Step, record change.Record, trigger change.Trigger) {
	s.stateMu.Lock()
	runID := s.runID
	s.stateMu.Unlock()
	s.emit(StepEvent{WorkflowID: s.workflowID, RunID: runID, StepID: step.id, Phase: PhaseCompleted, Path: record.FullPath()})

	for _, dependent := range step.dependents {
		dependent.Run(ctx, record, trigger)
	}

	if !s.Completed() {
		return
	}
	s.stateMu.Lock()
	s.runs++
	s.stateMu.Unlock()
	s.Reset()
	s.emit(StepEvent{WorkflowID: s.workflowID, RunID: runID, Phase: PhaseRun, Path: record.FullPath()})
}

func (s *Steps) emit(stepEvent StepEvent) {
	stepEvent.OccurredAt = time.Now().UTC()
	s.stateMu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.stateMu.Unlock()
	for _, listener := range listeners {
		listener(stepEvent)
	}
}

func (s *Steps) warn(message string, fields map[string]string) {
	if s.logger == nil {
		return
	}
	fields["workflow"] = s.workflowID
	s.logger.Warn(message, fields)
}
