package workflow

import (
	"context"
	"sync"

	"watchflow/internal/action"
	"watchflow/internal/change"
	"watchflow/internal/command"
	"watchflow/internal/notification"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Step is one node of a workflow. It runs at most once per workflow run and
// only after every step it needs has completed.
type Step struct {
	id           string
	needs        []string
	action       *action.Action
	command      *command.Command
	notification *notification.Notification

	owner      *Steps
	resolved   []*Step
	dependents []*Step

	mu          sync.Mutex
	initialized bool
	running     bool
	completed   bool
}

func (s *Step) ID() string {
	return s.id
}

// Needs returns the configured prerequisite ids, resolved or not.
func (s *Step) Needs() []string {
	return append([]string(nil), s.needs...)
}

func (s *Step) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.running:
		return StateRunning
	case s.completed:
		return StateCompleted
	default:
		return StateIdle
	}
}

func (s *Step) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *Step) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CanRun reports whether every resolved prerequisite has completed.
func (s *Step) CanRun() bool {
	for _, need := range s.resolved {
		if !need.Completed() {
			return false
		}
	}
	return true
}

// Run executes the step's payload for record. It is a no-op while the step
// is running, after it completed in the current run, or while a prerequisite
// is pending. Completion re-attempts every dependent with the same record.
func (s *Step) Run(ctx context.Context, record change.Record, trigger change.Trigger) bool {
	s.mu.Lock()
	if s.running || s.completed || !s.initialized {
		s.mu.Unlock()
		return false
	}
	if !s.CanRun() {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.mu.Unlock()

	s.owner.stepStarted(s, record)

	if s.action != nil {
		s.action.Run(ctx, record, trigger)
	}
	if s.command != nil {
		s.command.Run(ctx, record, trigger)
	}
	if s.notification != nil {
		s.notification.Queue(record, trigger)
	}

	s.mu.Lock()
	s.running = false
	s.completed = true
	s.mu.Unlock()

	s.owner.stepCompleted(ctx, s, record, trigger)
	return true
}

func (s *Step) reset() {
	s.mu.Lock()
	s.running = false
	s.completed = false
	s.mu.Unlock()
}
