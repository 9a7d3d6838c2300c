// Package workflow runs named DAGs of steps. Each step may carry an action, a
// command and a notification; a step runs once all the steps it needs have
// completed.
package workflow

import (
	"context"
	"fmt"
	"strconv"

	"watchflow/internal/action"
	"watchflow/internal/change"
	"watchflow/internal/command"
	"watchflow/internal/config"
	"watchflow/internal/logging"
	"watchflow/internal/notification"
)

// Workflow wraps one Steps DAG. Incoming changes are re-tagged with
// change.TriggerStep so each step's own trigger filter decides whether its
// payload runs.
type Workflow struct {
	id       string
	triggers change.Trigger
	steps    *Steps
	logger   *logging.Logger
}

func (w *Workflow) ID() string {
	return w.id
}

func (w *Workflow) Steps() *Steps {
	return w.steps
}

func (w *Workflow) Run(ctx context.Context, record change.Record, trigger change.Trigger) {
	if w == nil || !w.triggers.Has(trigger) {
		return
	}
	if err := w.steps.Run(ctx, record, change.TriggerStep); err != nil && w.logger != nil {
		w.logger.Error("workflow run failed", map[string]string{
			"workflow": w.id,
			"path":     record.FullPath(),
			"error":    err.Error(),
		})
	}
}

type Dependencies struct {
	Files         action.FileService
	Variables     map[string]string
	Logger        *logging.Logger
	Notifications notification.Options
}

// Workflows is the set of workflows attached to one watch, plus the
// notification batcher their steps queue into.
type Workflows struct {
	items         []*Workflow
	notifications *notification.Notifications
}

func New(cfgs []config.WorkflowConfig, deps Dependencies) (*Workflows, error) {
	workflows := &Workflows{
		items:         make([]*Workflow, 0, len(cfgs)),
		notifications: notification.NewEmpty(deps.Notifications),
	}
	for i, cfg := range cfgs {
		workflowID := cfg.ID
		if workflowID == "" {
			workflowID = "workflow-" + strconv.Itoa(i)
		}
		item, err := workflows.build(workflowID, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", workflowID, err)
		}
		workflows.items = append(workflows.items, item)
	}
	return workflows, nil
}

func (w *Workflows) build(workflowID string, cfg config.WorkflowConfig, deps Dependencies) (*Workflow, error) {
	triggers, err := config.Triggers(cfg.Triggers)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger != nil {
		logger = logger.With(map[string]string{"workflow": workflowID})
	}
	items := make([]*Step, 0, len(cfg.Steps))
	for _, stepConfig := range cfg.Steps {
		item := &Step{id: stepConfig.ID, needs: stepConfig.Needs}
		if stepConfig.Action != nil {
			item.action, err = action.NewAction(*stepConfig.Action, deps.Files, deps.Variables, logger)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", stepConfig.ID, err)
			}
		}
		if stepConfig.Command != nil {
			item.command, err = command.NewCommand(*stepConfig.Command, deps.Variables, logger)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", stepConfig.ID, err)
			}
		}
		if stepConfig.Notification != nil {
			item.notification, err = notification.NewNotification(*stepConfig.Notification, deps.Variables)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", stepConfig.ID, err)
			}
			w.notifications.Add(item.notification)
		}
		items = append(items, item)
	}
	steps := NewSteps(workflowID, items, logger)
	if err := steps.Initialize(); err != nil {
		return nil, err
	}
	return &Workflow{id: workflowID, triggers: triggers, steps: steps, logger: logger}, nil
}

func (w *Workflows) Items() []*Workflow {
	if w == nil {
		return nil
	}
	return append([]*Workflow(nil), w.items...)
}

func (w *Workflows) Len() int {
	if w == nil {
		return 0
	}
	return len(w.items)
}

// OnEvent registers listener on every workflow.
func (w *Workflows) OnEvent(listener Listener) {
	for _, item := range w.Items() {
		item.steps.OnEvent(listener)
	}
}

func (w *Workflows) Notifications() *notification.Notifications {
	if w == nil {
		return nil
	}
	return w.notifications
}

func (w *Workflows) Run(ctx context.Context, record change.Record, trigger change.Trigger) {
	for _, item := range w.Items() {
		if ctx.Err() != nil {
			return
		}
		item.Run(ctx, record, trigger)
	}
}

func (w *Workflows) Start(ctx context.Context) {
	if w == nil {
		return
	}
	w.notifications.Start(ctx)
}

// Stop ends the flush timer and delivers what the steps queued.
func (w *Workflows) Stop(ctx context.Context) {
	if w == nil {
		return
	}
	w.notifications.Stop()
	w.notifications.Flush(ctx)
}
