// Package action runs the file operations (copy, move, delete) configured on
// a watch or on a workflow step.
package action

import (
	"context"
	"fmt"
	"strings"

	"watchflow/internal/change"
	"watchflow/internal/config"
	"watchflow/internal/fileops"
	"watchflow/internal/logging"
	"watchflow/internal/template"
)

const defaultSource = "[fullpath]"

// FileService is the subset of fileops.Service actions need.
type FileService interface {
	Copy(ctx context.Context, src, dst string, options fileops.Options) error
	Move(ctx context.Context, src, dst string, options fileops.Options) error
	Delete(path string) error
}

type Action struct {
	kind        config.ActionType
	triggers    change.Trigger
	source      string
	destination string
	options     fileops.Options
	variables   map[string]string
	files       FileService
	logger      *logging.Logger
}

func NewAction(cfg config.ActionConfig, files FileService, variables map[string]string, logger *logging.Logger) (*Action, error) {
	triggers, err := config.Triggers(cfg.Triggers)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.ActionCopy, config.ActionMove, config.ActionDelete:
	default:
		return nil, fmt.Errorf("unknown action type %q", cfg.Type)
	}
	source := cfg.Source
	if strings.TrimSpace(source) == "" {
		source = defaultSource
	}
	return &Action{
		kind:        cfg.Type,
		triggers:    triggers,
		source:      source,
		destination: cfg.Destination,
		options:     fileops.Options{Verify: cfg.Verify, KeepTimestamps: cfg.KeepTimestamps},
		variables:   variables,
		files:       files,
		logger:      logger,
	}, nil
}

func (a *Action) Type() config.ActionType {
	return a.kind
}

// Run performs the action for record when trigger is one the action reacts
// to. Failures are logged and reported as false.
func (a *Action) Run(ctx context.Context, record change.Record, trigger change.Trigger) bool {
	if a == nil || !a.triggers.Has(trigger) {
		return false
	}
	templateContext := template.ForRecord(record, a.variables)
	source := template.Substitute(a.source, templateContext)
	destination := template.Substitute(a.destination, templateContext)

	var err error
	switch a.kind {
	case config.ActionCopy:
		err = a.files.Copy(ctx, source, destination, a.options)
	case config.ActionMove:
		err = a.files.Move(ctx, source, destination, a.options)
	case config.ActionDelete:
		err = a.files.Delete(source)
	}

	fields := map[string]string{
		"action":  string(a.kind),
		"trigger": trigger.String(),
		"source":  source,
	}
	if destination != "" {
		fields["destination"] = destination
	}
	if err != nil {
		fields["error"] = err.Error()
		a.logError("action failed", fields)
		return false
	}
	a.logInfo("action completed", fields)
	return true
}

func (a *Action) logInfo(message string, fields map[string]string) {
	if a.logger != nil {
		a.logger.Info(message, fields)
	}
}

func (a *Action) logError(message string, fields map[string]string) {
	if a.logger != nil {
		a.logger.Error(message, fields)
	}
}

// Actions is the ordered list of actions attached to a watch.
type Actions struct {
	items []*Action
}

func New(cfgs []config.ActionConfig, files FileService, variables map[string]string, logger *logging.Logger) (*Actions, error) {
	actions := &Actions{items: make([]*Action, 0, len(cfgs))}
	for i, cfg := range cfgs {
		item, err := NewAction(cfg, files, variables, logger)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions.items = append(actions.items, item)
	}
	return actions, nil
}

func (actions *Actions) Len() int {
	if actions == nil {
		return 0
	}
	return len(actions.items)
}

// Run executes every action in order. One failing action does not stop the
// rest.
func (actions *Actions) Run(ctx context.Context, record change.Record, trigger change.Trigger) {
	if actions == nil {
		return
	}
	for _, item := range actions.items {
		if ctx.Err() != nil {
			return
		}
		item.Run(ctx, record, trigger)
	}
}
