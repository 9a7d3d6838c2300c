package config

import (
	"errors"
	"fmt"
	"strings"

	"watchflow/internal/dag"
	"watchflow/internal/logging"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (err *ValidationError) Error() string {
	if err == nil {
		return ""
	}
	if err.Field == "" {
		return err.Message
	}
	return fmt.Sprintf("%s: %s", err.Field, err.Message)
}

func (err *ValidationError) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Err
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a defaulted config. Every problem found is reported.
func Validate(cfg Config) error {
	var errs []error
	if _, ok := logging.ParseLevel(cfg.Logging.Level); !ok {
		errs = append(errs, invalid("logging.level", "unknown level %q", cfg.Logging.Level))
	}
	if _, ok := logging.ParseFormat(cfg.Logging.Format); !ok {
		errs = append(errs, invalid("logging.format", "unknown format %q", cfg.Logging.Format))
	}
	if len(cfg.Watches) == 0 {
		errs = append(errs, invalid("watches", "at least one watch is required"))
	}

	ids := make(map[string]struct{}, len(cfg.Watches))
	graph := dag.Graph{}
	for i, watch := range cfg.Watches {
		field := fmt.Sprintf("watches[%d]", i)
		if watch.ID == "" {
			errs = append(errs, invalid(field+".id", "is required"))
		} else {
			field = fmt.Sprintf("watches[%s]", watch.ID)
			if _, exists := ids[watch.ID]; exists {
				errs = append(errs, invalid(field+".id", "duplicate watch id"))
			}
			ids[watch.ID] = struct{}{}
			graph[watch.ID] = watch.Needs
		}
		errs = append(errs, validateWatch(field, watch)...)
	}

	if _, err := dag.Resolve(graph); err != nil {
		errs = append(errs, &ValidationError{Field: "watches.needs", Message: err.Error(), Err: err})
	}
	return errors.Join(errs...)
}

func validateWatch(field string, watch WatchConfig) []error {
	var errs []error
	if strings.TrimSpace(watch.Path) == "" {
		errs = append(errs, invalid(field+".path", "is required"))
	}
	for i, action := range watch.Actions {
		errs = append(errs, validateAction(fmt.Sprintf("%s.actions[%d]", field, i), action)...)
	}
	for i, command := range watch.Commands {
		errs = append(errs, validateCommand(fmt.Sprintf("%s.commands[%d]", field, i), command)...)
	}
	for i, notification := range watch.Notifications.Items {
		errs = append(errs, validateNotification(fmt.Sprintf("%s.notifications.items[%d]", field, i), notification)...)
	}
	workflowIDs := map[string]struct{}{}
	for i, workflow := range watch.Workflows {
		workflowField := fmt.Sprintf("%s.workflows[%d]", field, i)
		if strings.TrimSpace(workflow.ID) != "" {
			if _, exists := workflowIDs[workflow.ID]; exists {
				errs = append(errs, invalid(workflowField+".id", "duplicate workflow id %q", workflow.ID))
			}
			workflowIDs[workflow.ID] = struct{}{}
		}
		errs = append(errs, validateWorkflow(workflowField, workflow)...)
	}
	return errs
}

func validateAction(field string, action ActionConfig) []error {
	var errs []error
	switch action.Type {
	case ActionCopy, ActionMove:
		if strings.TrimSpace(action.Destination) == "" {
			errs = append(errs, invalid(field+".destination", "is required for %s", action.Type))
		}
	case ActionDelete:
	default:
		errs = append(errs, invalid(field+".type", "unknown action type %q", action.Type))
	}
	if _, err := Triggers(action.Triggers); err != nil {
		errs = append(errs, invalid(field+".triggers", "%v", err))
	}
	return errs
}

func validateCommand(field string, command CommandConfig) []error {
	var errs []error
	if strings.TrimSpace(command.Path) == "" {
		errs = append(errs, invalid(field+".path", "is required"))
	}
	if _, err := Triggers(command.Triggers); err != nil {
		errs = append(errs, invalid(field+".triggers", "%v", err))
	}
	return errs
}

func validateNotification(field string, notification NotificationConfig) []error {
	var errs []error
	if strings.TrimSpace(notification.URL) == "" {
		errs = append(errs, invalid(field+".url", "is required"))
	}
	if _, err := Triggers(notification.Triggers); err != nil {
		errs = append(errs, invalid(field+".triggers", "%v", err))
	}
	return errs
}

func validateWorkflow(field string, workflow WorkflowConfig) []error {
	var errs []error
	if _, err := Triggers(workflow.Triggers); err != nil {
		errs = append(errs, invalid(field+".triggers", "%v", err))
	}
	if len(workflow.Steps) == 0 {
		errs = append(errs, invalid(field+".steps", "at least one step is required"))
	}
	graph := dag.Graph{}
	for i, step := range workflow.Steps {
		stepField := fmt.Sprintf("%s.steps[%d]", field, i)
		if step.ID == "" {
			errs = append(errs, invalid(stepField+".id", "is required"))
			continue
		}
		if _, exists := graph[step.ID]; exists {
			errs = append(errs, invalid(stepField+".id", "duplicate step id %q", step.ID))
		}
		graph[step.ID] = step.Needs
		if step.Action != nil {
			errs = append(errs, validateAction(stepField+".action", *step.Action)...)
		}
		if step.Command != nil {
			errs = append(errs, validateCommand(stepField+".command", *step.Command)...)
		}
		if step.Notification != nil {
			errs = append(errs, validateNotification(stepField+".notification", *step.Notification)...)
		}
	}
	if _, err := dag.Resolve(graph); err != nil {
		errs = append(errs, &ValidationError{Field: field + ".steps", Message: err.Error(), Err: err})
	}
	return errs
}
