// Package command runs external programs in response to changes.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"watchflow/internal/change"
	"watchflow/internal/config"
	"watchflow/internal/logging"
	"watchflow/internal/template"
)

const (
	DefaultGracePeriod = 2 * time.Second
	maxLoggedOutput    = 4096
)

type Result struct {
	ExitCode int
	Output   string
	Elapsed  time.Duration
	Err      error
}

type Command struct {
	triggers         change.Trigger
	path             string
	arguments        []string
	workingDirectory string
	timeout          time.Duration
	env              map[string]string
	variables        map[string]string
	logger           *logging.Logger
	GracePeriod      time.Duration
}

func NewCommand(cfg config.CommandConfig, variables map[string]string, logger *logging.Logger) (*Command, error) {
	triggers, err := config.Triggers(cfg.Triggers)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("command path is required")
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultCommandTimeout
	}
	return &Command{
		triggers:         triggers,
		path:             cfg.Path,
		arguments:        append([]string(nil), cfg.Arguments...),
		workingDirectory: cfg.WorkingDirectory,
		timeout:          timeout,
		env:              cfg.Env,
		variables:        variables,
		logger:           logger,
		GracePeriod:      DefaultGracePeriod,
	}, nil
}

// Run executes the command for record when trigger matches. It reports
// whether the command ran and exited zero.
func (c *Command) Run(ctx context.Context, record change.Record, trigger change.Trigger) bool {
	if c == nil || !c.triggers.Has(trigger) {
		return false
	}
	result := c.Execute(ctx, template.ForRecord(record, c.variables))

	fields := map[string]string{
		"command":    c.path,
		"trigger":    trigger.String(),
		"path":       record.FullPath(),
		"exit_code":  strconv.Itoa(result.ExitCode),
		"elapsed_ms": strconv.FormatInt(result.Elapsed.Milliseconds(), 10),
	}
	if result.Output != "" && c.logger != nil && c.logger.Enabled(logging.LevelDebug) {
		c.logger.Debug("command output", map[string]string{
			"command": c.path,
			"output":  truncate(result.Output, maxLoggedOutput),
		})
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		c.log(logging.LevelWarning, "command failed", fields)
		return false
	}
	c.log(logging.LevelInfo, "command completed", fields)
	return true
}

// Execute starts the program with templated arguments and waits for it. On
// timeout or cancellation the process gets SIGTERM, then is killed once the
// grace period passes.
func (c *Command) Execute(ctx context.Context, templateContext template.Context) Result {
	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	arguments := make([]string, len(c.arguments))
	for i, argument := range c.arguments {
		arguments[i] = template.Substitute(argument, templateContext)
	}
	cmd := exec.CommandContext(execCtx, template.Substitute(c.path, templateContext), arguments...)
	if c.workingDirectory != "" {
		cmd.Dir = template.Substitute(c.workingDirectory, templateContext)
	}
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.environment(templateContext)...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.GracePeriod

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	result := Result{
		ExitCode: exitCode(cmd, err),
		Output:   output.String(),
		Elapsed:  time.Since(start),
	}
	if ctxErr := execCtx.Err(); ctxErr != nil && err != nil {
		result.Err = fmt.Errorf("command %s cancelled: %w", c.path, ctxErr)
		return result
	}
	if err != nil {
		result.Err = fmt.Errorf("command %s: %w", c.path, err)
	}
	return result
}

func (c *Command) environment(templateContext template.Context) []string {
	names := make([]string, 0, len(c.env))
	for name := range c.env {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, name+"="+template.Substitute(c.env[name], templateContext))
	}
	return values
}

func (c *Command) log(level logging.Level, message string, fields map[string]string) {
	if c.logger == nil {
		return
	}
	switch level {
	case logging.LevelWarning:
		c.logger.Warn(message, fields)
	default:
		c.logger.Info(message, fields)
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

// Commands is the ordered list of commands attached to a watch.
type Commands struct {
	items []*Command
}

func New(cfgs []config.CommandConfig, variables map[string]string, logger *logging.Logger) (*Commands, error) {
	commands := &Commands{items: make([]*Command, 0, len(cfgs))}
	for i, cfg := range cfgs {
		item, err := NewCommand(cfg, variables, logger)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		commands.items = append(commands.items, item)
	}
	return commands, nil
}

func (commands *Commands) Len() int {
	if commands == nil {
		return 0
	}
	return len(commands.items)
}

// Run executes the commands one after another.
func (commands *Commands) Run(ctx context.Context, record change.Record, trigger change.Trigger) {
	if commands == nil {
		return
	}
	for _, item := range commands.items {
		if ctx.Err() != nil {
			return
		}
		item.Run(ctx, record, trigger)
	}
}
