// Package config loads the YAML description of watches and the operations
// attached to them.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"watchflow/internal/change"
)

const (
	DefaultServerAddr            = "127.0.0.1:7070"
	DefaultRearmInterval         = 5 * time.Minute
	DefaultCommandTimeout        = 30 * time.Second
	DefaultNotificationInterval  = 60 * time.Second
	MinNotificationInterval      = time.Second
	DefaultNotificationMethod    = "POST"
	DefaultNotificationMimeType  = "application/json"
	DefaultNotificationMessage   = "[trigger]: [fullpath]"
	DefaultHistorySize           = 100
	DefaultWatcherRestartDelay   = 2 * time.Second
	DefaultWatcherRestartRetries = 3
)

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Watches []WatchConfig `yaml:"watches"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type ServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	Token          string   `yaml:"token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type WatchConfig struct {
	ID            string               `yaml:"id"`
	Path          string               `yaml:"path"`
	Timeout       Duration             `yaml:"timeout"`
	RearmInterval Duration             `yaml:"rearm_interval"`
	HistorySize   int                  `yaml:"history_size"`
	Needs         []string             `yaml:"needs"`
	Variables     map[string]string    `yaml:"variables"`
	Filters       FilterConfig         `yaml:"filters"`
	Exclusions    FilterConfig         `yaml:"exclusions"`
	Actions       []ActionConfig       `yaml:"actions"`
	Commands      []CommandConfig      `yaml:"commands"`
	Notifications NotificationsConfig  `yaml:"notifications"`
	Workflows     []WorkflowConfig     `yaml:"workflows"`
	Watcher       WatcherRestartConfig `yaml:"watcher"`
}

type WatcherRestartConfig struct {
	RestartAttempts int      `yaml:"restart_attempts"`
	RestartDelay    Duration `yaml:"restart_delay"`
}

type FilterConfig struct {
	Files      []string `yaml:"files"`
	Folders    []string `yaml:"folders"`
	Attributes []string `yaml:"attributes"`
	Paths      []string `yaml:"paths"`
}

func (filter FilterConfig) IsEmpty() bool {
	return len(filter.Files) == 0 && len(filter.Folders) == 0 &&
		len(filter.Attributes) == 0 && len(filter.Paths) == 0
}

type ActionType string

const (
	ActionCopy   ActionType = "copy"
	ActionMove   ActionType = "move"
	ActionDelete ActionType = "delete"
)

type ActionConfig struct {
	Type           ActionType `yaml:"type"`
	Triggers       []string   `yaml:"triggers"`
	Source         string     `yaml:"source"`
	Destination    string     `yaml:"destination"`
	Verify         bool       `yaml:"verify"`
	KeepTimestamps bool       `yaml:"keep_timestamps"`
}

type CommandConfig struct {
	Triggers         []string          `yaml:"triggers"`
	Path             string            `yaml:"path"`
	Arguments        []string          `yaml:"arguments"`
	WorkingDirectory string            `yaml:"working_directory"`
	Timeout          Duration          `yaml:"timeout"`
	Env              map[string]string `yaml:"env"`
}

type NotificationsConfig struct {
	Interval Duration             `yaml:"interval"`
	Items    []NotificationConfig `yaml:"items"`
}

type NotificationConfig struct {
	URL      string      `yaml:"url"`
	Method   string      `yaml:"method"`
	Triggers []string    `yaml:"triggers"`
	Message  string      `yaml:"message"`
	Data     DataConfig  `yaml:"data"`
	Retry    RetryConfig `yaml:"retry"`
}

type DataConfig struct {
	MimeType string            `yaml:"mime_type"`
	Body     string            `yaml:"body"`
	Headers  map[string]string `yaml:"headers"`
}

type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Delay    Duration `yaml:"delay"`
}

type WorkflowConfig struct {
	ID       string       `yaml:"id"`
	Triggers []string     `yaml:"triggers"`
	Steps    []StepConfig `yaml:"steps"`
}

type StepConfig struct {
	ID           string              `yaml:"id"`
	Needs        []string            `yaml:"needs"`
	Action       *ActionConfig       `yaml:"action"`
	Command      *CommandConfig      `yaml:"command"`
	Notification *NotificationConfig `yaml:"notification"`
}

// Triggers parses a trigger list. An empty list selects every kind, including
// step runs.
func Triggers(values []string) (change.Trigger, error) {
	if len(values) == 0 {
		return change.TriggerFile | change.TriggerStep, nil
	}
	return change.ParseTriggers(values)
}

// ApplyDefaults fills unset fields in place.
func (cfg *Config) ApplyDefaults() {
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Logging.Format) == "" {
		cfg.Logging.Format = "text"
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	for i := range cfg.Watches {
		applyWatchDefaults(&cfg.Watches[i])
	}
}

// CleanRoot returns path cleaned and made absolute against the working
// directory. A blank path stays blank.
func CleanRoot(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if absolute, err := filepath.Abs(path); err == nil {
		return absolute
	}
	return filepath.Clean(path)
}

func applyWatchDefaults(watch *WatchConfig) {
	watch.ID = strings.TrimSpace(watch.ID)
	watch.Path = CleanRoot(watch.Path)
	if watch.RearmInterval <= 0 {
		watch.RearmInterval = Duration(DefaultRearmInterval)
	}
	if watch.HistorySize <= 0 {
		watch.HistorySize = DefaultHistorySize
	}
	if watch.Watcher.RestartAttempts <= 0 {
		watch.Watcher.RestartAttempts = DefaultWatcherRestartRetries
	}
	if watch.Watcher.RestartDelay <= 0 {
		watch.Watcher.RestartDelay = Duration(DefaultWatcherRestartDelay)
	}
	for i := range watch.Commands {
		applyCommandDefaults(&watch.Commands[i])
	}
	watch.Notifications.Interval = clampInterval(watch.Notifications.Interval)
	for i := range watch.Notifications.Items {
		applyNotificationDefaults(&watch.Notifications.Items[i])
	}
	for i := range watch.Workflows {
		for j := range watch.Workflows[i].Steps {
			step := &watch.Workflows[i].Steps[j]
			step.ID = strings.TrimSpace(step.ID)
			if step.Command != nil {
				applyCommandDefaults(step.Command)
			}
			if step.Notification != nil {
				applyNotificationDefaults(step.Notification)
			}
		}
	}
}

func applyCommandDefaults(command *CommandConfig) {
	if command.Timeout <= 0 {
		command.Timeout = Duration(DefaultCommandTimeout)
	}
}

func applyNotificationDefaults(notification *NotificationConfig) {
	notification.Method = strings.ToUpper(strings.TrimSpace(notification.Method))
	if notification.Method == "" {
		notification.Method = DefaultNotificationMethod
	}
	if strings.TrimSpace(notification.Data.MimeType) == "" {
		notification.Data.MimeType = DefaultNotificationMimeType
	}
	if notification.Message == "" {
		notification.Message = DefaultNotificationMessage
	}
	if notification.Retry.Attempts <= 0 {
		notification.Retry.Attempts = 1
	}
}

func clampInterval(interval Duration) Duration {
	if interval <= 0 {
		return Duration(DefaultNotificationInterval)
	}
	if interval < Duration(MinNotificationInterval) {
		return Duration(MinNotificationInterval)
	}
	return interval
}
