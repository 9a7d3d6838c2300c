// Package watch runs one pipeline per configured root: raw events are
// deduplicated, queued, and dispatched by a single worker to the workflows,
// notifications, actions, and commands of that root.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"watchflow/internal/action"
	"watchflow/internal/buffer"
	"watchflow/internal/change"
	"watchflow/internal/command"
	"watchflow/internal/config"
	"watchflow/internal/event"
	"watchflow/internal/fileops"
	"watchflow/internal/filter"
	"watchflow/internal/logging"
	"watchflow/internal/metrics"
	"watchflow/internal/notification"
	"watchflow/internal/transport"
	"watchflow/internal/watcher"
	"watchflow/internal/workflow"
)

const defaultPollInterval = 250 * time.Millisecond

var (
	ErrRootMissing    = errors.New("watch root does not exist")
	ErrAlreadyStarted = errors.New("watch already started")
)

// Change is published on the change bus for every dispatched record.
type Change struct {
	WatchID    string        `json:"watch_id"`
	Record     change.Record `json:"change"`
	OccurredAt time.Time     `json:"timestamp"`
}

// Dependencies are the collaborators shared by every pipeline.
type Dependencies struct {
	Files        action.FileService
	Sender       transport.Sender
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	Changes      *event.Bus[Change]
	Deliveries   *event.Bus[notification.Delivery]
	Stat         change.StatFunc
	PollInterval time.Duration
}

// Pipeline owns the lifecycle of one watched root.
type Pipeline struct {
	id           string
	root         string
	cfg          config.WatchConfig
	logger       *logging.Logger
	metrics      *metrics.Registry
	changes      *event.Bus[Change]
	pollInterval time.Duration

	dedup         *change.Deduplicator
	gate          *filter.Gate
	workflows     *workflow.Workflows
	notifications *notification.Notifications
	actions       *action.Actions
	commands      *command.Commands
	history       *buffer.Ring[change.Record]

	mu         sync.Mutex
	state      State
	queue      []change.Record
	running    bool
	started    bool
	watcher    *watcher.Watcher
	needs      []*Pipeline
	dependents []*Pipeline
	lastError  string
	wake       chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewPipeline builds the dispatch targets of cfg. It does not touch the file
// system; Start does.
func NewPipeline(cfg config.WatchConfig, deps Dependencies) (*Pipeline, error) {
	cfg.Path = config.CleanRoot(cfg.Path)
	logger := deps.Logger.Component("pipeline").With(map[string]string{"watch": cfg.ID})
	if deps.Files == nil {
		deps.Files = fileops.New(deps.Logger.Component("action"))
	}
	notifyOptions := notification.Options{
		Sender: deps.Sender,
		Logger: logger.Component("notification"),
		Events: deps.Deliveries,
	}

	actions, err := action.New(cfg.Actions, deps.Files, cfg.Variables, logger.Component("action"))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", cfg.ID, err)
	}
	commands, err := command.New(cfg.Commands, cfg.Variables, logger.Component("command"))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", cfg.ID, err)
	}
	notifications, err := notification.New(cfg.Notifications, cfg.Variables, notifyOptions)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", cfg.ID, err)
	}
	workflowOptions := notifyOptions
	workflowOptions.Interval = cfg.Notifications.Interval.Std()
	workflows, err := workflow.New(cfg.Workflows, workflow.Dependencies{
		Files:         deps.Files,
		Variables:     cfg.Variables,
		Logger:        logger.Component("workflow"),
		Notifications: workflowOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", cfg.ID, err)
	}
	registry := deps.Metrics
	workflows.OnEvent(func(stepEvent workflow.StepEvent) {
		if stepEvent.Phase == workflow.PhaseRun {
			registry.RecordRun(stepEvent.WorkflowID)
			return
		}
		registry.RecordStep(stepEvent.WorkflowID, string(stepEvent.Phase))
	})

	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = config.DefaultHistorySize
	}
	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Pipeline{
		id:            cfg.ID,
		root:          cfg.Path,
		cfg:           cfg,
		logger:        logger,
		metrics:       deps.Metrics,
		changes:       deps.Changes,
		pollInterval:  pollInterval,
		dedup:         change.NewDeduplicator(cfg.Path, deps.Stat),
		gate:          filter.NewGate(cfg.Filters, cfg.Exclusions),
		workflows:     workflows,
		notifications: notifications,
		actions:       actions,
		commands:      commands,
		history:       buffer.NewRing[change.Record](historySize),
		state:         StateIdle,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}, nil
}

func (p *Pipeline) ID() string {
	return p.id
}

func (p *Pipeline) Root() string {
	return p.root
}

// Start waits for the root to exist, subscribes to it, and launches the
// worker and timers. It reports whether the subscription is active. Work runs
// until ctx is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return false, ErrAlreadyStarted
	}
	p.started = true
	p.state = StateWaiting
	p.mu.Unlock()

	if err := p.waitForRoot(ctx); err != nil {
		p.fail(err)
		close(p.done)
		return false, err
	}

	source, err := watcher.New(p.root, p.observe, watcher.Options{
		Logger:          p.logger,
		RestartAttempts: p.cfg.Watcher.RestartAttempts,
		RestartDelay:    p.cfg.Watcher.RestartDelay.Std(),
		ErrorHandler:    p.watcherFailed,
	})
	if err != nil {
		err = fmt.Errorf("watch %s: %w", p.id, err)
		p.fail(err)
		close(p.done)
		return false, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		cancel()
		_ = source.Close()
		close(p.done)
		return false, nil
	}
	p.watcher = source
	p.cancel = cancel
	p.state = StateActive
	p.mu.Unlock()
	p.metrics.SetActive(p.id, true)

	p.workflows.Start(runCtx)
	p.notifications.Start(runCtx)
	go p.work(runCtx)
	go p.rearmLoop(runCtx, p.cfg.RearmInterval.Std())

	p.logger.Info("watch started", map[string]string{
		"path":          p.root,
		"actions":       strconv.Itoa(p.actions.Len()),
		"commands":      strconv.Itoa(p.commands.Len()),
		"notifications": strconv.Itoa(p.notifications.Len()),
		"workflows":     strconv.Itoa(p.workflows.Len()),
	})
	return true, nil
}

// Stop cancels the worker and timers, closes the subscription, and delivers
// pending notifications once. Records still queued are dropped.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	wasActive := p.state == StateActive
	cancel := p.cancel
	source := p.watcher
	pending := len(p.queue)
	p.queue = nil
	p.state = StateStopped
	p.mu.Unlock()

	if !wasActive {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	var errs []error
	if err := source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close watcher: %w", err))
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("watch %s worker: %w", p.id, ctx.Err()))
	}
	p.notifications.Stop()
	p.notifications.Flush(ctx)
	p.workflows.Stop(ctx)
	p.metrics.SetActive(p.id, false)
	p.metrics.SetQueueDepth(p.id, 0)

	p.logger.Info("watch stopped", map[string]string{
		"dropped_pending": strconv.Itoa(pending),
	})
	return errors.Join(errs...)
}

func (p *Pipeline) waitForRoot(ctx context.Context) error {
	deadline := time.Now().Add(p.cfg.Timeout.Std())
	for {
		if info, err := os.Stat(p.root); err == nil && info.IsDir() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("watch %s: %s: %w", p.id, p.root, ErrRootMissing)
		}
		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	p.state = StateFailed
	p.lastError = err.Error()
	p.mu.Unlock()
	p.metrics.SetActive(p.id, false)
	p.logger.Error("watch failed to start", map[string]string{
		"path":  p.root,
		"error": err.Error(),
	})
}

// observe runs on the watcher goroutine for every raw event.
func (p *Pipeline) observe(raw change.RawEvent) {
	record, ok := p.dedup.Observe(raw)
	if !ok {
		return
	}
	p.metrics.RecordChange(p.id, record.Trigger().String())
	p.enqueue(record)
}

func (p *Pipeline) enqueue(record change.Record) {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, record)
	depth := len(p.queue)
	p.mu.Unlock()
	p.metrics.SetQueueDepth(p.id, depth)
	p.signal()
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) watcherFailed(err error) {
	p.mu.Lock()
	p.lastError = err.Error()
	p.mu.Unlock()
	p.logger.Error("watcher restart attempts exhausted", map[string]string{
		"error": err.Error(),
	})
}

func (p *Pipeline) rearmLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			source := p.watcher
			p.mu.Unlock()
			if err := source.Rearm(); err != nil {
				p.logger.Warn("watch rearm failed", map[string]string{
					"error": err.Error(),
				})
				continue
			}
			p.metrics.RecordRearm(p.id)
			p.logger.Debug("watch rearmed", nil)
		}
	}
}
