package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"watchflow/internal/change"
	"watchflow/internal/logging"
)

const (
	defaultRenameWindow    = 100 * time.Millisecond
	defaultRestartAttempts = 3
	defaultRestartDelay    = 2 * time.Second
)

var ErrNotDirectory = errors.New("watch root is not a directory")

// New subscribes to root and every directory below it.
func New(root string, handler Handler, options Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if absolute, err := filepath.Abs(root); err == nil {
		root = absolute
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	renameWindow := options.RenameWindow
	if renameWindow <= 0 {
		renameWindow = defaultRenameWindow
	}
	maxRestarts := options.RestartAttempts
	if maxRestarts <= 0 {
		maxRestarts = defaultRestartAttempts
	}
	restartDelay := options.RestartDelay
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}

	instance := &Watcher{
		root:         root,
		handler:      handler,
		watcher:      source,
		events:       make(chan fsnotify.Event, 64),
		errors:       make(chan error, 4),
		done:         make(chan struct{}),
		logger:       logger.Component("watcher"),
		errorHandler: options.ErrorHandler,
		maxRestarts:  maxRestarts,
		restartDelay: restartDelay,
	}
	instance.renames = newRenamePairer(renameWindow, instance.deliver)

	if err := instance.addTree(source, root); err != nil {
		_ = source.Close()
		return nil, err
	}

	instance.startForwarder(source)
	go instance.run()
	return instance, nil
}

func (watcher *Watcher) Root() string {
	return watcher.root
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	source := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	watcher.renames.stop()
	close(watcher.done)
	if source == nil {
		return nil
	}
	return source.Close()
}

func (watcher *Watcher) isClosed() bool {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.closed
}

func (watcher *Watcher) run() {
	for {
		select {
		case event := <-watcher.events:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	if watcher.isClosed() {
		return
	}
	path := event.Name
	switch {
	case event.Has(fsnotify.Create):
		if oldPath, ok := watcher.renames.claim(); ok {
			watcher.deliver(change.RawEvent{
				Trigger:  change.TriggerRename,
				Name:     change.RelativeName(watcher.root, path),
				FullPath: path,
				OldName:  change.RelativeName(watcher.root, oldPath),
				OldPath:  oldPath,
			})
		} else {
			watcher.deliver(watcher.rawEvent(change.TriggerCreate, path))
		}
		watcher.watchCreated(path)
	case event.Has(fsnotify.Remove):
		watcher.deliver(watcher.rawEvent(change.TriggerDelete, path))
	case event.Has(fsnotify.Rename):
		watcher.renames.hold(watcher.rawEvent(change.TriggerDelete, path))
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		watcher.deliver(watcher.rawEvent(change.TriggerChange, path))
	}
}

func (watcher *Watcher) rawEvent(trigger change.Trigger, path string) change.RawEvent {
	return change.RawEvent{
		Trigger:  trigger,
		Name:     change.RelativeName(watcher.root, path),
		FullPath: path,
	}
}

func (watcher *Watcher) deliver(event change.RawEvent) {
	if watcher.isClosed() {
		return
	}
	atomic.AddUint64(&watcher.eventsDelivered, 1)
	watcher.handler(event)
}

// Healthy reports whether the subscription still covers the root.
func (watcher *Watcher) Healthy() bool {
	if watcher == nil {
		return false
	}
	watcher.mutex.Lock()
	source := watcher.watcher
	closed := watcher.closed
	watcher.mutex.Unlock()
	if closed || source == nil {
		return false
	}
	if info, err := os.Stat(watcher.root); err != nil || !info.IsDir() {
		return false
	}
	for _, path := range source.WatchList() {
		if path == watcher.root {
			return true
		}
	}
	return false
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, withWatcherFields(watcher.root, fields))
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	fields := map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	}
	watcher.logger.Debug(message, withWatcherFields(watcher.root, fields))
}

func withWatcherFields(root string, fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["root"] = root
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

// SetErrorHandler configures a callback for failures that outlast every
// restart attempt.
func (watcher *Watcher) SetErrorHandler(handler func(error)) {
	if watcher == nil {
		return
	}
	watcher.restartMutex.Lock()
	watcher.errorHandler = handler
	watcher.restartMutex.Unlock()
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := 0
	if watcher.watcher != nil && !watcher.closed {
		active = len(watcher.watcher.WatchList())
	}
	watcher.mutex.Unlock()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: restartAttempts,
		Restarts:        atomic.LoadUint64(&watcher.restarts),
		Rearms:          atomic.LoadUint64(&watcher.rearms),
	}
}
