package watcher

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// handleError restarts the subscription when it no longer covers the root.
// Errors from a healthy subscription are only logged.
func (watcher *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.logWarn("watcher error", map[string]string{
		"error": err.Error(),
	})
	if watcher.Healthy() {
		return
	}
	watcher.scheduleRestart(err)
}

func (watcher *Watcher) scheduleRestart(err error) {
	if watcher == nil {
		return
	}
	if watcher.isClosed() {
		return
	}
	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartMutex.Unlock()
		return
	}
	if watcher.restartAttempts >= watcher.maxRestarts {
		handler := watcher.errorHandler
		watcher.restartMutex.Unlock()
		if handler != nil {
			handler(err)
		}
		return
	}
	watcher.restartAttempts++
	watcher.restartTimer = time.AfterFunc(watcher.restartDelay, watcher.performRestart)
	watcher.restartMutex.Unlock()
}

func (watcher *Watcher) performRestart() {
	if watcher == nil {
		return
	}
	restartErr := watcher.restart()

	watcher.restartMutex.Lock()
	watcher.restartTimer = nil
	if restartErr == nil {
		watcher.restartAttempts = 0
		watcher.restartMutex.Unlock()
		atomic.AddUint64(&watcher.restarts, 1)
		return
	}
	watcher.restartMutex.Unlock()

	watcher.logWarn("watcher restart failed", map[string]string{
		"error": restartErr.Error(),
	})
	watcher.scheduleRestart(restartErr)
}

// Rearm disables and re-enables the subscription by replacing the underlying
// fsnotify watcher. It guards against a subscription that stopped delivering
// without reporting an error.
func (watcher *Watcher) Rearm() error {
	if watcher == nil {
		return nil
	}
	if err := watcher.restart(); err != nil {
		return err
	}
	atomic.AddUint64(&watcher.rearms, 1)
	return nil
}

func (watcher *Watcher) restart() error {
	if watcher.isClosed() {
		return nil
	}

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.addTree(replacement, watcher.root); err != nil {
		_ = replacement.Close()
		return err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := watcher.watcher
	watcher.watcher = replacement
	watcher.mutex.Unlock()

	watcher.startForwarder(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}
