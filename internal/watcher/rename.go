package watcher

import (
	"sync"
	"time"

	"watchflow/internal/change"
)

// renamePairer holds the old side of a rename for a short window. fsnotify
// reports a rename as Rename(old) followed by Create(new); a Create that
// arrives inside the window claims the held path. Otherwise the item left the
// tree and the held event is flushed as a delete.
type renamePairer struct {
	mutex   sync.Mutex
	window  time.Duration
	pending *change.RawEvent
	timer   *time.Timer
	flush   func(change.RawEvent)
	stopped bool
}

func newRenamePairer(window time.Duration, flush func(change.RawEvent)) *renamePairer {
	return &renamePairer{
		window: window,
		flush:  flush,
	}
}

func (pairer *renamePairer) hold(event change.RawEvent) {
	pairer.mutex.Lock()
	if pairer.stopped {
		pairer.mutex.Unlock()
		return
	}
	previous := pairer.takeLocked()
	held := event
	pairer.pending = &held
	pairer.timer = time.AfterFunc(pairer.window, pairer.expire)
	pairer.mutex.Unlock()

	if previous != nil {
		pairer.flush(*previous)
	}
}

// claim returns the held old path, if any, and clears it.
func (pairer *renamePairer) claim() (string, bool) {
	pairer.mutex.Lock()
	defer pairer.mutex.Unlock()
	held := pairer.takeLocked()
	if held == nil {
		return "", false
	}
	return held.FullPath, true
}

func (pairer *renamePairer) expire() {
	pairer.mutex.Lock()
	held := pairer.takeLocked()
	pairer.mutex.Unlock()
	if held != nil {
		pairer.flush(*held)
	}
}

func (pairer *renamePairer) takeLocked() *change.RawEvent {
	if pairer.timer != nil {
		pairer.timer.Stop()
		pairer.timer = nil
	}
	held := pairer.pending
	pairer.pending = nil
	return held
}

func (pairer *renamePairer) stop() {
	if pairer == nil {
		return
	}
	pairer.mutex.Lock()
	pairer.stopped = true
	pairer.takeLocked()
	pairer.mutex.Unlock()
}
