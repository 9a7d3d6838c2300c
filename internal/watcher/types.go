package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"watchflow/internal/change"
	"watchflow/internal/logging"
)

// Handler receives raw events. It runs on the watcher's goroutine or on a
// rename timer, so it must not block for long.
type Handler func(change.RawEvent)

// Options controls watcher behavior.
type Options struct {
	Logger          *logging.Logger
	RestartAttempts int
	RestartDelay    time.Duration
	RenameWindow    time.Duration
	ErrorHandler    func(error)
}

// Metrics is a snapshot of watcher counters.
type Metrics struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsDelivered uint64 `json:"events_delivered"`
	Errors          uint64 `json:"errors"`
	RestartAttempts int    `json:"restart_attempts"`
	Restarts        uint64 `json:"restarts"`
	Rearms          uint64 `json:"rearms"`
}

// Watcher is the fsnotify-backed subscription for one root.
type Watcher struct {
	root    string
	handler Handler

	watcher *fsnotify.Watcher
	mutex   sync.Mutex
	events  chan fsnotify.Event
	errors  chan error
	done    chan struct{}
	closed  bool
	logger  *logging.Logger

	renames      *renamePairer
	errorHandler func(error)

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
	maxRestarts     int
	restartDelay    time.Duration

	eventsDelivered uint64
	errorCount      uint64
	restarts        uint64
	rearms          uint64
}
