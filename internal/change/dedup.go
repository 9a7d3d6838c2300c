package change

import (
	"io/fs"
	"os"
	"sync"
	"time"
)

// StatFunc looks up file metadata. It is os.Stat outside of tests.
type StatFunc func(path string) (fs.FileInfo, error)

// Deduplicator holds the dedup memory of one watch: the last record observed
// for the root and the modification time seen with it. Observe is safe to
// call from several goroutines; the read-modify-write of that memory is a
// critical section.
type Deduplicator struct {
	mutex           sync.Mutex
	watchPath       string
	stat            StatFunc
	previous        Record
	previousModTime time.Time
	ignoreNext      bool
}

func NewDeduplicator(watchPath string, stat StatFunc) *Deduplicator {
	if stat == nil {
		stat = os.Stat
	}
	return &Deduplicator{
		watchPath: watchPath,
		stat:      stat,
	}
}

// Observe decides whether raw is a new reportable change. It returns the record
// and true when it is; suppressed events and events that cannot be turned into
// a record return false. The dedup memory is overwritten either way.
func (deduplicator *Deduplicator) Observe(raw RawEvent) (Record, bool) {
	if deduplicator == nil {
		return Record{}, false
	}

	deduplicator.mutex.Lock()
	defer deduplicator.mutex.Unlock()

	var modTime time.Time
	info, statErr := deduplicator.stat(raw.FullPath)
	if statErr == nil {
		// Directory content changes surface through the files inside it.
		if info.IsDir() && raw.Trigger == TriggerChange {
			return Record{}, false
		}
		modTime = info.ModTime()
	}

	candidate, err := NewRecord(deduplicator.watchPath, raw)
	if err != nil {
		return Record{}, false
	}

	valid := true
	previous := deduplicator.previous
	if candidate.SamePath(previous) {
		switch {
		case previous.trigger == TriggerCreate || deduplicator.ignoreNext:
			// A copy raises Create followed by one or more Change events.
			valid = false
			deduplicator.ignoreNext = previous.trigger == TriggerCreate
		case previous.trigger == TriggerChange && candidate.trigger == TriggerChange &&
			deduplicator.previousModTime.Equal(modTime):
			valid = false
		}
	}

	deduplicator.previous = candidate
	deduplicator.previousModTime = modTime

	if !valid {
		return Record{}, false
	}
	return candidate, true
}

// Last returns the dedup memory.
func (deduplicator *Deduplicator) Last() (Record, time.Time) {
	if deduplicator == nil {
		return Record{}, time.Time{}
	}
	deduplicator.mutex.Lock()
	defer deduplicator.mutex.Unlock()
	return deduplicator.previous, deduplicator.previousModTime
}
