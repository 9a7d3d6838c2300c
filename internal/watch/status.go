package watch

import (
	"watchflow/internal/change"
	"watchflow/internal/watcher"
)

type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateActive  State = "active"
	StateFailed  State = "failed"
	StateStopped State = "stopped"
)

// Status is a point-in-time view of one pipeline.
type Status struct {
	ID         string          `json:"id"`
	Path       string          `json:"path"`
	State      State           `json:"state"`
	Pending    int             `json:"pending"`
	Busy       bool            `json:"busy"`
	Processed  uint64          `json:"processed"`
	Dropped    uint64          `json:"dropped"`
	Needs      []string        `json:"needs,omitempty"`
	LastChange *change.Record  `json:"last_change,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Watcher    watcher.Metrics `json:"watcher"`
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	status := Status{
		ID:        p.id,
		Path:      p.root,
		State:     p.state,
		Pending:   len(p.queue),
		Busy:      p.running,
		LastError: p.lastError,
	}
	for _, need := range p.needs {
		status.Needs = append(status.Needs, need.id)
	}
	if last := p.history.Last(1); len(last) == 1 {
		record := last[0]
		status.LastChange = &record
	}
	source := p.watcher
	p.mu.Unlock()

	status.Processed = p.processed.Load()
	status.Dropped = p.dropped.Load()
	if source != nil {
		status.Watcher = source.Metrics()
	}
	return status
}

// History returns up to count of the most recent dispatched records, oldest
// first. A count of zero or less returns all of them.
func (p *Pipeline) History(count int) []change.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Last(count)
}
