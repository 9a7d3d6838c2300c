package watch

import (
	"context"
	"fmt"
	"time"

	"watchflow/internal/change"
)

func (p *Pipeline) work(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
		p.drain(ctx)
	}
}

// drain processes queued records in arrival order until the queue is empty,
// a needed watch becomes busy, or ctx is cancelled. Dependents are signalled
// when the drain ends.
func (p *Pipeline) drain(ctx context.Context) {
	defer p.signalDependents()
	for {
		if ctx.Err() != nil {
			p.setRunning(false)
			return
		}
		if !p.needsIdle() {
			p.setRunning(false)
			return
		}
		record, ok := p.dequeue()
		if !ok {
			return
		}
		p.process(ctx, record)
	}
}

// dequeue pops the oldest record and marks the worker running. An empty
// queue clears the running flag.
func (p *Pipeline) dequeue() (change.Record, bool) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.running = false
		p.mu.Unlock()
		p.metrics.SetQueueDepth(p.id, 0)
		return change.Record{}, false
	}
	record := p.queue[0]
	p.queue[0] = change.Record{}
	p.queue = p.queue[1:]
	p.running = true
	depth := len(p.queue)
	p.mu.Unlock()
	p.metrics.SetQueueDepth(p.id, depth)
	return record, true
}

func (p *Pipeline) setRunning(running bool) {
	p.mu.Lock()
	p.running = running
	p.mu.Unlock()
}

// process gates one record and dispatches it. Workflows go first so their
// steps act before the watch's own actions and commands.
func (p *Pipeline) process(ctx context.Context, record change.Record) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("dispatch panicked", map[string]string{
				"path":  record.FullPath(),
				"error": fmt.Sprint(recovered),
			})
		}
	}()

	if !p.gate.Allow(record) {
		p.dropped.Add(1)
		p.metrics.RecordDropped(p.id)
		p.logger.Debug("change filtered", map[string]string{
			"path":    record.FullPath(),
			"trigger": record.Trigger().String(),
		})
		return
	}

	p.mu.Lock()
	p.history.Add(record)
	p.mu.Unlock()
	p.changes.Publish(Change{WatchID: p.id, Record: record, OccurredAt: time.Now().UTC()})
	p.logger.Info("change detected", map[string]string{
		"path":    record.FullPath(),
		"trigger": record.Trigger().String(),
	})

	trigger := record.Trigger()
	p.workflows.Run(ctx, record, trigger)
	p.notifications.Run(record, trigger)
	p.actions.Run(ctx, record, trigger)
	p.commands.Run(ctx, record, trigger)

	p.processed.Add(1)
	p.metrics.ObserveDispatch(p.id, time.Since(start))
}

// Idle reports whether the queue is empty and no record is in flight.
func (p *Pipeline) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.running && len(p.queue) == 0
}

func (p *Pipeline) needsIdle() bool {
	p.mu.Lock()
	needs := p.needs
	p.mu.Unlock()
	for _, need := range needs {
		if !need.Idle() {
			return false
		}
	}
	return true
}

func (p *Pipeline) signalDependents() {
	p.mu.Lock()
	dependents := p.dependents
	p.mu.Unlock()
	for _, dependent := range dependents {
		dependent.signal()
	}
}

// Need makes p drain only while other is idle.
func (p *Pipeline) Need(other *Pipeline) {
	if p == nil || other == nil || p == other {
		return
	}
	p.mu.Lock()
	p.needs = append(p.needs, other)
	p.mu.Unlock()
	other.mu.Lock()
	other.dependents = append(other.dependents, p)
	other.mu.Unlock()
}
