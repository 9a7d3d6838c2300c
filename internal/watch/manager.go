package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"watchflow/internal/config"
	"watchflow/internal/dag"
	"watchflow/internal/event"
	"watchflow/internal/logging"
	"watchflow/internal/notification"
)

const changeHistorySize = 100

// Manager owns every pipeline of a configuration.
type Manager struct {
	pipelines  []*Pipeline
	index      map[string]*Pipeline
	logger     *logging.Logger
	deps       Dependencies
	ownChanges bool

	mu             sync.Mutex
	stopDeliveries func()
	forwarderDone  chan struct{}
}

// NewManager builds one pipeline per watch and links cross-watch needs.
// Unknown needs are logged and ignored; a cycle is an error.
func NewManager(watches []config.WatchConfig, deps Dependencies) (*Manager, error) {
	logger := deps.Logger.Component("pipeline")
	ownChanges := false
	if deps.Changes == nil {
		deps.Changes = event.NewBus[Change](context.Background(), event.BusOptions{
			Name:        "changes",
			HistorySize: changeHistorySize,
		})
		ownChanges = true
	}
	if deps.Deliveries == nil {
		deps.Deliveries = event.NewBus[notification.Delivery](context.Background(), event.BusOptions{
			Name: "deliveries",
		})
	}

	manager := &Manager{
		index:      make(map[string]*Pipeline, len(watches)),
		logger:     logger,
		deps:       deps,
		ownChanges: ownChanges,
	}
	graph := make(dag.Graph, len(watches))
	for _, cfg := range watches {
		if _, exists := manager.index[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate watch id %q", cfg.ID)
		}
		pipeline, err := NewPipeline(cfg, deps)
		if err != nil {
			return nil, err
		}
		manager.pipelines = append(manager.pipelines, pipeline)
		manager.index[cfg.ID] = pipeline
		graph[cfg.ID] = cfg.Needs
	}

	resolution, err := dag.Resolve(graph)
	if err != nil {
		return nil, fmt.Errorf("watch needs: %w", err)
	}
	for id, unknown := range resolution.Unresolved {
		logger.Warn("watch needs unknown watches", map[string]string{
			"watch": id,
			"needs": strings.Join(unknown, ","),
		})
	}
	for _, pipeline := range manager.pipelines {
		for _, need := range resolution.Needs[pipeline.id] {
			pipeline.Need(manager.index[need])
		}
	}
	return manager, nil
}

// Start starts every pipeline in parallel. Pipelines that fail stay inactive;
// the first failure is returned after all attempts finish.
func (m *Manager) Start(ctx context.Context) error {
	m.startDeliveryMetrics()

	var group errgroup.Group
	for _, pipeline := range m.pipelines {
		group.Go(func() error {
			_, err := pipeline.Start(ctx)
			return err
		})
	}
	return group.Wait()
}

// Stop stops every pipeline and returns all failures joined.
func (m *Manager) Stop(ctx context.Context) error {
	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	for _, pipeline := range m.pipelines {
		group.Go(func() error {
			if err := pipeline.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	m.mu.Lock()
	stop := m.stopDeliveries
	done := m.forwarderDone
	m.stopDeliveries = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	if m.ownChanges {
		m.deps.Changes.Close()
	}
	return errors.Join(errs...)
}

// startDeliveryMetrics counts notification outcomes until Stop.
func (m *Manager) startDeliveryMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopDeliveries != nil || m.deps.Metrics == nil {
		return
	}
	deliveries, cancel := m.deps.Deliveries.Subscribe()
	done := make(chan struct{})
	m.stopDeliveries = cancel
	m.forwarderDone = done
	registry := m.deps.Metrics
	go func() {
		defer close(done)
		for delivery := range deliveries {
			registry.RecordDelivery(delivery.Success())
		}
	}()
}

func (m *Manager) Pipeline(id string) *Pipeline {
	return m.index[id]
}

func (m *Manager) Pipelines() []*Pipeline {
	return append([]*Pipeline(nil), m.pipelines...)
}

// Statuses reports every pipeline in configuration order.
func (m *Manager) Statuses() []Status {
	statuses := make([]Status, 0, len(m.pipelines))
	for _, pipeline := range m.pipelines {
		statuses = append(statuses, pipeline.Status())
	}
	return statuses
}

// Active counts pipelines with a live subscription.
func (m *Manager) Active() int {
	count := 0
	for _, status := range m.Statuses() {
		if status.State == StateActive {
			count++
		}
	}
	return count
}

func (m *Manager) Changes() *event.Bus[Change] {
	return m.deps.Changes
}
