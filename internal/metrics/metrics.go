// Package metrics exposes pipeline activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchflow"

// Registry owns the collectors. Every method is safe on a nil Registry so
// components can run without metrics.
type Registry struct {
	registry *prometheus.Registry

	changes    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	dispatch   *prometheus.HistogramVec
	steps      *prometheus.CounterVec
	runs       *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	rearms     *prometheus.CounterVec
	active     *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Changes accepted after deduplication.",
		}, []string{"watch", "trigger"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_dropped_total",
			Help:      "Changes dropped by filters or exclusions.",
		}, []string{"watch"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Changes waiting for the pipeline worker.",
		}, []string{"watch"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one change.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"watch"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Workflow step transitions.",
		}, []string{"workflow", "phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs where every step completed.",
		}, []string{"workflow"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification flushes by outcome.",
		}, []string{"outcome"}),
		rearms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_rearms_total",
			Help:      "Supervisory re-enables of the OS subscription.",
		}, []string{"watch"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_active",
			Help:      "1 when the watch subscription is active.",
		}, []string{"watch"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.changes,
		r.dropped,
		r.queueDepth,
		r.dispatch,
		r.steps,
		r.runs,
		r.deliveries,
		r.rearms,
		r.active,
	)
	return r
}

func (r *Registry) RecordChange(watch, trigger string) {
	if r == nil {
		return
	}
	r.changes.WithLabelValues(label(watch), label(trigger)).Inc()
}

func (r *Registry) RecordDropped(watch string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(label(watch)).Inc()
}

func (r *Registry) SetQueueDepth(watch string, depth int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(label(watch)).Set(float64(depth))
}

func (r *Registry) ObserveDispatch(watch string, duration time.Duration) {
	if r == nil {
		return
	}
	r.dispatch.WithLabelValues(label(watch)).Observe(duration.Seconds())
}

func (r *Registry) RecordStep(workflow, phase string) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(label(workflow), label(phase)).Inc()
}

func (r *Registry) RecordRun(workflow string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(label(workflow)).Inc()
}

func (r *Registry) RecordDelivery(success bool) {
	if r == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.deliveries.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordRearm(watch string) {
	if r == nil {
		return
	}
	r.rearms.WithLabelValues(label(watch)).Inc()
}

func (r *Registry) SetActive(watch string, active bool) {
	if r == nil {
		return
	}
	value := 0.0
	if active {
		value = 1
	}
	r.active.WithLabelValues(label(watch)).Set(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func label(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
