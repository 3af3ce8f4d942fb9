// Package metrics holds the bot's prometheus registry and metric sets. All
// metrics live in one custom registry, not the global default one, so
// embedding the bot in another binary never trips duplicate registration.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registryOnce sync.Once
	botRegistry  *prometheus.Registry
)

// GetRegistry returns the process-wide bot registry.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		botRegistry = prometheus.NewRegistry()
	})
	return botRegistry
}

// ComponentRegistry stamps a component's namespace and subsystem onto every
// metric it creates, keeping metric names uniform across components.
type ComponentRegistry struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
}

func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{
		namespace: namespace,
		subsystem: subsystem,
		registry:  GetRegistry(),
	}
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return promauto.With(r.registry).NewCounter(opts)
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return promauto.With(r.registry).NewCounterVec(opts, labelNames)
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return promauto.With(r.registry).NewGauge(opts)
}

func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return promauto.With(r.registry).NewHistogram(opts)
}
