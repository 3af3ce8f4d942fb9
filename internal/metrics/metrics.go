package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Process-level metrics registered in the shared bot registry.
var (
	Uptime = func() prometheus.Gauge {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raf_bot",
			Subsystem: "core",
			Name:      "uptime_seconds",
			Help:      "Uptime in seconds",
		})
		GetRegistry().MustRegister(gauge)
		return gauge
	}()
)

// ActorMetrics tracks reconciliation actor lifecycle activity.
type ActorMetrics struct {
	ActorsActive  prometheus.Gauge
	Wakes         *prometheus.CounterVec
	Terminations  prometheus.Counter
	CheckDuration prometheus.Histogram
}

// NewActorMetrics registers the actor metric set.
func NewActorMetrics() *ActorMetrics {
	r := NewComponentRegistry("raf_bot", "actor")
	return &ActorMetrics{
		ActorsActive: r.NewGauge(prometheus.GaugeOpts{
			Name: "active_total",
			Help: "Number of active reconciliation actors",
		}),
		Wakes: r.NewCounterVec(prometheus.CounterOpts{
			Name: "wakes_total",
			Help: "Actor wakes by outcome",
		}, []string{"outcome"}),
		Terminations: r.NewCounter(prometheus.CounterOpts{
			Name: "terminations_total",
			Help: "Actors terminated after policy signalled completion",
		}),
		CheckDuration: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "check_duration_seconds",
			Help:    "Duration of periodic checks",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// AggregatorMetrics tracks event fan-out activity.
type AggregatorMetrics struct {
	Subscriptions prometheus.Gauge
	LogsDelivered prometheus.Counter
	LogsDropped   prometheus.Counter
	Reconnects    prometheus.Counter
}

// NewAggregatorMetrics registers the aggregator metric set.
func NewAggregatorMetrics() *AggregatorMetrics {
	r := NewComponentRegistry("raf_bot", "aggregator")
	return &AggregatorMetrics{
		Subscriptions: r.NewGauge(prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Live chain log subscriptions",
		}),
		LogsDelivered: r.NewCounter(prometheus.CounterOpts{
			Name: "logs_delivered_total",
			Help: "Decoded logs delivered to subscribers",
		}),
		LogsDropped: r.NewCounter(prometheus.CounterOpts{
			Name: "logs_dropped_total",
			Help: "Logs that failed to decode or had no subscriber",
		}),
		Reconnects: r.NewCounter(prometheus.CounterOpts{
			Name: "reconnects_total",
			Help: "Subscription reconnect attempts",
		}),
	}
}

// ManagerMetrics tracks entity discovery sweeps.
type ManagerMetrics struct {
	Sweeps        *prometheus.CounterVec
	EntitiesSeen  prometheus.Gauge
	ActorsStarted prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewManagerMetrics registers the discovery manager metric set.
func NewManagerMetrics() *ManagerMetrics {
	r := NewComponentRegistry("raf_bot", "manager")
	return &ManagerMetrics{
		Sweeps: r.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeps_total",
			Help: "Discovery sweeps by outcome",
		}, []string{"outcome"}),
		EntitiesSeen: r.NewGauge(prometheus.GaugeOpts{
			Name: "entities_seen",
			Help: "Actionable entities found in the last sweep",
		}),
		ActorsStarted: r.NewCounter(prometheus.CounterOpts{
			Name: "actors_started_total",
			Help: "Actors started or refreshed by discovery",
		}),
		SweepDuration: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of discovery sweeps",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ForwarderMetrics tracks meta-transaction submissions.
type ForwarderMetrics struct {
	Submissions *prometheus.CounterVec
	RelayLag    prometheus.Histogram
}

// NewForwarderMetrics registers the forwarder metric set.
func NewForwarderMetrics() *ForwarderMetrics {
	r := NewComponentRegistry("raf_bot", "forwarder")
	return &ForwarderMetrics{
		Submissions: r.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Meta-transaction submissions by result",
		}, []string{"result"}),
		RelayLag: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_roundtrip_seconds",
			Help:    "Relay HTTP round-trip duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
