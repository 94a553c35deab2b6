// Package metrics exports Observable activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zjrosen/observ/internal/pubsub"
)

// DefaultNamespace prefixes every metric name when none is configured.
const DefaultNamespace = "observ"

const subsystemPubsub = "pubsub"

// Collector is a pubsub.Probe that records activity on its own registry.
type Collector struct {
	registry *prometheus.Registry

	emitsTotal      *prometheus.CounterVec
	callbacksTotal  *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	subscriptions   *prometheus.CounterVec
	unsubscriptions *prometheus.CounterVec
	sweptTotal      prometheus.Counter
	emitDuration    *prometheus.HistogramVec
}

var _ pubsub.Probe = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		emitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "emits_total",
			Help:      "Total number of Emit calls",
		}, []string{"event"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "callbacks_invoked_total",
			Help:      "Total number of callback invocations",
		}, []string{"event"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "callback_failures_total",
			Help:      "Total number of callbacks that returned an error or panicked",
		}, []string{"event"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "subscriptions_total",
			Help:      "Total number of new subscriptions by callback kind",
		}, []string{"kind"}),
		unsubscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "unsubscriptions_total",
			Help:      "Total number of removed subscriptions",
		}, []string{"event"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "weak_swept_total",
			Help:      "Total number of dead weak callbacks removed",
		}),
		emitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPubsub,
			Name:      "emit_duration_seconds",
			Help:      "Duration of Emit fan-out in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
	}

	c.registry.MustRegister(
		c.emitsTotal,
		c.callbacksTotal,
		c.failuresTotal,
		c.subscriptions,
		c.unsubscriptions,
		c.sweptTotal,
		c.emitDuration,
	)
	return c
}

// OnActivity implements pubsub.Probe.
func (c *Collector) OnActivity(_ context.Context, a pubsub.Activity) {
	switch a.Type {
	case pubsub.ActivityEmit:
		c.emitsTotal.WithLabelValues(a.Event).Inc()
		c.callbacksTotal.WithLabelValues(a.Event).Add(float64(a.Callbacks))
		if a.Failures > 0 {
			c.failuresTotal.WithLabelValues(a.Event).Add(float64(a.Failures))
		}
		c.emitDuration.WithLabelValues(a.Event).Observe(a.Duration.Seconds())
	case pubsub.ActivitySubscribe:
		c.subscriptions.WithLabelValues(kind(a.Weak)).Inc()
	case pubsub.ActivityUnsubscribe:
		c.unsubscriptions.WithLabelValues(eventLabel(a.Event)).Add(float64(a.Callbacks))
	case pubsub.ActivitySweep:
		c.sweptTotal.Add(float64(a.Callbacks))
	}
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func kind(weak bool) string {
	if weak {
		return "weak"
	}
	return "strong"
}

// eventLabel names the unfiltered Off, whose event is AllEvents.
func eventLabel(name string) string {
	if name == pubsub.AllEvents {
		return "*"
	}
	return name
}
