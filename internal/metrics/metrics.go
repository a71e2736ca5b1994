// Package metrics exposes pipeline counters in Prometheus format. All
// methods are safe on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomePoison = "poison"
)

type Collector struct {
	registry *prometheus.Registry

	jobsProcessed *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	ackFailures   prometheus.Counter

	notificationsDelivered prometheus.Counter
	notificationsFailed    prometheus.Counter
	channelsPruned         prometheus.Counter
	liveConnections        prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Jobs taken off the queue, by outcome",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time from receipt to acknowledgement",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		ackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ack_failures_total",
			Help: "Jobs whose acknowledgement failed after all retries",
		}),
		notificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Events pushed to a live channel",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Pushes that failed for a reason other than a gone channel",
		}),
		channelsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channels_pruned_total",
			Help: "Gone channels removed from the registry during fan-out",
		}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_connections",
			Help: "WebSocket connections currently open on this server",
		}),
	}

	c.registry.MustRegister(
		c.jobsProcessed,
		c.jobDuration,
		c.ackFailures,
		c.notificationsDelivered,
		c.notificationsFailed,
		c.channelsPruned,
		c.liveConnections,
	)
	return c
}

func (c *Collector) JobFinished(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.jobsProcessed.WithLabelValues(outcome).Inc()
	if outcome != OutcomePoison {
		c.jobDuration.Observe(took.Seconds())
	}
}

func (c *Collector) AckFailed() {
	if c == nil {
		return
	}
	c.ackFailures.Inc()
}

func (c *Collector) Delivered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.notificationsDelivered.Add(float64(n))
}

func (c *Collector) DeliveryFailed() {
	if c == nil {
		return
	}
	c.notificationsFailed.Inc()
}

func (c *Collector) ChannelPruned() {
	if c == nil {
		return
	}
	c.channelsPruned.Inc()
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.liveConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.liveConnections.Dec()
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
