// Package metrics holds the Prometheus collectors shared by the calendar engine.
// All recording methods are safe on a nil *Collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calendar"

// Collector manages Prometheus metrics for the service.
type Collector struct {
	registry *prometheus.Registry

	sourceFailures   *prometheus.CounterVec
	weekFetches      *prometheus.CounterVec
	reschedules      *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	generations      prometheus.Counter
	journalDropped   prometheus.Counter
	journalWritten   prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	breakerTransfers *prometheus.CounterVec
	countdownRunners prometheus.Gauge
}

// New creates a collector with its own registry.
func New(version string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.sourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetch_failures_total",
		Help:      "Post source fetches that failed, by source.",
	}, []string{"source"})
	c.weekFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "week_fetches_total",
		Help:      "Week fetch cycles by outcome (ok, partial, failed, stale).",
	}, []string{"outcome"})
	c.reschedules = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reschedules_total",
		Help:      "Drag reschedules by outcome.",
	}, []string{"outcome"})
	c.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_transitions_total",
		Help:      "Applied lifecycle transitions.",
	}, []string{"from", "to"})
	c.generations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "campaign_generations_detected_total",
		Help:      "Rising edges observed on campaign post counts.",
	})
	c.journalDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_dropped_total",
		Help:      "Transition records dropped because the queue was full or the write failed.",
	})
	c.journalWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_written_total",
		Help:      "Transition records written.",
	})
	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	c.breakerTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_breaker_state_changes_total",
		Help:      "Backend circuit breaker state changes.",
	}, []string{"to"})
	c.countdownRunners = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "countdown_runners",
		Help:      "Organizations with a live countdown poller.",
	})

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_info",
		Help:      "Service information",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	c.registry.MustRegister(
		c.sourceFailures, c.weekFetches, c.reschedules, c.transitions,
		c.generations, c.journalDropped, c.journalWritten,
		c.httpRequests, c.httpDuration, c.breakerTransfers, c.countdownRunners, info,
	)
	return c
}

// Handler returns the Prometheus exposition handler for this registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) SourceFailed(source string) {
	if c == nil {
		return
	}
	c.sourceFailures.WithLabelValues(source).Inc()
}

func (c *Collector) WeekFetched(outcome string) {
	if c == nil {
		return
	}
	c.weekFetches.WithLabelValues(outcome).Inc()
}

func (c *Collector) Rescheduled(outcome string) {
	if c == nil {
		return
	}
	c.reschedules.WithLabelValues(outcome).Inc()
}

func (c *Collector) Transitioned(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) GenerationDetected() {
	if c == nil {
		return
	}
	c.generations.Inc()
}

func (c *Collector) CountdownRunners(n int) {
	if c == nil {
		return
	}
	c.countdownRunners.Set(float64(n))
}

func (c *Collector) JournalDropped(n int) {
	if c == nil {
		return
	}
	c.journalDropped.Add(float64(n))
}

func (c *Collector) JournalWritten(n int64) {
	if c == nil {
		return
	}
	c.journalWritten.Add(float64(n))
}

func (c *Collector) BreakerChanged(to string) {
	if c == nil {
		return
	}
	c.breakerTransfers.WithLabelValues(to).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
