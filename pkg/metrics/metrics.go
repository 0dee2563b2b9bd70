package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for coordmutex.
// Using promauto for automatic registration with default registry.
var (
	// --- Protocol Metrics ---

	// RequestsTotal counts coordinator decisions.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "mutex",
			Name:      "requests_total",
			Help:      "Resource requests by coordinator decision",
		},
		[]string{"decision"},
	)

	// ReleasesTotal counts releases that actually freed the resource.
	ReleasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "mutex",
			Name:      "releases_total",
			Help:      "Total number of resource releases",
		},
	)

	// QueueDepth tracks the coordinator's wait queue length.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coordmutex",
			Subsystem: "mutex",
			Name:      "wait_queue_depth",
			Help:      "Number of processes waiting for the resource",
		},
	)

	// ResourceBusy is 1 while some process holds the resource.
	ResourceBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coordmutex",
			Subsystem: "mutex",
			Name:      "resource_busy",
			Help:      "1 while the shared resource is held",
		},
	)

	// UsageDuration tracks how long holders kept the resource.
	UsageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coordmutex",
			Subsystem: "usage",
			Name:      "duration_seconds",
			Help:      "Time a holder kept the resource",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~3m
		},
		[]string{"outcome"},
	)

	// Interruptions counts usage tasks cancelled before completion.
	Interruptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "usage",
			Name:      "interruptions_total",
			Help:      "Usage tasks cancelled before finishing",
		},
		[]string{"reason"},
	)

	// UsageLogFailures counts failed usage record appends.
	UsageLogFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "usage",
			Name:      "log_failures_total",
			Help:      "Usage record appends that failed",
		},
		[]string{"sink"},
	)

	// --- Cluster Metrics ---

	// Elections counts completed coordinator elections.
	Elections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "cluster",
			Name:      "elections_total",
			Help:      "Total number of coordinator elections",
		},
	)

	// LiveProcesses tracks registered processes.
	LiveProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coordmutex",
			Subsystem: "cluster",
			Name:      "live_processes",
			Help:      "Number of registered processes",
		},
	)

	// TransportFailures counts failed request deliveries.
	TransportFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "transport",
			Name:      "failures_total",
			Help:      "Requests that could not reach the coordinator",
		},
		[]string{"reason"},
	)

	// --- HTTP Metrics ---

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coordmutex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"method", "route"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coordmutex",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// SimulationActions counts driver actions by kind and result.
	SimulationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordmutex",
			Subsystem: "simulation",
			Name:      "actions_total",
			Help:      "Simulation driver actions",
		},
		[]string{"action", "result"},
	)
)

// RecordDecision records a coordinator decision and the resulting queue depth.
func RecordDecision(decision string, queueLen int) {
	RequestsTotal.WithLabelValues(decision).Inc()
	QueueDepth.Set(float64(queueLen))
}

// RecordUsage records a finished usage task.
func RecordUsage(interrupted bool, seconds float64) {
	outcome := "completed"
	if interrupted {
		outcome = "interrupted"
	}
	UsageDuration.WithLabelValues(outcome).Observe(seconds)
}

// SetBusy mirrors the coordinator's busy flag.
func SetBusy(busy bool) {
	if busy {
		ResourceBusy.Set(1)
		return
	}
	ResourceBusy.Set(0)
}
