package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "orbgate_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "gateway"},
		},
		[]string{"date", "sha", "version"},
	)

	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbgate_calls_total",
			Help: "Inbound calls by terminal state",
		},
		[]string{"operation", "state"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbgate_dispatches_total",
			Help: "Outbound calls dispatched per target operation",
		},
		[]string{"target"},
	)

	faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbgate_faults_total",
			Help: "Faults surfaced to callers by kind",
		},
		[]string{"kind"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbgate_call_duration_seconds",
			Help:    "Inbound call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	connectedAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbgate_connected_agents",
			Help: "Target agents currently registered over websocket",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, calls, dispatches, faults, callDuration, connectedAgents)
}

// SetBuildInfo sets the build info metric for the gateway.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordCall increments the per-operation counter for a terminal state.
func RecordCall(operation, state string) {
	calls.WithLabelValues(operation, state).Inc()
}

// RecordDispatch increments the outbound dispatch counter.
func RecordDispatch(target string) {
	dispatches.WithLabelValues(target).Inc()
}

// RecordFault increments the fault counter for a kind.
func RecordFault(kind string) {
	faults.WithLabelValues(kind).Inc()
}

// ObserveCallDuration records the duration of one inbound call.
func ObserveCallDuration(operation string, d time.Duration) {
	callDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetConnectedAgents sets the registered agent gauge.
func SetConnectedAgents(n int) {
	connectedAgents.Set(float64(n))
}
