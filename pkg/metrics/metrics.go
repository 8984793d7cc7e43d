package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registration metrics
	RegistrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nsu_registration_duration_seconds",
			Help:    "Time taken to complete node registration with the controller",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsu_registrations_total",
			Help: "Total number of registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Heartbeat metrics
	HeartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nsu_heartbeat_duration_seconds",
			Help:    "Round-trip latency of a heartbeat request to the controller",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsu_heartbeats_total",
			Help: "Total number of heartbeats sent by outcome",
		},
		[]string{"outcome"},
	)

	MissedHeartbeats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsu_missed_heartbeats",
			Help: "Current count of consecutive heartbeats that failed to reach the controller",
		},
	)

	LastHeartbeatID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsu_last_heartbeat_id",
			Help: "The responseId of the most recently acknowledged heartbeat",
		},
	)

	NextHeartbeatIntervalSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsu_next_heartbeat_interval_seconds",
			Help: "The heartbeat interval currently in effect, as last set by the controller",
		},
	)

	// Containment bookkeeping metrics
	PendingCompletionBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsu_pending_completion_backlog",
			Help: "Number of completed containers buffered for at-least-once delivery to the controller",
		},
	)

	RecentlyStoppedCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsu_recently_stopped_cache_size",
			Help: "Number of container IDs held in the recently-stopped cache",
		},
	)

	KeepAliveAppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsu_keepalive_apps_total",
			Help: "Number of applications currently tracked for log-aggregation keep-alive",
		},
	)

	// Security metrics
	MasterKeyRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsu_master_key_rotations_total",
			Help: "Total number of master key rotations observed, by key kind",
		},
		[]string{"kind"},
	)

	// Node-labels metrics
	NodeLabelsSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nsu_node_labels_sync_duration_seconds",
			Help:    "Time taken to refresh node labels from the configured provider",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodeLabelsSyncFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nsu_node_labels_sync_failures_total",
			Help: "Total number of node-label refresh attempts that failed",
		},
	)
)

func init() {
	prometheus.MustRegister(RegistrationDuration)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(HeartbeatDuration)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(MissedHeartbeats)
	prometheus.MustRegister(LastHeartbeatID)
	prometheus.MustRegister(NextHeartbeatIntervalSeconds)
	prometheus.MustRegister(PendingCompletionBacklog)
	prometheus.MustRegister(RecentlyStoppedCacheSize)
	prometheus.MustRegister(KeepAliveAppsTotal)
	prometheus.MustRegister(MasterKeyRotationsTotal)
	prometheus.MustRegister(NodeLabelsSyncDuration)
	prometheus.MustRegister(NodeLabelsSyncFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
