package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Runtime-wide monotonic counters (spec.md §4.1, §9).
	BoxesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxlite_boxes_created_total",
			Help: "Total number of boxes created",
		},
	)

	BoxesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxlite_boxes_failed_total",
			Help: "Total number of boxes that transitioned to Failed",
		},
	)

	BoxesStoppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxlite_boxes_stopped_total",
			Help: "Total number of boxes that completed a graceful stop",
		},
	)

	BoxesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxlite_boxes_removed_total",
			Help: "Total number of boxes removed from the registry",
		},
	)

	BoxesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxlite_boxes_running",
			Help: "Current number of boxes in the Running state",
		},
	)

	// Lifecycle pipeline stage timings (spec.md §4.3).
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxlite_stage_duration_seconds",
			Help:    "Duration of an individual lifecycle stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	TotalCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxlite_total_create_duration_seconds",
			Help:    "Wall-clock duration of the full lifecycle pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)

	GuestBootDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxlite_guest_boot_duration_seconds",
			Help:    "Time from shim spawn to guest ready-notify",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Image cache metrics (spec.md §4.4).
	ImagePullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxlite_image_pull_duration_seconds",
			Help:    "Duration of a (non-coalesced) registry pull",
			Buckets: prometheus.DefBuckets,
		},
	)

	ImagePullCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxlite_image_pull_coalesced_total",
			Help: "Total pull requests that joined an in-flight pull instead of starting one",
		},
	)

	LayerExtractDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxlite_layer_extract_duration_seconds",
			Help:    "Duration of extracting a single layer tarball",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Shim / per-box resource sampling (spec.md §4.5).
	ShimCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boxlite_shim_cpu_percent",
			Help: "Sampled CPU percentage of a box's shim process",
		},
		[]string{"box_id"},
	)

	ShimRSSBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boxlite_shim_rss_bytes",
			Help: "Sampled resident set size of a box's shim process",
		},
		[]string{"box_id"},
	)

	ShimSpawnFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxlite_shim_spawn_failures_total",
			Help: "Total shim spawn attempts that did not reach ready-notify in time",
		},
	)

	// Exec / RPC metrics (spec.md §4.6).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxlite_executions_total",
			Help: "Total Exec RPCs issued, by terminal outcome",
		},
		[]string{"outcome"},
	)

	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxlite_rpc_duration_seconds",
			Help:    "Duration of a portal RPC by service and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		BoxesCreatedTotal,
		BoxesFailedTotal,
		BoxesStoppedTotal,
		BoxesRemovedTotal,
		BoxesRunning,
		StageDuration,
		TotalCreateDuration,
		GuestBootDuration,
		ImagePullDuration,
		ImagePullCoalescedTotal,
		LayerExtractDuration,
		ShimCPUPercent,
		ShimRSSBytes,
		ShimSpawnFailuresTotal,
		ExecutionsTotal,
		RPCDuration,
	)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// RuntimeCounters is a point-in-time snapshot of the runtime's monotonic
// counters plus the derived gauge, per spec.md §4.1 Runtime.metrics().
type RuntimeCounters struct {
	Created         uint64
	Failed          uint64
	Stopped         uint64
	Removed         uint64
	NumRunningBoxes int64
}
