// Package metrics provides Prometheus metrics collection and exposition for
// BoxLite.
//
// Counters track the runtime-wide lifecycle totals named in the runtime
// registry's metrics() snapshot (boxlite_boxes_created_total,
// boxlite_boxes_failed_total, boxlite_boxes_stopped_total,
// boxlite_boxes_removed_total); histograms track lifecycle-stage timing,
// image pull/extract duration, and portal RPC duration; gauges track
// per-box shim CPU/RSS samples and the current running-box count.
//
// Handler() exposes the registered collectors over HTTP in the standard
// Prometheus exposition format via promhttp.Handler(). Timer is a small
// helper that wraps a start time and reports elapsed duration into a
// histogram or histogram vector.
package metrics
