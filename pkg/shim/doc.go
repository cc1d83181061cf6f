// Package shim spawns and supervises the per-box boxlite-shim process: its
// PID is written to a per-box PID file on spawn, readiness is
// detected by polling for the shim's control socket, and resource usage is
// sampled periodically for metrics (spec.md §4.5).
package shim
