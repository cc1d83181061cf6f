// Package image implements BoxLite's image cache: a content-addressed
// blob store, OCI layer extraction, and a coalescing pull manager built
// on containerd's registry resolver (spec.md §3, §4.4).
package image
