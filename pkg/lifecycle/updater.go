// Package lifecycle runs the six-stage pipeline that takes a box from
// Configured to Running: Filesystem, Rootfs, and InitImage in parallel,
// followed by VmmConfig, ShimSpawn, and GuestInit in sequence
// (spec.md §4.3).
package lifecycle

import "github.com/cuemby/boxlite/pkg/types"

// StateUpdater is the narrow slice of pkg/runtime.BoxManager the pipeline
// needs to report progress and failures. It is expressed as an interface
// here, satisfied structurally by BoxManager, so that pkg/lifecycle never
// imports pkg/runtime — pkg/runtime imports pkg/lifecycle the other way,
// and Go forbids the cycle that a direct import would create.
type StateUpdater interface {
	UpdateState(idOrName, event string, mutate func(*types.BoxMetadata)) (types.BoxMetadata, error)
	SetPID(idOrName string, pid int) error
	MarkFailed(idOrName string) error
}
