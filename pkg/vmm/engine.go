// Package vmm drives the actual hypervisor for a box: QEMU on Linux via
// QMP, Virtualization.framework on macOS via Code-Hex/vz. Both backends
// satisfy the same Engine interface so pkg/lifecycle's VmmConfig/ShimSpawn
// stages stay platform-agnostic (spec.md §4.3, §4.7).
package vmm

import (
	"context"

	"github.com/cuemby/boxlite/pkg/volume"
)

// BootSpec is everything an Engine needs to boot one box's microVM.
type BootSpec struct {
	BoxID      string
	KernelPath string
	InitrdPath string
	KernelArgs string
	CPUs       int
	MemoryMiB  int
	VsockCID   uint32
	Shares     []volume.VirtiofsShare
	Disks      []volume.BlockDevice

	// NetSocketPath is the host-side unix socket the engine dials as a
	// qemu-protocol netdev client, bridging the guest NIC into the
	// runtime's shared network.Bridge. Empty means no network device.
	NetSocketPath string

	// ControlSocketPath is the QMP socket (QEMU) or a marker file (vz); it is
	// also where the shim listens for the portal's ready-notify poll,
	// so every backend must guarantee something exists at this path
	// once the guest has reached a controllable state.
	ControlSocketPath string
	SerialLogPath     string
}

// Engine runs a microVM to completion. Run blocks until the guest exits
// or ctx is cancelled, at which point the engine must make a best effort
// at a graceful shutdown before returning.
type Engine interface {
	Run(ctx context.Context, spec BootSpec) error
}

// New returns the Engine appropriate for the host platform.
func New() Engine {
	return newPlatformEngine()
}
