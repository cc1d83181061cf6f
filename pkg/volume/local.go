package volume

import (
	"fmt"
	"sync"

	"github.com/cuemby/boxlite/pkg/types"
)

// VirtiofsShare is one guest-visible virtiofs mount: an opaque tag the
// guest agent uses to locate the host-shared directory, plus the guest
// mount point and read-only flag (spec.md §4.3 Stage 4, §4.8).
type VirtiofsShare struct {
	Tag       string
	HostPath  string
	GuestPath string
	ReadOnly  bool
}

// BlockDevice is one guest-visible virtio-blk device, assigned ids
// vda..vdz in allocation order (spec.md §5, hard cap of 26 per box).
type BlockDevice struct {
	ID       string // "vda".."vdz"
	HostPath string
	SizeGB   int
	ReadOnly bool
}

const maxBlockDevices = 26

// ErrBlockDeviceLimit is returned when a box would need more than 26
// block devices (vda..vdz exhausted).
var ErrBlockDeviceLimit = fmt.Errorf("block device limit of %d (vda..vdz) exceeded", maxBlockDevices)

// Allocator assigns virtiofs tags and block device ids sequentially for a
// single box's VmmConfig stage. It is not safe for reuse across boxes —
// each box gets its own Allocator, matching the "unique per box" rule in
// spec.md §5.
type Allocator struct {
	mu        sync.Mutex
	nextTag   int
	nextBlock int
}

// NewAllocator returns a fresh per-box allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// AllocateShare assigns the next sequential virtiofs tag to a host
// directory share.
func (a *Allocator) AllocateShare(hostPath, guestPath string, readOnly bool) VirtiofsShare {
	a.mu.Lock()
	defer a.mu.Unlock()
	tag := fmt.Sprintf("vtag%d", a.nextTag)
	a.nextTag++
	return VirtiofsShare{Tag: tag, HostPath: hostPath, GuestPath: guestPath, ReadOnly: readOnly}
}

// AllocateShares assigns tags for every volume spec in order, plus the
// box's own shared/ directory (always first, so the guest agent can rely
// on it being vtag0).
func (a *Allocator) AllocateShares(sharedDir string, volumes []types.VolumeSpec) []VirtiofsShare {
	shares := make([]VirtiofsShare, 0, len(volumes)+1)
	shares = append(shares, a.AllocateShare(sharedDir, "/mnt/shared", false))
	for _, v := range volumes {
		shares = append(shares, a.AllocateShare(v.HostPath, v.GuestPath, v.ReadOnly))
	}
	return shares
}

// AllocateBlockDevice assigns the next vdX id to a backing disk file.
func (a *Allocator) AllocateBlockDevice(hostPath string, sizeGB int, readOnly bool) (BlockDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextBlock >= maxBlockDevices {
		return BlockDevice{}, ErrBlockDeviceLimit
	}
	id := fmt.Sprintf("vd%c", 'a'+byte(a.nextBlock))
	a.nextBlock++
	return BlockDevice{ID: id, HostPath: hostPath, SizeGB: sizeGB, ReadOnly: readOnly}, nil
}
