//go:build darwin

package vmm

import (
	"context"
	"os"

	"github.com/Code-Hex/vz/v3"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/log"
)

// vzEngine drives Virtualization.framework in-process via Code-Hex/vz,
// used in place of QEMU/KVM on macOS (spec.md §4.7).
type vzEngine struct{}

func newPlatformEngine() Engine {
	return &vzEngine{}
}

func (e *vzEngine) Run(ctx context.Context, spec BootSpec) error {
	logger := log.WithBoxID(spec.BoxID).With().Str("stage", "vmm").Logger()

	bootLoader, err := vz.NewLinuxBootLoader(
		spec.KernelPath,
		vz.WithCommandLine(spec.KernelArgs),
		vz.WithInitrd(spec.InitrdPath),
	)
	if err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "create boot loader")
	}

	config, err := vz.NewVirtualMachineConfiguration(bootLoader, uint(spec.CPUs), uint64(spec.MemoryMiB)*1024*1024)
	if err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "create vm configuration")
	}

	var sockDevices []*vz.VirtioSocketDeviceConfiguration
	sockDev, err := vz.NewVirtioSocketDeviceConfiguration()
	if err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "create vsock device")
	}
	sockDevices = append(sockDevices, sockDev)
	config.SetSocketDevicesVirtualMachineConfiguration(sockDevices)

	var dirShares []vz.DirectorySharingDeviceConfiguration
	for _, share := range spec.Shares {
		dir, err := vz.NewSharedDirectory(share.HostPath, share.ReadOnly)
		if err != nil {
			return boxerr.Newf(boxerr.KindEngine, err, "share directory %s", share.HostPath)
		}
		single, err := vz.NewSingleDirectoryShare(dir)
		if err != nil {
			return boxerr.Newf(boxerr.KindEngine, err, "single directory share")
		}
		fsDev, err := vz.NewVirtioFileSystemDeviceConfiguration(share.Tag)
		if err != nil {
			return boxerr.Newf(boxerr.KindEngine, err, "virtiofs device %s", share.Tag)
		}
		fsDev.SetDirectoryShare(single)
		dirShares = append(dirShares, fsDev)
	}
	if len(dirShares) > 0 {
		config.SetDirectorySharingDevicesVirtualMachineConfiguration(dirShares)
	}

	var storageDevices []vz.StorageDeviceConfiguration
	for _, disk := range spec.Disks {
		attachment, err := vz.NewDiskImageStorageDeviceAttachment(disk.HostPath, disk.ReadOnly)
		if err != nil {
			return boxerr.Newf(boxerr.KindEngine, err, "attach disk %s", disk.HostPath)
		}
		blockDev, err := vz.NewVirtioBlockDeviceConfiguration(attachment)
		if err != nil {
			return boxerr.Newf(boxerr.KindEngine, err, "block device %s", disk.ID)
		}
		storageDevices = append(storageDevices, blockDev)
	}
	if len(storageDevices) > 0 {
		config.SetStorageDevicesVirtualMachineConfiguration(storageDevices)
	}

	valid, err := config.Validate()
	if !valid || err != nil {
		return boxerr.Newf(boxerr.KindInvalidConfig, err, "vm configuration invalid")
	}

	vm, err := vz.NewVirtualMachine(config)
	if err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "create virtual machine")
	}

	os.Create(spec.ControlSocketPath) // marker file; vz has no QMP-equivalent socket

	if err := vm.Start(); err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "start virtual machine")
	}

	stateCh := vm.StateChangedNotify()
	for {
		select {
		case <-ctx.Done():
			if err := vm.RequestStop(); err != nil {
				logger.Warn().Err(err).Msg("graceful vz stop request failed")
			}
			return ctx.Err()
		case state := <-stateCh:
			if state == vz.VirtualMachineStateStopped || state == vz.VirtualMachineStateError {
				return nil
			}
		}
	}
}
