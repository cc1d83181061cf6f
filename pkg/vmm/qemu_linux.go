//go:build linux

package vmm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/rs/zerolog"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/log"
)

// qemuEngine drives qemu-system-<arch> as a child process, using QMP over
// a Unix socket for graceful shutdown (spec.md §4.7).
type qemuEngine struct {
	binary string
}

func newPlatformEngine() Engine {
	return &qemuEngine{binary: "qemu-system-" + qemuArch()}
}

func qemuArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	default:
		return "x86_64"
	}
}

func (e *qemuEngine) Run(ctx context.Context, spec BootSpec) error {
	logger := log.WithBoxID(spec.BoxID).With().Str("stage", "vmm").Logger()

	os.Remove(spec.ControlSocketPath)
	args := buildArgs(spec)

	logFile, err := os.OpenFile(spec.SerialLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "open serial log")
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "start %s", e.binary)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		if err != nil {
			return boxerr.Newf(boxerr.KindEngine, err, "%s exited", e.binary)
		}
		return nil
	case <-ctx.Done():
		e.shutdown(spec.ControlSocketPath, logger)
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			cmd.Process.Kill()
			<-exited
		}
		return ctx.Err()
	}
}

func (e *qemuEngine) shutdown(sockPath string, logger zerolog.Logger) {
	mon, err := qmp.NewSocketMonitor("unix", sockPath, 2*time.Second)
	if err != nil {
		logger.Warn().Err(err).Msg("qmp connect failed, falling back to kill")
		return
	}
	if err := mon.Connect(); err != nil {
		logger.Warn().Err(err).Msg("qmp connect failed, falling back to kill")
		return
	}
	defer mon.Disconnect()
	mon.Run([]byte(`{"execute":"qmp_capabilities"}`))
	mon.Run([]byte(`{"execute":"system_powerdown"}`))
}

func buildArgs(spec BootSpec) []string {
	args := []string{
		"-M", "microvm,x-option-roms=off,pit=off,pic=off,isa-serial=off",
		"-no-acpi",
		"-nographic",
		"-enable-kvm",
		"-cpu", "host",
		"-smp", fmt.Sprintf("%d", spec.CPUs),
		"-m", fmt.Sprintf("%dM", spec.MemoryMiB),
		"-kernel", spec.KernelPath,
		"-append", spec.KernelArgs,
		"-qmp", "unix:" + spec.ControlSocketPath + ",server,nowait",
		"-device", fmt.Sprintf("vhost-vsock-pci,guest-cid=%d", spec.VsockCID),
		"-chardev", "stdio,id=virtiocon0",
		"-device", "virtio-serial-device",
		"-device", "virtconsole,chardev=virtiocon0",
	}
	if spec.InitrdPath != "" {
		args = append(args, "-initrd", spec.InitrdPath)
	}
	if spec.NetSocketPath != "" {
		args = append(args,
			"-netdev", fmt.Sprintf("socket,id=net0,connect=%s", spec.NetSocketPath),
			"-device", "virtio-net-device,netdev=net0",
		)
	}
	for _, share := range spec.Shares {
		args = append(args,
			"-fsdev", fmt.Sprintf("local,id=%s,path=%s,security_model=mapped-xattr", share.Tag, share.HostPath),
			"-device", fmt.Sprintf("virtio-9p-device,fsdev=%s,mount_tag=%s", share.Tag, share.Tag),
		)
	}
	for _, disk := range spec.Disks {
		ro := ""
		if disk.ReadOnly {
			ro = ",readonly=on"
		}
		args = append(args,
			"-drive", fmt.Sprintf("id=%s,file=%s,format=raw,if=none%s", disk.ID, disk.HostPath, ro),
			"-device", fmt.Sprintf("virtio-blk-device,drive=%s", disk.ID),
		)
	}
	return args
}
