//go:build linux

package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/boxlite/pkg/volume"
)

func TestBuildArgsIncludesSharesAndDisks(t *testing.T) {
	spec := BootSpec{
		CPUs:              2,
		MemoryMiB:         512,
		KernelPath:        "/boot/vmlinux",
		KernelArgs:        "console=hvc0",
		VsockCID:          10,
		ControlSocketPath: "/tmp/box.qmp",
		Shares:            []volume.VirtiofsShare{{Tag: "vtag0", HostPath: "/home/box/shared", GuestPath: "/mnt"}},
		Disks:             []volume.BlockDevice{{ID: "vda", HostPath: "/home/box/disk0.img", ReadOnly: true}},
	}

	args := buildArgs(spec)

	assert.Contains(t, args, "2")
	assert.Contains(t, args, "512M")
	assertHasPair(t, args, "-fsdev", "local,id=vtag0,path=/home/box/shared,security_model=mapped-xattr")
	assertHasPair(t, args, "-drive", "id=vda,file=/home/box/disk0.img,format=raw,if=none,readonly=on")
}

func assertHasPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) && args[i+1] == value {
			return
		}
	}
	t.Fatalf("expected %s %s in args %v", flag, value, args)
}
