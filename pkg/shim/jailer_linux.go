//go:build linux

package shim

import (
	"fmt"
	"os/exec"
	"syscall"

	cgroup2 "github.com/containerd/cgroups/v3/cgroup2"
	"golang.org/x/sys/unix"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

// applyPlatformIsolation sets the SysProcAttr fields available before
// fork/exec: a fresh session, detached from the runtime's own, and a
// parent-death signal so an orphaned shim is killed if the runtime
// process itself dies.
func applyPlatformIsolation(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:    true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// joinJail sets RLIMIT_NOFILE via prlimit(2) (no other rlimit is set, and
// inherited file descriptors are not closed) and joins (creating if absent) a
// cgroup2 slice scoped to this box, after the process has already started
// — Go exposes no pre-exec hook, so the isolation window is the brief gap
// between Start() and here rather than before exec() (spec.md §4.5).
func joinJail(pid int, cfg Config) error {
	if err := setOpenFileLimit(pid, 4096); err != nil {
		return err
	}

	if cfg.CPUs <= 0 && cfg.MemoryMiB <= 0 {
		return nil
	}

	group := fmt.Sprintf("/boxlite-%s", cfg.BoxID)
	res := &cgroup2.Resources{}
	if cfg.CPUs > 0 {
		quota := int64(cfg.CPUs) * 100000
		period := uint64(100000)
		res.CPU = &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quota, &period)}
	}
	if cfg.MemoryMiB > 0 {
		max := int64(cfg.MemoryMiB) * 1024 * 1024
		res.Memory = &cgroup2.Memory{Max: &max}
	}

	m, err := cgroup2.NewManager("/sys/fs/cgroup", group, res)
	if err != nil {
		return boxerr.Newf(boxerr.KindIsolationUnavailable, err, "create cgroup %s", group)
	}
	if err := m.AddProc(uint64(pid)); err != nil {
		return boxerr.Newf(boxerr.KindIsolationUnavailable, err, "join cgroup %s", group)
	}
	return nil
}

func setOpenFileLimit(pid int, n uint64) error {
	lim := unix.Rlimit{Cur: n, Max: n}
	if err := unix.Prlimit(pid, unix.RLIMIT_NOFILE, &lim, nil); err != nil {
		return boxerr.Newf(boxerr.KindIsolationUnavailable, err, "set RLIMIT_NOFILE on pid %d", pid)
	}
	return nil
}

// removeJail deletes the cgroup created for a box. Nothing in the runtime
// calls it, so a box's cgroup outlives the box.
func removeJail(boxID string) error {
	group := fmt.Sprintf("/boxlite-%s", boxID)
	m, err := cgroup2.Load(group)
	if err != nil {
		return nil // never created, or already gone
	}
	return m.Delete()
}
