//go:build darwin

package shim

import (
	"os/exec"
	"syscall"
)

// applyPlatformIsolation sets the SysProcAttr fields available before
// fork/exec on macOS; there is no Pdeathsig equivalent, so a shim whose
// runtime process dies is not reaped automatically.
func applyPlatformIsolation(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// joinJail on macOS applies no post-start isolation. Sandboxing is only
// available at exec time through WrapWithSandbox, which the lifecycle
// pipeline does not call, so the shim runs unsandboxed. rlimits and
// cgroups have no macOS equivalent reachable from Go without cgo.
func joinJail(pid int, cfg Config) error {
	return nil
}

func removeJail(boxID string) error {
	return nil
}

// SandboxProfile returns the Seatbelt (sandbox-exec) profile string used
// to wrap the shim binary. It restricts file writes to the box's own
// directory tree; file reads are allowed everywhere (spec.md §4.5).
func SandboxProfile(boxDir string) string {
	return `(version 1)
(deny default)
(allow process-fork)
(allow process-exec)
(allow file-read*)
(allow file-write* (subpath "` + boxDir + `"))
(allow network*)
(allow mach-lookup)
(allow signal (target self))
`
}

// WrapWithSandbox prepends the sandbox-exec invocation to a shim command
// line, returning the new binary path and argument list.
func WrapWithSandbox(boxDir, binaryPath string, args []string) (string, []string) {
	wrapped := append([]string{"-p", SandboxProfile(boxDir), binaryPath}, args...)
	return "sandbox-exec", wrapped
}
