package shim

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/metrics"
	"github.com/cuemby/boxlite/pkg/types"
)

// Config describes one shim process to spawn: the binary, its arguments,
// where it writes its PID file and control socket, and the resource
// isolation to apply (spec.md §4.5).
type Config struct {
	BoxID      string
	BinaryPath string
	Args       []string
	WorkDir    string
	PIDFile    string
	SocketPath string // control socket the shim listens on; its appearance signals readiness
	LogPath    string
	CPUs       int
	MemoryMiB  int
}

// Handle is a live shim process. It is not safe for concurrent Wait calls
// from more than one goroutine.
type Handle struct {
	cmd     *exec.Cmd
	PID     int
	logFile *os.File
}

// Spawn starts the shim binary, applies isolation, writes the PID file,
// and blocks until the shim's control socket appears or ctx is done.
// If the PID file write or the readiness wait fails, Spawn kills the shim
// itself and returns a nil Handle.
func Spawn(ctx context.Context, cfg Config) (*Handle, error) {
	logger := log.WithBoxID(cfg.BoxID)

	if err := os.MkdirAll(filepath.Dir(cfg.PIDFile), 0o755); err != nil {
		return nil, boxerr.Newf(boxerr.KindInternal, err, "create pid file dir")
	}
	os.Remove(cfg.SocketPath)

	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, boxerr.Newf(boxerr.KindInternal, err, "open shim log")
	}

	cmd := exec.Command(cfg.BinaryPath, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	applyPlatformIsolation(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		metrics.ShimSpawnFailuresTotal.Inc()
		return nil, boxerr.Newf(boxerr.KindEngine, err, "spawn shim")
	}

	h := &Handle{cmd: cmd, PID: cmd.Process.Pid, logFile: logFile}

	if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(h.PID)+"\n"), 0o644); err != nil {
		h.Kill()
		return nil, boxerr.Newf(boxerr.KindInternal, err, "write pid file")
	}

	if err := joinJail(h.PID, cfg); err != nil {
		logger.Warn().Err(err).Msg("failed to apply resource isolation to shim")
	}

	if err := waitReady(ctx, cfg.SocketPath); err != nil {
		metrics.ShimSpawnFailuresTotal.Inc()
		h.Kill()
		return nil, boxerr.Newf(boxerr.KindTimeout, err, "shim did not become ready")
	}

	logger.Info().Int("pid", h.PID).Msg("shim ready")
	return h, nil
}

// waitReady polls for sockPath to appear, at a fixed interval, until ctx
// is cancelled.
func waitReady(ctx context.Context, sockPath string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(sockPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the shim process exits.
func (h *Handle) Wait() error {
	defer h.logFile.Close()
	return h.cmd.Wait()
}

// Kill sends SIGKILL and reaps the process, ignoring errors from a process
// that already exited.
func (h *Handle) Kill() {
	if h.cmd.Process != nil {
		h.cmd.Process.Kill()
		h.cmd.Wait()
	}
	h.logFile.Close()
}

// Stop asks the shim to shut its VMM down gracefully by sending SIGTERM,
// leaving reaping to a concurrent Wait call.
func (h *Handle) Stop() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// ReadPIDFile returns the PID recorded in path. The runtime's startup
// recovery does not call it; recovery checks the PID stored in the box's
// metadata instead.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, boxerr.Newf(boxerr.KindNotFound, err, "read pid file")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, boxerr.Newf(boxerr.KindInternal, err, "parse pid file")
	}
	return pid, nil
}

// IsAlive reports whether pid refers to a live process, by sending signal 0.
func IsAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// CPUAllotment translates BoxOptions into the shim's resource isolation
// input, kept as a free function so pkg/lifecycle doesn't need to know
// about Config's field layout.
func CPUAllotment(opts types.BoxOptions) (cpus, memMiB int) {
	return opts.CPUs, opts.MemoryMiB
}
