package shim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnWaitsForReadySocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "shim.sock")
	pidFile := filepath.Join(dir, "shim.pid")
	logPath := filepath.Join(dir, "shim.log")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{
		BoxID:      "testbox",
		BinaryPath: "/bin/sh",
		Args:       []string{"-c", "touch " + sock + "; sleep 5"},
		WorkDir:    dir,
		PIDFile:    pidFile,
		SocketPath: sock,
		LogPath:    logPath,
	})
	require.NoError(t, err)
	defer h.Kill()

	assert.True(t, IsAlive(h.PID))

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "")
}

func TestSpawnFailsOnTimeout(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Spawn(ctx, Config{
		BoxID:      "testbox",
		BinaryPath: "/bin/sh",
		Args:       []string{"-c", "sleep 5"},
		WorkDir:    dir,
		PIDFile:    filepath.Join(dir, "shim.pid"),
		SocketPath: filepath.Join(dir, "never-appears.sock"),
		LogPath:    filepath.Join(dir, "shim.log"),
	})
	require.Error(t, err)
}

func TestReadPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shim.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestIsAliveFalseForReapedProcess(t *testing.T) {
	// A pid this large is extremely unlikely to be live.
	assert.False(t, IsAlive(1<<30))
}

func TestStopSendsSIGTERM(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "shim.sock")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{
		BoxID:      "testbox",
		BinaryPath: "/bin/sh",
		Args:       []string{"-c", "touch " + sock + "; trap 'exit 0' TERM; sleep 30 & wait"},
		WorkDir:    dir,
		PIDFile:    filepath.Join(dir, "shim.pid"),
		SocketPath: sock,
		LogPath:    filepath.Join(dir, "shim.log"),
	})
	require.NoError(t, err)

	require.NoError(t, h.Stop())

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.Kill()
		t.Fatal("process did not exit after SIGTERM")
	}
}
