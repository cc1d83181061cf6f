package network

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeBoxStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "net.sock")

	b := &Bridge{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.ServeBox(ctx, "testbox", sock) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, time.Second, 10*time.Millisecond, "socket was never created")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeBox did not return after context cancel")
	}
}

func TestServeBoxRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "net.sock")
	require.NoError(t, os.WriteFile(sock, []byte("stale"), 0o644))

	b := &Bridge{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.ServeBox(ctx, "testbox", sock) }()

	require.Eventually(t, func() bool {
		info, err := os.Stat(sock)
		return err == nil && info.Mode()&os.ModeSocket != 0
	}, time.Second, 10*time.Millisecond, "stale file was never replaced by a socket")

	cancel()
	<-done
}
