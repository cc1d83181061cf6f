package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteBoxEnsureRunsOnce(t *testing.T) {
	box := &LiteBox{BoxID: "box1"}
	var calls int32

	build := func() (*BoxInner, error) {
		atomic.AddInt32(&calls, 1)
		return &BoxInner{
			CancelVMM: func() {},
			VMMExited: make(chan error, 1),
		}, nil
	}

	inner1, err1 := box.Ensure(build)
	require.NoError(t, err1)
	inner2, err2 := box.Ensure(build)
	require.NoError(t, err2)

	assert.Same(t, inner1, inner2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestLiteBoxShutdownIsIdempotent(t *testing.T) {
	exited := make(chan error, 1)
	exited <- nil

	box := &LiteBox{BoxID: "box1"}
	box.Ensure(func() (*BoxInner, error) {
		return &BoxInner{CancelVMM: func() {}, VMMExited: exited}, nil
	})

	assert.False(t, box.IsDown())

	ctx := context.Background()
	err1 := box.Shutdown(ctx, 1)
	err2 := box.Shutdown(ctx, 1)

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.True(t, box.IsDown())
}

func TestLiteBoxShutdownWithNoSessionSkipsRPC(t *testing.T) {
	exited := make(chan error, 1)
	exited <- nil

	box := &LiteBox{BoxID: "box2"}
	box.Ensure(func() (*BoxInner, error) {
		return &BoxInner{Session: nil, CancelVMM: func() {}, VMMExited: exited}, nil
	})

	done := make(chan struct{})
	go func() {
		box.Shutdown(context.Background(), 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return promptly with a nil session")
	}
}
