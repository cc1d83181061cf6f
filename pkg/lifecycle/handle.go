package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/boxlite/pkg/portal"
	"github.com/cuemby/boxlite/pkg/shim"
)

// BoxInner is everything a running box needs to be supervised: its guest
// RPC session, its shim process handle, and the means to stop its VMM.
type BoxInner struct {
	Session    *portal.GuestSession
	ShimHandle *shim.Handle
	CancelVMM  context.CancelFunc
	VMMExited  <-chan error
	Sampler    *shim.Sampler
}

func (b *BoxInner) shutdown(ctx context.Context, graceSeconds int) error {
	if b.Session != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(graceSeconds)*time.Second)
		b.Session.Shutdown(shutdownCtx, graceSeconds)
		cancel()
	}

	b.CancelVMM()

	select {
	case <-b.VMMExited:
	case <-time.After(10 * time.Second):
		b.ShimHandle.Kill()
	case <-ctx.Done():
		b.ShimHandle.Kill()
	}
	return nil
}

// LiteBox is a lazily-materialized handle to one box's live resources: the
// pipeline only runs once per box, memoized via once, and Shutdown is
// idempotent via shutdownOnce so a double-stop (e.g. from both the CLI
// and recovery) never double-tears-down the same VMM (spec.md §8
// property 3 extended to runtime-internal teardown).
type LiteBox struct {
	BoxID string

	once  sync.Once
	inner *BoxInner
	err   error

	shutdownOnce sync.Once
	shutdownErr  error
	down         atomic.Bool
}

// Ensure runs fn (the pipeline) exactly once for this handle's lifetime
// and caches the result.
func (b *LiteBox) Ensure(fn func() (*BoxInner, error)) (*BoxInner, error) {
	b.once.Do(func() {
		b.inner, b.err = fn()
	})
	return b.inner, b.err
}

// Shutdown tears the box down exactly once, regardless of how many
// callers request it concurrently.
func (b *LiteBox) Shutdown(ctx context.Context, graceSeconds int) error {
	b.shutdownOnce.Do(func() {
		b.down.Store(true)
		if b.inner != nil {
			b.shutdownErr = b.inner.shutdown(ctx, graceSeconds)
		}
	})
	return b.shutdownErr
}

// IsDown reports whether Shutdown has been called.
func (b *LiteBox) IsDown() bool {
	return b.down.Load()
}
