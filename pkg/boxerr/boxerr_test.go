package boxerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	err := New(KindNotFound, "box foo", nil)
	assert.True(t, errors.Is(err, NotFound))
	assert.False(t, errors.Is(err, RuntimeBusy))
}

func TestErrorIsMatchesThroughWrapping(t *testing.T) {
	err := Newf(KindEngine, errors.New("qemu exited"), "start %s", "qemu-system-x86_64")
	wrapped := fmt.Errorf("create box: %w", err)
	assert.True(t, errors.Is(wrapped, Engine))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindInternal, "failed", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestKindOfExtractsKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(KindTimeout, "waiting", nil))
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindTimeout, kind)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}
