package runtime

import (
	"testing"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireHomeLockExclusive(t *testing.T) {
	home := t.TempDir()

	l1, err := AcquireHomeLock(home)
	require.NoError(t, err)

	_, err = AcquireHomeLock(home)
	require.Error(t, err)
	assert.ErrorIs(t, err, boxerr.RuntimeBusy)

	require.NoError(t, l1.Release())
}

func TestAcquireHomeLockReleaseThenReacquire(t *testing.T) {
	home := t.TempDir()

	l1, err := AcquireHomeLock(home)
	require.NoError(t, err)
	require.NoError(t, l1.Release())

	l2, err := AcquireHomeLock(home)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestHomeLockReleaseIsIdempotent(t *testing.T) {
	home := t.TempDir()

	l, err := AcquireHomeLock(home)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.NoError(t, l.Release())
}
