package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpensEmptyHomeAndCloses(t *testing.T) {
	home := t.TempDir()

	r, err := New(home, BinaryPaths{})
	require.NoError(t, err)
	defer r.Close()

	assert.Empty(t, r.List())
	assert.EqualValues(t, 0, r.Metrics().NumRunningBoxes)
}

func TestNewRefusesSecondLockOnSameHome(t *testing.T) {
	home := t.TempDir()

	r1, err := New(home, BinaryPaths{})
	require.NoError(t, err)
	defer r1.Close()

	_, err = New(home, BinaryPaths{})
	assert.Error(t, err)
}

func TestGetUnknownBoxReturnsNotFound(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, BinaryPaths{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Get("does-not-exist")
	assert.Error(t, err)
}

func TestStartUnknownBoxReturnsNotFound(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, BinaryPaths{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Start(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestRestartUnknownBoxReturnsNotFound(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, BinaryPaths{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Restart(context.Background(), "does-not-exist", 5)
	assert.Error(t, err)
}

func TestCloseOnEmptyRuntimeIsNoOp(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, BinaryPaths{})
	require.NoError(t, err)

	assert.NoError(t, r.Close())
}
