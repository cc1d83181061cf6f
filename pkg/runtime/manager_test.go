package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/types"
)

func newTestManager(t *testing.T) *BoxManager {
	t.Helper()
	store, err := NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewBoxManager(store)
	require.NoError(t, err)
	return m
}

func TestBoxManagerRegisterAndGet(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), Name: "web", State: types.StateConfigured}
	require.NoError(t, m.Register(meta))

	got, err := m.Get(meta.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)

	byName, err := m.Get("web")
	require.NoError(t, err)
	assert.Equal(t, meta.ID, byName.ID)
}

func TestBoxManagerRegisterRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Register(&types.BoxMetadata{ID: mustBoxID(t), Name: "web", State: types.StateConfigured}))

	err := m.Register(&types.BoxMetadata{ID: mustBoxID(t), Name: "web", State: types.StateConfigured})
	require.Error(t, err)
	assert.ErrorIs(t, err, boxerr.NameConflict)
}

func TestBoxManagerStateTransitions(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, m.Register(meta))

	got, err := m.UpdateState(meta.ID.String(), "start", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateStarting, got.State)

	got, err = m.UpdateState(meta.ID.String(), "ready", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, got.State)
}

func TestBoxManagerStartIsIdempotentOnRunning(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, m.Register(meta))
	_, err := m.UpdateState(meta.ID.String(), "start", nil)
	require.NoError(t, err)
	_, err = m.UpdateState(meta.ID.String(), "ready", nil)
	require.NoError(t, err)

	got, err := m.UpdateState(meta.ID.String(), "start", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, got.State, "start on an already-running box is a no-op")
}

func TestBoxManagerStartRestartsFromStoppedAndFailed(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateStopped}
	require.NoError(t, m.Register(meta))

	got, err := m.UpdateState(meta.ID.String(), "start", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateStarting, got.State)

	failedMeta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateFailed}
	require.NoError(t, m.Register(failedMeta))

	got, err = m.UpdateState(failedMeta.ID.String(), "start", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateStarting, got.State)
}

func TestBoxManagerRejectsIllegalTransition(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, m.Register(meta))

	_, err := m.UpdateState(meta.ID.String(), "done", nil)
	assert.Error(t, err)
}

func TestBoxManagerMarkFailedOverridesState(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, m.Register(meta))
	_, err := m.UpdateState(meta.ID.String(), "start", nil)
	require.NoError(t, err)

	require.NoError(t, m.MarkFailed(meta.ID.String()))
	got, err := m.Get(meta.ID.String())
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, got.State)
}

func TestBoxManagerRemoveRefusesRunningWithoutForce(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, m.Register(meta))
	_, err := m.UpdateState(meta.ID.String(), "start", nil)
	require.NoError(t, err)
	_, err = m.UpdateState(meta.ID.String(), "ready", nil)
	require.NoError(t, err)

	_, err = m.Remove(meta.ID.String(), false)
	assert.Error(t, err)

	_, err = m.Remove(meta.ID.String(), true)
	assert.NoError(t, err)
}

func TestBoxManagerSetPID(t *testing.T) {
	m := newTestManager(t)
	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, m.Register(meta))

	require.NoError(t, m.SetPID(meta.ID.String(), 4242))
	got, err := m.Get(meta.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 4242, got.PID)
}
