package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/pkg/types"
)

func mustBoxID(t *testing.T) types.BoxId {
	t.Helper()
	id, err := types.NewBoxId(nil)
	require.NoError(t, err)
	return id
}

func TestMetadataStoreSaveAndLoad(t *testing.T) {
	home := t.TempDir()
	s, err := NewMetadataStore(home)
	require.NoError(t, err)

	meta := &types.BoxMetadata{ID: mustBoxID(t), Name: "web", State: types.StateConfigured}
	require.NoError(t, s.Save(meta))

	loaded, err := s.Load(meta.ID.String())
	require.NoError(t, err)
	assert.Equal(t, meta.Name, loaded.Name)
	assert.Equal(t, meta.State, loaded.State)
}

func TestMetadataStorePersistsIndexAcrossReopen(t *testing.T) {
	home := t.TempDir()
	s1, err := NewMetadataStore(home)
	require.NoError(t, err)

	meta := &types.BoxMetadata{ID: mustBoxID(t), Name: "db", State: types.StateRunning}
	require.NoError(t, s1.Save(meta))

	s2, err := NewMetadataStore(home)
	require.NoError(t, err)
	ids := s2.ListIDs()
	assert.Contains(t, ids, meta.ID.String())
	assert.True(t, s2.NameTaken("db", ""))
	assert.False(t, s2.NameTaken("db", meta.ID.String()))
}

func TestMetadataStoreDeleteRemovesIndexAndDir(t *testing.T) {
	home := t.TempDir()
	s, err := NewMetadataStore(home)
	require.NoError(t, err)

	meta := &types.BoxMetadata{ID: mustBoxID(t), State: types.StateConfigured}
	require.NoError(t, s.Save(meta))
	require.NoError(t, s.Delete(meta.ID.String()))

	_, err = s.Load(meta.ID.String())
	assert.Error(t, err)
	assert.NotContains(t, s.ListIDs(), meta.ID.String())
}

func TestMetadataStoreLoadMissingIsNotFound(t *testing.T) {
	home := t.TempDir()
	s, err := NewMetadataStore(home)
	require.NoError(t, err)

	_, err = s.Load("nonexistent")
	assert.Error(t, err)
}
