package image

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/pkg/types"
)

func TestNewManagerLoadsPersistedIndex(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir)
	require.NoError(t, err)

	content := []byte("manifest-bytes")
	d := digest.FromBytes(content)
	require.NoError(t, m1.store.PutBlob(d, bytes.NewReader(content)))

	ci := types.CachedImage{
		Ref:            types.ImageRef{Registry: "docker.io", Repository: "library/alpine", Tag: "3.19"},
		ManifestDigest: d,
		ConfigDigest:   d,
		LayerDigests:   []digest.Digest{d},
	}
	m1.mu.Lock()
	m1.index[ci.Ref.Key()] = ci
	require.NoError(t, m1.persistIndexLocked())
	m1.mu.Unlock()

	m2, err := NewManager(dir)
	require.NoError(t, err)
	m2.mu.RLock()
	got, ok := m2.index[ci.Ref.Key()]
	m2.mu.RUnlock()
	require.True(t, ok)
	assert.Equal(t, ci.ManifestDigest, got.ManifestDigest)
	require.NoError(t, m2.VerifyIndex())
}

func TestManagerLayerExtractedPathIsIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	tarBuf := buildTar(t, map[string]string{"file.txt": "contents"})
	d := digest.FromBytes(tarBuf.Bytes())
	require.NoError(t, m.store.PutBlob(d, bytes.NewReader(tarBuf.Bytes())))

	path1, err := m.LayerExtractedPath(context.Background(), d, "application/vnd.oci.image.layer.v1.tar")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(path1, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	path2, err := m.LayerExtractedPath(context.Background(), d, "application/vnd.oci.image.layer.v1.tar")
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
}

func TestManagerCachedCompleteRejectsMissingBlob(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ghost := digest.FromBytes([]byte("never stored"))
	ci := types.CachedImage{ManifestDigest: ghost, ConfigDigest: ghost}
	assert.False(t, m.cachedComplete(ci))
}
