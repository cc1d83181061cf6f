package image

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestExtractLayerPlainFiles(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "root")
	buf := buildTar(t, map[string]string{
		"etc/hostname": "boxlite\n",
		"bin/app":      "#!/bin/sh\necho hi\n",
	})

	require.NoError(t, ExtractLayer("application/vnd.oci.image.layer.v1.tar", buf, dest))

	data, err := os.ReadFile(filepath.Join(dest, "etc/hostname"))
	require.NoError(t, err)
	assert.Equal(t, "boxlite\n", string(data))
}

func TestExtractLayerAppliesWhiteout(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "var"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "var", "gone.txt"), []byte("old"), 0o644))

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: "var/.wh.gone.txt", Mode: 0o644, Size: 0}
	require.NoError(t, tw.WriteHeader(hdr))
	require.NoError(t, tw.Close())

	require.NoError(t, ExtractLayer("application/vnd.oci.image.layer.v1.tar", &buf, dest))

	_, err := os.Stat(filepath.Join(dest, "var", "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractLayerAppliesOpaqueDir(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "data", "stale.txt"), []byte("old"), 0o644))

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: "data/.wh..wh..opq", Mode: 0o644, Size: 0}
	require.NoError(t, tw.WriteHeader(hdr))
	require.NoError(t, tw.Close())

	require.NoError(t, ExtractLayer("application/vnd.oci.image.layer.v1.tar", &buf, dest))

	entries, err := os.ReadDir(filepath.Join(dest, "data"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractLayerRejectsPathTraversal(t *testing.T) {
	dest := t.TempDir()
	buf := buildTar(t, map[string]string{"../../escape.txt": "nope"})

	require.NoError(t, ExtractLayer("application/vnd.oci.image.layer.v1.tar", buf, dest))

	_, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dest)), "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestClampTimeReplacesOutOfRange(t *testing.T) {
	got := clampTime(time.Date(12000, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Unix(0, 0), got)
}
