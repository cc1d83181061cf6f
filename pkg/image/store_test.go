package image

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

func TestStorePutAndOpenBlob(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("hello layer")
	d := digest.FromBytes(content)

	require.NoError(t, s.PutBlob(d, bytes.NewReader(content)))
	assert.True(t, s.HasBlob(d))

	f, err := s.OpenBlob(d)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
}

func TestStorePutBlobDigestMismatch(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	wrong := digest.FromBytes([]byte("not the real content"))
	err = s.PutBlob(wrong, bytes.NewReader([]byte("actual content")))
	require.Error(t, err)

	kind, ok := boxerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, boxerr.KindImageUnavailable, kind)
	assert.False(t, s.HasBlob(wrong), "mismatched blob must not be left in place")
}

func TestStoreVerifyBlobDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	require.NoError(t, err)

	content := []byte("pristine")
	d := digest.FromBytes(content)
	require.NoError(t, s.PutBlob(d, bytes.NewReader(content)))
	require.NoError(t, s.VerifyBlob(d))

	require.NoError(t, os.WriteFile(s.BlobPath(d), []byte("tampered"), 0o644))
	err = s.VerifyBlob(d)
	assert.Error(t, err)
}

func TestWriteAtomicLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	require.NoError(t, writeAtomic(path, []byte(`{"a":1}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.json", entries[0].Name())
}
