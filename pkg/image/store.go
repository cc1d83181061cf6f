// Package image implements the content-addressed OCI image cache:
// manifest/config/layer blob storage, layer extraction, and
// concurrent-pull coalescence (spec.md §4.4).
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

// Store is the filesystem CAS rooted at <home>/images (spec.md §3 blob
// store layout). It performs no locking itself; Manager's RWMutex guards
// only the index, and blob and layer writes rely on write-to-temp then
// rename for atomicity.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(root, "blobs", "sha256"),
		filepath.Join(root, "layers", "sha256"),
		filepath.Join(root, "local"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, boxerr.Newf(boxerr.KindInternal, err, "create image store dir %s", dir)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) BlobPath(d digest.Digest) string {
	return filepath.Join(s.root, "blobs", "sha256", d.Encoded())
}

func (s *Store) LayerDir(d digest.Digest) string {
	return filepath.Join(s.root, "layers", "sha256", d.Encoded())
}

func (s *Store) LocalBundleDir(bundleHash string) string {
	return filepath.Join(s.root, "local", bundleHash)
}

func (s *Store) IndexPath() string {
	return filepath.Join(s.root, "index.json")
}

// HasBlob reports whether a blob for d is already present.
func (s *Store) HasBlob(d digest.Digest) bool {
	_, err := os.Stat(s.BlobPath(d))
	return err == nil
}

// HasLayer reports whether a layer has already been extracted.
func (s *Store) HasLayer(d digest.Digest) bool {
	_, err := os.Stat(s.LayerDir(d))
	return err == nil
}

// PutBlob writes r to a temp file, verifies it hashes to want, and
// renames it into place atomically. On digest mismatch the temp file is
// removed and an error returned — the store never holds a blob under the
// wrong name (spec.md §3 invariant).
func (s *Store) PutBlob(want digest.Digest, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "blobs", "sha256"), ".tmp-*")
	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "create temp blob")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, h)); err != nil {
		tmp.Close()
		return boxerr.Newf(boxerr.KindImageUnavailable, err, "write blob %s", want)
	}
	if err := tmp.Close(); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "close temp blob")
	}

	got := digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(h.Sum(nil)))
	if got != want {
		return boxerr.Newf(boxerr.KindImageUnavailable, nil, "digest mismatch: want %s got %s", want, got)
	}

	if err := os.Rename(tmpPath, s.BlobPath(want)); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "rename blob into place")
	}
	return nil
}

// OpenBlob opens a stored blob for reading.
func (s *Store) OpenBlob(d digest.Digest) (*os.File, error) {
	f, err := os.Open(s.BlobPath(d))
	if err != nil {
		return nil, boxerr.Newf(boxerr.KindImageUnavailable, err, "open blob %s", d)
	}
	return f, nil
}

// VerifyBlob reports an error if the stored blob for d does not hash to
// d (spec.md §8 property 7).
func (s *Store) VerifyBlob(d digest.Digest) error {
	f, err := s.OpenBlob(d)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "hash blob %s", d)
	}
	got := digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(h.Sum(nil)))
	if got != d {
		return boxerr.Newf(boxerr.KindImageUnavailable, nil, "blob %s corrupt: hashes to %s", d, got)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
