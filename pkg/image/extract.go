package image

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

const whiteoutPrefix = ".wh."
const opaqueWhiteout = ".wh..wh..opq"

// decompressor wraps a blob reader with the right decompression codec
// based on the OCI layer media type (gzip, zstd, or lz4 — all three
// already ship in the module graph through the containerd/registry
// dependency chain).
func decompressor(mediaType string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(mediaType, "+gzip") || strings.HasSuffix(mediaType, ".gzip"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, boxerr.Newf(boxerr.KindImageUnavailable, err, "open gzip layer")
		}
		return gz, nil
	case strings.HasSuffix(mediaType, "+zstd"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, boxerr.Newf(boxerr.KindImageUnavailable, err, "open zstd layer")
		}
		return zr.IOReadCloser(), nil
	case strings.HasSuffix(mediaType, "+lz4"):
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

// clampTime replaces an out-of-range tar timestamp with the Unix epoch,
// per spec.md §4.4's "clamp timestamps within the representable range"
// rule.
func clampTime(t time.Time) time.Time {
	if t.Before(time.Unix(0, 0)) || t.Year() > 9999 {
		return time.Unix(0, 0)
	}
	return t
}

// ExtractLayer streams a compressed layer tarball into destDir, honouring
// OCI whiteout and opaque-directory markers. destDir is created if it is
// missing; if it already holds entries, whiteout and opaque markers remove
// matching ones. The caller is responsible for extracting into a temp
// directory and renaming into place atomically (spec.md §4.4, §8 property 8).
func ExtractLayer(mediaType string, blob io.Reader, destDir string) error {
	dr, err := decompressor(mediaType, blob)
	if err != nil {
		return err
	}
	defer dr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "create extract dir")
	}

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return boxerr.Newf(boxerr.KindImageUnavailable, err, "read tar entry")
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || strings.HasPrefix(name, "..") {
			continue
		}

		base := filepath.Base(name)
		dir := filepath.Dir(name)

		if base == opaqueWhiteout {
			target := filepath.Join(destDir, dir)
			if err := clearDirContents(target); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(base, whiteoutPrefix) {
			victim := filepath.Join(destDir, dir, base[len(whiteoutPrefix):])
			if err := os.RemoveAll(victim); err != nil {
				return boxerr.Newf(boxerr.KindInternal, err, "apply whiteout for %s", victim)
			}
			continue
		}

		target := filepath.Join(destDir, name)
		if err := applyTarEntry(tr, hdr, target); err != nil {
			return err
		}
	}
}

func clearDirContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "read opaque dir %s", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "clear opaque dir entry")
		}
	}
	return nil
}

func applyTarEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	mtime := clampTime(hdr.ModTime)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "mkdir %s", target)
		}
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "mkdir parent of %s", target)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "create %s", target)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return boxerr.Newf(boxerr.KindImageUnavailable, err, "write %s", target)
		}
		f.Close()
	case tar.TypeSymlink:
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "symlink %s", target)
		}
	case tar.TypeLink:
		linkTarget := filepath.Join(filepath.Dir(target), filepath.Base(hdr.Linkname))
		if err := os.Link(linkTarget, target); err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "hardlink %s", target)
		}
	default:
		return nil
	}

	os.Lchown(target, hdr.Uid, hdr.Gid) // best-effort; requires privilege outside a user namespace
	os.Chtimes(target, mtime, mtime)
	return nil
}
