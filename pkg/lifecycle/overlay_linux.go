//go:build linux

package lifecycle

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

// composeOverlay mounts a real overlayfs over layerRoots (lowest first in
// the slice, matching OCI manifest order — overlayfs wants its lowerdir
// list highest-priority first, so the roots are reversed into that
// order). mergedDir holds upper/ and work/ beside the merged/ mountpoint
// it returns (spec.md §4.3 Stage 2, Glossary "Rootfs composition").
func composeOverlay(mergedDir string, layerRoots []string) (string, error) {
	upper := filepath.Join(mergedDir, "upper")
	work := filepath.Join(mergedDir, "work")
	merged := filepath.Join(mergedDir, "merged")

	for _, d := range []string{upper, work, merged} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", boxerr.Newf(boxerr.KindInternal, err, "create overlay dir %s", d)
		}
	}

	lower := make([]string, len(layerRoots))
	for i, root := range layerRoots {
		lower[len(layerRoots)-1-i] = root
	}

	opts := "lowerdir=" + strings.Join(lower, ":") + ",upperdir=" + upper + ",workdir=" + work
	if err := unix.Mount("overlay", merged, "overlay", 0, opts); err != nil {
		return "", boxerr.Newf(boxerr.KindInternal, err, "mount overlayfs at %s", merged)
	}
	return merged, nil
}

// teardownOverlay unmounts a composed rootfs. Errors are logged by the
// caller, not fatal — a leftover mount is cleaned up on next boot.
func teardownOverlay(merged string) error {
	return unix.Unmount(merged, 0)
}
