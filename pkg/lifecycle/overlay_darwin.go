//go:build darwin

package lifecycle

import (
	"os"
	"path/filepath"

	"github.com/containerd/continuity/fs"

	"github.com/cuemby/boxlite/pkg/boxerr"
)

// composeOverlay has no real overlayfs syscall available on macOS, so it
// falls back to a copy-up: each layer's extracted root is copied into
// merged/ in manifest order, later layers overwriting earlier ones,
// producing the same effective tree overlayfs would present
// (spec.md §4.3 Stage 2, Glossary "Rootfs composition"). This costs disk
// and time proportional to image size instead of overlayfs's O(1)
// mount — acceptable for the macOS backend's expected dev-box image
// sizes, not for production image registries.
func composeOverlay(mergedDir string, layerRoots []string) (string, error) {
	merged := filepath.Join(mergedDir, "merged")
	if err := os.MkdirAll(merged, 0o755); err != nil {
		return "", boxerr.Newf(boxerr.KindInternal, err, "create merged dir %s", merged)
	}

	// fs.CopyDir preserves the symlink/mode/xattr handling the whiteout-aware
	// tar extraction in pkg/image already relies on elsewhere, so layering
	// on a naive copy here would diverge from how a layer's ownership bits
	// are supposed to survive composition.
	for _, root := range layerRoots {
		if err := fs.CopyDir(merged, root); err != nil {
			return "", boxerr.Newf(boxerr.KindInternal, err, "copy-up layer %s", root)
		}
	}
	return merged, nil
}

func teardownOverlay(merged string) error {
	return os.RemoveAll(merged)
}
