// Package layout resolves the on-disk paths named in spec.md §6
// "Persisted state layout". It is a leaf package (no dependencies beyond
// path/filepath) so both pkg/runtime and pkg/lifecycle can depend on it
// without creating an import cycle between them.
package layout

import "path/filepath"

// BoxLayout is the sole output of the Filesystem lifecycle stage
// (spec.md §4.3 Stage 1): the per-box directory tree under the runtime
// home.
type BoxLayout struct {
	Home string
	ID   string
}

func (l BoxLayout) BoxDir() string        { return filepath.Join(l.Home, "boxes", l.ID) }
func (l BoxLayout) SharedDir() string     { return filepath.Join(l.BoxDir(), "shared") }
func (l BoxLayout) SocketsDir() string    { return filepath.Join(l.BoxDir(), "sockets") }
func (l BoxLayout) MountsDir() string     { return filepath.Join(l.BoxDir(), "mounts") }
func (l BoxLayout) OverlayfsDir() string  { return filepath.Join(l.BoxDir(), "overlayfs") }
func (l BoxLayout) BoxSocketPath() string { return filepath.Join(l.SocketsDir(), "box.sock") }
func (l BoxLayout) PIDFile() string       { return filepath.Join(l.BoxDir(), "pid") }
func (l BoxLayout) StateFile() string     { return filepath.Join(l.BoxDir(), "state.json") }

// Dirs returns the four directories the Filesystem stage must create.
func (l BoxLayout) Dirs() []string {
	return []string{l.SharedDir(), l.SocketsDir(), l.MountsDir(), l.OverlayfsDir()}
}

// HomeLayout resolves the runtime-home-scoped paths spec.md §6 names.
type HomeLayout struct {
	Home string
}

func (h HomeLayout) LockFile() string  { return filepath.Join(h.Home, ".lock") }
func (h HomeLayout) BoxesDir() string  { return filepath.Join(h.Home, "boxes") }
func (h HomeLayout) ImagesDir() string { return filepath.Join(h.Home, "images") }
func (h HomeLayout) IndexFile() string { return filepath.Join(h.Home, "index.json") }

func (h HomeLayout) ForBox(id string) BoxLayout {
	return BoxLayout{Home: h.Home, ID: id}
}
