package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/layout"
	"github.com/cuemby/boxlite/pkg/types"
)

// indexEntry is the compact per-box record kept in <home>/index.json for
// fast listing without opening every box's state.json.
type indexEntry struct {
	Name  string         `json:"name,omitempty"`
	State types.BoxState `json:"state"`
}

// MetadataStore persists BoxMetadata as one JSON file per box
// (boxes/<id>/state.json) plus a flat index.json used for fast listing
// and name-uniqueness checks (spec.md §3, §6). All writes are
// rename-from-temp atomic, matching the blob store's crash-consistency
// discipline in pkg/image.
type MetadataStore struct {
	layout layout.HomeLayout
	mu     sync.Mutex
	index  map[string]indexEntry // box id -> entry, loaded once at New
}

// NewMetadataStore loads the persisted index, creating an empty one if
// this is a fresh home directory.
func NewMetadataStore(home string) (*MetadataStore, error) {
	layout := layout.HomeLayout{Home: home}
	if err := os.MkdirAll(layout.BoxesDir(), 0o755); err != nil {
		return nil, boxerr.Newf(boxerr.KindInternal, err, "create boxes dir")
	}

	s := &MetadataStore{layout: layout, index: map[string]indexEntry{}}

	data, err := os.ReadFile(layout.IndexFile())
	switch {
	case os.IsNotExist(err):
		// fresh home
	case err != nil:
		return nil, boxerr.Newf(boxerr.KindInternal, err, "read index")
	default:
		if err := json.Unmarshal(data, &s.index); err != nil {
			return nil, boxerr.Newf(boxerr.KindInternal, err, "parse index")
		}
	}
	return s, nil
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

func (s *MetadataStore) persistIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.layout.IndexFile(), data)
}

// Save persists meta's state.json and refreshes the index entry. Callers
// hold BoxManager's write lock while calling this, so no additional
// locking of the metadata itself is needed here beyond serialising
// concurrent Save calls against each other.
func (s *MetadataStore) Save(meta *types.BoxMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := meta.ID.String()
	boxDir := s.layout.ForBox(id).BoxDir()
	if err := os.MkdirAll(boxDir, 0o755); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "create box dir %s", boxDir)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "marshal metadata")
	}
	if err := writeAtomic(s.layout.ForBox(id).StateFile(), data); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "persist state.json")
	}

	s.index[id] = indexEntry{Name: meta.Name, State: meta.State}
	return s.persistIndexLocked()
}

// Load reads back one box's full metadata from its state.json.
func (s *MetadataStore) Load(id string) (*types.BoxMetadata, error) {
	data, err := os.ReadFile(s.layout.ForBox(id).StateFile())
	if os.IsNotExist(err) {
		return nil, boxerr.New(boxerr.KindNotFound, fmt.Sprintf("box %s", id), nil)
	}
	if err != nil {
		return nil, boxerr.Newf(boxerr.KindInternal, err, "read state.json")
	}
	var meta types.BoxMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, boxerr.Newf(boxerr.KindInternal, err, "parse state.json")
	}
	return &meta, nil
}

// ListIDs returns every box id currently in the index, in no particular
// order; callers sort as needed.
func (s *MetadataStore) ListIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	return ids
}

// NameTaken reports whether name is already used by a live (indexed) box
// other than excludeID.
func (s *MetadataStore) NameTaken(name, excludeID string) bool {
	if name == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.index {
		if id != excludeID && e.Name == name {
			return true
		}
	}
	return false
}

// Delete removes a box's persisted state and its index entry.
func (s *MetadataStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, id)
	if err := s.persistIndexLocked(); err != nil {
		return err
	}
	return os.RemoveAll(s.layout.ForBox(id).BoxDir())
}
