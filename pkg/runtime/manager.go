package runtime

import (
	"fmt"
	"sync"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/metrics"
	"github.com/cuemby/boxlite/pkg/types"
)

// transitions encodes the state machine in spec.md §4.2. Stopped and
// Failed both accept "start" so a box can be started (or, via stop-then-
// start, restarted) after it has already run once — spec.md §8 testable
// property 4 "restart equivalence".
var transitions = map[types.BoxState]map[string]types.BoxState{
	types.StateConfigured: {"start": types.StateStarting, "remove": ""},
	types.StateStarting:   {"ready": types.StateRunning, "fail": types.StateFailed},
	types.StateRunning:    {"stop": types.StateStopping, "fail": types.StateFailed},
	types.StateStopping:   {"done": types.StateStopped, "fail": types.StateFailed},
	types.StateStopped:    {"start": types.StateStarting, "remove": ""},
	types.StateFailed:     {"start": types.StateStarting, "remove": ""},
}

// BoxManager is the in-memory index of box metadata, guarded by a single
// RWMutex so readers (list/get) never block each other and every mutation
// is linearised (spec.md §4.2, §5). It is backed by MetadataStore for
// durability.
type BoxManager struct {
	mu    sync.RWMutex
	store *MetadataStore
	boxes map[string]*types.BoxMetadata
}

// NewBoxManager loads every persisted box from store into memory.
func NewBoxManager(store *MetadataStore) (*BoxManager, error) {
	m := &BoxManager{store: store, boxes: map[string]*types.BoxMetadata{}}
	for _, id := range store.ListIDs() {
		meta, err := store.Load(id)
		if err != nil {
			continue // tolerate a corrupt single record; recovery handles Failed marking
		}
		m.boxes[id] = meta
	}
	return m, nil
}

// Register inserts freshly-created metadata (state Configured). Fails
// with NameConflict if meta.Name is already taken.
func (m *BoxManager) Register(meta *types.BoxMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta.Name != "" {
		for id, existing := range m.boxes {
			if id != meta.ID.String() && existing.Name == meta.Name {
				return boxerr.New(boxerr.KindNameConflict, fmt.Sprintf("name %q already exists", meta.Name), nil)
			}
		}
	}

	if err := m.store.Save(meta); err != nil {
		return err
	}
	m.boxes[meta.ID.String()] = meta
	return nil
}

// Get returns a copy of one box's metadata.
func (m *BoxManager) Get(idOrName string) (types.BoxMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta := m.find(idOrName)
	if meta == nil {
		return types.BoxMetadata{}, boxerr.New(boxerr.KindNotFound, idOrName, nil)
	}
	return *meta, nil
}

func (m *BoxManager) find(idOrName string) *types.BoxMetadata {
	if meta, ok := m.boxes[idOrName]; ok {
		return meta
	}
	for _, meta := range m.boxes {
		if meta.Name == idOrName {
			return meta
		}
	}
	return nil
}

// List returns a snapshot of every box's metadata.
func (m *BoxManager) List() []types.BoxMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.BoxMetadata, 0, len(m.boxes))
	for _, meta := range m.boxes {
		out = append(out, *meta)
	}
	return out
}

// UpdateState applies one named transition to a box under the write
// lock, persists the result, and returns the updated metadata. start/stop
// on an already-settled state (per the idempotence rules in spec.md §4.2)
// are no-ops that return success without touching storage.
func (m *BoxManager) UpdateState(idOrName, event string, mutate func(*types.BoxMetadata)) (types.BoxMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.find(idOrName)
	if meta == nil {
		return types.BoxMetadata{}, boxerr.New(boxerr.KindNotFound, idOrName, nil)
	}

	switch {
	case event == "start" && (meta.State == types.StateRunning || meta.State == types.StateStarting):
		return *meta, nil // idempotent no-op, property 3
	case event == "stop" && (meta.State == types.StateStopped || meta.State == types.StateConfigured || meta.State == types.StateFailed):
		return *meta, nil // idempotent no-op, property 3
	}

	next, ok := transitions[meta.State][event]
	if !ok {
		return types.BoxMetadata{}, boxerr.Newf(boxerr.KindInternal, nil, "illegal transition %q from %s", event, meta.State)
	}

	meta.State = next
	if mutate != nil {
		mutate(meta)
	}
	meta.Touch()

	if err := m.store.Save(meta); err != nil {
		return types.BoxMetadata{}, err
	}
	m.recordTransitionMetric(next)
	return *meta, nil
}

func (m *BoxManager) recordTransitionMetric(next types.BoxState) {
	switch next {
	case types.StateFailed:
		metrics.BoxesFailedTotal.Inc()
	case types.StateStopped:
		metrics.BoxesStoppedTotal.Inc()
	}
}

// MarkFailed force-transitions a box to Failed regardless of its current
// state, used by recovery and by fatal pipeline-stage errors.
func (m *BoxManager) MarkFailed(idOrName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.find(idOrName)
	if meta == nil {
		return boxerr.New(boxerr.KindNotFound, idOrName, nil)
	}
	meta.State = types.StateFailed
	meta.Touch()
	metrics.BoxesFailedTotal.Inc()
	return m.store.Save(meta)
}

// Remove deletes a box's metadata. Refuses a Running/Starting/Stopping
// box unless force is true.
func (m *BoxManager) Remove(idOrName string, force bool) (types.BoxId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.find(idOrName)
	if meta == nil {
		return types.BoxId{}, boxerr.New(boxerr.KindNotFound, idOrName, nil)
	}
	if !meta.State.Terminal() && meta.State != types.StateConfigured && !force {
		return types.BoxId{}, boxerr.Newf(boxerr.KindInvalidConfig, nil, "box %s is %s, use force to remove", meta.ID, meta.State)
	}

	id := meta.ID
	delete(m.boxes, id.String())
	if err := m.store.Delete(id.String()); err != nil {
		return types.BoxId{}, err
	}
	metrics.BoxesRemovedTotal.Inc()
	return id, nil
}

// SetPID records the shim PID for a box. The manager never picks a PID
// itself; the lifecycle pipeline's ShimSpawn stage calls this with the PID
// of the shim it just spawned.
func (m *BoxManager) SetPID(idOrName string, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.find(idOrName)
	if meta == nil {
		return boxerr.New(boxerr.KindNotFound, idOrName, nil)
	}
	meta.PID = pid
	meta.Touch()
	return m.store.Save(meta)
}

// RunningCount returns the number of boxes currently in Running.
func (m *BoxManager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, meta := range m.boxes {
		if meta.State == types.StateRunning {
			n++
		}
	}
	return n
}
