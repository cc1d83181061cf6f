package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/image"
	"github.com/cuemby/boxlite/pkg/layout"
	"github.com/cuemby/boxlite/pkg/lifecycle"
	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/metrics"
	"github.com/cuemby/boxlite/pkg/network"
	"github.com/cuemby/boxlite/pkg/shim"
	"github.com/cuemby/boxlite/pkg/types"
)

// BinaryPaths locates the host artifacts the lifecycle pipeline needs to
// boot a box: the shim executable and the guest kernel/initrd pair
// (spec.md §4.3 Stage 5/6).
type BinaryPaths struct {
	ShimBinary string
	KernelPath string
	InitrdPath string
}

// Runtime is the top-level BoxLite handle for one home directory: it owns
// the exclusive home lock, the metadata store, the in-memory box index,
// the image cache, and a live LiteBox per running box (spec.md §4.1).
type Runtime struct {
	home     string
	lock     *HomeLock
	store    *MetadataStore
	manager  *BoxManager
	images   *image.Manager
	pipeline *lifecycle.Pipeline

	mu   sync.Mutex
	live map[string]*lifecycle.LiteBox
}

// New opens (or initialises) the runtime home at path home, acquiring its
// exclusive lock, loading persisted box metadata, and reconciling any box
// left running by a previous process (spec.md §4.1, §9 "Recovery
// reconciliation"). Callers must call Close when done with the runtime.
func New(home string, bin BinaryPaths) (*Runtime, error) {
	lock, err := AcquireHomeLock(home)
	if err != nil {
		return nil, err
	}

	store, err := NewMetadataStore(home)
	if err != nil {
		lock.Release()
		return nil, err
	}

	manager, err := NewBoxManager(store)
	if err != nil {
		lock.Release()
		return nil, err
	}

	hl := layout.HomeLayout{Home: home}
	images, err := image.NewManager(hl.ImagesDir())
	if err != nil {
		lock.Release()
		return nil, err
	}

	bridge, err := network.NewBridge()
	if err != nil {
		lock.Release()
		return nil, err
	}

	r := &Runtime{
		home:    home,
		lock:    lock,
		store:   store,
		manager: manager,
		images:  images,
		live:    map[string]*lifecycle.LiteBox{},
	}
	r.pipeline = &lifecycle.Pipeline{
		Home:       hl,
		Images:     images,
		Network:    bridge,
		Updater:    manager,
		ShimBinary: bin.ShimBinary,
		KernelPath: bin.KernelPath,
		InitrdPath: bin.InitrdPath,
	}

	r.recover()
	return r, nil
}

// recover walks every persisted box and reconciles its recorded state
// against whether its shim PID is actually alive. A Running box whose
// shim died while this process was absent is marked Failed rather than
// silently re-adopted — the guest's in-flight work is gone either way
// (spec.md §9 "Recovery reconciliation").
func (r *Runtime) recover() {
	logger := log.WithComponent("runtime")
	for _, meta := range r.manager.List() {
		if meta.State != types.StateRunning && meta.State != types.StateStarting {
			continue
		}
		if meta.PID != 0 && shim.IsAlive(meta.PID) {
			logger.Info().Str("box_id", meta.ID.String()).Int("pid", meta.PID).Msg("box still alive across restart, not re-attaching session")
			continue
		}
		logger.Warn().Str("box_id", meta.ID.String()).Msg("box shim not alive on recovery, marking failed")
		if err := r.manager.MarkFailed(meta.ID.String()); err != nil {
			logger.Error().Err(err).Str("box_id", meta.ID.String()).Msg("failed to mark recovered box as failed")
		}
	}
}

// Create registers a new box and runs it through the lifecycle pipeline
// to Running. On pipeline failure the box's metadata is left behind in
// state Failed for post-mortem inspection (spec.md §4.1, §4.3).
func (r *Runtime) Create(ctx context.Context, name string, opts types.BoxOptions) (types.BoxMetadata, error) {
	id, err := types.NewBoxId(opts.ULIDEntropy)
	if err != nil {
		return types.BoxMetadata{}, boxerr.Newf(boxerr.KindInternal, err, "generate box id")
	}

	meta := &types.BoxMetadata{
		ID:        id,
		Name:      name,
		ImageRef:  opts.Rootfs.ImageRef,
		CreatedAt: time.Now(),
		State:     types.StateConfigured,
		Options:   opts,
	}
	meta.Touch()

	if err := r.manager.Register(meta); err != nil {
		return types.BoxMetadata{}, err
	}
	metrics.BoxesCreatedTotal.Inc()

	if _, err := r.manager.UpdateState(id.String(), "start", nil); err != nil {
		return types.BoxMetadata{}, err
	}

	return r.boot(ctx, *meta)
}

// boot runs meta through the lifecycle pipeline to Running: a fresh
// LiteBox (the prior handle, if any, is single-shot and already spent) is
// installed as the box's live handle and built exactly once. Shared by
// Create (Configured -> Starting) and Start (Stopped/Failed -> Starting).
func (r *Runtime) boot(ctx context.Context, meta types.BoxMetadata) (types.BoxMetadata, error) {
	box := &lifecycle.LiteBox{BoxID: meta.ID.String()}
	r.mu.Lock()
	r.live[meta.ID.String()] = box
	r.mu.Unlock()

	if _, err := box.Ensure(func() (*lifecycle.BoxInner, error) {
		return r.pipeline.Create(ctx, meta)
	}); err != nil {
		return types.BoxMetadata{}, err
	}

	return r.manager.UpdateState(meta.ID.String(), "ready", nil)
}

// Start boots a Stopped or Failed box back to Running. A box already
// Running or Starting is left alone (spec.md §4.2 "start on {Running,
// Starting}: no-op success", §8 testable property 3).
func (r *Runtime) Start(ctx context.Context, idOrName string) (types.BoxMetadata, error) {
	meta, err := r.manager.Get(idOrName)
	if err != nil {
		return types.BoxMetadata{}, err
	}
	if meta.State == types.StateRunning || meta.State == types.StateStarting {
		return meta, nil
	}

	if _, err := r.manager.UpdateState(meta.ID.String(), "start", nil); err != nil {
		return types.BoxMetadata{}, err
	}

	return r.boot(ctx, meta)
}

// Restart stops then starts a box, acquiring a fresh live handle in
// between — the prior handle is semantically invalidated by stop and must
// not be reused (spec.md §4.2 "restart: stop then re-acquire a fresh
// handle then start", §8 testable property 4). If stop fails, start is
// not attempted.
func (r *Runtime) Restart(ctx context.Context, idOrName string, graceSeconds int) (types.BoxMetadata, error) {
	meta, err := r.manager.Get(idOrName)
	if err != nil {
		return types.BoxMetadata{}, err
	}
	if err := r.Stop(ctx, meta.ID.String(), graceSeconds); err != nil {
		return types.BoxMetadata{}, err
	}
	return r.Start(ctx, meta.ID.String())
}

// PullImage fetches ref into the runtime's shared image cache without
// creating a box, for "boxlite pull".
func (r *Runtime) PullImage(ctx context.Context, ref types.ImageRef) (types.CachedImage, error) {
	return r.images.Pull(ctx, ref)
}

// Get returns one box's metadata by id or name.
func (r *Runtime) Get(idOrName string) (types.BoxMetadata, error) {
	return r.manager.Get(idOrName)
}

// List returns every box's metadata.
func (r *Runtime) List() []types.BoxMetadata {
	return r.manager.List()
}

// Stop gracefully shuts down a running box's guest and VMM, then
// transitions it to Stopped (spec.md §4.2).
func (r *Runtime) Stop(ctx context.Context, idOrName string, graceSeconds int) error {
	meta, err := r.manager.Get(idOrName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	box := r.live[meta.ID.String()]
	delete(r.live, meta.ID.String())
	r.mu.Unlock()

	if box != nil {
		if err := box.Shutdown(ctx, graceSeconds); err != nil {
			return err
		}
	}

	stopping, err := r.manager.UpdateState(meta.ID.String(), "stop", nil)
	if err != nil {
		return err
	}
	if stopping.State != types.StateStopping {
		return nil // stop on Stopped/Configured/Failed is an idempotent no-op
	}
	_, err = r.manager.UpdateState(meta.ID.String(), "done", nil)
	return err
}

// Remove deletes a box's metadata, refusing a live box unless force is
// set. A live box is shut down first when force is used.
func (r *Runtime) Remove(ctx context.Context, idOrName string, force bool) (types.BoxId, error) {
	meta, err := r.manager.Get(idOrName)
	if err == nil && force {
		r.mu.Lock()
		box := r.live[meta.ID.String()]
		delete(r.live, meta.ID.String())
		r.mu.Unlock()
		if box != nil && !box.IsDown() {
			box.Shutdown(ctx, 5)
		}
	}
	return r.manager.Remove(idOrName, force)
}

// Metrics returns a point-in-time snapshot with only NumRunningBoxes
// filled in, as a direct count of boxes in Running (spec.md §4.1). The
// snapshot's Created, Failed, Stopped and Removed fields are left zero;
// those totals are exported only through the pkg/metrics counters.
func (r *Runtime) Metrics() metrics.RuntimeCounters {
	running := int64(r.manager.RunningCount())
	metrics.BoxesRunning.Set(float64(running))
	return metrics.RuntimeCounters{NumRunningBoxes: running}
}

// Close makes a best-effort attempt to shut down every live box, then
// releases the home lock (spec.md §4.1 "Drop: best-effort stop of all
// boxes, release home lock"). A box whose shutdown fails or times out is
// left for the next Runtime.New's recovery pass to mark Failed.
func (r *Runtime) Close() error {
	r.mu.Lock()
	boxes := make([]*lifecycle.LiteBox, 0, len(r.live))
	for id, box := range r.live {
		boxes = append(boxes, box)
		delete(r.live, id)
	}
	r.mu.Unlock()

	for _, box := range boxes {
		if box.IsDown() {
			continue
		}
		if err := box.Shutdown(context.Background(), 5); err != nil {
			log.WithBoxID(box.BoxID).Warn().Err(err).Msg("best-effort shutdown on close failed")
		}
	}

	return r.lock.Release()
}
