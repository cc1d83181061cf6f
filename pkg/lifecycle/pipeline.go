package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/boxlite/pkg/image"
	"github.com/cuemby/boxlite/pkg/layout"
	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/metrics"
	"github.com/cuemby/boxlite/pkg/network"
	"github.com/cuemby/boxlite/pkg/portal"
	"github.com/cuemby/boxlite/pkg/shim"
	"github.com/cuemby/boxlite/pkg/types"
	"github.com/cuemby/boxlite/pkg/vmm"
)

// Pipeline takes a box from Configured to Running by driving the six
// stages spec.md §4.3 names. One Pipeline is shared by every box the
// runtime manages; all per-box state lives in the buildState it threads
// through the stage methods.
type Pipeline struct {
	Home       layout.HomeLayout
	Images     *image.Manager
	Network    *network.Bridge
	Updater    StateUpdater
	ShimBinary string
	KernelPath string
	InitrdPath string

	// VsockCIDAllocator hands out guest CIDs; nil defaults to a fixed
	// per-box scheme derived from an FNV-1a hash of the box id.
	VsockCIDAllocator func(boxID string) uint32

	// initImageOnce caches the shared init rootfs across every box this
	// Pipeline builds, for the lifetime of the process (spec.md §4.3
	// Stage 3). A failed init is not memoized: ready stays false so the
	// next box retries it.
	initImageOnce initRootfsCache
}

// initRootfsCache is a fallible once-cell: concurrent callers block on the
// first initializer via mu, and only a successful result is memoized
// (spec.md §9 "Lazy, atomically-initialised state... do not memoise
// failures").
type initRootfsCache struct {
	mu    sync.Mutex
	ready bool
	dir   string
}

// buildState accumulates the outputs of each stage for the ones after it.
type buildState struct {
	meta      types.BoxMetadata
	boxLayout layout.BoxLayout

	rootfsDir     string
	containerCfg  types.ContainerConfig
	initRootfsDir string

	bootSpec     vmm.BootSpec
	bootSpecPath string
	shimHandle   *shim.Handle
	sampler      *shim.Sampler
}

// Create runs the full pipeline for one box, returning a live BoxInner on
// success. On any stage failure it tears down whatever prior stages
// started, in reverse order, and marks the box Failed via Updater.
func (p *Pipeline) Create(ctx context.Context, meta types.BoxMetadata) (*BoxInner, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TotalCreateDuration)

	logger := log.WithBoxID(meta.ID.String())
	st := &buildState{meta: meta, boxLayout: p.Home.ForBox(meta.ID.String())}

	// release undoes what earlier stages acquired, most recent first.
	release := func() {
		if st.shimHandle != nil {
			st.shimHandle.Kill()
		}
		if st.rootfsDir != "" && meta.Options.Rootfs.PreparedPath == "" {
			if err := teardownOverlay(st.rootfsDir); err != nil {
				logger.Warn().Err(err).Msg("failed to tear down rootfs overlay")
			}
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return p.runStage(egCtx, "Filesystem", st, p.stageFilesystem) })
	eg.Go(func() error { return p.runStage(egCtx, "Rootfs", st, p.stageRootfs) })
	eg.Go(func() error { return p.runStage(egCtx, "InitImage", st, p.stageInitImage) })
	if err := eg.Wait(); err != nil {
		release()
		return nil, p.fail(meta, err)
	}

	if err := p.runStage(ctx, "VmmConfig", st, p.stageVmmConfig); err != nil {
		release()
		return nil, p.fail(meta, err)
	}

	if err := p.runStage(ctx, "ShimSpawn", st, p.stageShimSpawn); err != nil {
		release()
		return nil, p.fail(meta, err)
	}

	var inner *BoxInner
	if err := p.runStage(ctx, "GuestInit", st, func(ctx context.Context, st *buildState) error {
		var err error
		inner, err = p.stageGuestInit(ctx, st)
		return err
	}); err != nil {
		release()
		return nil, p.fail(meta, err)
	}

	logger.Info().Dur("total", timer.Duration()).Msg("box create pipeline complete")
	return inner, nil
}

func (p *Pipeline) runStage(ctx context.Context, name string, st *buildState, fn func(context.Context, *buildState) error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StageDuration, name)
	logger := log.WithStage(name)
	logger.Debug().Str("box_id", st.meta.ID.String()).Msg("stage start")
	if err := fn(ctx, st); err != nil {
		logger.Error().Err(err).Str("box_id", st.meta.ID.String()).Msg("stage failed")
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) fail(meta types.BoxMetadata, cause error) error {
	if err := p.Updater.MarkFailed(meta.ID.String()); err != nil {
		log.WithBoxID(meta.ID.String()).Warn().Err(err).Msg("failed to record Failed state")
	}
	return cause
}

// guestTransport resolves the Transport the portal dials to reach this
// box's guest agent: a unix socket forwarded through the shim's control
// socket, matching spec.md §4.6's default.
func (st *buildState) guestTransport() portal.Transport {
	return portal.Transport{Kind: portal.KindUnix, Path: st.boxLayout.BoxSocketPath()}
}
