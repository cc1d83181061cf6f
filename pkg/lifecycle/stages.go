package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/cuemby/boxlite/internal/boxliteapi"
	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/portal"
	"github.com/cuemby/boxlite/pkg/shim"
	"github.com/cuemby/boxlite/pkg/types"
	"github.com/cuemby/boxlite/pkg/vmm"
	"github.com/cuemby/boxlite/pkg/volume"
)

const (
	initDiskSizeGB = 1

	// initRootfsImageRef is the shared, minimal base image every box's
	// persistent disk is bootstrapped from (spec.md §4.3 Stage 3,
	// Glossary "Init rootfs").
	initRootfsImageRef = "debian:bookworm-slim"
)

// stageFilesystem creates the per-box directory tree (spec.md §4.3 Stage 1).
// It runs concurrently with Rootfs and InitImage; composeOverlay creates
// the overlay directories it needs itself.
func (p *Pipeline) stageFilesystem(_ context.Context, st *buildState) error {
	for _, dir := range st.boxLayout.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return boxerr.Newf(boxerr.KindInternal, err, "create box dir %s", dir)
		}
	}
	return nil
}

// stageRootfs resolves the box's container rootfs: either pulling an
// image and extracting its layers in order, or adopting an
// already-prepared bundle path. Either way it resolves the container
// config (entrypoint/cmd/workdir/env) the GuestInit stage needs
// (spec.md §4.3 Stage 2).
func (p *Pipeline) stageRootfs(ctx context.Context, st *buildState) error {
	opts := st.meta.Options

	if opts.Rootfs.PreparedPath != "" {
		st.rootfsDir = opts.Rootfs.PreparedPath
		st.containerCfg = types.ContainerConfig{Env: opts.Env}
		return nil
	}

	ref, err := types.ParseImageRef(opts.Rootfs.ImageRef)
	if err != nil {
		return boxerr.Newf(boxerr.KindInvalidConfig, err, "parse image ref %q", opts.Rootfs.ImageRef)
	}

	cached, err := p.Images.Pull(ctx, ref)
	if err != nil {
		return err
	}

	manifest, err := p.Images.Manifest(cached)
	if err != nil {
		return err
	}

	mergedDir := st.boxLayout.OverlayfsDir()
	layerRoots := make([]string, 0, len(manifest.Layers))
	for _, l := range manifest.Layers {
		root, err := p.Images.LayerExtractedPath(ctx, l.Digest, l.MediaType)
		if err != nil {
			return err
		}
		layerRoots = append(layerRoots, root)
	}

	rootfsDir, err := composeOverlay(mergedDir, layerRoots)
	if err != nil {
		return err
	}
	st.rootfsDir = rootfsDir

	imageCfg, err := p.Images.Config(cached)
	if err != nil {
		return err
	}
	st.containerCfg = types.ContainerConfig{
		Entrypoint: imageCfg.Entrypoint,
		Cmd:        imageCfg.Cmd,
		WorkingDir: imageCfg.WorkingDir,
		Env:        types.MergeEnv(imageCfg.Env, opts.Env),
	}
	return nil
}

// stageInitImage ensures the shared init rootfs — a minimal base image used
// to bootstrap each box's persistent disk before the container rootfs is
// mounted — is pulled and extracted once per runtime lifetime, not once per
// box (spec.md §4.3 Stage 3, Glossary "Init rootfs"). The box-specific
// persistent disk file is built later, in VmmConfig, once the block-device
// list is actually being assembled.
func (p *Pipeline) stageInitImage(ctx context.Context, st *buildState) error {
	dir, err := p.initRootfsDir(ctx)
	if err != nil {
		return err
	}
	st.initRootfsDir = dir
	return nil
}

// initRootfsDir returns the shared init rootfs's extracted path, pulling
// and composing it on the first call and memoizing the result for every
// later box. Matches spec.md §9's "lazy, atomically-initialised state":
// concurrent callers block on the first initializer, and a failure is not
// memoized so a later box may retry it (Pipeline.initImageOnce).
func (p *Pipeline) initRootfsDir(ctx context.Context) (string, error) {
	p.initImageOnce.mu.Lock()
	defer p.initImageOnce.mu.Unlock()

	if p.initImageOnce.ready {
		return p.initImageOnce.dir, nil
	}

	log.WithComponent("lifecycle").Info().Str("image", initRootfsImageRef).Msg("initializing bootstrap init rootfs (first time only)")

	ref, err := types.ParseImageRef(initRootfsImageRef)
	if err != nil {
		return "", boxerr.Newf(boxerr.KindInternal, err, "parse init rootfs ref %q", initRootfsImageRef)
	}

	cached, err := p.Images.Pull(ctx, ref)
	if err != nil {
		return "", err
	}

	manifest, err := p.Images.Manifest(cached)
	if err != nil {
		return "", err
	}

	layerRoots := make([]string, 0, len(manifest.Layers))
	for _, l := range manifest.Layers {
		root, err := p.Images.LayerExtractedPath(ctx, l.Digest, l.MediaType)
		if err != nil {
			return "", err
		}
		layerRoots = append(layerRoots, root)
	}

	mergedDir := filepath.Join(p.Home.ImagesDir(), "init-rootfs")
	rootfsDir, err := composeOverlay(mergedDir, layerRoots)
	if err != nil {
		return "", err
	}

	p.initImageOnce.dir = rootfsDir
	p.initImageOnce.ready = true
	log.WithComponent("lifecycle").Info().Str("path", rootfsDir).Msg("bootstrap init rootfs ready")
	return rootfsDir, nil
}

// stageVmmConfig allocates virtiofs shares and block devices and builds
// the BootSpec the engine will run (spec.md §4.3 Stage 4, §5). The box's
// own persistent disk is formatted here, once the block-device list is
// actually being assembled, formatted ext4 directly with go-diskfs
// (spec.md §4.3 Stage 3/4, §4.8).
func (p *Pipeline) stageVmmConfig(_ context.Context, st *buildState) error {
	opts := st.meta.Options
	alloc := volume.NewAllocator()

	shares := alloc.AllocateShares(st.boxLayout.SharedDir(), opts.Volumes)
	shares = append(shares, volume.VirtiofsShare{
		Tag:       fmt.Sprintf("vtag%d", len(shares)),
		HostPath:  st.rootfsDir,
		GuestPath: "/",
		ReadOnly:  false,
	})
	shares = append(shares, volume.VirtiofsShare{
		Tag:       fmt.Sprintf("vtag%d", len(shares)),
		HostPath:  st.initRootfsDir,
		GuestPath: "/mnt/init-rootfs",
		ReadOnly:  true,
	})

	diskSize := opts.DiskSizeGB
	if diskSize <= 0 {
		diskSize = initDiskSizeGB
	}
	diskPath := filepath.Join(st.boxLayout.MountsDir(), "disk.img")
	if err := volume.CreateExt4Disk(diskPath, diskSize); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "create persistent disk")
	}

	disk, err := alloc.AllocateBlockDevice(diskPath, diskSize, false)
	if err != nil {
		return boxerr.Newf(boxerr.KindInvalidConfig, err, "allocate persistent disk")
	}

	var netSocketPath string
	if opts.Network == types.NetworkIsolated && p.Network != nil {
		netSocketPath = filepath.Join(st.boxLayout.SocketsDir(), "net.sock")
	}

	st.bootSpec = vmm.BootSpec{
		BoxID:             st.meta.ID.String(),
		KernelPath:        p.KernelPath,
		InitrdPath:        p.InitrdPath,
		KernelArgs:        "console=ttyS0 reboot=k panic=1",
		CPUs:              opts.CPUs,
		MemoryMiB:         opts.MemoryMiB,
		VsockCID:          p.vsockCID(st.meta.ID.String()),
		Shares:            shares,
		Disks:             []volume.BlockDevice{disk},
		NetSocketPath:     netSocketPath,
		ControlSocketPath: st.boxLayout.BoxSocketPath(),
		SerialLogPath:     filepath.Join(st.boxLayout.BoxDir(), "console.log"),
	}

	bootSpecPath := filepath.Join(st.boxLayout.BoxDir(), "bootspec.json")
	data, err := json.Marshal(st.bootSpec)
	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "marshal boot spec")
	}
	if err := os.WriteFile(bootSpecPath, data, 0o644); err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "write boot spec")
	}
	st.bootSpecPath = bootSpecPath
	return nil
}

func (p *Pipeline) vsockCID(boxID string) uint32 {
	if p.VsockCIDAllocator != nil {
		return p.VsockCIDAllocator(boxID)
	}
	h := fnv.New32a()
	h.Write([]byte(boxID))
	// CIDs 0-2 are reserved (hypervisor, local, host); keep clear of them.
	return 3 + h.Sum32()%(1<<20)
}

// stageShimSpawn starts the shim process, which in turn drives the VMM
// engine, and begins resource sampling (spec.md §4.3 Stage 5, §4.5).
func (p *Pipeline) stageShimSpawn(ctx context.Context, st *buildState) error {
	cpus, memMiB := shim.CPUAllotment(st.meta.Options)

	handle, err := shim.Spawn(ctx, shim.Config{
		BoxID:      st.meta.ID.String(),
		BinaryPath: p.ShimBinary,
		Args:       []string{"--box-id", st.meta.ID.String(), "--boot-spec", st.bootSpecPath},
		WorkDir:    st.boxLayout.BoxDir(),
		PIDFile:    st.boxLayout.PIDFile(),
		SocketPath: st.boxLayout.BoxSocketPath(),
		LogPath:    filepath.Join(st.boxLayout.BoxDir(), "shim.log"),
		CPUs:       cpus,
		MemoryMiB:  memMiB,
	})
	if err != nil {
		return err
	}
	st.shimHandle = handle

	if err := p.Updater.SetPID(st.meta.ID.String(), handle.PID); err != nil {
		return err
	}

	st.sampler = shim.NewSampler(st.meta.ID.String(), handle.PID, 0)
	return nil
}

// stageGuestInit dials the guest agent over the shim's control socket and
// starts the container's entrypoint (spec.md §4.3 Stage 6,
// §4.6). The VMM itself is already running by this point, inside the
// shim process spawned in the previous stage; this stage only talks to
// the guest over the portal and wires up the shim's exit/sampler
// lifecycle for the returned handle.
func (p *Pipeline) stageGuestInit(ctx context.Context, st *buildState) (*BoxInner, error) {
	conn := portal.NewConnection(st.guestTransport())
	session := portal.NewGuestSession(conn)

	ready, err := session.Ping(ctx)
	if err != nil || !ready {
		return nil, boxerr.Newf(boxerr.KindGuest, err, "guest agent not ready")
	}

	env := make([]string, 0, len(st.containerCfg.Env))
	for _, e := range st.containerCfg.Env {
		env = append(env, e.Key+"="+e.Value)
	}

	if _, err := session.StartContainer(ctx, boxliteStartRequest(st.containerCfg, env)); err != nil {
		return nil, err
	}

	exited := make(chan error, 1)
	waitDone := make(chan struct{})
	shimHandle := st.shimHandle
	go func() {
		exited <- shimHandle.Wait()
		close(waitDone)
	}()

	samplerCtx, samplerCancel := context.WithCancel(context.Background())
	go st.sampler.Run(samplerCtx)

	netCtx, netCancel := context.WithCancel(context.Background())
	if p.Network != nil && st.bootSpec.NetSocketPath != "" {
		boxID := st.meta.ID.String()
		sockPath := st.bootSpec.NetSocketPath
		go func() {
			if err := p.Network.ServeBox(netCtx, boxID, sockPath); err != nil {
				log.WithBoxID(boxID).Warn().Err(err).Msg("network bridge stopped")
			}
		}()
	}

	go func() {
		<-waitDone
		samplerCancel()
		netCancel()
	}()

	return &BoxInner{
		Session:    session,
		ShimHandle: st.shimHandle,
		CancelVMM:  func() { shimHandle.Stop(); netCancel() },
		VMMExited:  exited,
		Sampler:    st.sampler,
	}, nil
}

func boxliteStartRequest(cfg types.ContainerConfig, env []string) boxliteapi.StartContainerRequest {
	return boxliteapi.StartContainerRequest{
		Entrypoint: cfg.Entrypoint,
		Cmd:        cfg.Cmd,
		Env:        env,
		WorkingDir: cfg.WorkingDir,
	}
}
