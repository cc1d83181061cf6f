package image

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/containerd/containerd/remotes"
	"github.com/containerd/containerd/remotes/docker"
	digest "github.com/opencontainers/go-digest"
	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/metrics"
	"github.com/cuemby/boxlite/pkg/types"
)

// Manager is the image cache described in spec.md §4.4: an index (ref ->
// CachedImage) and a blob Store, guarded by one RWMutex, with pull
// requests for the same ref coalesced through a singleflight group. The
// lock protects the in-memory index; the singleflight group protects the
// network operation — the two are deliberately not the same mechanism
// (spec.md §9 "Coalescence of image pulls").
type Manager struct {
	store *Store

	mu    sync.RWMutex
	index map[string]types.CachedImage

	group    singleflight.Group
	resolver remotes.Resolver
}

// NewManager opens (or initialises) the image cache rooted at imagesDir.
func NewManager(imagesDir string) (*Manager, error) {
	store, err := NewStore(imagesDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:    store,
		index:    map[string]types.CachedImage{},
		resolver: docker.NewResolver(docker.ResolverOptions{}),
	}

	data, err := os.ReadFile(store.IndexPath())
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, boxerr.Newf(boxerr.KindInternal, err, "read image index")
	default:
		if err := json.Unmarshal(data, &m.index); err != nil {
			return nil, boxerr.Newf(boxerr.KindInternal, err, "parse image index")
		}
	}
	return m, nil
}

func (m *Manager) persistIndexLocked() error {
	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(m.store.IndexPath(), data)
}

// cachedComplete reports whether every blob a CachedImage references is
// present on disk (the invariant that makes presence in the index
// trustworthy, per spec.md §3).
func (m *Manager) cachedComplete(ci types.CachedImage) bool {
	if !m.store.HasBlob(ci.ManifestDigest) || !m.store.HasBlob(ci.ConfigDigest) {
		return false
	}
	for _, d := range ci.LayerDigests {
		if !m.store.HasBlob(d) {
			return false
		}
	}
	return true
}

// Pull resolves ref against the registry, downloading and verifying any
// missing manifest/config/layer blobs, and records the result in the
// index. Concurrent Pull calls for the same ref coalesce into one network
// round trip (spec.md §4.4, §8 property 6).
func (m *Manager) Pull(ctx context.Context, ref types.ImageRef) (types.CachedImage, error) {
	key := ref.Key()

	m.mu.RLock()
	if cached, ok := m.index[key]; ok && m.cachedComplete(cached) {
		m.mu.RUnlock()
		return cached, nil
	}
	m.mu.RUnlock()

	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		return m.pullUncached(ctx, ref)
	})
	if shared {
		metrics.ImagePullCoalescedTotal.Inc()
	}
	if err != nil {
		return types.CachedImage{}, err
	}
	return v.(types.CachedImage), nil
}

func (m *Manager) pullUncached(ctx context.Context, ref types.ImageRef) (types.CachedImage, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ImagePullDuration)
	logger := log.WithComponent("image").With().Str("ref", ref.String()).Logger()

	resolvedName, desc, err := m.resolver.Resolve(ctx, ref.String())
	if err != nil {
		return types.CachedImage{}, boxerr.Newf(boxerr.KindImageUnavailable, err, "resolve %s", ref)
	}

	fetcher, err := m.resolver.Fetcher(ctx, resolvedName)
	if err != nil {
		return types.CachedImage{}, boxerr.Newf(boxerr.KindImageUnavailable, err, "create fetcher for %s", resolvedName)
	}

	manifestDigest := desc.Digest
	if err := m.fetchAndStore(ctx, fetcher, desc); err != nil {
		return types.CachedImage{}, err
	}

	var manifest ociv1.Manifest
	if err := m.readBlobJSON(manifestDigest, &manifest); err != nil {
		return types.CachedImage{}, err
	}

	configDesc := manifest.Config
	if err := m.fetchAndStore(ctx, fetcher, ociDescriptor(configDesc)); err != nil {
		return types.CachedImage{}, err
	}

	layerDigests := make([]digest.Digest, 0, len(manifest.Layers))
	for _, l := range manifest.Layers {
		if err := m.fetchAndStore(ctx, fetcher, l); err != nil {
			return types.CachedImage{}, err
		}
		layerDigests = append(layerDigests, l.Digest)
	}

	ci := types.CachedImage{
		Ref:            ref,
		ManifestDigest: manifestDigest,
		ConfigDigest:   configDesc.Digest,
		LayerDigests:   layerDigests,
	}

	m.mu.Lock()
	m.index[ref.Key()] = ci
	err = m.persistIndexLocked()
	m.mu.Unlock()
	if err != nil {
		return types.CachedImage{}, err
	}

	logger.Info().Int("layers", len(layerDigests)).Msg("pulled image")
	return ci, nil
}

// ociDescriptor adapts a config descriptor (ociv1.Descriptor already) —
// kept as a named conversion point in case config/layer descriptor types
// diverge across image-spec versions.
func ociDescriptor(d ociv1.Descriptor) ociv1.Descriptor { return d }

func (m *Manager) fetchAndStore(ctx context.Context, fetcher remotes.Fetcher, desc ociv1.Descriptor) error {
	if m.store.HasBlob(desc.Digest) {
		return nil
	}
	rc, err := fetcher.Fetch(ctx, desc)
	if err != nil {
		return boxerr.Newf(boxerr.KindImageUnavailable, err, "fetch %s", desc.Digest)
	}
	defer rc.Close()
	return m.store.PutBlob(desc.Digest, rc)
}

func (m *Manager) readBlobJSON(d digest.Digest, v interface{}) error {
	f, err := m.store.OpenBlob(d)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return boxerr.Newf(boxerr.KindImageUnavailable, err, "decode blob %s", d)
	}
	return nil
}

// Manifest returns the parsed OCI manifest for a cached image, giving the
// rootfs stage each layer's digest and media type so it knows which
// decompressor to extract it with.
func (m *Manager) Manifest(ci types.CachedImage) (types.ImageManifest, error) {
	var manifest ociv1.Manifest
	if err := m.readBlobJSON(ci.ManifestDigest, &manifest); err != nil {
		return types.ImageManifest{}, err
	}

	layers := make([]types.LayerInfo, 0, len(manifest.Layers))
	for _, l := range manifest.Layers {
		layers = append(layers, types.LayerInfo{Digest: l.Digest, Size: l.Size, MediaType: l.MediaType})
	}

	return types.ImageManifest{
		SchemaVersion: manifest.SchemaVersion,
		MediaType:     manifest.MediaType,
		ConfigDigest:  manifest.Config.Digest,
		ConfigSize:    manifest.Config.Size,
		Layers:        layers,
	}, nil
}

// Config returns the parsed container config (entrypoint/cmd/env/workdir)
// for a cached image.
func (m *Manager) Config(ci types.CachedImage) (types.ContainerConfig, error) {
	var imgConfig ociv1.Image
	if err := m.readBlobJSON(ci.ConfigDigest, &imgConfig); err != nil {
		return types.ContainerConfig{}, err
	}

	env := make([]types.EnvVar, 0, len(imgConfig.Config.Env))
	for _, kv := range imgConfig.Config.Env {
		k, v, _ := splitKV(kv)
		env = append(env, types.EnvVar{Key: k, Value: v})
	}

	return types.ContainerConfig{
		Entrypoint: imgConfig.Config.Entrypoint,
		Cmd:        imgConfig.Config.Cmd,
		WorkingDir: imgConfig.Config.WorkingDir,
		Env:        env,
	}, nil
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// LayerTarballPath returns the path to a layer's compressed blob.
func (m *Manager) LayerTarballPath(d digest.Digest) string {
	return m.store.BlobPath(d)
}

// LayerExtractedPath returns the path to a layer's extracted root,
// extracting it first if this is the first request for that digest
// (spec.md §4.4, §8 property 8: all-or-nothing, retry-safe).
func (m *Manager) LayerExtractedPath(ctx context.Context, d digest.Digest, mediaType string) (string, error) {
	final := m.store.LayerDir(d)
	if m.store.HasLayer(d) {
		return final, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LayerExtractDuration)

	tmpDir := final + ".extracting"
	os.RemoveAll(tmpDir)

	blob, err := m.store.OpenBlob(d)
	if err != nil {
		return "", err
	}
	extractErr := ExtractLayer(mediaType, blob, tmpDir)
	blob.Close()
	if extractErr != nil {
		os.RemoveAll(tmpDir)
		return "", extractErr
	}

	if err := os.Rename(tmpDir, final); err != nil {
		os.RemoveAll(tmpDir)
		return "", boxerr.Newf(boxerr.KindInternal, err, "finalize layer %s", d)
	}
	return final, nil
}

// LocalBundle returns (creating if absent) an isolated cache directory
// for an externally-supplied bundle, namespaced away from the trusted
// registry-pulled store (spec.md §4.4 "an untrusted bundle cannot poison
// the trusted store").
func (m *Manager) LocalBundle(bundleHash string) (string, error) {
	dir := m.store.LocalBundleDir(bundleHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", boxerr.Newf(boxerr.KindInternal, err, "create local bundle dir")
	}
	return dir, nil
}

// VerifyIndex checks every index entry's blobs are present and every blob
// present hashes correctly — used by tests of spec.md §8 property 7.
func (m *Manager) VerifyIndex() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, ci := range m.index {
		if !m.cachedComplete(ci) {
			return fmt.Errorf("index entry %s references a missing blob", key)
		}
		for _, d := range append([]digest.Digest{ci.ManifestDigest, ci.ConfigDigest}, ci.LayerDigests...) {
			if err := m.store.VerifyBlob(d); err != nil {
				return err
			}
		}
	}
	return nil
}
