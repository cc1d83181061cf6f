package types

import (
	"fmt"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
)

// ImageRef is a parsed registry reference: registry, repository, and
// either a tag or a digest (spec.md §3). Two refs are equal iff their
// digest-normalised form matches — callers should resolve Tag to a Digest
// before comparing two pulled images.
type ImageRef struct {
	Registry   string
	Repository string
	Tag        string
	Digest     digest.Digest
}

// ParseImageRef parses strings shaped like "alpine:latest",
// "docker.io/library/alpine:3.19", or "alpine@sha256:...".
func ParseImageRef(s string) (ImageRef, error) {
	if s == "" {
		return ImageRef{}, fmt.Errorf("empty image reference")
	}

	ref := ImageRef{Registry: "docker.io", Tag: "latest"}

	if at := strings.LastIndex(s, "@"); at >= 0 {
		d, err := digest.Parse(s[at+1:])
		if err != nil {
			return ImageRef{}, fmt.Errorf("invalid digest in %q: %w", s, err)
		}
		ref.Digest = d
		s = s[:at]
	} else if colon := strings.LastIndex(s, ":"); colon > strings.LastIndex(s, "/") {
		ref.Tag = s[colon+1:]
		s = s[:colon]
	}

	if slash := strings.Index(s, "/"); slash >= 0 && strings.ContainsAny(s[:slash], ".:") {
		ref.Registry = s[:slash]
		s = s[slash+1:]
	} else if !strings.Contains(s, "/") {
		s = "library/" + s
	}
	ref.Repository = s

	return ref, nil
}

// Key returns the digest-normalised cache key used by the index and the
// pull-coalescence map: the digest when known, else registry/repo:tag.
func (r ImageRef) Key() string {
	if r.Digest != "" {
		return r.Registry + "/" + r.Repository + "@" + r.Digest.String()
	}
	return r.Registry + "/" + r.Repository + ":" + r.Tag
}

func (r ImageRef) String() string {
	if r.Digest != "" {
		return r.Registry + "/" + r.Repository + "@" + r.Digest.String()
	}
	return r.Registry + "/" + r.Repository + ":" + r.Tag
}

// LayerInfo is one entry in an image manifest's layer list.
type LayerInfo struct {
	Digest    digest.Digest
	Size      int64
	MediaType string
}

// ImageManifest is the parsed OCI manifest used by the rootfs stage.
type ImageManifest struct {
	SchemaVersion int
	MediaType     string
	ConfigDigest  digest.Digest
	ConfigSize    int64
	Layers        []LayerInfo
}

// ContainerConfig is the subset of the OCI image config the lifecycle
// pipeline needs to build a container: entrypoint/cmd, working dir, and
// image-supplied environment (user env is merged on top, user wins).
type ContainerConfig struct {
	Entrypoint []string
	Cmd        []string
	WorkingDir string
	Env        []EnvVar
}

// MergeEnv appends user env on top of image env, with user values winning
// on key collision, per spec.md §4.3 Stage 2.
func MergeEnv(imageEnv, userEnv []EnvVar) []EnvVar {
	merged := make([]EnvVar, 0, len(imageEnv)+len(userEnv))
	index := make(map[string]int, len(imageEnv))
	for _, e := range imageEnv {
		index[e.Key] = len(merged)
		merged = append(merged, e)
	}
	for _, e := range userEnv {
		if i, ok := index[e.Key]; ok {
			merged[i].Value = e.Value
			continue
		}
		index[e.Key] = len(merged)
		merged = append(merged, e)
	}
	return merged
}

// CachedImage is the index.json record for a successfully pulled image:
// presence here implies every referenced blob is complete on disk
// (spec.md §3, §4.4).
type CachedImage struct {
	Ref          ImageRef
	ManifestDigest digest.Digest
	ConfigDigest   digest.Digest
	LayerDigests   []digest.Digest
	PulledAt       time.Time
}
