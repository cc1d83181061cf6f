// Package types defines the BoxLite domain model: the box identifier,
// persisted metadata, immutable per-box options, and the OCI image
// reference/manifest shapes shared by the image cache and lifecycle
// pipeline.
package types

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BoxId is a lexicographically-sortable 26-character identifier
// (ULID-shaped: timestamp prefix + randomness). It is opaque and compared
// as bytes.
type BoxId struct {
	u ulid.ULID
}

var boxIDPattern = regexp.MustCompile(`^[0-9A-Z]{26}$`)

// idEntropy is the process-wide monotonic entropy source backing
// NewBoxId, guaranteeing ids generated within one process are
// lexicographically non-decreasing (spec.md §8 property 2).
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewBoxId generates a fresh BoxId from the current time. entropy may be
// nil to use the process-wide monotonic source; tests inject a
// deterministic reader via BoxOptions.ULIDEntropy.
func NewBoxId(entropy io.Reader) (BoxId, error) {
	if entropy != nil {
		id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
		if err != nil {
			return BoxId{}, fmt.Errorf("generate box id: %w", err)
		}
		return BoxId{u: id}, nil
	}

	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), idEntropy)
	if err != nil {
		return BoxId{}, fmt.Errorf("generate box id: %w", err)
	}
	return BoxId{u: id}, nil
}

// ParseBoxId parses a 26-character ULID-shaped string into a BoxId.
func ParseBoxId(s string) (BoxId, error) {
	if !boxIDPattern.MatchString(s) {
		return BoxId{}, fmt.Errorf("invalid box id %q: must match %s", s, boxIDPattern.String())
	}
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return BoxId{}, fmt.Errorf("invalid box id %q: %w", s, err)
	}
	return BoxId{u: id}, nil
}

// String returns the canonical 26-character upper-case representation.
func (b BoxId) String() string {
	return b.u.String()
}

// IsZero reports whether b is the zero value.
func (b BoxId) IsZero() bool {
	return b.u == (ulid.ULID{})
}

// Compare orders two BoxIds lexicographically (and so chronologically).
func (b BoxId) Compare(other BoxId) int {
	return b.u.Compare(other.u)
}

// BoxState is one state in the box lifecycle state machine (spec.md §4.2).
type BoxState string

const (
	StateConfigured BoxState = "Configured"
	StateStarting   BoxState = "Starting"
	StateRunning    BoxState = "Running"
	StateStopping   BoxState = "Stopping"
	StateStopped    BoxState = "Stopped"
	StateFailed     BoxState = "Failed"
)

// Terminal reports whether no further automatic transition leaves this
// state (Failed is terminal except for an explicit remove).
func (s BoxState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// NetworkMode enumerates the box network spec. Only Isolated is currently
// implemented; the field exists so BoxOptions has a stable shape for
// future modes.
type NetworkMode string

const (
	NetworkIsolated NetworkMode = "Isolated"
)

// EnvVar is one ordered key/value environment entry.
type EnvVar struct {
	Key   string
	Value string
}

// VolumeSpec describes one host-path to guest-path share.
type VolumeSpec struct {
	HostPath  string
	GuestPath string
	ReadOnly  bool
}

// PortSpec describes one host:guest port forward.
type PortSpec struct {
	HostPort  int
	GuestPort int
	Protocol  string // "tcp" | "udp"
	HostIP    string // optional, empty means all interfaces
}

// RootfsSpec selects how a box's container rootfs is sourced: either an
// image reference to pull, or an already-prepared path (e.g. a pre-built
// bundle directory).
type RootfsSpec struct {
	ImageRef     string
	PreparedPath string
}

// BoxOptions is the immutable configuration snapshot captured at create
// time (spec.md §3). It never changes for the lifetime of a box.
type BoxOptions struct {
	CPUs          int
	MemoryMiB     int
	DiskSizeGB    int
	WorkingDir    string
	Env           []EnvVar
	Rootfs        RootfsSpec
	Volumes       []VolumeSpec
	Network       NetworkMode
	Ports         []PortSpec
	IsolateMounts bool
	AutoRemove    bool

	// ULIDEntropy overrides the BoxId entropy source; nil uses the
	// process-wide monotonic source. Exists for deterministic tests.
	ULIDEntropy io.Reader `json:"-"`
}

// BoxMetadata is the persisted record for one box, keyed by BoxId in the
// runtime's metadata store (spec.md §3).
type BoxMetadata struct {
	ID          BoxId
	Name        string // optional, unique across live boxes when non-empty
	ImageRef    string
	CreatedAt   time.Time
	LastUpdated time.Time
	State       BoxState
	PID         int // 0 when not owned by a live shim
	Options     BoxOptions
}

// Touch advances LastUpdated to now, preserving the invariant
// last_updated >= created_at.
func (m *BoxMetadata) Touch() {
	now := time.Now()
	if now.Before(m.CreatedAt) {
		now = m.CreatedAt
	}
	m.LastUpdated = now
}
