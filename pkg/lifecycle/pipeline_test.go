package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/pkg/types"
)

type fakeUpdater struct {
	failedIDs []string
	pids      map[string]int
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{pids: map[string]int{}}
}

func (f *fakeUpdater) UpdateState(idOrName, event string, mutate func(*types.BoxMetadata)) (types.BoxMetadata, error) {
	var m types.BoxMetadata
	if mutate != nil {
		mutate(&m)
	}
	return m, nil
}

func (f *fakeUpdater) SetPID(idOrName string, pid int) error {
	f.pids[idOrName] = pid
	return nil
}

func (f *fakeUpdater) MarkFailed(idOrName string) error {
	f.failedIDs = append(f.failedIDs, idOrName)
	return nil
}

func TestVsockCIDIsDeterministicAndAboveReserved(t *testing.T) {
	p := &Pipeline{}
	a := p.vsockCID("box-a")
	b := p.vsockCID("box-a")
	c := p.vsockCID("box-b")

	assert.Equal(t, a, b, "same box id must map to the same CID across calls")
	assert.GreaterOrEqual(t, a, uint32(3), "CID must stay clear of the reserved 0-2 range")
	assert.NotEqual(t, a, c, "distinct box ids should not collide in practice")
}

func TestVsockCIDAllocatorOverrideIsUsed(t *testing.T) {
	p := &Pipeline{VsockCIDAllocator: func(boxID string) uint32 { return 99 }}
	assert.EqualValues(t, 99, p.vsockCID("whatever"))
}

func TestInitRootfsDirReturnsCachedPathWithoutRepullingImage(t *testing.T) {
	// p.Images is left nil on purpose: if the cache were consulted after
	// ready is true, any attempt to use it would panic, catching a
	// regression back to "pull every time".
	p := &Pipeline{}
	p.initImageOnce.ready = true
	p.initImageOnce.dir = "/home/images/init-rootfs/merged"

	dir, err := p.initRootfsDir(nil)
	require.NoError(t, err)
	assert.Equal(t, "/home/images/init-rootfs/merged", dir)
}

func TestPipelineFailMarksBoxFailed(t *testing.T) {
	updater := newFakeUpdater()
	p := &Pipeline{Updater: updater}

	id, err := types.NewBoxId(nil)
	require.NoError(t, err)
	meta := types.BoxMetadata{ID: id}

	cause := errors.New("stage exploded")
	got := p.fail(meta, cause)

	assert.Equal(t, cause, got)
	assert.Equal(t, []string{id.String()}, updater.failedIDs)
}
