package volume

import (
	"testing"

	"github.com/cuemby/boxlite/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorShares(t *testing.T) {
	a := NewAllocator()

	shares := a.AllocateShares("/home/boxes/X/shared", []types.VolumeSpec{
		{HostPath: "/data/a", GuestPath: "/mnt/a", ReadOnly: true},
		{HostPath: "/data/b", GuestPath: "/mnt/b"},
	})

	require.Len(t, shares, 3)
	assert.Equal(t, "vtag0", shares[0].Tag)
	assert.Equal(t, "/home/boxes/X/shared", shares[0].HostPath)
	assert.False(t, shares[0].ReadOnly)
	assert.Equal(t, "vtag1", shares[1].Tag)
	assert.True(t, shares[1].ReadOnly)
	assert.Equal(t, "vtag2", shares[2].Tag)
}

func TestAllocatorBlockDevicesSequential(t *testing.T) {
	a := NewAllocator()

	first, err := a.AllocateBlockDevice("/home/boxes/X/disk0.img", 4, false)
	require.NoError(t, err)
	assert.Equal(t, "vda", first.ID)

	second, err := a.AllocateBlockDevice("/home/boxes/X/disk1.img", 1, true)
	require.NoError(t, err)
	assert.Equal(t, "vdb", second.ID)
	assert.True(t, second.ReadOnly)
}

func TestAllocatorBlockDeviceCap(t *testing.T) {
	a := NewAllocator()

	for i := 0; i < maxBlockDevices; i++ {
		_, err := a.AllocateBlockDevice("/dev/null", 1, false)
		require.NoError(t, err)
	}

	_, err := a.AllocateBlockDevice("/dev/null", 1, false)
	assert.ErrorIs(t, err, ErrBlockDeviceLimit)
}

func TestAllocatorIndependentPerBox(t *testing.T) {
	a1 := NewAllocator()
	a2 := NewAllocator()

	d1, err := a1.AllocateBlockDevice("/a", 1, false)
	require.NoError(t, err)
	d2, err := a2.AllocateBlockDevice("/b", 1, false)
	require.NoError(t, err)

	assert.Equal(t, d1.ID, d2.ID, "each box's allocator starts fresh at vda")
}
