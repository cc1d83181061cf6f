package volume

import (
	"fmt"
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/ext4"
)

// CreateExt4Disk creates a raw backing file at path, sized sizeGB, and
// formats it ext4. It backs a box's persistent disk (spec.md §4.3 Stage
// 4); the init rootfs reaches the guest as a read-only virtiofs share,
// not through a disk built here.
func CreateExt4Disk(path string, sizeGB int) error {
	if sizeGB <= 0 {
		return fmt.Errorf("invalid disk size %dGB", sizeGB)
	}
	sizeBytes := int64(sizeGB) * 1024 * 1024 * 1024

	d, err := diskfs.Create(path, sizeBytes, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("create disk backing file %s: %w", path, err)
	}

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeExt4,
		VolumeLabel: "boxlite",
	})
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("format disk %s as ext4: %w", path, err)
	}
	if _, ok := fs.(*ext4.FileSystem); !ok {
		os.Remove(path)
		return fmt.Errorf("unexpected filesystem type for %s", path)
	}
	return nil
}
