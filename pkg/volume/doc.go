// Package volume allocates the per-box virtiofs tags and virtio-blk
// device ids consumed by the VmmConfig lifecycle stage, and builds the
// ext4-formatted disk images those block devices back (spec.md §4.3
// Stage 4, §4.8, §5).
package volume
