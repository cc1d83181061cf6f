// Package lifecycle drives one box from Configured to Running and back
// down: the Filesystem/Rootfs/InitImage/VmmConfig/ShimSpawn/GuestInit
// pipeline, overlay rootfs composition, and the LiteBox handle that
// supervises a running box's shim, VMM, and guest session (spec.md §4.3).
package lifecycle
