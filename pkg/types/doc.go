// Package types defines the core data structures used throughout BoxLite:
// BoxId, BoxState, BoxOptions, BoxMetadata, and the OCI image reference,
// manifest, and cached-image shapes shared by the image cache and the
// lifecycle pipeline. These are plain value types; behaviour that needs
// locking or I/O lives in the packages that consume them (pkg/runtime,
// pkg/lifecycle, pkg/image).
package types
