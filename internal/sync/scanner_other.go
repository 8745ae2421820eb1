//go:build !linux

package sync

import "io/fs"

// addPlatformMetadata is a no-op on platforms without a syscall.Stat_t-based
// inode lookup; hardlink preservation is simply unavailable there.
func addPlatformMetadata(_ *FileEntry, _ fs.FileInfo) {}
