//go:build darwin

package sync

import (
	"fmt"
	"syscall"
)

// CheckDiskSpace verifies that path's filesystem has at least minFree bytes
// available. minFree <= 0 disables the check.
func CheckDiskSpace(path string, minFree int64) error {
	if minFree <= 0 {
		return nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return fmt.Errorf("safety: statfs %q: %w", path, err)
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < minFree {
		return fmt.Errorf("%w: only %d bytes free at %q, need %d", ErrValidation, available, path, minFree)
	}

	return nil
}
