//go:build !windows

package acquire

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

// minFreeBytes is a conservative floor: acquisition refuses to start
// a download when less free space remains than this.
const minFreeBytes = 64 << 20 // 64 MiB

// checkDiskSpace probes the filesystem holding dir for available
// space, per spec.md §4.7's "platform-specific probe".
func checkDiskSpace(dir string) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("acquire: statfs %q: %w", dir, err)
	}
	available := stat.Bavail * uint64(stat.Bsize)
	if available < minFreeBytes {
		return fmt.Errorf("acquire: %w: %d bytes available at %q, need at least %d",
			coreerr.ErrInsufficientSpace, available, dir, minFreeBytes)
	}
	return nil
}
