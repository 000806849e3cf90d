//go:build !windows

package audit

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// checkDiskSpace refuses writes when the log volume is nearly full. A
// failed stat does not block logging.
func (l *Logger) checkDiskSpace() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(l.dir, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(l.dir), &stat); err != nil {
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < MinAuditDiskSpace {
		return fmt.Errorf("%w: only %d bytes available, need at least %d",
			ErrInsufficientDisk, available, MinAuditDiskSpace)
	}
	return nil
}
