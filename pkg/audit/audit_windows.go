//go:build windows

package audit

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func (l *Logger) checkDiskSpace() error {
	pathPtr, err := windows.UTF16PtrFromString(l.dir)
	if err != nil {
		return nil
	}
	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &available, &total, &free); err != nil {
		return nil
	}
	if available < MinAuditDiskSpace {
		return fmt.Errorf("%w: only %d bytes available, need at least %d",
			ErrInsufficientDisk, available, MinAuditDiskSpace)
	}
	return nil
}
