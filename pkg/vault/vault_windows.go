//go:build windows

package vault

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func diskSpace(dir string) (DiskSpaceInfo, error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("vault: invalid path %s: %w", dir, err)
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("vault: GetDiskFreeSpaceEx %s: %w", dir, err)
	}
	return newDiskSpaceInfo(total, free, avail), nil
}
