//go:build !windows

package vault

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func diskSpace(dir string) (DiskSpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("vault: statfs %s: %w", dir, err)
	}
	bsize := uint64(st.Bsize)
	return newDiskSpaceInfo(st.Blocks*bsize, st.Bfree*bsize, st.Bavail*bsize), nil
}
