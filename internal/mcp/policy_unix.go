//go:build !windows

package mcp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// openPolicyFile refuses to follow a symlink in the final element.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrPolicyNotFound
	case errors.Is(err, unix.ELOOP):
		return nil, ErrPolicySymlink
	}
	return nil, fmt.Errorf("failed to open policy file: %w", err)
}

func checkOwner(f *os.File) error {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return fmt.Errorf("failed to stat policy file: %w", err)
	}
	if int(st.Uid) != os.Getuid() {
		return ErrPolicyNotOwnedByUser
	}
	return nil
}
