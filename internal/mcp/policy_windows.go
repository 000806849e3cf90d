//go:build windows

package mcp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// openPolicyFile rejects a symlinked policy with Lstat before opening.
func openPolicyFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrPolicyNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	case info.Mode()&fs.ModeSymlink != 0:
		return nil, ErrPolicySymlink
	}
	return os.Open(path)
}

// Ownership on Windows is governed by ACLs.
func checkOwner(*os.File) error { return nil }
