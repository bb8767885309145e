//go:build !windows

package pathguard

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// unlink removes a non-directory entry. Directories are left alone.
func unlink(path string) error {
	if err := unix.Unlink(path); err != nil {
		return &fs.PathError{Op: "unlink", Path: path, Err: err}
	}
	return nil
}
