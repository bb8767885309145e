//go:build !windows

package pathguard

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// fileIdentity returns the device and inode of path, following symlinks.
func fileIdentity(path string) (identity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return identity{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return identity{volume: uint64(st.Dev), index: uint64(st.Ino)}, nil
}
