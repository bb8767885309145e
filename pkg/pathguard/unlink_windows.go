//go:build windows

package pathguard

import (
	"io/fs"

	"golang.org/x/sys/windows"
)

// unlink removes a non-directory entry. DeleteFile refuses directories.
func unlink(path string) error {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return &fs.PathError{Op: "unlink", Path: path, Err: err}
	}
	if err := windows.DeleteFile(name); err != nil {
		return &fs.PathError{Op: "unlink", Path: path, Err: err}
	}
	return nil
}
