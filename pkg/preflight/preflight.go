// Package preflight provides checks that run before a working copy is
// created. They do not change the system's state, except for the write probe
// which removes its own file again.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckRootAccessible validates that the working copy root exists and is a directory.
func CheckRootAccessible(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("working copy root %s does not exist", root)
		}
		return fmt.Errorf("cannot stat working copy root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working copy root %s is not a directory", root)
	}
	return nil
}

// CheckWritable ensures dir can be created and written to by creating and
// deleting a temporary file in it.
func CheckWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tempFile := filepath.Join(dir, ".pgl-wc-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// FindEnclosingRepo walks up from the parent of root and returns the first
// ancestor holding a directory named repoDirName.
func FindEnclosingRepo(root, repoDirName string) (string, bool) {
	dir := root
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false // Hit root
		}
		dir = parent
		if info, err := os.Stat(filepath.Join(dir, repoDirName)); err == nil && info.IsDir() {
			return dir, true
		}
	}
}
