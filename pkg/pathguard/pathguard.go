// Package pathguard implements the path-safety checks every disk-mutating
// working-copy operation goes through.
//
// No path written by a checkout may resolve to a reserved metadata directory,
// whether by name or through a symlink, hard link or case-insensitive alias.
// The check compares the OS identity of the path with the identity of the
// reserved name in the same directory.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

// ReservedNames are the metadata directory names that must never be written
// through.
var ReservedNames = []string{".git", ".jj"}

// IsReservedName reports whether name is a reserved directory name.
func IsReservedName(name string) bool {
	for _, r := range ReservedNames {
		if name == r {
			return true
		}
	}
	return false
}

// ReservedPathComponentError is returned when a path would resolve to a
// reserved directory.
type ReservedPathComponentError struct {
	Path string
	Name string
}

func (e *ReservedPathComponentError) Error() string {
	return fmt.Sprintf("refusing to write through reserved path component %q: %s", e.Name, e.Path)
}

// identity identifies a file object independently of the path used to reach it.
type identity struct {
	volume uint64
	index  uint64
}

// sameFile reports whether both paths exist and refer to the same object.
// A missing path is never the same file.
func sameFile(a, b string) (bool, error) {
	ia, err := fileIdentity(a)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	ib, err := fileIdentity(b)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return ia == ib, nil
}

// RejectReservedExistingPath fails if diskPath is a reserved directory, or an
// alias of one, in its parent directory.
func RejectReservedExistingPath(diskPath string) error {
	dir := filepath.Dir(diskPath)
	for _, name := range ReservedNames {
		same, err := sameFile(diskPath, filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to validate path %s: %w", diskPath, err)
		}
		if same {
			return &ReservedPathComponentError{Path: diskPath, Name: name}
		}
	}
	return nil
}

// CreateParentDirs creates the directories leading to p below root and
// returns the disk path of p. ok is false, without error, when an existing
// component is not a directory; the caller skips such paths.
func CreateParentDirs(root string, p repopath.Path) (diskPath string, ok bool, err error) {
	components := p.Components()
	if len(components) == 0 {
		return "", false, fmt.Errorf("cannot create parents of the repository root")
	}
	dirPath := root
	for _, name := range components[:len(components)-1] {
		dirPath = filepath.Join(dirPath, name)
		created := true
		if err := os.Mkdir(dirPath, util.UserWritableDirPerms); err != nil {
			created = false
			info, statErr := os.Lstat(dirPath)
			if statErr != nil {
				return "", false, fmt.Errorf("failed to create parent directory %s: %w", dirPath, err)
			}
			if !info.IsDir() {
				return "", false, nil
			}
		}
		if err := RejectReservedExistingPath(dirPath); err != nil {
			if created {
				_ = os.Remove(dirPath)
			}
			return "", false, err
		}
	}
	return filepath.Join(dirPath, components[len(components)-1]), true, nil
}

// RemoveOldFile removes the file or symlink at diskPath, if any, and reports
// whether there was one. A directory is never removed; it is reported as no
// file so the caller's create check skips the path.
func RemoveOldFile(diskPath string) (bool, error) {
	if err := RejectReservedExistingPath(diskPath); err != nil {
		return false, err
	}
	err := unlink(diskPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if info, statErr := os.Lstat(diskPath); statErr == nil && info.IsDir() {
		return false, nil
	}
	return false, fmt.Errorf("failed to remove file %s: %w", diskPath, err)
}

// CanCreateNewFile checks whether a new file can be created at diskPath
// without following symlinks by creating it. The new file is removed again. It returns
// false when something already exists there.
func CanCreateNewFile(diskPath string) (bool, error) {
	f, err := os.OpenFile(diskPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, RejectReservedExistingPath(diskPath)
		}
		// Some platforms report access errors instead of EEXIST.
		if _, statErr := os.Lstat(diskPath); statErr == nil {
			return false, RejectReservedExistingPath(diskPath)
		}
		return false, fmt.Errorf("failed to create file %s: %w", diskPath, err)
	}
	f.Close()
	if err := RejectReservedExistingPath(diskPath); err != nil {
		_ = os.Remove(diskPath)
		return false, err
	}
	if err := os.Remove(diskPath); err != nil {
		return false, fmt.Errorf("failed to remove check file %s: %w", diskPath, err)
	}
	return true, nil
}

// PruneEmptyParents removes the now-empty directories containing p, walking
// upwards until a directory is not empty. The root itself is kept.
func PruneEmptyParents(root string, p repopath.Path) {
	for dir, ok := p.Parent(); ok && !dir.IsRoot(); dir, ok = dir.Parent() {
		diskDir, err := dir.ToFSPath(root)
		if err != nil {
			return
		}
		// Fails with ENOTEMPTY at the first directory still in use.
		if err := os.Remove(diskDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return
		}
	}
}
