// Package metafile reads and writes the small binary state files kept in a
// working copy's state directory.
//
// A state file is a zstd frame around a CBOR document. Files are replaced
// atomically: the new content goes to a temp file in the same directory which
// is then renamed over the old one, so readers never see a partial file.
package metafile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/obj/atlas"

	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

// Op names the step of a state file operation that failed.
type Op string

const (
	OpRead    Op = "read"
	OpDecode  Op = "decode"
	OpWrite   Op = "write"
	OpPersist Op = "persist"
)

// Error is returned for every failure except a missing file on Read.
type Error struct {
	Op   Op
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s state file %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Write encodes content with atl and atomically replaces the file at path.
func Write(path string, content any, atl atlas.Atlas) error {
	data, err := refmt.MarshalAtlased(cbor.EncodeOptions{}, content, atl)
	if err != nil {
		return &Error{Op: OpWrite, Path: path, Err: err}
	}

	// 1. Create the temp file next to the target; rename is only atomic within
	// one filesystem.
	dir := filepath.Dir(path)
	tmpF, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &Error{Op: OpWrite, Path: path, Err: err}
	}
	defer func() {
		// Expected to fail with "not exist" after a successful rename.
		if err := os.Remove(tmpF.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary state file", "path", tmpF.Name(), "error", err)
		}
	}()

	// 2. Compress into it.
	zw, err := zstd.NewWriter(tmpF)
	if err != nil {
		tmpF.Close()
		return &Error{Op: OpWrite, Path: path, Err: err}
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		tmpF.Close()
		return &Error{Op: OpWrite, Path: path, Err: err}
	}
	if err := zw.Close(); err != nil {
		tmpF.Close()
		return &Error{Op: OpWrite, Path: path, Err: err}
	}

	// 3. Flush and close before the rename (mandatory on Windows).
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return &Error{Op: OpWrite, Path: path, Err: err}
	}
	if err := tmpF.Close(); err != nil {
		return &Error{Op: OpWrite, Path: path, Err: err}
	}
	if err := os.Chmod(tmpF.Name(), util.UserWritableFilePerms); err != nil {
		return &Error{Op: OpWrite, Path: path, Err: err}
	}

	// 4. Atomic rename.
	if err := os.Rename(tmpF.Name(), path); err != nil {
		return &Error{Op: OpPersist, Path: path, Err: err}
	}
	return nil
}

// Read decodes the file at path into content. A missing file is returned as
// the plain *fs.PathError so os.IsNotExist works for callers.
func Read(path string, content any, atl atlas.Atlas) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return &Error{Op: OpRead, Path: path, Err: err}
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return &Error{Op: OpDecode, Path: path, Err: err}
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return &Error{Op: OpDecode, Path: path, Err: err}
	}
	if err := refmt.UnmarshalAtlased(cbor.DecodeOptions{}, data, content, atl); err != nil {
		return &Error{Op: OpDecode, Path: path, Err: fmt.Errorf("%w. It may be corrupt", err)}
	}
	return nil
}
