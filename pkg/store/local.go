package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/pgzip"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/obj/atlas"
	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/sharded"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

const objectsDir = "objects"

type treeEntryProto struct {
	Name       string `refmt:"name"`
	Kind       uint8  `refmt:"kind"`
	ID         []byte `refmt:"id"`
	Executable bool   `refmt:"exec,omitempty"`
}

type treeProto struct {
	Entries []treeEntryProto `refmt:"entries"`
}

var treeAtlas = atlas.MustBuild(
	atlas.BuildEntry(treeProto{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(treeEntryProto{}).StructMap().Autogenerate().Complete(),
)

// Local is a Store backed by a billy filesystem.
type Local struct {
	fs          billy.Filesystem
	emptyTreeID ID

	// known caches ids already present on disk so repeated writes of unchanged
	// content skip the Stat.
	known *sharded.Set
	// trees caches decoded trees. Tree objects are immutable.
	trees *sharded.Map[*Tree]
	// writes deduplicates concurrent writes of the same object.
	writes singleflight.Group
}

// NewLocal opens (or creates) a store rooted at dir on the OS filesystem.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	return NewOnFilesystem(osfs.New(dir))
}

// NewOnFilesystem creates a store on an arbitrary billy filesystem, e.g. memfs in tests.
func NewOnFilesystem(fs billy.Filesystem) (*Local, error) {
	if err := fs.MkdirAll(objectsDir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}
	emptyTree, err := encodeTree(&Tree{})
	if err != nil {
		return nil, err
	}
	s := &Local{
		fs:          fs,
		emptyTreeID: plumbing.ComputeHash(plumbing.TreeObject, emptyTree),
		known:       sharded.NewSet(sharded.DefaultShards),
		trees:       sharded.NewMap[*Tree](sharded.DefaultShards),
	}
	return s, nil
}

// EmptyTreeID returns the id of the tree with no entries.
func (s *Local) EmptyTreeID() ID { return s.emptyTreeID }

func objectPath(id ID) string {
	hex := id.String()
	return path.Join(objectsDir, hex[:2], hex[2:])
}

// writeObject stores data under id unless it already exists. Writes go to a
// temp file in the destination directory and are renamed into place.
func (s *Local) writeObject(id ID, data []byte) error {
	key := id.String()
	if s.known.Has(key) {
		return nil
	}
	_, err, _ := s.writes.Do(key, func() (any, error) {
		objPath := objectPath(id)
		if _, err := s.fs.Stat(objPath); err == nil {
			s.known.Store(key)
			return nil, nil
		}
		dir := path.Dir(objPath)
		if err := s.fs.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
			return nil, err
		}
		tmp, err := s.fs.TempFile(dir, ".tmp-"+key[:8]+"-")
		if err != nil {
			return nil, err
		}
		tmpName := tmp.Name()
		cleanup := func() {
			tmp.Close()
			_ = s.fs.Remove(tmpName)
		}

		zw := pgzip.NewWriter(tmp)
		if _, err := zw.Write(data); err != nil {
			cleanup()
			return nil, err
		}
		if err := zw.Close(); err != nil {
			cleanup()
			return nil, err
		}
		if err := tmp.Close(); err != nil {
			_ = s.fs.Remove(tmpName)
			return nil, err
		}
		if err := s.fs.Rename(tmpName, objPath); err != nil {
			_ = s.fs.Remove(tmpName)
			return nil, err
		}
		s.known.Store(key)
		return nil, nil
	})
	return err
}

type objectReader struct {
	*pgzip.Reader
	file billy.File
}

func (r *objectReader) Close() error {
	zerr := r.Reader.Close()
	ferr := r.file.Close()
	return errors.Join(zerr, ferr)
}

func (s *Local) openObject(id ID) (io.ReadCloser, error) {
	f, err := s.fs.Open(objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("corrupt object: %w", err)
	}
	return &objectReader{Reader: zr, file: f}, nil
}

func (s *Local) readObject(id ID) ([]byte, error) {
	r, err := s.openObject(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile stores file content and returns its blob id.
func (s *Local) WriteFile(ctx context.Context, p repopath.Path, r io.Reader) (ID, error) {
	if err := ctx.Err(); err != nil {
		return ID{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return ID{}, &ObjectError{Op: "read content for", Path: p, Err: err}
	}
	id := plumbing.ComputeHash(plumbing.BlobObject, buf.Bytes())
	if err := s.writeObject(id, buf.Bytes()); err != nil {
		return ID{}, &ObjectError{Op: "write file", Path: p, ID: id, Err: err}
	}
	return id, nil
}

// ReadFile opens the content of a file object.
func (s *Local) ReadFile(ctx context.Context, p repopath.Path, id ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.openObject(id)
	if err != nil {
		return nil, &ObjectError{Op: "read file", Path: p, ID: id, Err: err}
	}
	return r, nil
}

// WriteSymlink stores a symlink target.
func (s *Local) WriteSymlink(ctx context.Context, p repopath.Path, target string) (ID, error) {
	if err := ctx.Err(); err != nil {
		return ID{}, err
	}
	data := []byte(target)
	id := plumbing.ComputeHash(plumbing.BlobObject, data)
	if err := s.writeObject(id, data); err != nil {
		return ID{}, &ObjectError{Op: "write symlink", Path: p, ID: id, Err: err}
	}
	return id, nil
}

// ReadSymlink returns a symlink target.
func (s *Local) ReadSymlink(ctx context.Context, p repopath.Path, id ID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := s.readObject(id)
	if err != nil {
		return "", &ObjectError{Op: "read symlink", Path: p, ID: id, Err: err}
	}
	return string(data), nil
}

func encodeTree(t *Tree) ([]byte, error) {
	proto := treeProto{Entries: make([]treeEntryProto, len(t.Entries))}
	for i, e := range t.Entries {
		proto.Entries[i] = treeEntryProto{
			Name:       e.Name,
			Kind:       uint8(e.Value.Kind),
			ID:         e.Value.ID[:],
			Executable: e.Value.Executable,
		}
	}
	return refmt.MarshalAtlased(cbor.EncodeOptions{}, proto, treeAtlas)
}

func decodeTree(data []byte) (*Tree, error) {
	var proto treeProto
	if err := refmt.UnmarshalAtlased(cbor.DecodeOptions{}, data, &proto, treeAtlas); err != nil {
		return nil, err
	}
	t := &Tree{Entries: make([]TreeEntry, len(proto.Entries))}
	for i, e := range proto.Entries {
		var id ID
		copy(id[:], e.ID)
		t.Entries[i] = TreeEntry{Name: e.Name, Value: TreeValue{Kind: Kind(e.Kind), ID: id, Executable: e.Executable}}
	}
	return t, nil
}

// WriteTree stores a tree. Entries are sorted by name; absent entries are dropped.
func (s *Local) WriteTree(ctx context.Context, dir repopath.Path, t *Tree) (ID, error) {
	if err := ctx.Err(); err != nil {
		return ID{}, err
	}
	entries := make([]TreeEntry, 0, len(t.Entries))
	for _, e := range t.Entries {
		if e.Value.IsPresent() {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b TreeEntry) int { return strings.Compare(a.Name, b.Name) })
	sorted := &Tree{Entries: entries}

	data, err := encodeTree(sorted)
	if err != nil {
		return ID{}, &ObjectError{Op: "encode tree", Path: dir, Err: err}
	}
	id := plumbing.ComputeHash(plumbing.TreeObject, data)
	if err := s.writeObject(id, data); err != nil {
		return ID{}, &ObjectError{Op: "write tree", Path: dir, ID: id, Err: err}
	}
	s.trees.Store(id.String(), sorted)
	return id, nil
}

// ReadTree loads a tree. The returned tree must not be modified.
func (s *Local) ReadTree(ctx context.Context, dir repopath.Path, id ID) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == s.emptyTreeID {
		return &Tree{}, nil
	}
	if t, ok := s.trees.Load(id.String()); ok {
		return t, nil
	}
	data, err := s.readObject(id)
	if err != nil {
		return nil, &ObjectError{Op: "read tree", Path: dir, ID: id, Err: err}
	}
	t, err := decodeTree(data)
	if err != nil {
		return nil, &ObjectError{Op: "decode tree", Path: dir, ID: id, Err: err}
	}
	s.trees.Store(id.String(), t)
	return t, nil
}
