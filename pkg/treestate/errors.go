package treestate

import (
	"errors"
	"fmt"

	"github.com/paulschiretz/pgl-workingcopy/pkg/pathguard"
)

// ErrConcurrentCheckout is returned when the working copy was checked out by
// another process between loading and checking out.
var ErrConcurrentCheckout = errors.New("concurrent checkout")

// SnapshotErrorKind classifies a SnapshotError.
type SnapshotErrorKind int

const (
	SnapshotIo SnapshotErrorKind = iota
	SnapshotInvalidUtf8Path
	SnapshotInvalidUtf8SymlinkTarget
	SnapshotFsmonitor
	SnapshotStore
	SnapshotOther
)

var snapshotErrorKindToString = map[SnapshotErrorKind]string{
	SnapshotIo:                       "io",
	SnapshotInvalidUtf8Path:          "invalid utf-8 path",
	SnapshotInvalidUtf8SymlinkTarget: "invalid utf-8 symlink target",
	SnapshotFsmonitor:                "fsmonitor",
	SnapshotStore:                    "store",
	SnapshotOther:                    "other",
}

func (k SnapshotErrorKind) String() string {
	if s, ok := snapshotErrorKindToString[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown_kind(%d)", k)
}

// SnapshotError aborts a snapshot. There is no partial result.
type SnapshotError struct {
	Kind    SnapshotErrorKind
	Message string
	// Path is the disk path involved, if any.
	Path string
	Err  error
}

func (e *SnapshotError) Error() string {
	switch e.Kind {
	case SnapshotInvalidUtf8Path:
		return fmt.Sprintf("invalid UTF-8 for path %q", e.Path)
	case SnapshotInvalidUtf8SymlinkTarget:
		return fmt.Sprintf("symlink %s target is not valid UTF-8", e.Path)
	}
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// CheckoutErrorKind classifies a CheckoutError.
type CheckoutErrorKind int

const (
	CheckoutReservedPathComponent CheckoutErrorKind = iota
	CheckoutIo
	CheckoutStore
	CheckoutStat
	CheckoutOther
)

// CheckoutError aborts a checkout. Files written before the error stay on disk.
type CheckoutError struct {
	Kind    CheckoutErrorKind
	Message string
	Err     error
}

func (e *CheckoutError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// checkoutErr classifies err, keeping reserved path errors recognizable.
func checkoutErr(kind CheckoutErrorKind, message string, err error) *CheckoutError {
	var reserved *pathguard.ReservedPathComponentError
	if errors.As(err, &reserved) {
		kind = CheckoutReservedPathComponent
	}
	return &CheckoutError{Kind: kind, Message: message, Err: err}
}

// ResetError aborts a reset or recover.
type ResetError struct {
	Message string
	Err     error
}

func (e *ResetError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ResetError) Unwrap() error { return e.Err }

// TreeStateErrorKind classifies a TreeStateError.
type TreeStateErrorKind int

const (
	TreeStateRead TreeStateErrorKind = iota
	TreeStateDecode
	TreeStateWrite
	TreeStatePersist
	TreeStateFsmonitor
)

var treeStateErrorKindToString = map[TreeStateErrorKind]string{
	TreeStateRead:      "read",
	TreeStateDecode:    "decode",
	TreeStateWrite:     "write",
	TreeStatePersist:   "persist",
	TreeStateFsmonitor: "query fsmonitor for",
}

// TreeStateError reports a failure to load or save the persisted tree state.
// It is fatal to the caller; Recover is the way out.
type TreeStateError struct {
	Kind TreeStateErrorKind
	Path string
	Err  error
}

func (e *TreeStateError) Error() string {
	return fmt.Sprintf("failed to %s tree state %s: %v", treeStateErrorKindToString[e.Kind], e.Path, e.Err)
}

func (e *TreeStateError) Unwrap() error { return e.Err }
