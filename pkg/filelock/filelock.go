// Package filelock guards the working copy against concurrent mutation.
//
// The lock is an advisory OS file lock, so it is released by the kernel when
// the holder dies and never goes stale. The holder's PID is written into the
// lock file only to explain contention to the user.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
)

// LockContent defines the structure of the data written to the lock file.
type LockContent struct {
	PID      int64     `json:"pid"`
	Acquired time.Time `json:"acquired"`
	AppID    string    `json:"app_id"`
}

// ErrLockActive is a structured error returned when a lock is already held by another process.
type ErrLockActive struct {
	Path  string
	PID   int64
	AppID string
	// TimeSince is zero when the holder's content could not be read.
	TimeSince time.Duration
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("lock %s is held by another process", e.Path)
	}
	// Truncate for cleaner output, e.g., "3m2s" instead of "3m2.123456789s"
	return fmt.Sprintf("lock %s is held by PID %d (App: %s), acquired %s ago", e.Path, e.PID, e.AppID, e.TimeSince.Truncate(time.Second))
}

// Lock is a held file lock.
type Lock struct {
	path string
	fl   *flock.Flock
	mu   sync.Mutex
	// We keep track if we actually hold the lock to prevent double release
	held bool
}

const (
	lockFileMode = 0644
	// retryDelay is how long Acquire waits between attempts.
	retryDelay = 50 * time.Millisecond
)

// Acquire waits until the lock at path is free and takes it. When ctx ends
// first, the error is an *ErrLockActive describing the holder.
func Acquire(ctx context.Context, path string, appID string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if !locked {
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}
		return nil, activeError(path)
	}
	return newLock(path, appID, fl), nil
}

// TryAcquire takes the lock at path if it is free and fails with an
// *ErrLockActive otherwise.
func TryAcquire(path string, appID string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to access lock file: %w", err)
	}
	if !locked {
		return nil, activeError(path)
	}
	return newLock(path, appID, fl), nil
}

func newLock(path, appID string, fl *flock.Flock) *Lock {
	l := &Lock{path: path, fl: fl, held: true}
	// The content is informational; the OS lock is what counts.
	if err := l.updateContent(appID); err != nil {
		plog.Warn("Failed to write lock file content", "path", path, "error", err)
	}
	plog.Debug("Lock acquired", "path", path)
	return l
}

func activeError(path string) error {
	lockErr := &ErrLockActive{Path: path}
	if content, err := readLockContentSafely(path); err == nil {
		lockErr.PID = content.PID
		lockErr.AppID = content.AppID
		lockErr.TimeSince = time.Since(content.Acquired)
	}
	return lockErr
}

// Release clears the content and unlocks. The file itself stays in place;
// removing it would let a waiter lock an unlinked inode.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	if err := os.Truncate(l.path, 0); err != nil {
		plog.Warn("Failed to clear lock file", "path", l.path, "error", err)
	}
	if err := l.fl.Unlock(); err != nil {
		plog.Warn("Failed to unlock lock file", "path", l.path, "error", err)
	} else {
		plog.Debug("Lock released", "path", l.path)
	}
	l.held = false
}

// updateContent writes the holder's details into the lock file.
func (l *Lock) updateContent(appID string) error {
	content := LockContent{
		PID:      int64(os.Getpid()),
		Acquired: time.Now(),
		AppID:    appID,
	}

	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}

	// os.WriteFile opens with O_WRONLY|O_CREATE|O_TRUNC
	return os.WriteFile(l.path, data, lockFileMode)
}

// readLockContentSafely attempts to read the lock file, handling the race condition
// where the holder has locked the file but not written its content yet.
func readLockContentSafely(path string) (LockContent, error) {
	var lastErr error

	for i := 0; i < 3; i++ {
		f, err := os.Open(path)
		if err != nil {
			return LockContent{}, err
		}

		data, err := io.ReadAll(f)
		f.Close() // Close explicitly before potential sleep
		if err != nil {
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		var content LockContent
		if err := json.Unmarshal(data, &content); err != nil {
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}

		return content, nil
	}

	return LockContent{}, fmt.Errorf("failed to read valid lock content: %w", lastErr)
}
