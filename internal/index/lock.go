package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// FileLock is a cross-process lock on a single file, held by at most one
// writer of a collection at a time.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock for collection at <dir>/<collection>.lock.
func NewFileLock(dir, collection string) *FileLock {
	path := filepath.Join(dir, collection+".lock")
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// writerLocks serializes writers of one collection inside this process,
// including when no lock directory is configured.
type writerLocks struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func (w *writerLocks) get(collection string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.byKey == nil {
		w.byKey = make(map[string]*sync.Mutex)
	}
	m, ok := w.byKey[collection]
	if !ok {
		m = &sync.Mutex{}
		w.byKey[collection] = m
	}
	return m
}

// acquire takes both the in-process and the cross-process lock, failing
// fast with CollectionLocked if either is held. An empty dir skips the
// file lock.
func (w *writerLocks) acquire(dir, collection string) (release func(), err error) {
	m := w.get(collection)
	if !m.TryLock() {
		return nil, locked(collection, "another run in this process")
	}
	if dir == "" {
		return m.Unlock, nil
	}

	fl := NewFileLock(dir, collection)
	ok, err := fl.TryLock()
	if err != nil {
		m.Unlock()
		return nil, amerrors.StorageError("failed to lock collection "+collection, err)
	}
	if !ok {
		m.Unlock()
		return nil, locked(collection, "another process").WithDetail("lock_file", fl.Path())
	}
	return func() {
		_ = fl.Unlock()
		m.Unlock()
	}, nil
}

func locked(collection, holder string) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeCollectionLocked,
		fmt.Sprintf("collection %q is being updated by %s", collection, holder), nil).
		WithDetail("collection", collection).
		WithSuggestion("Wait for the other index run to finish")
}
