package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch modes reported by Mode.
const (
	ModeFsnotify = "fsnotify"
	ModePolling  = "polling"
)

// Watcher watches a notes source and emits debounced batches of changes.
type Watcher struct {
	src       source
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}
	mu        sync.RWMutex
	mode      string
	stopped   bool
	logger    *slog.Logger
}

// New creates a watcher for path, which must exist. It prefers fsnotify
// and falls back to polling when fsnotify cannot be initialized.
func New(path string, opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	src, err := newSource(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		src:       src,
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		mode:      ModePolling,
		logger:    slog.Default(),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsw = fsw
			w.mode = ModeFsnotify
		} else {
			w.logger.Warn("fsnotify_unavailable",
				slog.String("error", err.Error()),
				slog.String("fallback", ModePolling))
		}
	}
	return w, nil
}

// Start watches until ctx is cancelled or Stop is called. It returns nil
// after Stop and ctx.Err() after cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if w.Mode() == ModeFsnotify {
		if err := w.addWatches(); err != nil {
			w.logger.Warn("fsnotify_watch_failed",
				slog.String("path", w.src.abs),
				slog.String("error", err.Error()),
				slog.String("fallback", ModePolling))
			w.mu.Lock()
			_ = w.fsw.Close()
			w.fsw = nil
			w.mode = ModePolling
			w.mu.Unlock()
		}
	}

	w.logger.Info("watch_started",
		slog.String("path", w.src.abs),
		slog.String("mode", w.Mode()))

	var err error
	if w.Mode() == ModeFsnotify {
		err = w.runFsnotify(ctx)
	} else {
		err = poll(ctx, w.src, w.opts.PollInterval, w.stopCh, w.debouncer.Add, w.emitError)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		_ = w.Stop()
	}
	return err
}

// addWatches registers the parent directory of a file source, or every
// non-hidden directory of a directory source. Editors often save by
// writing a temp file and renaming it over the original, which only the
// parent directory sees.
func (w *Watcher) addWatches() error {
	if !w.src.isDir {
		return w.fsw.Add(filepath.Dir(w.src.abs))
	}
	return w.addTree(w.src.abs)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip directories we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.src.abs && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleFsnotifyEvent converts and filters fsnotify events.
func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	key, ok := w.src.key(event.Name, isDir)
	if !ok {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir && w.src.isDir {
			// A directory moved in may already hold notes.
			if err := w.addTree(event.Name); err != nil {
				w.emitError(fmt.Errorf("watch new directory: %w", err))
			}
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and anything else do not change note content
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      key,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// emitError sends a non-fatal error without blocking.
func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Events returns debounced batches. The channel is closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors. The channel is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Mode reports whether fsnotify or polling is in use.
func (w *Watcher) Mode() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mode
}

// Path returns the absolute path of the watched source.
func (w *Watcher) Path() string {
	return w.src.abs
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	close(w.errors)
	return nil
}
