package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/amankb/internal/scanner"
)

// source is the watched notes source: one file or a directory tree.
type source struct {
	abs   string
	isDir bool
}

func newSource(path string) (source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return source{}, fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return source{}, fmt.Errorf("stat notes source: %w", err)
	}
	return source{abs: abs, isDir: info.IsDir()}, nil
}

// key maps an absolute event path to the event key. ok is false for paths
// outside the source, in hidden directories, or, for directory sources,
// files that are not notes. Directories pass so their removal is seen.
func (s source) key(name string, isDir bool) (string, bool) {
	name = filepath.Clean(name)
	if !s.isDir {
		if name != s.abs {
			return "", false
		}
		return filepath.Base(name), true
	}

	rel, err := filepath.Rel(s.abs, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	if !isDir && !scanner.IsNoteFile(rel) && filepath.Ext(rel) != "" {
		return "", false
	}
	return rel, true
}

// fileSnapshot is the state polling compares between ticks.
type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// snapshot records the current state of every relevant file.
func (s source) snapshot() (map[string]fileSnapshot, error) {
	state := make(map[string]fileSnapshot)
	if !s.isDir {
		info, err := os.Stat(s.abs)
		if err != nil {
			if os.IsNotExist(err) {
				return state, nil
			}
			return nil, err
		}
		state[filepath.Base(s.abs)] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return state, nil
	}

	err := filepath.WalkDir(s.abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}
		if path == s.abs {
			return nil
		}
		key, ok := s.key(path, d.IsDir())
		if !ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !scanner.IsNoteFile(key) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[key] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk notes directory: %w", err)
	}
	return state, nil
}

// diffSnapshots returns the events that turn prev into curr.
func diffSnapshots(prev, curr map[string]fileSnapshot, now time.Time) []FileEvent {
	var events []FileEvent
	for key, snap := range curr {
		old, exists := prev[key]
		switch {
		case !exists:
			events = append(events, FileEvent{Path: key, Operation: OpCreate, Timestamp: now})
		case !old.modTime.Equal(snap.modTime) || old.size != snap.size:
			events = append(events, FileEvent{Path: key, Operation: OpModify, Timestamp: now})
		}
	}
	for key := range prev {
		if _, exists := curr[key]; !exists {
			events = append(events, FileEvent{Path: key, Operation: OpDelete, Timestamp: now})
		}
	}
	return events
}
