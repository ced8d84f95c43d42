// Package scanner discovers markdown notes in a directory tree, such as a
// notes vault, and converts them into notes for reconciliation.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amankb/internal/chunk"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// DefaultMaxFileSize is the default maximum note file size (1MB).
const DefaultMaxFileSize = 1 << 20

// noteExtensions are the file extensions treated as notes.
var noteExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// Options configures the scanner.
type Options struct {
	// Exclude lists doublestar glob patterns matched against the
	// slash-separated relative path and the base name. "dir/**" excludes a
	// whole subtree.
	Exclude []string

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// Workers bounds concurrent file parsing (0 = NumCPU).
	Workers int
}

// Scanner reads markdown notes from disk.
type Scanner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scanner{opts: opts, logger: slog.Default()}
}

// IsNoteFile reports whether name has a note extension.
func IsNoteFile(name string) bool {
	return noteExtensions[strings.ToLower(filepath.Ext(name))]
}

// Scan returns every note under root, ordered by relative path. Hidden
// directories are skipped. An unreadable or malformed note fails the whole
// scan: a partial note set would delete the missing notes from the index.
func (s *Scanner) Scan(ctx context.Context, root string) ([]chunk.Note, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFileNotFound,
			fmt.Sprintf("notes directory not found: %s", root), err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	files, err := s.discover(ctx, absRoot)
	if err != nil {
		return nil, err
	}

	notes := make([]chunk.Note, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(absRoot, rel))
			if err != nil {
				return amerrors.New(amerrors.ErrCodeFilePermission,
					fmt.Sprintf("cannot read note: %s", rel), err)
			}
			note, err := ParseNote(rel, data)
			if err != nil {
				return err
			}
			notes[i] = note
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("notes_scanned",
		slog.String("root", absRoot),
		slog.Int("notes", len(notes)))
	return notes, nil
}

// discover walks absRoot and returns the relative paths of note files.
// WalkDir visits entries in lexical order, so the result is sorted.
func (s *Scanner) discover(ctx context.Context, absRoot string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsNoteFile(d.Name()) || s.excluded(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > s.opts.MaxFileSize {
			s.logger.Warn("note_skipped_too_large",
				slog.String("path", rel),
				slog.Int64("size", info.Size()),
				slog.Int64("max_size", s.opts.MaxFileSize))
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan notes directory: %w", err)
	}
	return files, nil
}

// excluded checks rel against the exclude patterns.
func (s *Scanner) excluded(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range s.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
