package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// DatabaseFile is the store file name inside the data directory.
const DatabaseFile = "amankb.db"

const (
	storeSchemaVersion = 1
	// deleteBatch bounds the number of ids bound in one DELETE statement.
	deleteBatch = 500
)

// SQLiteStore implements Store on SQLite. Records and metadata live in the
// database; each collection's vector index is rebuilt in memory from the
// database whenever the collection's write generation moves, which also
// picks up writes made by other processes.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	indexes map[string]*annIndex
	closed  bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path. An empty path gives
// an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, amerrors.StorageError("failed to create data directory", err).
				WithDetail("path", filepath.Dir(path))
		}
		if err := checkIntegrity(path); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("store at %s failed its integrity check", path), err).
				WithDetail("path", path).
				WithSuggestion("Restore the file from backup or delete it and reindex every collection")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amerrors.StorageError("failed to open database", err)
	}

	// One connection: required for :memory: and keeps a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, amerrors.StorageError("failed to set pragma", err).WithDetail("pragma", p)
		}
	}

	s := &SQLiteStore{db: db, path: path, indexes: make(map[string]*annIndex)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, amerrors.StorageError("failed to initialize schema", err)
	}
	return s, nil
}

// checkIntegrity runs a quick check on an existing database file.
func checkIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS collections (
		name       TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS collection_metadata (
		collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		collection   TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
		id           TEXT NOT NULL,
		note_id      TEXT NOT NULL,
		chunk_index  INTEGER NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		text         TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		dims         INTEGER NOT NULL,
		vector       BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	);

	-- chunk 0 lookups drive change detection
	CREATE INDEX IF NOT EXISTS idx_chunks_index ON chunks(collection, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_note ON chunks(collection, note_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", storeSchemaVersion)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return amerrors.StorageError("store is closed", nil)
	}
	return nil
}

// Get returns records matching f.
func (s *SQLiteStore) Get(ctx context.Context, collection string, f Filter) ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	cols := "id, note_id, chunk_index, content_hash"
	if f.WithText {
		cols += ", title, text"
	}
	if f.WithVectors {
		cols += ", vector"
	}

	var (
		where = []string{"collection = ?"}
		args  = []any{collection}
	)
	if f.ChunkIndex != nil {
		where = append(where, "chunk_index = ?")
		args = append(args, *f.ChunkIndex)
	}
	if len(f.NoteIDs) > 0 {
		where = append(where, "note_id IN ("+placeholders(len(f.NoteIDs))+")")
		for _, id := range f.NoteIDs {
			args = append(args, id)
		}
	}

	query := "SELECT " + cols + " FROM chunks WHERE " + strings.Join(where, " AND ") +
		" ORDER BY note_id, chunk_index"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, amerrors.StorageError("failed to query chunks", err).WithDetail("collection", collection)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			blob []byte
			dest = []any{&r.ID, &r.NoteID, &r.ChunkIndex, &r.ContentHash}
		)
		if f.WithText {
			dest = append(dest, &r.Title, &r.Text)
		}
		if f.WithVectors {
			dest = append(dest, &blob)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, amerrors.StorageError("failed to scan chunk", err)
		}
		if f.WithVectors {
			if r.Vector, err = decodeVector(blob); err != nil {
				return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "corrupt vector for chunk "+r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.StorageError("failed to read chunks", err)
	}
	return out, nil
}

// ChunkIDsByNote maps note ids to their chunk ids in one query.
func (s *SQLiteStore) ChunkIDsByNote(ctx context.Context, collection string) (map[string][]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT note_id, id FROM chunks WHERE collection = ? ORDER BY note_id, chunk_index", collection)
	if err != nil {
		return nil, amerrors.StorageError("failed to query chunk ids", err).WithDetail("collection", collection)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var noteID, id string
		if err := rows.Scan(&noteID, &id); err != nil {
			return nil, amerrors.StorageError("failed to scan chunk id", err)
		}
		out[noteID] = append(out[noteID], id)
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.StorageError("failed to read chunk ids", err)
	}
	return out, nil
}

// Count returns the number of records in collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, amerrors.StorageError("failed to count chunks", err).WithDetail("collection", collection)
	}
	return n, nil
}

// Upsert inserts or replaces records in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withTx(ctx, collection, func(tx *sql.Tx) error {
		var dims int
		err := tx.QueryRowContext(ctx,
			"SELECT dims FROM chunks WHERE collection = ? LIMIT 1", collection).Scan(&dims)
		if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
			return err
		}
		if dims == 0 {
			dims = len(records[0].Vector)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (collection, id, note_id, chunk_index, title, text, content_hash, dims, vector)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				note_id = excluded.note_id,
				chunk_index = excluded.chunk_index,
				title = excluded.title,
				text = excluded.text,
				content_hash = excluded.content_hash,
				dims = excluded.dims,
				vector = excluded.vector`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range records {
			if len(r.Vector) == 0 {
				return amerrors.ValidationError("record "+r.ID+" has no vector", nil)
			}
			if len(r.Vector) != dims {
				return ErrDimensionMismatch{Collection: collection, Expected: dims, Got: len(r.Vector)}
			}
			if _, err := stmt.ExecContext(ctx, collection, r.ID, r.NoteID, r.ChunkIndex,
				r.Title, r.Text, r.ContentHash, len(r.Vector), encodeVector(r.Vector)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes records by id.
func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withTx(ctx, collection, func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += deleteBatch {
			batch := ids[start:min(start+deleteBatch, len(ids))]
			args := make([]any, 0, len(batch)+1)
			args = append(args, collection)
			for _, id := range batch {
				args = append(args, id)
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM chunks WHERE collection = ? AND id IN ("+placeholders(len(batch))+")",
				args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCollectionMetadata returns the collection's metadata.
func (s *SQLiteStore) GetCollectionMetadata(ctx context.Context, collection string) (map[string]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM collection_metadata WHERE collection = ?", collection)
	if err != nil {
		return nil, amerrors.StorageError("failed to read metadata", err).WithDetail("collection", collection)
	}
	defer func() { _ = rows.Close() }()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, amerrors.StorageError("failed to scan metadata", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.StorageError("failed to read metadata", err)
	}
	return meta, nil
}

// SetCollectionMetadata merges kv into the collection's metadata.
func (s *SQLiteStore) SetCollectionMetadata(ctx context.Context, collection string, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return amerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureCollection(ctx, tx, collection); err != nil {
		return amerrors.StorageError("failed to create collection", err).WithDetail("collection", collection)
	}
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collection_metadata (collection, key, value) VALUES (?, ?, ?)
			ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value`,
			collection, k, v); err != nil {
			return amerrors.StorageError("failed to write metadata", err).WithDetail("key", k)
		}
	}
	if err := tx.Commit(); err != nil {
		return amerrors.StorageError("failed to commit metadata", err)
	}
	return nil
}

// Search returns the k nearest records to vector.
func (s *SQLiteStore) Search(ctx context.Context, collection string, vector []float32, k int) ([]SearchResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	idx, err := s.annIndexFor(ctx, collection)
	if err != nil {
		return nil, err
	}
	if idx.dims > 0 && len(vector) != idx.dims {
		return nil, ErrDimensionMismatch{Collection: collection, Expected: idx.dims, Got: len(vector)}
	}

	hits := idx.search(vector, k)
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]any, 0, len(hits)+1)
	ids = append(ids, collection)
	for _, h := range hits {
		ids = append(ids, h.id)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, note_id, chunk_index, title, text, content_hash FROM chunks WHERE collection = ? AND id IN ("+
			placeholders(len(hits))+")", ids...)
	if err != nil {
		return nil, amerrors.StorageError("failed to load search hits", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]Record, len(hits))
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.NoteID, &r.ChunkIndex, &r.Title, &r.Text, &r.ContentHash); err != nil {
			return nil, amerrors.StorageError("failed to scan search hit", err)
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.StorageError("failed to read search hits", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		// A concurrent delete can remove a hit between index and load.
		if r, ok := byID[h.id]; ok {
			results = append(results, SearchResult{Record: r, Score: h.score})
		}
	}
	return results, nil
}

// annIndexFor returns the vector index for collection, rebuilding it when
// the stored generation differs from the cached one.
func (s *SQLiteStore) annIndexFor(ctx context.Context, collection string) (*annIndex, error) {
	var generation int64
	err := s.db.QueryRowContext(ctx,
		"SELECT generation FROM collections WHERE name = ?", collection).Scan(&generation)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, amerrors.New(amerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q does not exist", collection), nil).
			WithDetail("collection", collection).
			WithSuggestion("Run 'amankb collections' to list collections")
	}
	if err != nil {
		return nil, amerrors.StorageError("failed to read collection", err)
	}

	s.mu.Lock()
	cached, ok := s.indexes[collection]
	s.mu.Unlock()
	if ok && cached.generation == generation {
		return cached, nil
	}

	start := time.Now()
	records, err := s.Get(ctx, collection, Filter{WithVectors: true})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.ID
		vectors[i] = r.Vector
	}
	idx := buildANNIndex(generation, ids, vectors)

	s.mu.Lock()
	s.indexes[collection] = idx
	s.mu.Unlock()

	slog.Debug("vector_index_built",
		slog.String("collection", collection),
		slog.Int("vectors", len(ids)),
		slog.Bool("hnsw", idx.graph != nil),
		slog.Duration("duration", time.Since(start)))
	return idx, nil
}

// ListCollections returns every collection name.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, amerrors.StorageError("failed to list collections", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, amerrors.StorageError("failed to scan collection", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Info summarizes a collection.
func (s *SQLiteStore) Info(ctx context.Context, collection string) (*CollectionInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	info := &CollectionInfo{Name: collection}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN chunk_index = 0 THEN 1 ELSE 0 END), 0)
		FROM chunks WHERE collection = ?`, collection).Scan(&info.Chunks, &info.Notes)
	if err != nil {
		return nil, amerrors.StorageError("failed to summarize collection", err)
	}
	if info.Metadata, err = s.GetCollectionMetadata(ctx, collection); err != nil {
		return nil, err
	}
	return info, nil
}

// DeleteCollection removes the collection and everything in it.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collection); err != nil {
		return amerrors.StorageError("failed to delete collection", err).WithDetail("collection", collection)
	}
	s.mu.Lock()
	delete(s.indexes, collection)
	s.mu.Unlock()
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.indexes = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path, empty for in-memory stores.
func (s *SQLiteStore) Path() string {
	return s.path
}

// withTx runs fn in a transaction that also creates the collection and
// advances its generation.
func (s *SQLiteStore) withTx(ctx context.Context, collection string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return amerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureCollection(ctx, tx, collection); err != nil {
		return amerrors.StorageError("failed to create collection", err).WithDetail("collection", collection)
	}
	if err := fn(tx); err != nil {
		var dm ErrDimensionMismatch
		if _, ok := amerrors.As(err); ok || stderrors.As(err, &dm) {
			return err
		}
		return amerrors.StorageError("failed to write chunks", err).WithDetail("collection", collection)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE collections SET generation = generation + 1 WHERE name = ?", collection); err != nil {
		return amerrors.StorageError("failed to bump generation", err)
	}
	if err := tx.Commit(); err != nil {
		return amerrors.StorageError("failed to commit", err).WithDetail("collection", collection)
	}
	return nil
}

func ensureCollection(ctx context.Context, tx *sql.Tx, collection string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)",
		collection, time.Now().UTC().Format(time.RFC3339))
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
