// Package store persists chunk records, their vectors and per-collection
// metadata, and answers nearest-neighbour queries.
package store

import (
	"context"
	"fmt"
	"regexp"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// Record is one stored chunk.
type Record struct {
	ID          string
	NoteID      string
	ChunkIndex  int
	Title       string
	Text        string
	ContentHash string // set on chunk 0 only
	Vector      []float32
}

// Filter selects records for Get. Zero value selects every record with ids,
// note ids, chunk indices and content hashes only.
type Filter struct {
	// ChunkIndex restricts to one chunk position when non-nil.
	ChunkIndex *int
	// NoteIDs restricts to the given notes when non-empty.
	NoteIDs []string
	// WithText includes Title and Text.
	WithText bool
	// WithVectors includes Vector.
	WithVectors bool
}

// FirstChunks selects chunk 0 of every note, the only chunk that carries a
// content hash.
func FirstChunks() Filter {
	zero := 0
	return Filter{ChunkIndex: &zero}
}

// SearchResult is one nearest-neighbour hit.
type SearchResult struct {
	Record
	// Score is cosine similarity mapped to [0, 1]; higher is closer.
	Score float32
}

// CollectionInfo summarizes a collection for listings.
type CollectionInfo struct {
	Name     string
	Chunks   int
	Notes    int
	Metadata map[string]string
}

// Store is the persistence contract the indexer and searcher depend on.
// Collections exist implicitly once they hold records or metadata.
type Store interface {
	// Get returns records matching f ordered by note id then chunk index.
	Get(ctx context.Context, collection string, f Filter) ([]Record, error)

	// ChunkIDsByNote maps every note id to all of its chunk ids.
	ChunkIDsByNote(ctx context.Context, collection string) (map[string][]string, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Upsert inserts or replaces records. Every vector in a collection must
	// have the same length.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Delete removes records by id. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// GetCollectionMetadata returns the metadata map, empty for a collection
	// that does not exist yet.
	GetCollectionMetadata(ctx context.Context, collection string) (map[string]string, error)

	// SetCollectionMetadata merges kv into the metadata in one write.
	SetCollectionMetadata(ctx context.Context, collection string, kv map[string]string) error

	// Search returns the k records nearest to vector.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]SearchResult, error)

	// ListCollections returns collection names in order.
	ListCollections(ctx context.Context) ([]string, error)

	// Info summarizes one collection.
	Info(ctx context.Context, collection string) (*CollectionInfo, error)

	// DeleteCollection removes a collection with its records and metadata.
	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateCollectionName rejects names that are unsafe as file names.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return amerrors.ValidationError(fmt.Sprintf("invalid collection name %q", name), nil).
			WithSuggestion("Use letters, digits, '.', '_' or '-', starting with a letter or digit")
	}
	return nil
}

// ErrDimensionMismatch is returned when a vector's length differs from the
// collection's.
type ErrDimensionMismatch struct {
	Collection string
	Expected   int
	Got        int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("collection %q: vector dimension mismatch: expected %d, got %d",
		e.Collection, e.Expected, e.Got)
}
