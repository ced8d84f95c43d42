package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Aman-CERP/amankb/internal/chunk"
	"github.com/Aman-CERP/amankb/internal/credential"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/provider"
	"github.com/Aman-CERP/amankb/internal/store"
)

// Contract is the embedding setup a collection was built with, read back
// from its metadata. Queries must be embedded with exactly this setup.
type Contract struct {
	Collection    string
	SchemaVersion string
	Provider      provider.Config
	Dimension     int
	ChunkSize     int
	Description   string
	LastUpdatedAt time.Time
}

// Signature returns the signature the collection was built with.
func (c *Contract) Signature() Signature {
	return Signature{
		EmbeddingModel:    c.Provider.EmbeddingModel,
		EmbeddingProvider: c.Provider.Provider,
		ChunkSize:         c.ChunkSize,
	}
}

// providerMetadata renders the provider identity and probed dimension.
// Only the credential reference is recorded.
func providerMetadata(av provider.Availability, info provider.Info) map[string]string {
	return map[string]string{
		MetaEmbeddingProvider:    info.Provider,
		MetaEmbeddingModel:       info.EmbeddingModel,
		MetaEmbeddingDimension:   strconv.Itoa(av.Dimension),
		MetaEmbeddingEndpointRef: info.Endpoint,
		MetaEmbeddingAPIKeyRef:   info.APIKeyRef.String(),
		MetaCompletionModel:      info.CompletionModel,
		MetaHashAlgorithm:        chunk.HashAlgorithm,
	}
}

// WriteProviderMetadata stamps the provider identity and the dimension
// observed by a live availability probe onto the collection.
func WriteProviderMetadata(ctx context.Context, s store.Store, collection string, av provider.Availability, info provider.Info) error {
	if !av.Available || av.Dimension <= 0 {
		return amerrors.ProviderUnavailable(info.Provider, info.EmbeddingModel, av.Err)
	}
	return s.SetCollectionMetadata(ctx, collection, providerMetadata(av, info))
}

// ReadContract loads and validates a collection's embedding contract.
func ReadContract(ctx context.Context, s store.Store, collection string) (*Contract, error) {
	meta, err := s.GetCollectionMetadata(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		n, err := s.Count(ctx, collection)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, amerrors.New(amerrors.ErrCodeCollectionNotFound,
				fmt.Sprintf("collection %q does not exist", collection), nil).
				WithDetail("collection", collection).
				WithSuggestion("Run 'amankb index " + collection + " --notes <file>' first")
		}
	}
	return contractFromMetadata(collection, meta)
}

func contractFromMetadata(collection string, meta map[string]string) (*Contract, error) {
	if meta[MetaSchemaVersion] == "" {
		return nil, amerrors.UnversionedCollection(collection)
	}
	for _, key := range []string{MetaEmbeddingProvider, MetaEmbeddingModel, MetaEmbeddingDimension} {
		if meta[key] == "" {
			return nil, amerrors.UnversionedCollection(collection).WithDetail("missing_key", key)
		}
	}
	dim, err := strconv.Atoi(meta[MetaEmbeddingDimension])
	if err != nil || dim <= 0 {
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("collection %q has invalid %s %q", collection, MetaEmbeddingDimension, meta[MetaEmbeddingDimension]), err).
			WithDetail("collection", collection)
	}
	chunkSize, _ := strconv.Atoi(meta[MetaChunkSize])
	updated, _ := time.Parse(time.RFC3339, meta[MetaLastUpdatedAt])

	return &Contract{
		Collection:    collection,
		SchemaVersion: meta[MetaSchemaVersion],
		Provider: provider.Config{
			Provider:        meta[MetaEmbeddingProvider],
			EmbeddingModel:  meta[MetaEmbeddingModel],
			CompletionModel: meta[MetaCompletionModel],
			Endpoint:        meta[MetaEmbeddingEndpointRef],
			APIKeyRef:       credential.Ref(meta[MetaEmbeddingAPIKeyRef]),
			Dimensions:      dim,
		},
		Dimension:     dim,
		ChunkSize:     chunkSize,
		Description:   meta[MetaDescription],
		LastUpdatedAt: updated,
	}, nil
}

// ReconstructProvider returns the provider configuration recorded on the
// collection. It never consults the caller's current configuration.
func ReconstructProvider(ctx context.Context, s store.Store, collection string) (provider.Config, error) {
	c, err := ReadContract(ctx, s, collection)
	if err != nil {
		return provider.Config{}, err
	}
	return c.Provider, nil
}

// ValidateQueryDimension fails when a query vector cannot be compared with
// the collection's vectors.
func ValidateQueryDimension(vec []float32, c *Contract) error {
	if len(vec) != c.Dimension {
		return amerrors.DimensionMismatch(c.Collection, c.Provider.EmbeddingModel, len(vec), c.Dimension)
	}
	return nil
}

// IssueType categorizes a stored-record violation.
type IssueType int

const (
	// IssueMissingFirstChunk is a note whose chunk 0 is absent.
	IssueMissingFirstChunk IssueType = iota
	// IssueMissingHash is a chunk 0 without a content hash.
	IssueMissingHash
	// IssueStrayHash is a chunk other than 0 carrying a content hash.
	IssueStrayHash
	// IssueIndexGap is a note whose chunk indices are not 0..n-1.
	IssueIndexGap
	// IssueDimension is a vector whose length differs from the recorded one.
	IssueDimension
	// IssueBadID is a chunk whose id does not match its note and index.
	IssueBadID
)

// String returns the issue name.
func (t IssueType) String() string {
	switch t {
	case IssueMissingFirstChunk:
		return "missing_first_chunk"
	case IssueMissingHash:
		return "missing_hash"
	case IssueStrayHash:
		return "stray_hash"
	case IssueIndexGap:
		return "index_gap"
	case IssueDimension:
		return "dimension"
	case IssueBadID:
		return "bad_id"
	default:
		return "unknown"
	}
}

// Issue is one violation found by CheckCollection.
type Issue struct {
	Type    IssueType
	NoteID  string
	ChunkID string
	Details string
}

// CheckResult is the outcome of CheckCollection.
type CheckResult struct {
	Contract *Contract
	Notes    int
	Checked  int
	Issues   []Issue
	Duration time.Duration
}

// OK reports whether no issue was found.
func (r *CheckResult) OK() bool {
	return len(r.Issues) == 0
}

// CheckCollection verifies every stored record against the collection's
// contract: one hashed chunk 0 per note, contiguous indices, well-formed ids
// and vectors of the recorded dimension.
func CheckCollection(ctx context.Context, s store.Store, collection string) (*CheckResult, error) {
	start := time.Now()

	contract, err := ReadContract(ctx, s, collection)
	if err != nil {
		return nil, err
	}
	records, err := s.Get(ctx, collection, store.Filter{WithVectors: true})
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Contract: contract, Checked: len(records)}
	byNote := make(map[string][]store.Record)
	var order []string
	for _, r := range records {
		if _, seen := byNote[r.NoteID]; !seen {
			order = append(order, r.NoteID)
		}
		byNote[r.NoteID] = append(byNote[r.NoteID], r)
	}
	result.Notes = len(order)

	issue := func(t IssueType, r store.Record, format string, args ...any) {
		result.Issues = append(result.Issues, Issue{
			Type:    t,
			NoteID:  r.NoteID,
			ChunkID: r.ID,
			Details: fmt.Sprintf(format, args...),
		})
	}

	for _, noteID := range order {
		// Records arrive ordered by chunk index within a note.
		recs := byNote[noteID]
		if recs[0].ChunkIndex != 0 {
			issue(IssueMissingFirstChunk, recs[0], "lowest chunk index is %d", recs[0].ChunkIndex)
		}
		for i, r := range recs {
			if r.ChunkIndex != i && recs[0].ChunkIndex == 0 {
				issue(IssueIndexGap, r, "expected chunk index %d, found %d", i, r.ChunkIndex)
				break
			}
		}
		for _, r := range recs {
			switch {
			case r.ChunkIndex == 0 && r.ContentHash == "":
				issue(IssueMissingHash, r, "chunk 0 has no content hash")
			case r.ChunkIndex != 0 && r.ContentHash != "":
				issue(IssueStrayHash, r, "chunk %d carries a content hash", r.ChunkIndex)
			}
			if want := chunk.ChunkID(r.NoteID, r.ChunkIndex); r.ID != want {
				issue(IssueBadID, r, "expected id %s", want)
			}
			if len(r.Vector) != contract.Dimension {
				issue(IssueDimension, r, "vector has dimension %d, collection records %d", len(r.Vector), contract.Dimension)
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Repair deletes every chunk of each note named in issues. The next
// reconcile sees those notes as new and re-embeds them. It returns the number
// of chunks deleted.
func Repair(ctx context.Context, s store.Store, collection string, issues []Issue) (int, error) {
	if len(issues) == 0 {
		return 0, nil
	}
	byNote, err := s.ChunkIDsByNote(ctx, collection)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, is := range issues {
		if seen[is.NoteID] {
			continue
		}
		seen[is.NoteID] = true
		ids = append(ids, byNote[is.NoteID]...)
	}
	if err := s.Delete(ctx, collection, ids); err != nil {
		return 0, err
	}

	slog.Info("collection_repaired",
		slog.String("collection", collection),
		slog.Int("notes", len(seen)),
		slog.Int("chunks_deleted", len(ids)))
	return len(ids), nil
}
