// Package index keeps a collection in step with a note set: it guards the
// collection's embedding contract, plans the minimal set of changes and
// applies them with per-note failure isolation.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amankb/internal/chunk"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/provider"
	"github.com/Aman-CERP/amankb/internal/store"
)

// DefaultWorkers bounds concurrent note embedding when Options.Workers is 0.
const DefaultWorkers = 4

// Options configures a Reconciler.
type Options struct {
	// Workers bounds how many notes are embedded concurrently.
	Workers int

	// LockDir holds the per-collection lock files. Empty disables
	// cross-process locking.
	LockDir string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ReconcileRequest describes one run.
type ReconcileRequest struct {
	Collection string
	Notes      []chunk.Note

	// Provider embeds the chunks. It is used as given; nothing is shared
	// between runs.
	Provider provider.Provider

	// ChunkSize is the target chunk length; 0 means chunk.DefaultChunkChars.
	ChunkSize int

	// Signature is the configured embedding setup. Zero derives it from
	// Provider.Info() and ChunkSize; a non-zero value must match them.
	Signature Signature

	// Force deletes every chunk and rebuilds the collection from Notes
	// under the current provider.
	Force bool

	// Description, when set, replaces the collection description.
	Description string

	// Progress is called after each note is applied.
	Progress func(done, total int)
}

// NoteFailure is a note that could not be applied.
type NoteFailure struct {
	NoteID string
	Title  string
	Err    error
}

// Stats summarizes a run.
type Stats struct {
	RunID          string
	Collection     string
	Added          int
	Updated        int
	Deleted        int
	Unchanged      int
	Failed         int
	ChunksEmbedded int
	Failures       []NoteFailure
	Rebuilt        bool
	Duration       time.Duration
}

// Reconciler applies note sets to collections in a store.
type Reconciler struct {
	store   store.Store
	chunker *chunk.Chunker
	workers int
	lockDir string
	logger  *slog.Logger
	locks   writerLocks
}

// NewReconciler creates a Reconciler over s.
func NewReconciler(s store.Store, opts Options) *Reconciler {
	workers := opts.Workers
	if workers <= 0 {
		workers = min(DefaultWorkers, runtime.NumCPU())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   s,
		chunker: chunk.NewChunker(),
		workers: workers,
		lockDir: opts.LockDir,
		logger:  logger,
	}
}

// Reconcile brings req.Collection in line with req.Notes. Guard failures
// return before any write or embedding call. Per-note failures are counted
// in Stats and do not fail the run.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*Stats, error) {
	if err := store.ValidateCollectionName(req.Collection); err != nil {
		return nil, err
	}
	if req.Provider == nil {
		return nil, amerrors.ConfigError("reconcile requires a provider", nil)
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = chunk.DefaultChunkChars
	}

	release, err := r.locks.acquire(r.lockDir, req.Collection)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	stats := &Stats{RunID: uuid.NewString(), Collection: req.Collection, Rebuilt: req.Force}
	log := r.logger.With(slog.String("run_id", stats.RunID), slog.String("collection", req.Collection))

	info := req.Provider.Info()
	sig := req.Signature
	if sig.IsZero() {
		sig = Signature{
			EmbeddingModel:    info.EmbeddingModel,
			EmbeddingProvider: info.Provider,
			ChunkSize:         req.ChunkSize,
		}
	} else if err := checkSignature(req.Collection, sig, info, req.ChunkSize); err != nil {
		return nil, err
	}

	meta, err := r.store.GetCollectionMetadata(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	count, err := r.store.Count(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	fresh := len(meta) == 0 && count == 0

	if !fresh && !req.Force {
		if err := checkContract(req.Collection, meta, sig); err != nil {
			return nil, err
		}
	}

	av := req.Provider.CheckAvailability(ctx)
	if !av.Available {
		return nil, amerrors.ProviderUnavailable(info.Provider, info.EmbeddingModel, av.Err)
	}
	if !fresh && !req.Force {
		if err := checkDimension(req.Collection, meta, av.Dimension); err != nil {
			return nil, err
		}
	}

	if req.Force {
		if err := r.clear(ctx, req.Collection); err != nil {
			return nil, err
		}
	}
	if fresh || req.Force {
		if err := r.stampContract(ctx, req, sig, av, info, meta); err != nil {
			return nil, err
		}
	}

	existing, chunkIDs, err := r.snapshot(ctx, req.Collection)
	if err != nil {
		return nil, err
	}

	plan := Diff(req.Notes, existing)
	stats.Unchanged = plan.Unchanged
	for _, f := range plan.Invalid {
		stats.fail(log, f)
	}

	log.Info("reconcile_started",
		slog.Int("notes", len(req.Notes)),
		slog.Int("to_add", len(plan.ToAdd)),
		slog.Int("to_update", len(plan.ToUpdate)),
		slog.Int("to_delete", len(plan.ToDelete)),
		slog.Int("unchanged", plan.Unchanged),
		slog.Bool("force", req.Force))

	r.apply(ctx, log, req, plan, chunkIDs, stats)

	if err := ctx.Err(); err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}

	stamp := map[string]string{MetaLastUpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	if req.Description != "" {
		stamp[MetaDescription] = req.Description
	}
	if err := r.store.SetCollectionMetadata(ctx, req.Collection, stamp); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	log.Info("reconcile_completed",
		slog.Int("added", stats.Added),
		slog.Int("updated", stats.Updated),
		slog.Int("deleted", stats.Deleted),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("failed", stats.Failed),
		slog.Int("chunks_embedded", stats.ChunksEmbedded),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// UpdateDescriptionOnly replaces a collection's description with one
// metadata write. No note is read and no provider is called.
func (r *Reconciler) UpdateDescriptionOnly(ctx context.Context, collection, description string) error {
	if err := store.ValidateCollectionName(collection); err != nil {
		return err
	}
	meta, err := r.store.GetCollectionMetadata(ctx, collection)
	if err != nil {
		return err
	}
	if len(meta) == 0 {
		return amerrors.New(amerrors.ErrCodeCollectionNotFound,
			fmt.Sprintf("collection %q does not exist", collection), nil).
			WithDetail("collection", collection)
	}
	if err := r.store.SetCollectionMetadata(ctx, collection, map[string]string{MetaDescription: description}); err != nil {
		return err
	}
	r.logger.Info("description_updated", slog.String("collection", collection))
	return nil
}

// checkContract enforces the schema-version and config-drift guards.
func checkContract(collection string, meta map[string]string, configured Signature) error {
	if meta[MetaSchemaVersion] == "" {
		return amerrors.UnversionedCollection(collection)
	}
	stored, ok := signatureFromMetadata(meta)
	if !ok {
		return amerrors.UnversionedCollection(collection).
			WithDetail("reason", "embedding signature metadata is incomplete")
	}
	diffs := stored.Diff(configured)
	if len(diffs) == 0 {
		return nil
	}
	err := amerrors.ConfigDrift(collection,
		fmt.Sprintf("collection %q was built with a different configuration: %s", collection, joinDiffs(diffs)))
	if stored.EmbeddingModel != configured.EmbeddingModel {
		err.WithDetail("stored_embedding_model", stored.EmbeddingModel).
			WithDetail("configured_embedding_model", configured.EmbeddingModel)
	}
	if stored.EmbeddingProvider != configured.EmbeddingProvider {
		err.WithDetail("stored_embedding_provider", stored.EmbeddingProvider).
			WithDetail("configured_embedding_provider", configured.EmbeddingProvider)
	}
	if stored.ChunkSize != configured.ChunkSize {
		err.WithDetail("stored_chunk_size", strconv.Itoa(stored.ChunkSize)).
			WithDetail("configured_chunk_size", strconv.Itoa(configured.ChunkSize))
	}
	return err
}

// checkSignature rejects an explicit signature that differs from the
// provider and chunk size the run embeds with.
func checkSignature(collection string, sig Signature, info provider.Info, chunkSize int) error {
	actual := Signature{
		EmbeddingModel:    info.EmbeddingModel,
		EmbeddingProvider: info.Provider,
		ChunkSize:         chunkSize,
	}
	if sig == actual {
		return nil
	}
	return amerrors.ConfigError(
		fmt.Sprintf("signature %s for collection %q does not match the run's %s", sig, collection, actual), nil).
		WithDetail("collection", collection).
		WithDetail("signature", sig.String()).
		WithDetail("run_signature", actual.String())
}

// checkDimension compares the stored dimension with the one the provider
// just produced. Same model name with a different dimension still means the
// stored vectors are incomparable.
func checkDimension(collection string, meta map[string]string, probed int) error {
	stored := meta[MetaEmbeddingDimension]
	if stored == strconv.Itoa(probed) {
		return nil
	}
	return amerrors.ConfigDrift(collection,
		fmt.Sprintf("collection %q stores %s-dimensional vectors, provider now returns %d",
			collection, stored, probed)).
		WithDetail("stored_embedding_dimension", stored).
		WithDetail("probed_embedding_dimension", strconv.Itoa(probed))
}

// clear deletes every chunk of a collection, keeping its metadata.
func (r *Reconciler) clear(ctx context.Context, collection string) error {
	byNote, err := r.store.ChunkIDsByNote(ctx, collection)
	if err != nil {
		return err
	}
	var ids []string
	for _, chunkIDs := range byNote {
		ids = append(ids, chunkIDs...)
	}
	if len(ids) == 0 {
		return nil
	}
	r.logger.Info("collection_cleared",
		slog.String("collection", collection),
		slog.Int("notes", len(byNote)),
		slog.Int("chunks", len(ids)))
	return r.store.Delete(ctx, collection, ids)
}

// stampContract records the embedding contract of a new or rebuilt
// collection in one metadata write.
func (r *Reconciler) stampContract(ctx context.Context, req ReconcileRequest, sig Signature,
	av provider.Availability, info provider.Info, existing map[string]string) error {
	kv := providerMetadata(av, info)
	kv[MetaSchemaVersion] = SchemaVersion
	kv[MetaEmbeddingModel] = sig.EmbeddingModel
	kv[MetaEmbeddingProvider] = sig.EmbeddingProvider
	kv[MetaChunkSize] = strconv.Itoa(sig.ChunkSize)
	kv[MetaConfigSignature] = sig.String()
	if existing[MetaCreatedAt] == "" {
		kv[MetaCreatedAt] = time.Now().UTC().Format(time.RFC3339)
	}
	if req.Description != "" {
		kv[MetaDescription] = req.Description
	}
	return r.store.SetCollectionMetadata(ctx, req.Collection, kv)
}

// snapshot reads the stored state in two queries: chunk 0 hashes and the
// chunk ids of every note.
func (r *Reconciler) snapshot(ctx context.Context, collection string) (map[string]string, map[string][]string, error) {
	firsts, err := r.store.Get(ctx, collection, store.FirstChunks())
	if err != nil {
		return nil, nil, err
	}
	hashes := make(map[string]string, len(firsts))
	for _, rec := range firsts {
		hashes[rec.NoteID] = rec.ContentHash
	}
	chunkIDs, err := r.store.ChunkIDsByNote(ctx, collection)
	if err != nil {
		return nil, nil, err
	}
	// A note missing its chunk 0 has no hash and is re-added; drop its
	// leftovers first.
	for noteID := range chunkIDs {
		if _, ok := hashes[noteID]; !ok {
			hashes[noteID] = ""
		}
	}
	return hashes, chunkIDs, nil
}

// apply runs deletions, then updates, then additions. Notes within a phase
// run concurrently up to the worker limit.
func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, req ReconcileRequest,
	plan *Plan, chunkIDs map[string][]string, stats *Stats) {
	total := len(plan.ToDelete) + len(plan.ToUpdate) + len(plan.ToAdd)
	var (
		mu   sync.Mutex
		done int
	)
	finish := func(f *NoteFailure, counter *int, chunks int) {
		mu.Lock()
		defer mu.Unlock()
		if f != nil {
			stats.fail(log, *f)
		} else {
			*counter++
		}
		stats.ChunksEmbedded += chunks
		done++
		if req.Progress != nil {
			req.Progress(done, total)
		}
	}

	phase(r, plan.ToDelete, func(noteID string) {
		err := r.store.Delete(ctx, req.Collection, chunkIDs[noteID])
		if err != nil {
			finish(&NoteFailure{NoteID: noteID, Err: amerrors.NoteFailed(noteID, err)}, nil, 0)
			return
		}
		finish(nil, &stats.Deleted, 0)
	})

	notePhase := func(notes []chunk.Note, counter *int) {
		phase(r, notes, func(n chunk.Note) {
			id := chunk.NoteID(n)
			embedded, err := r.writeNote(ctx, req, n, chunkIDs[id])
			if err != nil {
				finish(&NoteFailure{NoteID: id, Title: n.Title, Err: amerrors.NoteFailed(id, err)}, nil, embedded)
				return
			}
			finish(nil, counter, embedded)
		})
	}
	notePhase(plan.ToUpdate, &stats.Updated)
	notePhase(plan.ToAdd, &stats.Added)
}

// phase runs fn for every item with bounded concurrency and waits.
func phase[T any](r *Reconciler, items []T, fn func(T)) {
	if len(items) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, item := range items {
		g.Go(func() error {
			fn(item)
			return nil
		})
	}
	_ = g.Wait()
}

// writeNote embeds the note, removes chunks the new version no longer has
// and upserts the rest. Embedding happens first, so a failed embedding
// leaves the stored version intact. It returns the number of chunks embedded.
func (r *Reconciler) writeNote(ctx context.Context, req ReconcileRequest, n chunk.Note, oldIDs []string) (int, error) {
	chunks := r.chunker.Chunk(n, req.ChunkSize)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbedText()
	}

	vectors, err := req.Provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, amerrors.New(amerrors.ErrCodeInvalidResponse,
			fmt.Sprintf("provider returned %d vectors for %d chunks", len(vectors), len(chunks)), nil)
	}

	records := make([]store.Record, len(chunks))
	keep := make(map[string]bool, len(chunks))
	for i, c := range chunks {
		records[i] = store.Record{
			ID:          c.ID,
			NoteID:      c.NoteID,
			ChunkIndex:  c.Index,
			Title:       c.Title,
			Text:        c.Text,
			ContentHash: c.ContentHash,
			Vector:      vectors[i],
		}
		keep[c.ID] = true
	}

	var stale []string
	for _, id := range oldIDs {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := r.store.Delete(ctx, req.Collection, stale); err != nil {
			return len(chunks), err
		}
	}
	return len(chunks), r.store.Upsert(ctx, req.Collection, records)
}

func (s *Stats) fail(log *slog.Logger, f NoteFailure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
	log.Warn("note_failed",
		slog.String("note_id", f.NoteID),
		slog.String("error", f.Err.Error()))
}
