package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/credential"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/index"
	"github.com/Aman-CERP/amankb/internal/mcp"
	"github.com/Aman-CERP/amankb/internal/provider"
	"github.com/Aman-CERP/amankb/internal/scanner"
	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/internal/store"
)

type pipeline struct {
	vault string
	data  string
	store *store.SQLiteStore
	rec   *index.Reconciler
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{vault: t.TempDir(), data: t.TempDir()}

	s, err := store.NewSQLiteStore(filepath.Join(p.data, store.DatabaseFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	p.store = s
	p.rec = index.NewReconciler(s, index.Options{Workers: 2, LockDir: p.data})
	return p
}

func (p *pipeline) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(p.vault, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func staticProvider(t *testing.T, model string) *provider.Gateway {
	t.Helper()
	g, err := provider.New(provider.Config{
		Provider:       provider.NameStatic,
		EmbeddingModel: model,
		Dimensions:     128,
	}, credential.Static{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func (p *pipeline) reconcile(t *testing.T, g provider.Provider, force bool) *index.Stats {
	t.Helper()
	ctx := context.Background()
	notes, err := scanner.New(scanner.Options{}).Scan(ctx, p.vault)
	require.NoError(t, err)

	stats, err := p.rec.Reconcile(ctx, index.ReconcileRequest{
		Collection: "vault",
		Notes:      notes,
		Provider:   g,
		ChunkSize:  300,
		Force:      force,
	})
	require.NoError(t, err)
	return stats
}

func (p *pipeline) searcher() *search.Searcher {
	return search.New(p.store, func(cfg provider.Config) (provider.Provider, error) {
		return provider.New(cfg, credential.Static{})
	}, search.Config{})
}

func TestPipeline_IndexSearchUpdate(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	g := staticProvider(t, "static-hash-v1")

	// Given: a small vault
	p.write(t, "garden.md", "---\ntitle: Garden\ncreated: 2026-03-01\n---\nPlanted tomatoes and basil.\n")
	p.write(t, "trips/lisbon.md", "---\ntitle: Lisbon\ncreated: 2026-04-10\n---\nTrams, custard tarts and the river.\n")
	p.write(t, "ideas.md", "# Ideas\n\nA bookshelf for the hallway.\n")

	// When: indexed for the first time
	stats := p.reconcile(t, g, false)

	// Then: every note is added
	assert.Equal(t, 3, stats.Added)
	assert.Zero(t, stats.Failed)

	// And: search finds notes by content
	s := p.searcher()
	defer func() { _ = s.Close() }()
	results, err := s.Search(ctx, "custard tarts", "vault", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Lisbon", results[0].Title)

	// When: one note is edited and one removed
	p.write(t, "garden.md", "---\ntitle: Garden\ncreated: 2026-03-01\n---\nPlanted tomatoes, basil and chillies.\n")
	require.NoError(t, os.Remove(filepath.Join(p.vault, "ideas.md")))
	stats = p.reconcile(t, g, false)

	// Then: only the changes are applied
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.Unchanged)

	// And: the collection stays consistent
	check, err := index.CheckCollection(ctx, p.store, "vault")
	require.NoError(t, err)
	assert.True(t, check.OK(), "issues: %v", check.Issues)
	assert.Equal(t, 2, check.Notes)
}

func TestPipeline_DriftGuardAndForce(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.write(t, "a.md", "---\ntitle: A\ncreated: 2026-01-01\n---\nalpha\n")
	p.reconcile(t, staticProvider(t, "static-hash-v1"), false)

	// When: reconciling under another model without force
	notes, err := scanner.New(scanner.Options{}).Scan(ctx, p.vault)
	require.NoError(t, err)
	_, err = p.rec.Reconcile(ctx, index.ReconcileRequest{
		Collection: "vault",
		Notes:      notes,
		Provider:   staticProvider(t, "static-hash-v2"),
		ChunkSize:  300,
	})

	// Then: it is refused
	require.Error(t, err)
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeConfigDrift))

	// And: force rebuilds and records the new model
	stats := p.reconcile(t, staticProvider(t, "static-hash-v2"), true)
	assert.True(t, stats.Rebuilt)
	contract, err := index.ReadContract(ctx, p.store, "vault")
	require.NoError(t, err)
	assert.Equal(t, "static-hash-v2", contract.Provider.EmbeddingModel)
	assert.Equal(t, 128, contract.Dimension)
}

func TestPipeline_MCPServesIndexedCollection(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.write(t, "climb.md", "---\ntitle: Climbing\ncreated: 2026-02-02\n---\nBouldering at the gym, sent the overhang.\n")
	p.reconcile(t, staticProvider(t, "static-hash-v1"), false)

	s := p.searcher()
	defer func() { _ = s.Close() }()
	srv, err := mcp.NewServer(s)
	require.NoError(t, err)

	out, err := srv.CallTool(ctx, "list_collections", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "vault")
	assert.Contains(t, out, "static-hash-v1")

	out, err = srv.CallTool(ctx, "search", map[string]any{
		"collection": "vault",
		"query":      "bouldering overhang",
		"limit":      float64(5),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Climbing")
}
