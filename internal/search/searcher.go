// Package search answers queries against indexed collections. Every query
// is embedded with the provider recorded on its collection, never with the
// caller's current configuration.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/index"
	"github.com/Aman-CERP/amankb/internal/provider"
	"github.com/Aman-CERP/amankb/internal/store"
)

// Config tunes the searcher.
type Config struct {
	// DefaultLimit applies when a caller passes topK <= 0.
	DefaultLimit int
	// MaxLimit caps topK.
	MaxLimit int
	// MaxQueryLength is the longest accepted query in characters.
	MaxQueryLength int
	// QueryCacheSize is the number of query embeddings cached per provider.
	QueryCacheSize int
	// MaxProviders bounds how many reconstructed providers are kept.
	MaxProviders int

	// Request tuning applied to reconstructed providers. These do not
	// affect vectors, so they come from local configuration.
	Timeout    time.Duration
	RateLimit  provider.RateLimit
	MaxRetries int
}

// DefaultConfig returns the searcher defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:   10,
		MaxLimit:       100,
		MaxQueryLength: 2000,
		QueryCacheSize: provider.DefaultCacheSize,
		MaxProviders:   16,
		Timeout:        provider.DefaultTimeout,
		MaxRetries:     2,
	}
}

// ProviderFactory builds a provider from a reconstructed configuration.
type ProviderFactory func(cfg provider.Config) (provider.Provider, error)

// Result is one search hit.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	NoteID     string  `json:"note_id"`
	ChunkIndex int     `json:"chunk_index"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// CollectionSummary describes a collection for listings.
type CollectionSummary struct {
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Notes             int    `json:"notes"`
	Chunks            int    `json:"chunks"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	Dimension         int    `json:"embedding_dimension,omitempty"`
	SchemaVersion     string `json:"schema_version,omitempty"`
	LastUpdatedAt     string `json:"last_updated_at,omitempty"`
}

// Searcher runs queries. It is safe for concurrent use.
type Searcher struct {
	store     store.Store
	factory   ProviderFactory
	config    Config
	providers *lru.Cache[string, *provider.Cached]
	logger    *slog.Logger
}

// New creates a Searcher over s that builds providers with factory.
func New(s store.Store, factory ProviderFactory, cfg Config) *Searcher {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = def.MaxQueryLength
	}
	if cfg.MaxProviders <= 0 {
		cfg.MaxProviders = def.MaxProviders
	}

	providers, _ := lru.NewWithEvict(cfg.MaxProviders, func(_ string, p *provider.Cached) {
		_ = p.Close()
	})
	return &Searcher{
		store:     s,
		factory:   factory,
		config:    cfg,
		providers: providers,
		logger:    slog.Default(),
	}
}

// Search embeds query with the collection's recorded provider and returns
// the topK nearest chunks. A query vector of the wrong dimension fails
// before the store is searched.
func (s *Searcher) Search(ctx context.Context, query, collection string, topK int) ([]*Result, error) {
	start := time.Now()

	query, err := s.validateQuery(query)
	if err != nil {
		return nil, err
	}
	topK = s.limit(topK)

	contract, p, err := s.providerFor(ctx, collection)
	if err != nil {
		return nil, err
	}

	vec, err := p.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := index.ValidateQueryDimension(vec, contract); err != nil {
		return nil, err
	}

	hits, err := s.store.Search(ctx, collection, vec, topK)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(hits))
	for i, h := range hits {
		results[i] = &Result{
			ChunkID:    h.ID,
			NoteID:     h.NoteID,
			ChunkIndex: h.ChunkIndex,
			Title:      h.Title,
			Text:       h.Text,
			Score:      h.Score,
		}
	}

	s.logger.Debug("search_completed",
		slog.String("collection", collection),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

// ListCollections summarizes every collection in the store.
func (s *Searcher) ListCollections(ctx context.Context) ([]CollectionSummary, error) {
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CollectionSummary, 0, len(names))
	for _, name := range names {
		info, err := s.store.Info(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(info))
	}
	return out, nil
}

func summarize(info *store.CollectionInfo) CollectionSummary {
	meta := info.Metadata
	dim, _ := strconv.Atoi(meta[index.MetaEmbeddingDimension])
	return CollectionSummary{
		Name:              info.Name,
		Description:       meta[index.MetaDescription],
		Notes:             info.Notes,
		Chunks:            info.Chunks,
		EmbeddingProvider: meta[index.MetaEmbeddingProvider],
		EmbeddingModel:    meta[index.MetaEmbeddingModel],
		Dimension:         dim,
		SchemaVersion:     meta[index.MetaSchemaVersion],
		LastUpdatedAt:     meta[index.MetaLastUpdatedAt],
	}
}

// Close releases every cached provider.
func (s *Searcher) Close() error {
	s.providers.Purge()
	return nil
}

func (s *Searcher) validateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if n := utf8.RuneCountInString(query); n > s.config.MaxQueryLength {
		return "", amerrors.New(amerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, the limit is %d", n, s.config.MaxQueryLength), nil).
			WithDetail("length", strconv.Itoa(n)).
			WithDetail("max_length", strconv.Itoa(s.config.MaxQueryLength))
	}
	return query, nil
}

func (s *Searcher) limit(topK int) int {
	if topK <= 0 {
		return s.config.DefaultLimit
	}
	return min(topK, s.config.MaxLimit)
}

// providerFor reads the collection contract and returns the provider that
// matches it. Providers are cached per collection and contract, so a
// collection rebuilt under another model gets a fresh provider.
func (s *Searcher) providerFor(ctx context.Context, collection string) (*index.Contract, *provider.Cached, error) {
	if err := store.ValidateCollectionName(collection); err != nil {
		return nil, nil, err
	}
	contract, err := index.ReadContract(ctx, s.store, collection)
	if err != nil {
		return nil, nil, err
	}

	key := collection + "\x00" + contract.Signature().String() + "\x00" +
		strconv.Itoa(contract.Dimension) + "\x00" + contract.Provider.Endpoint
	if p, ok := s.providers.Get(key); ok {
		return contract, p, nil
	}

	cfg := contract.Provider
	cfg.Timeout = s.config.Timeout
	cfg.RateLimit = s.config.RateLimit
	cfg.MaxRetries = s.config.MaxRetries

	inner, err := s.factory(cfg)
	if err != nil {
		return nil, nil, err
	}
	p := provider.NewCached(inner, s.config.QueryCacheSize)
	if prev, ok, _ := s.providers.PeekOrAdd(key, p); ok {
		_ = p.Close()
		return contract, prev, nil
	}

	s.logger.Debug("provider_reconstructed",
		slog.String("collection", collection),
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.EmbeddingModel),
		slog.Int("dimension", contract.Dimension))
	return contract, p, nil
}
