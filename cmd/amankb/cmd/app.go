package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/amankb/internal/chunk"
	"github.com/Aman-CERP/amankb/internal/config"
	"github.com/Aman-CERP/amankb/internal/credential"
	"github.com/Aman-CERP/amankb/internal/index"
	"github.com/Aman-CERP/amankb/internal/provider"
	"github.com/Aman-CERP/amankb/internal/scanner"
	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/internal/store"
)

// app holds what every command needs: configuration, credentials and the
// store. Commands build providers from it explicitly; nothing is global.
type app struct {
	root  string
	cfg   *config.Config
	creds credential.Resolver
	store store.Store
}

// loadConfig resolves the project root and loads its configuration.
func loadConfig() (string, *config.Config, error) {
	root, err := config.FindProjectRoot(projectDir)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// openApp loads configuration and opens the store under the data directory.
func openApp() (*app, error) {
	root, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	creds, err := credential.NewDefault(filepath.Join(root, ".env"))
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(cfg.Indexing.DataDir, store.DatabaseFile))
	if err != nil {
		return nil, err
	}

	slog.Debug("app_opened",
		slog.String("root", root),
		slog.String("data_dir", cfg.Indexing.DataDir),
		slog.String("provider", cfg.Provider.Provider))
	return &app{root: root, cfg: cfg, creds: creds, store: s}, nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// providerConfig converts the configured provider section.
func (a *app) providerConfig() provider.Config {
	p := a.cfg.Provider
	return provider.Config{
		Provider:        p.Provider,
		EmbeddingModel:  p.EmbeddingModel,
		CompletionModel: p.CompletionModel,
		Endpoint:        p.Endpoint,
		APIKeyRef:       credential.Ref(p.APIKeyRef),
		Dimensions:      p.Dimensions,
		Timeout:         p.TimeoutDuration(),
		RateLimit: provider.RateLimit{
			RequestsPerMinute: p.RequestsPerMinute,
			MaxConcurrent:     p.MaxConcurrent,
		},
		MaxRetries: p.MaxRetries,
	}
}

// newProvider builds the configured provider for indexing new content.
func (a *app) newProvider() (*provider.Gateway, error) {
	return provider.New(a.providerConfig(), a.creds)
}

// providerFactory builds providers reconstructed from collection metadata.
func (a *app) providerFactory(cfg provider.Config) (provider.Provider, error) {
	return provider.New(cfg, a.creds)
}

func (a *app) reconciler() *index.Reconciler {
	return index.NewReconciler(a.store, index.Options{
		Workers: a.cfg.Indexing.Workers,
		LockDir: a.cfg.Indexing.DataDir,
	})
}

func (a *app) searcher() *search.Searcher {
	p := a.providerConfig()
	return search.New(a.store, a.providerFactory, search.Config{
		DefaultLimit:   a.cfg.Search.DefaultTopK,
		MaxQueryLength: a.cfg.Search.MaxQueryLength,
		QueryCacheSize: a.cfg.Search.QueryCacheSize,
		Timeout:        p.Timeout,
		RateLimit:      p.RateLimit,
		MaxRetries:     p.MaxRetries,
	})
}

// loadNotes reads the full note set from a JSON file or a markdown
// directory.
func (a *app) loadNotes(ctx context.Context, path string) ([]chunk.Note, error) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return scanner.New(scanner.Options{
			Exclude: a.cfg.Indexing.Exclude,
			Workers: a.cfg.Indexing.Workers,
		}).Scan(ctx, path)
	}
	return chunk.LoadNotesFile(path)
}
