package provider

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amankb/internal/credential"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// New builds the provider selected by cfg.Provider. Credentials referenced
// by cfg.APIKeyRef are resolved through creds on every request.
func New(cfg Config, creds credential.Resolver) (*Gateway, error) {
	cfg = cfg.withDefaults()
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	if cfg.APIKeyRef != "" {
		if _, _, err := cfg.APIKeyRef.Parse(); err != nil {
			return nil, amerrors.ConfigError("invalid api_key_ref", err).
				WithDetail("api_key_ref", cfg.APIKeyRef.String())
		}
	}

	var be backend
	switch cfg.Provider {
	case NameOllama:
		if cfg.Endpoint == "" {
			cfg.Endpoint = DefaultOllamaEndpoint
		}
		be = newOllama(cfg)
	case NameOpenAI:
		if cfg.Endpoint == "" {
			cfg.Endpoint = DefaultOpenAIEndpoint
		}
		be = newOpenAI(cfg)
	case NameStatic:
		if cfg.EmbeddingModel == "" {
			cfg.EmbeddingModel = DefaultStaticModel
		}
		be = newStatic(cfg)
	default:
		return nil, amerrors.ConfigError(fmt.Sprintf("unknown provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: ollama, openai, static")
	}

	if cfg.EmbeddingModel == "" {
		return nil, amerrors.ConfigError("no embedding model configured", nil).
			WithDetail("provider", cfg.Provider)
	}

	return newGateway(cfg, be, creds), nil
}

// compile-time interface checks
var (
	_ Provider = (*Gateway)(nil)
	_ Provider = (*Cached)(nil)

	_ backend = (*ollama)(nil)
	_ backend = (*openai)(nil)
	_ backend = (*static)(nil)

	_ modelLister = (*ollama)(nil)
)
