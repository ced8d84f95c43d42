package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amankb/internal/credential"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = stderrors.New("provider is closed")

// backend is one wire protocol. It performs a single HTTP exchange per call
// and classifies failures; the Gateway owns retries, limits and timeouts.
type backend interface {
	embed(ctx context.Context, apiKey string, texts []string) ([][]float32, error)
	complete(ctx context.Context, apiKey string, messages []Message) (string, error)
	// maxBatch is the largest number of inputs accepted per embed request.
	maxBatch() int
	// requiresKey reports whether requests without a credential are rejected.
	requiresKey() bool
	closeIdle()
}

// Gateway adapts a backend to Provider. Each request passes through the
// circuit breaker, the rate limiter, credential resolution and a per-request
// timeout, and transient failures are retried with backoff.
type Gateway struct {
	cfg     Config
	be      backend
	creds   credential.Resolver
	limit   *limiter
	breaker *amerrors.CircuitBreaker
	retry   amerrors.RetryConfig
	closed  atomic.Bool
}

func newGateway(cfg Config, be backend, creds credential.Resolver) *Gateway {
	return &Gateway{
		cfg:   cfg,
		be:    be,
		creds: creds,
		limit: newLimiter(cfg.RateLimit),
		breaker: amerrors.NewCircuitBreaker(cfg.Provider,
			amerrors.WithFailureFilter(amerrors.IsRetryable)),
		retry: amerrors.ProviderRetryConfig(cfg.MaxRetries),
	}
}

// Embed returns the embedding of a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in backend-sized batches and checks that every
// returned vector has the same non-zero dimension.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, amerrors.ValidationError(fmt.Sprintf("input %d is empty", i), nil)
		}
	}

	out := make([][]float32, 0, len(texts))
	size := g.be.maxBatch()
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batch := texts[start:end]

		vecs, err := call(ctx, g, "embed", func(ctx context.Context, key string) ([][]float32, error) {
			return g.be.embed(ctx, key, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, invalidResponse(g.cfg.Provider, "got %d embeddings for %d inputs", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) == 0 || len(v) != dim {
			return nil, invalidResponse(g.cfg.Provider,
				"embedding %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return out, nil
}

// Complete sends messages to the completion model.
func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", amerrors.ValidationError("no messages to complete", nil)
	}
	if g.cfg.CompletionModel == "" {
		return "", amerrors.ConfigError("no completion model configured", nil).
			WithDetail("provider", g.cfg.Provider)
	}
	return call(ctx, g, "complete", func(ctx context.Context, key string) (string, error) {
		return g.be.complete(ctx, key, messages)
	})
}

// CheckAvailability embeds a probe text through the full request path.
func (g *Gateway) CheckAvailability(ctx context.Context) Availability {
	av := Availability{Model: g.cfg.EmbeddingModel}
	vec, err := g.Embed(ctx, probeText)
	if err != nil {
		av.Err = err
		return av
	}
	av.Available = true
	av.Dimension = len(vec)
	return av
}

// Info returns the provider identity.
func (g *Gateway) Info() Info {
	return Info{
		Provider:        g.cfg.Provider,
		EmbeddingModel:  g.cfg.EmbeddingModel,
		CompletionModel: g.cfg.CompletionModel,
		Endpoint:        g.cfg.Endpoint,
		APIKeyRef:       g.cfg.APIKeyRef,
	}
}

// Close releases idle connections.
func (g *Gateway) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.be.closeIdle()
	return nil
}

// call runs one logical operation with retries around single attempts.
func call[T any](ctx context.Context, g *Gateway, op string, fn func(context.Context, string) (T, error)) (T, error) {
	var zero T
	if g.closed.Load() {
		return zero, ErrClosed
	}

	start := time.Now()
	result, err := amerrors.RetryWithResult(ctx, g.retry, func() (T, error) {
		return amerrors.CircuitExecute(g.breaker, func() (T, error) {
			return attempt(ctx, g, op, fn)
		})
	})
	if err != nil {
		if stderrors.Is(err, amerrors.ErrCircuitOpen) {
			err = amerrors.New(amerrors.ErrCodeCircuitOpen,
				fmt.Sprintf("%s: too many consecutive failures, not sending requests", g.cfg.Provider), err).
				WithDetail("provider", g.cfg.Provider).
				WithSuggestion("Wait for the provider to recover, then retry")
		}
		slog.Debug("provider_call_failed",
			slog.String("provider", g.cfg.Provider),
			slog.String("op", op),
			slog.String("code", amerrors.GetCode(err)),
			slog.Duration("elapsed", time.Since(start)))
		return zero, err
	}
	return result, nil
}

func attempt[T any](ctx context.Context, g *Gateway, op string, fn func(context.Context, string) (T, error)) (T, error) {
	var zero T

	release, err := g.limit.acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	key, err := g.resolveKey(ctx)
	if err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	result, err := fn(callCtx, key)
	if err != nil {
		err = attemptError(ctx, g.cfg.Provider, err)
		if ae, ok := amerrors.As(err); ok && ae.Code == amerrors.ErrCodeRateLimited {
			if d, perr := time.ParseDuration(ae.Details["retry_after"]); perr == nil {
				g.limit.backoff(d)
			}
		}
		slog.Debug("provider_attempt_failed",
			slog.String("provider", g.cfg.Provider),
			slog.String("op", op),
			slog.String("error", err.Error()))
		return zero, err
	}
	return result, nil
}

// resolveKey looks up the credential for this request. The secret lives
// only on the stack of the request that uses it.
func (g *Gateway) resolveKey(ctx context.Context) (string, error) {
	if g.cfg.APIKeyRef == "" {
		if g.be.requiresKey() {
			return "", amerrors.CredentialMissing("", nil).
				WithDetail("provider", g.cfg.Provider).
				WithSuggestion("Set provider.api_key_ref to env:NAME or keyring:NAME")
		}
		return "", nil
	}
	if g.creds == nil {
		return "", amerrors.CredentialMissing(g.cfg.APIKeyRef.String(),
			stderrors.New("no credential resolver configured"))
	}
	key, err := g.creds.Resolve(ctx, g.cfg.APIKeyRef)
	if err != nil {
		return "", err
	}
	if key == "" && g.be.requiresKey() {
		return "", amerrors.CredentialMissing(g.cfg.APIKeyRef.String(), nil)
	}
	return key, nil
}

// modelLister is implemented by backends that can enumerate their models.
type modelLister interface {
	listModels(ctx context.Context) ([]string, error)
}

// ModelVerifier is implemented by providers that can confirm their
// configured models exist before any embedding is attempted.
type ModelVerifier interface {
	VerifyModels(ctx context.Context) error
}

// VerifyModels checks that the embedding model, and the completion model if
// configured, are present on the backend. Backends without a model listing
// endpoint always pass.
func (g *Gateway) VerifyModels(ctx context.Context) error {
	lister, ok := g.be.(modelLister)
	if !ok {
		return nil
	}
	models, err := call(ctx, g, "list_models", func(ctx context.Context, _ string) ([]string, error) {
		return lister.listModels(ctx)
	})
	if err != nil {
		return err
	}
	for _, m := range []string{g.cfg.EmbeddingModel, g.cfg.CompletionModel} {
		if m != "" && !hasModel(models, m) {
			return modelMissing(m, models)
		}
	}
	return nil
}
