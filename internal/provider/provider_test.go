package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/credential"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// newTestGateway builds a gateway with fast retries for tests.
func newTestGateway(t *testing.T, cfg Config, creds credential.Resolver) *Gateway {
	t.Helper()
	g, err := New(cfg, creds)
	require.NoError(t, err)
	g.retry.InitialDelay = time.Millisecond
	g.retry.MaxDelay = 5 * time.Millisecond
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func ollamaServer(t *testing.T, dims int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			out := ollamaEmbedResponse{Model: req.Model}
			for i := range req.Input {
				v := make([]float64, dims)
				v[i%dims] = 3
				out.Embeddings = append(out.Embeddings, v)
			}
			writeJSON(t, w, out)
		case "/api/chat":
			var req ollamaChatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			writeJSON(t, w, ollamaChatResponse{
				Model:   req.Model,
				Message: Message{Role: RoleAssistant, Content: "answer to " + req.Messages[len(req.Messages)-1].Content},
				Done:    true,
			})
		case "/api/tags":
			writeJSON(t, w, ollamaTagsResponse{Models: []ollamaModelInfo{
				{Name: "nomic-embed-text:latest"},
				{Name: "llama3.2:3b"},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_EmbedBatch(t *testing.T) {
	srv := ollamaServer(t, 8, nil)
	g := newTestGateway(t, Config{
		Provider:       NameOllama,
		EmbeddingModel: "nomic-embed-text",
		Endpoint:       srv.URL,
	}, nil)

	vecs, err := g.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Len(t, v, 8)
		// 3 at one position normalizes to 1.
		assert.InDelta(t, 1.0, v[i], 1e-6)
	}
}

func TestOllama_SplitsLargeBatches(t *testing.T) {
	var hits atomic.Int32
	srv := ollamaServer(t, 4, &hits)
	g := newTestGateway(t, Config{Provider: NameOllama, EmbeddingModel: "m", Endpoint: srv.URL}, nil)

	texts := make([]string, ollamaBatchSize*2+1)
	for i := range texts {
		texts[i] = "text"
	}
	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, int32(3), hits.Load())
}

func TestOllama_Complete(t *testing.T) {
	srv := ollamaServer(t, 4, nil)
	g := newTestGateway(t, Config{
		Provider:        NameOllama,
		EmbeddingModel:  "nomic-embed-text",
		CompletionModel: "llama3.2",
		Endpoint:        srv.URL,
	}, nil)

	out, err := g.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "answer to hi", out)
}

func TestComplete_RequiresCompletionModel(t *testing.T) {
	g := newTestGateway(t, Config{Provider: NameStatic}, nil)

	_, err := g.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, amerrors.CategoryConfig, amerrors.GetCategory(err))
}

func TestOllama_VerifyModels(t *testing.T) {
	srv := ollamaServer(t, 4, nil)

	g := newTestGateway(t, Config{
		Provider:        NameOllama,
		EmbeddingModel:  "nomic-embed-text",
		CompletionModel: "llama3.2:3b",
		Endpoint:        srv.URL,
	}, nil)
	require.NoError(t, g.VerifyModels(context.Background()))

	missing := newTestGateway(t, Config{
		Provider:       NameOllama,
		EmbeddingModel: "mxbai-embed-large",
		Endpoint:       srv.URL,
	}, nil)
	err := missing.VerifyModels(context.Background())
	require.Error(t, err)
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeModelUnavailable))
}

func TestHasModel(t *testing.T) {
	models := []string{"nomic-embed-text:latest", "llama3.2:3b"}

	assert.True(t, hasModel(models, "nomic-embed-text"))
	assert.True(t, hasModel(models, "nomic-embed-text:latest"))
	assert.True(t, hasModel(models, "LLAMA3.2:3b"))
	assert.True(t, hasModel(models, "llama3.2"))
	assert.False(t, hasModel(models, "llama3.2:1b"))
	assert.False(t, hasModel(models, "mistral"))
}

func TestOpenAI_EmbedUsesBearerAndIndexOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openaiEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 64, req.Dimensions)

		// Respond in reverse order; index identifies the input.
		var resp openaiEmbedResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float64{float64(i), 1}, Index: i})
		}
		writeJSON(t, w, resp)
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{
		Provider:       NameOpenAI,
		EmbeddingModel: "text-embedding-3-small",
		Endpoint:       srv.URL,
		APIKeyRef:      "env:OPENAI_API_KEY",
		Dimensions:     64,
	}, credential.Static{"env:OPENAI_API_KEY": "sk-test"})

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestOpenAI_OmitsDimensionsForOlderModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, has := raw["dimensions"]
		assert.False(t, has)
		writeJSON(t, w, map[string]any{"data": []map[string]any{{"embedding": []float64{1, 0}, "index": 0}}})
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{
		Provider:       NameOpenAI,
		EmbeddingModel: "text-embedding-ada-002",
		Endpoint:       srv.URL,
		APIKeyRef:      "env:K",
		Dimensions:     64,
	}, credential.Static{"env:K": "sk"})

	_, err := g.Embed(context.Background(), "x")
	require.NoError(t, err)
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req openaiChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "done"}}},
		})
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{
		Provider:        NameOpenAI,
		EmbeddingModel:  "text-embedding-3-small",
		CompletionModel: "gpt-4o-mini",
		Endpoint:        srv.URL,
		APIKeyRef:       "env:K",
	}, credential.Static{"env:K": "sk"})

	out, err := g.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestOpenAI_MissingCredentialNeverCallsServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		ref  credential.Ref
	}{
		{"no reference", ""},
		{"unresolved reference", "env:NOT_SET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, Config{
				Provider:       NameOpenAI,
				EmbeddingModel: "text-embedding-3-small",
				Endpoint:       srv.URL,
				APIKeyRef:      tt.ref,
			}, credential.Static{})

			_, err := g.Embed(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeCredentialMissing))
			assert.False(t, amerrors.IsRetryable(err))
		})
	}
	assert.Zero(t, hits.Load())
}

func TestGateway_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
		hits      int32
	}{
		{http.StatusUnauthorized, amerrors.ErrCodeCredentialMissing, false, 1},
		{http.StatusForbidden, amerrors.ErrCodeCredentialMissing, false, 1},
		{http.StatusNotFound, amerrors.ErrCodeModelUnavailable, false, 1},
		{http.StatusBadRequest, amerrors.ErrCodeInvalidResponse, false, 1},
		{http.StatusTooManyRequests, amerrors.ErrCodeRateLimited, true, 3},
		{http.StatusServiceUnavailable, amerrors.ErrCodeNetworkUnavailable, true, 3},
		{http.StatusGatewayTimeout, amerrors.ErrCodeNetworkTimeout, true, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			g := newTestGateway(t, Config{
				Provider:       NameOllama,
				EmbeddingModel: "m",
				Endpoint:       srv.URL,
				MaxRetries:     2,
			}, nil)

			_, err := g.Embed(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, amerrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, tt.retryable, amerrors.IsRetryable(err))
			assert.Equal(t, tt.hits, hits.Load())
		})
	}
}

func TestGateway_RetriesTransientThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, ollamaEmbedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{Provider: NameOllama, EmbeddingModel: "m", Endpoint: srv.URL, MaxRetries: 3}, nil)

	vec, err := g.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, int32(3), hits.Load())
}

func TestGateway_MalformedResponseIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{Provider: NameOllama, EmbeddingModel: "m", Endpoint: srv.URL, MaxRetries: 3}, nil)

	_, err := g.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeInvalidResponse))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGateway_WrongEmbeddingCountIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, ollamaEmbedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{Provider: NameOllama, EmbeddingModel: "m", Endpoint: srv.URL}, nil)

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeInvalidResponse))
}

// stallingHandler reads the request and then answers nothing until the
// client goes away, or a bounded wait passes so the server can always close.
func stallingHandler(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
}

func TestGateway_PerRequestTimeoutIsTransientNetworkFailure(t *testing.T) {
	// Given: a backend that never answers and a 20ms request timeout
	var hits atomic.Int32
	srv := httptest.NewServer(stallingHandler(&hits))
	defer srv.Close()

	g := newTestGateway(t, Config{
		Provider:       NameOllama,
		EmbeddingModel: "m",
		Endpoint:       srv.URL,
		Timeout:        20 * time.Millisecond,
		MaxRetries:     2,
	}, nil)

	// When: embedding with a caller context that never expires
	start := time.Now()
	_, err := g.Embed(context.Background(), "x")

	// Then: each attempt times out as a retryable network failure
	require.Error(t, err)
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeNetworkTimeout), "got %v", err)
	assert.True(t, amerrors.IsRetryable(err))
	assert.Equal(t, int32(3), hits.Load(), "initial attempt plus two retries")
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateway_TimeoutsTripCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(stallingHandler(&hits))
	defer srv.Close()

	g := newTestGateway(t, Config{
		Provider:       NameOllama,
		EmbeddingModel: "m",
		Endpoint:       srv.URL,
		Timeout:        10 * time.Millisecond,
		MaxRetries:     0,
	}, nil)

	for range 5 {
		_, err := g.Embed(context.Background(), "x")
		require.True(t, amerrors.HasCode(err, amerrors.ErrCodeNetworkTimeout), "got %v", err)
	}

	_, err := g.Embed(context.Background(), "x")
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeCircuitOpen), "got %v", err)
	assert.Equal(t, int32(5), hits.Load())
}

func TestGateway_CallerCancellationIsNotAProviderError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(stallingHandler(&hits))
	defer srv.Close()

	g := newTestGateway(t, Config{Provider: NameOllama, EmbeddingModel: "m", Endpoint: srv.URL}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Embed(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, isAman := amerrors.As(err)
	assert.False(t, isAman)
	assert.LessOrEqual(t, hits.Load(), int32(1), "cancellation is never retried")
}

func TestAttemptError(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()
	classified := amerrors.New(amerrors.ErrCodeRateLimited, "429", nil)

	assert.True(t, amerrors.HasCode(attemptError(live, NameOllama, context.DeadlineExceeded), amerrors.ErrCodeNetworkTimeout))
	assert.ErrorIs(t, attemptError(done, NameOllama, context.DeadlineExceeded), context.Canceled)
	assert.Same(t, classified, attemptError(live, NameOllama, classified))
}

func TestGateway_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{Provider: NameOllama, EmbeddingModel: "m", Endpoint: srv.URL, MaxRetries: 0}, nil)

	for range 5 {
		_, err := g.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := g.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, amerrors.HasCode(err, amerrors.ErrCodeCircuitOpen))
	assert.Equal(t, int32(5), hits.Load())
}

func TestGateway_RejectsEmptyInput(t *testing.T) {
	g := newTestGateway(t, Config{Provider: NameStatic}, nil)

	_, err := g.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, amerrors.CategoryValidation, amerrors.GetCategory(err))

	vecs, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestGateway_ClosedRejectsCalls(t *testing.T) {
	g := newTestGateway(t, Config{Provider: NameStatic}, nil)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCheckAvailability(t *testing.T) {
	g := newTestGateway(t, Config{Provider: NameStatic, Dimensions: 64}, nil)

	av := g.CheckAvailability(context.Background())
	assert.True(t, av.Available)
	assert.NoError(t, av.Err)
	assert.Equal(t, 64, av.Dimension)
	assert.Equal(t, DefaultStaticModel, av.Model)

	down := newTestGateway(t, Config{
		Provider:       NameOllama,
		EmbeddingModel: "m",
		Endpoint:       "http://127.0.0.1:1",
		MaxRetries:     0,
	}, nil)
	av = down.CheckAvailability(context.Background())
	assert.False(t, av.Available)
	assert.Error(t, av.Err)
	assert.Zero(t, av.Dimension)
}

func TestGateway_MaxConcurrentIsHonored(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		writeJSON(t, w, ollamaEmbedResponse{Embeddings: [][]float64{{1}}})
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{
		Provider:       NameOllama,
		EmbeddingModel: "m",
		Endpoint:       srv.URL,
		RateLimit:      RateLimit{MaxConcurrent: 2},
	}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Embed(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestInfo_CarriesReferenceNotSecret(t *testing.T) {
	g := newTestGateway(t, Config{
		Provider:        NameOpenAI,
		EmbeddingModel:  "text-embedding-3-small",
		CompletionModel: "gpt-4o-mini",
		APIKeyRef:       "keyring:openai",
	}, credential.Static{"keyring:openai": "sk-secret"})

	info := g.Info()
	assert.Equal(t, NameOpenAI, info.Provider)
	assert.Equal(t, DefaultOpenAIEndpoint, info.Endpoint)
	assert.Equal(t, credential.Ref("keyring:openai"), info.APIKeyRef)
	assert.NotContains(t, info.APIKeyRef.String(), "sk-secret")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{Provider: "bogus", EmbeddingModel: "m"}, nil)
	require.Error(t, err)
	assert.Equal(t, amerrors.CategoryConfig, amerrors.GetCategory(err))

	_, err = New(Config{Provider: NameOllama}, nil)
	require.Error(t, err)

	_, err = New(Config{Provider: NameOpenAI, EmbeddingModel: "m", APIKeyRef: "literal:sk"}, nil)
	require.Error(t, err)
}
