package index

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/chunk"
	"github.com/Aman-CERP/amankb/internal/credential"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/provider"
	"github.com/Aman-CERP/amankb/internal/store"
)

// fakeProvider embeds deterministically and counts every call.
type fakeProvider struct {
	name  string
	model string
	dims  int
	// failOn fails any batch containing this substring.
	failOn      string
	unavailable error

	embedCalls atomic.Int32
	embedTexts atomic.Int32
	probes     atomic.Int32
}

func newFakeProvider(model string, dims int) *fakeProvider {
	return &fakeProvider{name: "fake", model: model, dims: dims}
}

func (f *fakeProvider) vector(text string) []float32 {
	v := make([]float32, f.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(f.dims)]++
	}
	v[0] += 0.01
	return v
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls.Add(1)
	f.embedTexts.Add(int32(len(texts)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, amerrors.New(amerrors.ErrCodeInvalidResponse, "provider rejected input", nil)
		}
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeProvider) Complete(_ context.Context, messages []provider.Message) (string, error) {
	return messages[len(messages)-1].Content, nil
}

func (f *fakeProvider) CheckAvailability(context.Context) provider.Availability {
	f.probes.Add(1)
	if f.unavailable != nil {
		return provider.Availability{Model: f.model, Err: f.unavailable}
	}
	return provider.Availability{Available: true, Model: f.model, Dimension: f.dims}
}

func (f *fakeProvider) Info() provider.Info {
	return provider.Info{
		Provider:       f.name,
		EmbeddingModel: f.model,
		Endpoint:       "http://embed.test",
		APIKeyRef:      credential.Ref("env:FAKE_API_KEY"),
	}
}

func (f *fakeProvider) Close() error { return nil }

// calls is every provider round-trip, probes included.
func (f *fakeProvider) calls() int {
	return int(f.embedCalls.Load() + f.probes.Load())
}

var errUnreachable = errors.New("dial tcp: connection refused")

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestReconciler(t *testing.T, s store.Store) *Reconciler {
	t.Helper()
	return NewReconciler(s, Options{Workers: 4, LockDir: t.TempDir()})
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func note(title, body string) chunk.Note {
	return chunk.Note{Title: title, Body: body, CreatedAt: baseTime}
}

func notes(n int) []chunk.Note {
	out := make([]chunk.Note, n)
	for i := range out {
		out[i] = chunk.Note{
			Title:     fmt.Sprintf("note %d", i),
			Body:      fmt.Sprintf("body of note number %d about topic %d", i, i%3),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func reconcile(t *testing.T, r *Reconciler, p provider.Provider, ns []chunk.Note) *Stats {
	t.Helper()
	stats, err := r.Reconcile(context.Background(), ReconcileRequest{
		Collection: "kb",
		Notes:      ns,
		Provider:   p,
	})
	require.NoError(t, err)
	return stats
}
