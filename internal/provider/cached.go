package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of query embeddings kept.
const DefaultCacheSize = 1000

// Cached wraps a Provider with an LRU of embeddings keyed by provider, model
// and text. It suits the query path, where the same text recurs; indexing
// should use the bare provider.
type Cached struct {
	Provider
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with a cache of size entries.
func NewCached(inner Provider, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{Provider: inner, cache: cache}
}

func (c *Cached) cacheKey(text string) string {
	info := c.Info()
	sum := sha256.Sum256([]byte(info.Provider + "\x00" + info.EmbeddingModel + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding or computes and caches it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves cached texts and embeds the rest in one batch.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.Provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}
	return results, nil
}

// Len reports the number of cached embeddings.
func (c *Cached) Len() int {
	return c.cache.Len()
}
