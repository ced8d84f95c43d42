package provider

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// Static backend defaults.
const (
	DefaultStaticModel      = "static-hash-v1"
	DefaultStaticDimensions = 256
)

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
	// staticAnswerChars caps the extractive answer returned by complete.
	staticAnswerChars = 400
)

var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "with": true,
}

// static is an offline backend. Embeddings are feature-hashed token and
// character trigram counts, so they are deterministic and need no network,
// at the cost of semantic quality.
type static struct {
	dims int
}

func newStatic(cfg Config) *static {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultStaticDimensions
	}
	return &static{dims: dims}
}

func (s *static) embed(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = normalizeVector(s.vector(t))
	}
	return out, nil
}

func (s *static) vector(text string) []float32 {
	vector := make([]float32, s.dims)
	for _, token := range tokenize(text) {
		vector[hashToIndex(token, s.dims)] += tokenWeight
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, s.dims)] += ngramWeight
	}
	return vector
}

// complete returns the leading text of the last user message. It lets the
// answer path run offline; it does not generate anything.
func (s *static) complete(_ context.Context, _ string, messages []Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(messages[i].Content)
		if r := []rune(text); len(r) > staticAnswerChars {
			text = string(r[:staticAnswerChars]) + "..."
		}
		return text, nil
	}
	return "", invalidResponse(NameStatic, "no user message")
}

func (s *static) maxBatch() int     { return 256 }
func (s *static) requiresKey() bool { return false }
func (s *static) closeIdle()        {}

func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if !stopWords[lower] {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}
