// Package provider is the gateway to AI backends. A Provider embeds text and
// produces completions for exactly one (backend, model) pair; callers hold it
// as an explicit value and there is no process-wide current provider.
package provider

import (
	"context"
	"math"
	"time"

	"github.com/Aman-CERP/amankb/internal/credential"
)

// Backend names.
const (
	NameOllama = "ollama"
	NameOpenAI = "openai"
	NameStatic = "static"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultTimeout = 30 * time.Second
	// probeText is embedded by CheckAvailability to learn the dimension.
	probeText = "amankb availability probe"
)

// Message roles for Complete.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn passed to Complete.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the contract every backend satisfies.
type Provider interface {
	// Embed returns the embedding of a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Complete returns the assistant reply for messages.
	Complete(ctx context.Context, messages []Message) (string, error)

	// CheckAvailability performs a real embedding call and reports the
	// resulting dimension. It never returns an error; failures are in Err.
	CheckAvailability(ctx context.Context) Availability

	// Info identifies the backend and models for metadata stamping.
	Info() Info

	// Close releases idle connections. Further calls fail.
	Close() error
}

// Availability is the result of a live probe.
type Availability struct {
	Available bool
	Model     string
	Dimension int
	Err       error
}

// Info is the non-secret identity of a provider.
type Info struct {
	Provider        string
	EmbeddingModel  string
	CompletionModel string
	// Endpoint is the base URL, empty for offline backends.
	Endpoint string
	// APIKeyRef is the credential reference, never the key.
	APIKeyRef credential.Ref
}

// RateLimit bounds request throughput. Zero values mean unlimited.
type RateLimit struct {
	RequestsPerMinute int
	MaxConcurrent     int
}

// Config selects and tunes a backend.
type Config struct {
	Provider        string
	EmbeddingModel  string
	CompletionModel string
	Endpoint        string
	APIKeyRef       credential.Ref
	// Dimensions requests a specific output size where supported (openai
	// text-embedding-3 models, static). Zero keeps the model's native size.
	Dimensions int
	// Timeout bounds each individual HTTP request.
	Timeout    time.Duration
	RateLimit  RateLimit
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
