package provider

import (
	"context"
	"net/http"
	"strings"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// DefaultOllamaEndpoint is used when no endpoint is configured.
const DefaultOllamaEndpoint = "http://localhost:11434"

const ollamaBatchSize = 32

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

// ollama talks to a local or remote Ollama server.
type ollama struct {
	endpoint        string
	embeddingModel  string
	completionModel string
	client          *http.Client
	transport       *http.Transport
}

func newOllama(cfg Config) *ollama {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	client, transport := newHTTPClient()
	return &ollama{
		endpoint:        endpoint,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		client:          client,
		transport:       transport,
	}
}

func (o *ollama) embed(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	err := doJSON(ctx, o.client, jsonRequest{
		backend: NameOllama,
		model:   o.embeddingModel,
		method:  http.MethodPost,
		url:     o.endpoint + "/api/embed",
		body:    ollamaEmbedRequest{Model: o.embeddingModel, Input: texts},
	}, &resp)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		embeddings[i] = normalizeVector(toFloat32(emb))
	}
	return embeddings, nil
}

func (o *ollama) complete(ctx context.Context, _ string, messages []Message) (string, error) {
	var resp ollamaChatResponse
	err := doJSON(ctx, o.client, jsonRequest{
		backend: NameOllama,
		model:   o.completionModel,
		method:  http.MethodPost,
		url:     o.endpoint + "/api/chat",
		body:    ollamaChatRequest{Model: o.completionModel, Messages: messages},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Message.Content == "" {
		return "", invalidResponse(NameOllama, "empty chat response")
	}
	return resp.Message.Content, nil
}

// listModels returns the model names the server has pulled.
func (o *ollama) listModels(ctx context.Context) ([]string, error) {
	var resp ollamaTagsResponse
	err := doJSON(ctx, o.client, jsonRequest{
		backend: NameOllama,
		method:  http.MethodGet,
		url:     o.endpoint + "/api/tags",
	}, &resp)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (o *ollama) maxBatch() int     { return ollamaBatchSize }
func (o *ollama) requiresKey() bool { return false }
func (o *ollama) closeIdle()        { o.transport.CloseIdleConnections() }

// hasModel matches name against pulled models. A name without a tag
// matches any tag of the same model.
func hasModel(models []string, name string) bool {
	want := strings.ToLower(name)
	for _, m := range models {
		got := strings.ToLower(m)
		if got == want {
			return true
		}
		if !strings.Contains(want, ":") && strings.Split(got, ":")[0] == want {
			return true
		}
	}
	return false
}

func modelMissing(model string, models []string) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeModelUnavailable,
		"model "+model+" is not available on the ollama server", nil).
		WithDetail("provider", NameOllama).
		WithDetail("model", model).
		WithDetail("available", strings.Join(models, ",")).
		WithSuggestion("Run 'ollama pull " + model + "'")
}
