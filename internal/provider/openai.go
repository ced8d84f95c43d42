package provider

import (
	"context"
	"net/http"
	"strings"
)

// DefaultOpenAIEndpoint is used when no endpoint is configured. Any
// OpenAI-compatible API can be reached by overriding it.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

const openaiBatchSize = 100

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string       `json:"model"`
	Error *openaiError `json:"error,omitempty"`
}

type openaiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *openaiError `json:"error,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// openai talks to the OpenAI API or a compatible server.
type openai struct {
	endpoint        string
	embeddingModel  string
	completionModel string
	dimensions      int
	client          *http.Client
	transport       *http.Transport
}

const openaiMaxTokens = 1024

func newOpenAI(cfg Config) *openai {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	client, transport := newHTTPClient()
	return &openai{
		endpoint:        endpoint,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		dimensions:      cfg.Dimensions,
		client:          client,
		transport:       transport,
	}
}

func (o *openai) embed(ctx context.Context, apiKey string, texts []string) ([][]float32, error) {
	reqBody := openaiEmbedRequest{Input: texts, Model: o.embeddingModel}
	// Only the text-embedding-3 family accepts a dimensions parameter.
	if o.dimensions > 0 && strings.HasPrefix(o.embeddingModel, "text-embedding-3") {
		reqBody.Dimensions = o.dimensions
	}

	var resp openaiEmbedResponse
	err := doJSON(ctx, o.client, jsonRequest{
		backend: NameOpenAI,
		model:   o.embeddingModel,
		method:  http.MethodPost,
		url:     o.endpoint + "/embeddings",
		bearer:  apiKey,
		body:    reqBody,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, invalidResponse(NameOpenAI, "%s: %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Data) != len(texts) {
		return nil, invalidResponse(NameOpenAI, "got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// Results carry their input index and are not guaranteed to be ordered.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || embeddings[d.Index] != nil {
			return nil, invalidResponse(NameOpenAI, "bad embedding index %d", d.Index)
		}
		embeddings[d.Index] = toFloat32(d.Embedding)
	}
	return embeddings, nil
}

func (o *openai) complete(ctx context.Context, apiKey string, messages []Message) (string, error) {
	var resp openaiChatResponse
	err := doJSON(ctx, o.client, jsonRequest{
		backend: NameOpenAI,
		model:   o.completionModel,
		method:  http.MethodPost,
		url:     o.endpoint + "/chat/completions",
		bearer:  apiKey,
		body: openaiChatRequest{
			Model:     o.completionModel,
			Messages:  messages,
			MaxTokens: openaiMaxTokens,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", invalidResponse(NameOpenAI, "%s: %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", invalidResponse(NameOpenAI, "no choices in chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openai) maxBatch() int     { return openaiBatchSize }
func (o *openai) requiresKey() bool { return true }
func (o *openai) closeIdle()        { o.transport.CloseIdleConnections() }
