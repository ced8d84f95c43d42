package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amankb/internal/search"
)

func TestFormatSearchResults(t *testing.T) {
	assert.Equal(t, `No results found for "x" in kb`, FormatSearchResults("x", SearchOutput{Collection: "kb"}))

	out := SearchOutput{Collection: "kb", Results: []SearchResultOutput{{Title: "Only", Text: "body", Score: 0.5}}}
	text := FormatSearchResults("x", out)
	assert.Contains(t, text, "Found 1 result\n")
	assert.Contains(t, text, "### 1. Only (score: 0.50)")
}

func TestFormatCollections(t *testing.T) {
	assert.Equal(t, "No collections indexed yet.", FormatCollections(nil))

	text := FormatCollections([]search.CollectionSummary{
		{Name: "kb", Notes: 1, Chunks: 2, EmbeddingProvider: "ollama", EmbeddingModel: "nomic-embed-text", Dimension: 768},
	})
	assert.Contains(t, text, "**kb**: 1 notes, 2 chunks (ollama/nomic-embed-text, 768 dims)")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 1, 50))
	assert.Equal(t, 10, clampLimit(-3, 10, 1, 50))
	assert.Equal(t, 7, clampLimit(7, 10, 1, 50))
	assert.Equal(t, 50, clampLimit(99, 10, 1, 50))
}

func TestToSearchResultOutput(t *testing.T) {
	assert.Equal(t, SearchResultOutput{}, ToSearchResultOutput(nil))
	got := ToSearchResultOutput(&search.Result{NoteID: "n", Title: "T", Text: "x", Score: 0.3, ChunkIndex: 2})
	assert.Equal(t, "n", got.NoteID)
	assert.Equal(t, 2, got.ChunkIndex)
}
