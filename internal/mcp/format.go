package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amankb/internal/search"
)

// FormatSearchResults formats search output as markdown.
func FormatSearchResults(query string, out SearchOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\" in %s", query, out.Collection)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\" in %s\n\n", query, out.Collection)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range out.Results {
		fmt.Fprintf(&sb, "### %d. %s (score: %.2f)\n\n", i+1, r.Title, r.Score)
		sb.WriteString(r.Text)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// FormatCollections formats a collection listing as markdown.
func FormatCollections(collections []search.CollectionSummary) string {
	if len(collections) == 0 {
		return "No collections indexed yet."
	}

	var sb strings.Builder
	sb.WriteString("## Collections\n\n")
	for _, c := range collections {
		fmt.Fprintf(&sb, "- **%s**: %d notes, %d chunks", c.Name, c.Notes, c.Chunks)
		if c.EmbeddingModel != "" {
			fmt.Fprintf(&sb, " (%s/%s, %d dims)", c.EmbeddingProvider, c.EmbeddingModel, c.Dimension)
		}
		if c.Description != "" {
			fmt.Fprintf(&sb, ". %s", c.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ToSearchResultOutput converts a search result to the tool output format.
func ToSearchResultOutput(r *search.Result) SearchResultOutput {
	if r == nil {
		return SearchResultOutput{}
	}
	return SearchResultOutput{
		Title:      r.Title,
		Text:       r.Text,
		Score:      r.Score,
		NoteID:     r.NoteID,
		ChunkIndex: r.ChunkIndex,
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return max(lo, min(limit, hi))
}
