package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/provider"
)

// maxContextChars bounds the note text sent to the completion model.
const maxContextChars = 8000

const answerSystemPrompt = "You answer questions using only the notes provided. " +
	"Cite note titles in brackets. If the notes do not contain the answer, say so."

// Answer is a completion grounded on search results.
type Answer struct {
	Text    string    `json:"answer"`
	Sources []*Result `json:"sources"`
}

// Answer searches the collection and asks the collection's completion model
// to answer query from the hits. It fails when the collection has no
// completion model recorded.
func (s *Searcher) Answer(ctx context.Context, query, collection string, topK int) (*Answer, error) {
	results, err := s.Search(ctx, query, collection, topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Answer{Text: "No notes matched the question.", Sources: results}, nil
	}

	_, p, err := s.providerFor(ctx, collection)
	if err != nil {
		return nil, err
	}
	if p.Info().CompletionModel == "" {
		return nil, amerrors.ConfigError(
			fmt.Sprintf("collection %q has no completion model recorded", collection), nil).
			WithDetail("collection", collection).
			WithSuggestion("Set provider.completion_model and rebuild the collection with --force")
	}

	text, err := p.Complete(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: answerSystemPrompt},
		{Role: provider.RoleUser, Content: buildPrompt(strings.TrimSpace(query), results)},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("answer_completed",
		slog.String("collection", collection),
		slog.Int("sources", len(results)))
	return &Answer{Text: strings.TrimSpace(text), Sources: results}, nil
}

func buildPrompt(query string, results []*Result) string {
	var sb strings.Builder
	sb.WriteString("Notes:\n\n")
	used := 0
	for _, r := range results {
		entry := fmt.Sprintf("[%s]\n%s\n\n", r.Title, r.Text)
		if used+len(entry) > maxContextChars && used > 0 {
			break
		}
		sb.WriteString(entry)
		used += len(entry)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}
