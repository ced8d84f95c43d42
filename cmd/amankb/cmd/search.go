package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	answer bool
	format string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <collection> <query>",
		Short: "Semantic search over a collection",
		Long: `Search a collection by meaning. The query is embedded with the model
the collection was built with, whatever the current configuration says.

Examples:
  amankb search journal "trip to lisbon"
  amankb search work "quarterly planning" -n 5 --format json
  amankb search work "what did we decide about hiring?" --answer`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().BoolVar(&opts.answer, "answer", false, "Answer the query from the top results with the collection's completion model")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, collection, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid --format %q (use text or json)", opts.format)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s := a.searcher()
	defer func() { _ = s.Close() }()

	w := cmd.OutOrStdout()
	if opts.answer {
		ans, err := s.Answer(ctx, query, collection, opts.limit)
		if err != nil {
			return err
		}
		if opts.format == "json" {
			return encodeJSON(w, ans)
		}
		_, _ = fmt.Fprintln(w, ans.Text)
		if len(ans.Sources) > 0 {
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, "Sources:")
			for _, title := range sourceTitles(ans.Sources) {
				_, _ = fmt.Fprintf(w, "  - %s\n", title)
			}
		}
		return nil
	}

	results, err := s.Search(ctx, query, collection, opts.limit)
	if err != nil {
		return err
	}
	if opts.format == "json" {
		return encodeJSON(w, results)
	}

	out := output.New(w)
	if len(results) == 0 {
		out.Statusf("🔍", "No results for %q in %s", query, collection)
		return nil
	}
	for i, r := range results {
		out.Heading(fmt.Sprintf("%d. %s  (%.3f)", i+1, r.Title, r.Score))
		out.Code(strings.TrimSpace(r.Text))
	}
	return nil
}

// sourceTitles lists each note once, in rank order.
func sourceTitles(results []*search.Result) []string {
	seen := make(map[string]bool, len(results))
	var titles []string
	for _, r := range results {
		if seen[r.NoteID] {
			continue
		}
		seen[r.NoteID] = true
		titles = append(titles, r.Title)
	}
	return titles
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
