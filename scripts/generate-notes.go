//go:build ignore

// Package main generates a synthetic note corpus for exercising indexing.
// Usage: go run scripts/generate-notes.go -notes 1000 -format markdown -output testdata/notes
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numNotes  = flag.Int("notes", 1000, "Number of notes to generate")
	format    = flag.String("format", "json", "Output format: json or markdown")
	outputDir = flag.String("output", "testdata/notes", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
	paras     = flag.Int("paragraphs", 4, "Maximum paragraphs per note")
)

var topics = []string{
	"gardening", "climbing", "sourdough", "hiring", "roadmap", "travel",
	"reading", "running", "budget", "kubernetes", "woodworking", "piano",
}

var sentences = []string{
	"Spent the morning on %s and made better progress than expected.",
	"The main open question about %s is still how to measure it.",
	"Talked to a friend about %s, they suggested starting smaller.",
	"Wrote down three ideas for %s before they slipped away.",
	"Nothing new on %s today, mostly waiting on other things.",
	"Revisited last month's notes on %s and most still hold.",
	"Found a good article on %s and saved the key points below.",
}

type note struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	notes := make([]note, *numNotes)
	for i := range notes {
		topic := topics[rng.Intn(len(topics))]
		notes[i] = note{
			Title:     fmt.Sprintf("%s log %d", strings.ToUpper(topic[:1])+topic[1:], i+1),
			Body:      body(rng, topic),
			CreatedAt: start.Add(time.Duration(i) * 7 * time.Hour),
		}
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var err error
	switch *format {
	case "json":
		err = writeJSON(filepath.Join(*outputDir, "notes.json"), notes)
	case "markdown":
		err = writeMarkdown(*outputDir, notes)
	default:
		err = fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d notes in %s (%s)\n", len(notes), *outputDir, *format)
}

func body(rng *rand.Rand, topic string) string {
	n := 1 + rng.Intn(*paras)
	ps := make([]string, n)
	for i := range ps {
		var sb strings.Builder
		for range 2 + rng.Intn(4) {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, sentences[rng.Intn(len(sentences))], topic)
		}
		ps[i] = sb.String()
	}
	return strings.Join(ps, "\n\n")
}

func writeJSON(path string, notes []note) error {
	data, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeMarkdown(dir string, notes []note) error {
	for i, n := range notes {
		sub := filepath.Join(dir, n.CreatedAt.Format("2006-01"))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return err
		}
		content := fmt.Sprintf("---\ntitle: %s\ncreated: %s\n---\n\n%s\n",
			n.Title, n.CreatedAt.Format(time.RFC3339), n.Body)
		path := filepath.Join(sub, fmt.Sprintf("note-%05d.md", i+1))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
