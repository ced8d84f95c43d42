package scanner

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amankb/internal/chunk"
	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// frontmatter holds the YAML header fields a note may carry.
type frontmatter struct {
	Title     string `yaml:"title"`
	Created   string `yaml:"created"`
	CreatedAt string `yaml:"createdAt"`
}

// createdLayouts are the accepted creation time formats.
var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseNote converts a markdown file into a note.
//
// The title comes from the frontmatter, then the first "# " heading, then
// the file name. The creation time comes from the frontmatter "created"
// field and is zero when absent. File modification times are never used:
// they change on every edit and would give the note a new identity.
func ParseNote(rel string, data []byte) (chunk.Note, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return chunk.Note{}, amerrors.ValidationError("invalid note frontmatter", err).
			WithDetail("path", rel)
	}

	note := chunk.Note{
		Title: strings.TrimSpace(fm.Title),
		Body:  strings.TrimSpace(body),
	}
	if note.Title == "" {
		note.Title = firstHeading(note.Body)
	}
	if note.Title == "" {
		note.Title = strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	}

	created := fm.Created
	if created == "" {
		created = fm.CreatedAt
	}
	if created != "" {
		t, err := parseCreated(created)
		if err != nil {
			return chunk.Note{}, amerrors.ValidationError("invalid note creation time", err).
				WithDetail("path", rel).
				WithDetail("created", created).
				WithSuggestion("Use an RFC 3339 timestamp or a YYYY-MM-DD date")
		}
		note.CreatedAt = t
	}
	return note, nil
}

// splitFrontmatter separates a leading "---" YAML block from the body.
func splitFrontmatter(data []byte) (frontmatter, string, error) {
	var fm frontmatter
	text := string(bytes.TrimPrefix(data, []byte("\ufeff")))
	text = strings.ReplaceAll(text, "\r\n", "\n")

	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		return fm, text, nil
	}
	header, body, found := strings.Cut(rest, "\n---")
	if !found {
		return fm, text, nil
	}
	// The closing fence must end its line.
	if body != "" && body[0] != '\n' {
		return fm, text, nil
	}

	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", err
	}
	return fm, strings.TrimPrefix(body, "\n"), nil
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if title, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	return ""
}

func parseCreated(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
