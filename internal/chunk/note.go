package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// HashAlgorithm names the digest behind NoteID and ContentHash.
const HashAlgorithm = "sha256"

// Note is one input record. Callers supply the full set of notes on every
// run; nothing about a note is persisted except through its chunks.
type Note struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// NoteID is the stable identity of a note, derived from its title and
// creation time. Renaming a note or changing its creation time yields a new
// identity, so the old note is deleted and the new one added.
func NoteID(n Note) string {
	return digest(n.Title, n.CreatedAt.UTC().Format(time.RFC3339Nano))
}

// ContentHash changes whenever the title or body changes.
func ContentHash(n Note) string {
	return digest(n.Title, n.Body)
}

func digest(a, b string) string {
	h := sha256.New()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate rejects notes that cannot produce an embeddable chunk.
func (n Note) Validate() error {
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Body) == "" {
		return amerrors.New(amerrors.ErrCodeInvalidNote, "note has neither title nor body", nil)
	}
	return nil
}

// LoadNotes decodes a JSON array of notes.
func LoadNotes(r io.Reader) ([]Note, error) {
	var notes []Note
	dec := json.NewDecoder(r)
	if err := dec.Decode(&notes); err != nil {
		return nil, amerrors.ValidationError("invalid notes JSON", err).
			WithSuggestion(`Provide an array of {"title", "body", "createdAt"} objects`)
	}
	return notes, nil
}

// LoadNotesFile reads a JSON notes file from disk.
func LoadNotesFile(path string) ([]Note, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, amerrors.New(amerrors.ErrCodeFileNotFound,
				fmt.Sprintf("notes file not found: %s", path), err)
		}
		return nil, amerrors.New(amerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot open notes file: %s", path), err)
	}
	defer func() { _ = f.Close() }()

	notes, err := LoadNotes(f)
	if err != nil {
		if ae, ok := amerrors.As(err); ok {
			ae.WithDetail("path", path)
		}
		return nil, err
	}
	return notes, nil
}
