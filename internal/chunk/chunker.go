// Package chunk splits notes into ordered, embeddable chunks and defines
// note and content identity.
package chunk

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultChunkChars is the target chunk length in characters.
const DefaultChunkChars = 1000

// Chunk is a contiguous slice of a note body.
type Chunk struct {
	ID     string // NoteID + ":" + Index
	NoteID string
	Index  int // 0-based, contiguous within a note
	Text   string
	// ContentHash is set on Index 0 only. Change detection reads it from
	// that one chunk, keeping metadata proportional to notes, not chunks.
	ContentHash string
	Title       string
}

// ChunkID returns the identifier of the index-th chunk of a note.
func ChunkID(noteID string, index int) string {
	return noteID + ":" + strconv.Itoa(index)
}

// EmbedText is the text sent to the embedding model. The title is prepended
// so continuation chunks keep the note's context.
func (c Chunk) EmbedText() string {
	if c.Title == "" || c.Text == c.Title {
		return c.Text
	}
	if c.Text == "" {
		return c.Title
	}
	return c.Title + "\n\n" + c.Text
}

// Chunker splits note bodies at paragraph, then sentence, then word
// boundaries, cutting mid-word only when a single word exceeds the target.
type Chunker struct{}

// NewChunker returns a Chunker.
func NewChunker() *Chunker {
	return &Chunker{}
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	// sentenceEnd matches terminal punctuation, optional closing quotes or
	// brackets, then whitespace.
	sentenceEnd = regexp.MustCompile(`[.!?]+["'”’)\]]*\s+`)
)

// Chunk splits note into chunks of roughly targetChars characters. A
// non-positive target uses DefaultChunkChars. A note with an empty body
// yields a single chunk holding its title, so every note has a chunk 0.
func (c *Chunker) Chunk(note Note, targetChars int) []Chunk {
	if targetChars <= 0 {
		targetChars = DefaultChunkChars
	}

	noteID := NoteID(note)
	texts := pack(segment(note.Body, targetChars), targetChars)
	if len(texts) == 0 {
		texts = []string{strings.TrimSpace(note.Title)}
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:     ChunkID(noteID, i),
			NoteID: noteID,
			Index:  i,
			Text:   text,
			Title:  note.Title,
		}
	}
	chunks[0].ContentHash = ContentHash(note)
	return chunks
}

// piece is a unit that is never split further, with the separator that
// joins it to the previous piece.
type piece struct {
	text string
	sep  string
}

func segment(body string, target int) []piece {
	var pieces []piece
	for _, para := range paragraphs(body) {
		if runeLen(para) <= target {
			pieces = append(pieces, piece{para, "\n\n"})
			continue
		}
		sep := "\n\n"
		for _, sent := range sentences(para) {
			if runeLen(sent) <= target {
				pieces = append(pieces, piece{sent, sep})
				sep = " "
				continue
			}
			for _, w := range strings.Fields(sent) {
				for _, part := range hardCut(w, target) {
					pieces = append(pieces, piece{part, sep})
					sep = " "
				}
			}
		}
	}
	return pieces
}

// pack greedily joins pieces into chunks no longer than target.
func pack(pieces []piece, target int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	for _, p := range pieces {
		n := runeLen(p.text)
		if curLen > 0 && curLen+runeLen(p.sep)+n > target {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString(p.sep)
			curLen += runeLen(p.sep)
		}
		cur.WriteString(p.text)
		curLen += n
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// paragraphs splits on blank lines, keeping fenced code blocks whole.
func paragraphs(body string) []string {
	var out []string
	for _, part := range paragraphBreak.Split(body, -1) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return mergeFences(out)
}

// mergeFences rejoins paragraphs that belong to one ``` fenced block.
func mergeFences(paras []string) []string {
	var result []string
	var block strings.Builder
	inFence := false

	for _, para := range paras {
		if inFence {
			block.WriteString("\n\n")
			block.WriteString(para)
			if strings.Count(para, "```")%2 == 1 {
				result = append(result, block.String())
				block.Reset()
				inFence = false
			}
			continue
		}
		if strings.Count(para, "```")%2 == 1 {
			inFence = true
			block.WriteString(para)
			continue
		}
		result = append(result, para)
	}
	// Unclosed fence.
	if inFence {
		result = append(result, block.String())
	}
	return result
}

func sentences(para string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		if s := strings.TrimSpace(para[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func hardCut(word string, target int) []string {
	if runeLen(word) <= target {
		return []string{word}
	}
	runes := []rune(word)
	var parts []string
	for len(runes) > 0 {
		n := min(target, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
