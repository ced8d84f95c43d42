package chunk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func TestChunk_ShortNoteIsOneChunk(t *testing.T) {
	note := Note{Title: "A", Body: "hello", CreatedAt: created}

	chunks := NewChunker().Chunk(note, 1000)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, NoteID(note), c.NoteID)
	assert.Equal(t, NoteID(note)+":0", c.ID)
	assert.Equal(t, 0, c.Index)
	assert.Equal(t, "hello", c.Text)
	assert.Equal(t, ContentHash(note), c.ContentHash)
	assert.Equal(t, "A\n\nhello", c.EmbedText())
}

func TestChunk_EmptyBodyYieldsTitleChunk(t *testing.T) {
	note := Note{Title: "Only a title", Body: "  \n\n ", CreatedAt: created}

	chunks := NewChunker().Chunk(note, 1000)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Only a title", chunks[0].Text)
	assert.Equal(t, "Only a title", chunks[0].EmbedText())
	assert.NotEmpty(t, chunks[0].ContentHash)
}

func TestChunk_IndicesContiguousAndOnlyFirstHasHash(t *testing.T) {
	var paras []string
	for i := range 12 {
		paras = append(paras, strings.Repeat("word ", 30)+"end of paragraph "+string(rune('a'+i))+".")
	}
	note := Note{Title: "Long", Body: strings.Join(paras, "\n\n"), CreatedAt: created}

	chunks := NewChunker().Chunk(note, 400)
	require.Greater(t, len(chunks), 1)

	withHash := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ChunkID(c.NoteID, i), c.ID)
		assert.LessOrEqual(t, runeLen(c.Text), 400)
		if c.ContentHash != "" {
			withHash++
			assert.Equal(t, 0, c.Index)
		}
	}
	assert.Equal(t, 1, withHash)
}

func TestChunk_PrefersParagraphBoundaries(t *testing.T) {
	p1 := strings.Repeat("a", 300)
	p2 := strings.Repeat("b", 300)
	p3 := strings.Repeat("c", 300)
	note := Note{Title: "T", Body: p1 + "\n\n" + p2 + "\n\n" + p3, CreatedAt: created}

	chunks := NewChunker().Chunk(note, 650)
	require.Len(t, chunks, 2)
	assert.Equal(t, p1+"\n\n"+p2, chunks[0].Text)
	assert.Equal(t, p3, chunks[1].Text)
}

func TestChunk_FallsBackToSentences(t *testing.T) {
	s1 := "First sentence " + strings.Repeat("x", 40) + "."
	s2 := "Second one " + strings.Repeat("y", 40) + "!"
	s3 := "Third " + strings.Repeat("z", 40) + "?"
	note := Note{Title: "T", Body: s1 + " " + s2 + " " + s3, CreatedAt: created}

	chunks := NewChunker().Chunk(note, 120)
	require.Len(t, chunks, 2)
	assert.Equal(t, s1+" "+s2, chunks[0].Text)
	assert.Equal(t, s3, chunks[1].Text)
}

func TestChunk_HardCutsOversizedWord(t *testing.T) {
	note := Note{Title: "T", Body: strings.Repeat("é", 250), CreatedAt: created}

	chunks := NewChunker().Chunk(note, 100)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, runeLen(chunks[0].Text))
	assert.Equal(t, 100, runeLen(chunks[1].Text))
	assert.Equal(t, 50, runeLen(chunks[2].Text))
}

func TestChunk_KeepsFencedBlocksTogether(t *testing.T) {
	body := "Intro.\n\n```\nline one\n\nline two\n```\n\nOutro."
	note := Note{Title: "T", Body: body, CreatedAt: created}

	paras := paragraphs(body)
	require.Len(t, paras, 3)
	assert.Equal(t, "```\nline one\n\nline two\n```", paras[1])

	chunks := NewChunker().Chunk(note, 1000)
	require.Len(t, chunks, 1)
	assert.Equal(t, body, chunks[0].Text)
}

func TestChunk_DefaultTarget(t *testing.T) {
	note := Note{Title: "T", Body: strings.Repeat("word ", 500), CreatedAt: created}

	chunks := NewChunker().Chunk(note, 0)
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Text), DefaultChunkChars)
	}
	assert.Len(t, chunks, 3)
}

func TestChunk_Deterministic(t *testing.T) {
	note := Note{Title: "T", Body: strings.Repeat("Some text here. ", 200), CreatedAt: created}
	c := NewChunker()

	assert.Equal(t, c.Chunk(note, 300), c.Chunk(note, 300))
}

func TestSentences(t *testing.T) {
	got := sentences(`He said "stop." Then left! Why? no end`)
	assert.Equal(t, []string{`He said "stop."`, "Then left!", "Why?", "no end"}, got)
}
