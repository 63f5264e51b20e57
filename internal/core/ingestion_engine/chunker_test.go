package ingestion_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textBlock(page int, text string) TextBlock {
	return TextBlock{Text: text, PageNumber: page, Type: BlockText}
}

func TestChunker_PacksBlocksWithOverlap(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 10, 3)
	doc := &ParsedDocument{Pages: []PageContent{{
		PageNumber: 1,
		Blocks: []TextBlock{
			textBlock(1, words("a", 4)),
			textBlock(1, words("b", 4)),
			textBlock(1, words("c", 4)),
			textBlock(1, words("d", 4)),
		},
	}}}

	chunks := c.ChunkDocument(doc)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.LessOrEqual(t, ch.TokenCount, 10)
		assert.Equal(t, c.CountTokens(ch.Content), ch.TokenCount)
	}
	assert.Equal(t, "a0 a1 a2 a3\n\nb0 b1 b2 b3", chunks[0].Content)

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Content)
		tail := strings.Join(prev[len(prev)-3:], " ")
		assert.True(t, strings.HasPrefix(chunks[i].Content, tail),
			"chunk %d should start with %q, got %q", i, tail, chunks[i].Content)
	}
}

func TestChunker_NeverSpansPages(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 50, 5)
	doc := &ParsedDocument{Pages: []PageContent{
		{PageNumber: 1, Blocks: []TextBlock{textBlock(1, words("p", 3))}},
		{PageNumber: 2, Blocks: []TextBlock{textBlock(2, words("q", 3))}},
		{PageNumber: 3},
	}}

	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, "p0 p1 p2", chunks[0].Content)
	assert.Equal(t, 2, chunks[1].PageNumber)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, "q0 q1 q2", chunks[1].Content, "no overlap across pages")
}

func TestChunker_SplitsOversizedBlockBySentence(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 6, 2)
	text := "One two three four. Five six seven eight. Nine ten eleven."
	doc := &ParsedDocument{Pages: []PageContent{{PageNumber: 1, Blocks: []TextBlock{textBlock(1, text)}}}}

	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 3)
	assert.Equal(t, "One two three four.", chunks[0].Content)
	assert.Equal(t, "three four. Five six seven eight.", chunks[1].Content)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 6)
		require.NotNil(t, ch.BBox)
	}
}

func TestChunker_CutsRunOnSentenceIntoWindows(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 10, 2)
	doc := &ParsedDocument{Pages: []PageContent{{PageNumber: 1, Blocks: []TextBlock{textBlock(1, words("w", 25))}}}}

	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 3)
	assert.Equal(t, words("w", 10), chunks[0].Content)
	assert.Equal(t, []int{10, 12, 7}, []int{chunks[0].TokenCount, chunks[1].TokenCount, chunks[2].TokenCount})
	assert.True(t, strings.HasPrefix(chunks[1].Content, "w8 w9 w10"), chunks[1].Content)
	assert.True(t, strings.HasPrefix(chunks[2].Content, "w18 w19 w20"), chunks[2].Content)
	assert.True(t, strings.HasSuffix(chunks[2].Content, "w24"))
}

func TestChunker_KeepsFullOverlapBeforeLargeBlock(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 10, 3)
	doc := &ParsedDocument{Pages: []PageContent{{
		PageNumber: 1,
		Blocks: []TextBlock{
			textBlock(1, words("a", 4)),
			textBlock(1, words("b", 9)),
		},
	}}}

	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, words("a", 4), chunks[0].Content)
	assert.Equal(t, "a1 a2 a3\n\n"+words("b", 9), chunks[1].Content)
	assert.Equal(t, 12, chunks[1].TokenCount, "size plus the overlap")
}

func TestChunker_SectionHeadings(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 100, 10)
	doc := &ParsedDocument{Pages: []PageContent{{
		PageNumber: 1,
		Blocks: []TextBlock{
			{Text: "Overview", PageNumber: 1, Type: BlockHeading, SectionHeading: "Overview"},
			textBlock(1, "Body text here."),
		},
	}}}

	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Overview", chunks[0].SectionHeading)
	assert.Equal(t, "Overview\n\nBody text here.", chunks[0].Content)
}

func TestChunker_OverlapClamp(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 8, 8)
	assert.Equal(t, 2, c.overlap)
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"One two.", "Three four!", "Five?"}, splitSentences("One two. Three four!  Five?"))
	assert.Equal(t, []string{"no terminal punctuation"}, splitSentences("no terminal punctuation"))
	assert.Equal(t, []string{"v1.2 is out."}, splitSentences("v1.2 is out."))
	assert.Empty(t, splitSentences("   "))
}
