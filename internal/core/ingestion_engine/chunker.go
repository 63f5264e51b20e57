package ingestion_engine

import (
	"regexp"
	"strings"

	"github.com/markdave123-py/autophile/internal/models"
)

const (
	blockSeparator    = "\n\n"
	sentenceSeparator = " "
)

// sentenceEnd matches terminal punctuation plus the whitespace after it.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Chunker packs page blocks into token-bounded chunks that never span pages.
// A chunk that follows a split starts with the previous chunk's trailing
// overlap tokens.
type Chunker struct {
	tok     Tokenizer
	size    int
	overlap int
}

func NewChunker(tok Tokenizer, size, overlap int) *Chunker {
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{tok: tok, size: size, overlap: max(overlap, 0)}
}

func (c *Chunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}

// ChunkDocument chunks page by page and numbers the result densely from 0.
func (c *Chunker) ChunkDocument(doc *ParsedDocument) []Chunk {
	var all []Chunk
	for _, page := range doc.Pages {
		all = append(all, c.chunkPage(page)...)
	}
	for i := range all {
		all[i].ChunkIndex = i
	}
	return all
}

func (c *Chunker) chunkPage(page PageContent) []Chunk {
	var (
		out        []Chunk
		buf        string
		bufBox     *models.BBox
		bufHeading string
		heading    string
	)
	emit := func(text string, box *models.BBox, section string) {
		if text = strings.TrimSpace(text); text == "" {
			return
		}
		out = append(out, Chunk{
			Content:        text,
			PageNumber:     page.PageNumber,
			BBox:           box,
			SectionHeading: section,
			TokenCount:     c.CountTokens(text),
		})
	}

	for _, b := range page.Blocks {
		if b.Type == BlockHeading {
			heading = b.Text
		}
		box := b.BBox

		if c.CountTokens(b.Text) > c.size {
			emit(buf, bufBox, bufHeading)
			buf, bufBox = "", nil
			for _, piece := range c.splitLarge(b.Text) {
				emit(piece, &box, heading)
			}
			continue
		}

		switch {
		case strings.TrimSpace(buf) == "":
			buf, bufBox = b.Text, &box
		case c.CountTokens(buf+blockSeparator+b.Text) > c.size:
			emit(buf, bufBox, bufHeading)
			buf, bufBox = c.seed(strings.TrimSpace(buf), b.Text, blockSeparator), &box
		default:
			buf += blockSeparator + b.Text
		}
		bufHeading = heading
	}
	emit(buf, bufBox, bufHeading)
	return out
}

// splitLarge cuts an oversized block at sentence boundaries, carrying
// overlap between the pieces. Sentences longer than the chunk size are cut
// into token windows first.
func (c *Chunker) splitLarge(text string) []string {
	var (
		out []string
		buf string
	)
	for _, s := range c.sentences(text) {
		switch {
		case buf == "":
			buf = s
		case c.CountTokens(buf+sentenceSeparator+s) > c.size:
			out = append(out, strings.TrimSpace(buf))
			buf = c.seed(strings.TrimSpace(buf), s, sentenceSeparator)
		default:
			buf += sentenceSeparator + s
		}
	}
	if strings.TrimSpace(buf) != "" {
		out = append(out, strings.TrimSpace(buf))
	}
	return out
}

func (c *Chunker) sentences(text string) []string {
	var out []string
	for _, s := range splitSentences(text) {
		tokens := c.tok.Encode(s)
		if len(tokens) <= c.size {
			out = append(out, s)
			continue
		}
		for start := 0; start < len(tokens); start += c.size {
			end := min(start+c.size, len(tokens))
			if piece := strings.TrimSpace(c.tok.Decode(tokens[start:end])); piece != "" {
				out = append(out, piece)
			}
		}
	}
	return out
}

// seed starts the next buffer with the trailing overlap tokens of prev
// (all of prev when it is shorter) followed by next. The full overlap is
// always kept, so a seeded chunk may exceed the size by up to overlap tokens.
func (c *Chunker) seed(prev, next, sep string) string {
	if c.overlap == 0 || prev == "" {
		return next
	}
	tail := prev
	if tokens := c.tok.Encode(prev); len(tokens) > c.overlap {
		tail = c.tok.Decode(tokens[len(tokens)-c.overlap:])
	}
	return tail + sep + next
}

// splitSentences splits after ., ! or ? followed by whitespace.
func splitSentences(text string) []string {
	var (
		out  []string
		prev int
	)
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[prev : m[0]+1]); s != "" {
			out = append(out, s)
		}
		prev = m[1]
	}
	if s := strings.TrimSpace(text[prev:]); s != "" {
		out = append(out, s)
	}
	return out
}
