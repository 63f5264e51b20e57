package rag

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/autophile/internal/models"
)

const (
	citationExcerptLen = 200
	previewExcerptLen  = 150
	fallbackCitations  = 3
	previewChunks      = 5
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func citationFor(ch models.DocumentChunk, excerptLen int) models.Citation {
	return models.Citation{
		Page:    ch.PageNumber,
		Text:    truncate(ch.Content, excerptLen),
		ChunkID: ch.ID,
		Section: ch.SectionHeading,
	}
}

// ExtractCitations cites each retrieved chunk whose page the response
// mentions as "Page N", one citation per page in retrieval order. With no
// mention at all it cites the first pages among the top chunks.
// The attribution is approximate.
func ExtractCitations(response string, chunks []models.DocumentChunk) []models.Citation {
	var (
		out  []models.Citation
		seen = map[int]bool{}
	)
	for _, ch := range chunks {
		if seen[ch.PageNumber] || !strings.Contains(response, fmt.Sprintf("Page %d", ch.PageNumber)) {
			continue
		}
		out = append(out, citationFor(ch, citationExcerptLen))
		seen[ch.PageNumber] = true
	}
	if len(out) > 0 {
		return out
	}
	for _, ch := range chunks[:min(fallbackCitations, len(chunks))] {
		if seen[ch.PageNumber] {
			continue
		}
		out = append(out, citationFor(ch, citationExcerptLen))
		seen[ch.PageNumber] = true
	}
	return out
}

// TopCitations cites the first n retrieved chunks as they are.
func TopCitations(chunks []models.DocumentChunk, n int) []models.Citation {
	out := make([]models.Citation, 0, min(n, len(chunks)))
	for _, ch := range chunks[:min(n, len(chunks))] {
		out = append(out, citationFor(ch, previewExcerptLen))
	}
	return out
}

func previews(chunks []models.DocumentChunk) []ContextPreview {
	out := make([]ContextPreview, 0, min(previewChunks, len(chunks)))
	for _, ch := range chunks[:min(previewChunks, len(chunks))] {
		out = append(out, ContextPreview{
			Page:    ch.PageNumber,
			Section: ch.SectionHeading,
			Preview: truncate(ch.Content, previewExcerptLen),
		})
	}
	return out
}
