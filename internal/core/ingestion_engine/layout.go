package ingestion_engine

import (
	"math"
	"strings"

	"github.com/markdave123-py/autophile/internal/models"
)

// glyph is one positioned text run in PDF user space (origin bottom-left).
type glyph struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

type line struct {
	text        strings.Builder
	y           float64
	x0, x1      float64
	maxFontSize float64
	lastSize    float64
}

// groupBlocks rebuilds lines and blocks from glyphs in content-stream order,
// which is how a PDF producer lays text out for reading. Boxes are returned
// in top-left page coordinates.
func groupBlocks(glyphs []glyph, pageNumber int, pageHeight float64, h Heuristics) []TextBlock {
	lines := groupLines(glyphs)
	if len(lines) == 0 {
		return nil
	}

	var (
		blocks  []TextBlock
		current []*line
	)
	emit := func() {
		if len(current) == 0 {
			return
		}
		if b, ok := makeBlock(current, pageNumber, pageHeight); ok {
			blocks = append(blocks, b)
		}
		current = current[:0]
	}

	for _, ln := range lines {
		if len(current) > 0 {
			prev := current[len(current)-1]
			gap := prev.y - ln.y
			size := math.Max(prev.maxFontSize, 1)
			sameSize := math.Abs(prev.maxFontSize-ln.maxFontSize) < 1
			if gap <= 0 || gap > 1.6*size || !sameSize {
				emit()
			}
		}
		current = append(current, ln)
	}
	emit()

	return classifyBlocks(blocks, h)
}

func groupLines(glyphs []glyph) []*line {
	var (
		lines []*line
		cur   *line
	)
	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		size := math.Max(g.FontSize, 1)
		if cur == nil || math.Abs(g.Y-cur.y) > 0.5*math.Max(size, cur.lastSize) {
			cur = &line{y: g.Y, x0: g.X, x1: g.X}
			lines = append(lines, cur)
		} else if g.X-cur.x1 > 0.25*size && !strings.HasSuffix(cur.text.String(), " ") && !strings.HasPrefix(g.S, " ") {
			cur.text.WriteByte(' ')
		}
		cur.text.WriteString(g.S)
		cur.x0 = math.Min(cur.x0, g.X)
		cur.x1 = math.Max(cur.x1, g.X+g.W)
		cur.maxFontSize = math.Max(cur.maxFontSize, g.FontSize)
		cur.lastSize = size
	}
	return lines
}

func makeBlock(lines []*line, pageNumber int, pageHeight float64) (TextBlock, bool) {
	parts := make([]string, 0, len(lines))
	box := models.BBox{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	maxSize := 0.0
	for _, ln := range lines {
		parts = append(parts, ln.text.String())
		top := pageHeight - (ln.y + ln.maxFontSize)
		bottom := pageHeight - ln.y
		box = box.Union(models.BBox{X0: ln.x0, Y0: top, X1: ln.x1, Y1: bottom})
		maxSize = math.Max(maxSize, ln.maxFontSize)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return TextBlock{}, false
	}
	return TextBlock{
		Text:        text,
		PageNumber:  pageNumber,
		BBox:        box,
		Type:        BlockText,
		MaxFontSize: maxSize,
	}, true
}

// classifyBlocks marks headings and carries the latest heading forward as
// the section of every following block on the page.
func classifyBlocks(blocks []TextBlock, h Heuristics) []TextBlock {
	section := ""
	for i := range blocks {
		if h.IsHeading(blocks[i].Text, blocks[i].MaxFontSize) {
			blocks[i].Type = BlockHeading
			section = blocks[i].Text
		}
		blocks[i].SectionHeading = section
	}
	return blocks
}
