package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/autophile/internal/models"
)

// Letter size in points, used when a page carries no usable MediaBox.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

// DocumentParser is the structural extraction surface the orchestrator needs.
type DocumentParser interface {
	Parse(ctx context.Context, data []byte) (*ParsedDocument, error)
	NeedsOCR(ctx context.Context, data []byte) (bool, error)
	RenderPageImage(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error)
}

var _ DocumentParser = (*PDFParser)(nil)

// PDFParser extracts text blocks with layout heuristics using ledongthuc/pdf,
// with pdfcpu counting pages before any content is decoded.
type PDFParser struct {
	maxPages   int
	heuristics Heuristics
	renderer   PageRenderer
	log        *slog.Logger
}

func NewPDFParser(maxPages int, h Heuristics, renderer PageRenderer, logger *slog.Logger) *PDFParser {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = NewPageRenderer()
	}
	return &PDFParser{maxPages: maxPages, heuristics: h, renderer: renderer, log: logger}
}

// Parse returns every page's blocks and raw text, or a *PageLimitError when
// the document is longer than the configured maximum.
func (p *PDFParser) Parse(ctx context.Context, data []byte) (*ParsedDocument, error) {
	reader, err := openPDF(data)
	if err != nil {
		return nil, err
	}

	count := p.pageCount(data, reader)
	if p.maxPages > 0 && count > p.maxPages {
		return nil, &PageLimitError{Pages: count, Max: p.maxPages}
	}

	pages := make([]PageContent, 0, count)
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pc, err := p.extractPage(reader, i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pc)
	}

	return &ParsedDocument{
		PageCount: len(pages),
		Pages:     pages,
		Metadata:  readMetadata(reader),
	}, nil
}

// NeedsOCR samples the first pages and reports whether they carry too little
// embedded text to be anything but scans.
func (p *PDFParser) NeedsOCR(ctx context.Context, data []byte) (bool, error) {
	reader, err := openPDF(data)
	if err != nil {
		return false, err
	}
	sample := min(p.heuristics.OCRSamplePages, reader.NumPage())
	lengths := make([]int, 0, sample)
	for i := 1; i <= sample; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		text, err := plainText(reader.Page(i))
		if err != nil {
			p.log.Debug("raw text unavailable while sampling", "page", i, "err", err)
		}
		lengths = append(lengths, len([]rune(strings.TrimSpace(text))))
	}
	return p.heuristics.NeedsOCR(lengths), nil
}

// RenderPageImage rasterizes a page to PNG at the given resolution.
func (p *PDFParser) RenderPageImage(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error) {
	return p.renderer.Render(ctx, data, pageNumber, dpi)
}

func (p *PDFParser) pageCount(data []byte, reader *pdf.Reader) int {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		p.log.Debug("pdfcpu page count failed, using page tree", "err", err)
		return reader.NumPage()
	}
	return n
}

func (p *PDFParser) extractPage(reader *pdf.Reader, number int) (pc PageContent, err error) {
	page := reader.Page(number)
	width, height := pageSize(page)
	pc = PageContent{PageNumber: number, Width: width, Height: height}
	if page.V.IsNull() || page.V.Key("Contents").IsNull() {
		return pc, nil
	}

	defer func() {
		// ledongthuc/pdf panics on malformed content streams.
		if r := recover(); r != nil {
			err = fmt.Errorf("decode content: %v", r)
		}
	}()

	content := page.Content()
	glyphs := make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	pc.Blocks = groupBlocks(glyphs, number, height, p.heuristics)

	raw, rerr := plainText(page)
	if rerr != nil {
		p.log.Debug("raw text unavailable", "page", number, "err", rerr)
	}
	pc.RawText = raw
	return pc, nil
}

func openPDF(data []byte) (*pdf.Reader, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return reader, nil
}

func plainText(page pdf.Page) (text string, err error) {
	if page.V.IsNull() || page.V.Key("Contents").IsNull() {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plain text: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

// pageSize reads the MediaBox, walking up the page tree for inherited boxes.
func pageSize(page pdf.Page) (float64, float64) {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
	}
	return defaultPageWidth, defaultPageHeight
}

func readMetadata(reader *pdf.Reader) models.DocumentMetadata {
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return models.DocumentMetadata{}
	}
	get := func(key string) string { return strings.TrimSpace(info.Key(key).Text()) }
	return models.DocumentMetadata{
		Title:    get("Title"),
		Author:   get("Author"),
		Subject:  get("Subject"),
		Creator:  get("Creator"),
		Producer: get("Producer"),
		Created:  get("CreationDate"),
		Modified: get("ModDate"),
	}
}
