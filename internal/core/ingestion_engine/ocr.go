package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/markdave123-py/autophile/internal/models"
)

// OCRWord is one recognized element in image pixel space.
type OCRWord struct {
	Text       string
	Confidence float64 // 0-100
	Box        image.Rectangle
}

// Recognizer runs OCR over an encoded page image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) ([]OCRWord, error)
}

// TesseractRecognizer recognizes words with gosseract. A client is created
// per call because tesseract handles are not safe for concurrent use.
type TesseractRecognizer struct {
	language string
}

func NewTesseractRecognizer(language string) *TesseractRecognizer {
	if language == "" {
		language = "eng"
	}
	return &TesseractRecognizer{language: language}
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, img []byte) ([]OCRWord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("tesseract image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognize: %w", err)
	}

	words := make([]OCRWord, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, OCRWord{Text: b.Word, Confidence: b.Confidence, Box: b.Box})
	}
	return words, nil
}

// OCREngine turns a rendered page into the same PageContent the parser emits.
type OCREngine struct {
	recognizer Recognizer
	heuristics Heuristics
}

func NewOCREngine(r Recognizer, h Heuristics) *OCREngine {
	return &OCREngine{recognizer: r, heuristics: h}
}

// PageContent recognizes img and groups words into one text block per line.
// Boxes are scaled from image pixels to the page's width and height.
func (e *OCREngine) PageContent(ctx context.Context, img []byte, pageNumber int, width, height float64) (PageContent, error) {
	words, err := e.recognizer.Recognize(ctx, img)
	if err != nil {
		return PageContent{}, err
	}

	kept := words[:0:0]
	for _, w := range words {
		w.Text = strings.TrimSpace(w.Text)
		if w.Text == "" || w.Confidence < e.heuristics.OCRMinConfidence {
			continue
		}
		kept = append(kept, w)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Box.Min.Y != kept[j].Box.Min.Y {
			return kept[i].Box.Min.Y < kept[j].Box.Min.Y
		}
		return kept[i].Box.Min.X < kept[j].Box.Min.X
	})

	sx, sy := 1.0, 1.0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil && cfg.Width > 0 && cfg.Height > 0 {
		sx, sy = width/float64(cfg.Width), height/float64(cfg.Height)
	}

	var (
		blocks  []TextBlock
		line    []OCRWord
		lineTop int
	)
	flush := func() {
		if len(line) > 0 {
			blocks = append(blocks, lineBlock(line, pageNumber, sx, sy))
		}
		line = line[:0]
	}
	for _, w := range kept {
		if len(line) == 0 {
			lineTop = w.Box.Min.Y
		} else if absInt(w.Box.Min.Y-lineTop) >= e.heuristics.OCRLineThreshold {
			flush()
			lineTop = w.Box.Min.Y
		}
		line = append(line, w)
	}
	flush()

	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = b.Text
	}
	return PageContent{
		PageNumber: pageNumber,
		Width:      width,
		Height:     height,
		Blocks:     blocks,
		RawText:    strings.Join(texts, " "),
	}, nil
}

func lineBlock(words []OCRWord, pageNumber int, sx, sy float64) TextBlock {
	ordered := append([]OCRWord(nil), words...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Box.Min.X < ordered[j].Box.Min.X })

	parts := make([]string, len(ordered))
	box := ordered[0].Box
	for i, w := range ordered {
		parts[i] = w.Text
		box = box.Union(w.Box)
	}
	return TextBlock{
		Text:       strings.Join(parts, " "),
		PageNumber: pageNumber,
		BBox: models.BBox{
			X0: round2(float64(box.Min.X) * sx),
			Y0: round2(float64(box.Min.Y) * sy),
			X1: round2(float64(box.Max.X) * sx),
			Y1: round2(float64(box.Max.Y) * sy),
		},
		Type: BlockText,
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
