package ingestion_engine

import (
	"errors"
	"fmt"

	"github.com/markdave123-py/autophile/internal/models"
)

// BlockType classifies a text block.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockHeading BlockType = "heading"
)

// TextBlock is one positioned run of text on a page.
type TextBlock struct {
	Text           string
	PageNumber     int
	BBox           models.BBox
	Type           BlockType
	SectionHeading string // nearest preceding heading on the same page
	MaxFontSize    float64
}

// PageContent is everything extracted from one physical page.
type PageContent struct {
	PageNumber int // 1-indexed
	Width      float64
	Height     float64
	Blocks     []TextBlock
	RawText    string
}

// ParsedDocument is the immutable result of one parse or OCR pass.
type ParsedDocument struct {
	PageCount int
	Pages     []PageContent
	Metadata  models.DocumentMetadata
}

// Chunk is a token-bounded span of a single page, ready for embedding.
type Chunk struct {
	Content        string
	PageNumber     int
	ChunkIndex     int
	BBox           *models.BBox
	SectionHeading string
	TokenCount     int
}

var (
	// ErrPageLimitExceeded is fatal to ingestion; the document goes to FAILED.
	ErrPageLimitExceeded = errors.New("page limit exceeded")
	// ErrAlreadyProcessed is returned when the single-run guard refuses a run.
	ErrAlreadyProcessed = errors.New("document is not awaiting processing")
)

// PageLimitError reports the page count that tripped the limit.
type PageLimitError struct {
	Pages int
	Max   int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("PDF has %d pages, exceeding maximum of %d", e.Pages, e.Max)
}

func (e *PageLimitError) Unwrap() error { return ErrPageLimitExceeded }
