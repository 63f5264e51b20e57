package ingestion_engine

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/autophile/internal/models"
)

type fakeRecognizer struct {
	words []OCRWord
	err   error
}

func (f fakeRecognizer) Recognize(ctx context.Context, _ []byte) ([]OCRWord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.words, f.err
}

func TestOCREngine_GroupsLinesAndScalesBoxes(t *testing.T) {
	rec := fakeRecognizer{words: []OCRWord{
		{Text: "world", Confidence: 85, Box: image.Rect(220, 98, 320, 130)},
		{Text: "Hello", Confidence: 90, Box: image.Rect(100, 100, 200, 130)},
		{Text: "noise", Confidence: 10, Box: image.Rect(400, 100, 450, 130)},
		{Text: "  ", Confidence: 99, Box: image.Rect(500, 100, 510, 130)},
		{Text: "Second", Confidence: 95, Box: image.Rect(100, 200, 250, 230)},
	}}
	engine := NewOCREngine(rec, DefaultHeuristics())

	page, err := engine.PageContent(context.Background(), blankPNG(t, 1224, 1584), 2, 612, 792)
	require.NoError(t, err)

	assert.Equal(t, 2, page.PageNumber)
	assert.Equal(t, "Hello world Second", page.RawText)
	require.Len(t, page.Blocks, 2)

	first := page.Blocks[0]
	assert.Equal(t, "Hello world", first.Text)
	assert.Equal(t, BlockText, first.Type)
	assert.Equal(t, models.BBox{X0: 50, Y0: 49, X1: 160, Y1: 65}, first.BBox)

	assert.Equal(t, "Second", page.Blocks[1].Text)
	assert.Equal(t, models.BBox{X0: 50, Y0: 100, X1: 125, Y1: 115}, page.Blocks[1].BBox)
}

func TestOCREngine_EmptyPage(t *testing.T) {
	engine := NewOCREngine(fakeRecognizer{}, DefaultHeuristics())
	page, err := engine.PageContent(context.Background(), blankPNG(t, 10, 10), 1, 612, 792)
	require.NoError(t, err)
	assert.Empty(t, page.Blocks)
	assert.Empty(t, page.RawText)
}

func TestOCREngine_RecognizerError(t *testing.T) {
	boom := errors.New("tesseract missing")
	engine := NewOCREngine(fakeRecognizer{err: boom}, DefaultHeuristics())
	_, err := engine.PageContent(context.Background(), blankPNG(t, 10, 10), 1, 612, 792)
	assert.ErrorIs(t, err, boom)
}
