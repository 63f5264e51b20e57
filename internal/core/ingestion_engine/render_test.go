package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitzRenderer_TextOnlyPage(t *testing.T) {
	data := buildPDF("Report", [][]fixtureLine{textPage("Overview")})
	r := NewFitzRenderer()

	out, err := r.Render(context.Background(), data, 1, 72)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 612, 792), img.Bounds())
	assert.True(t, hasInk(img), "text should be drawn on the page")

	out, err = r.Render(context.Background(), data, 1, 144)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1224, img.Bounds().Dx())
	assert.Equal(t, 1584, img.Bounds().Dy())
}

func TestFitzRenderer_PageOutOfRange(t *testing.T) {
	data := buildPDF("Report", [][]fixtureLine{textPage("Overview")})
	_, err := NewFitzRenderer().Render(context.Background(), data, 2, 72)
	assert.Error(t, err)
	_, err = NewFitzRenderer().Render(context.Background(), data, 0, 72)
	assert.Error(t, err)
}

func TestPDFParser_RenderPageImageDrawsTextPages(t *testing.T) {
	p := NewPDFParser(100, DefaultHeuristics(), nil, nil)
	out, err := p.RenderPageImage(context.Background(), buildPDF("Text", [][]fixtureLine{textPage("A")}), 1, 50)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, pointsToPixels(612, 50), img.Bounds().Dx())
}

type stubRenderer struct {
	out   []byte
	err   error
	calls int
}

func (s *stubRenderer) Render(context.Context, []byte, int, int) ([]byte, error) {
	s.calls++
	return s.out, s.err
}

func TestFallbackRenderer(t *testing.T) {
	broken := errors.New("mupdf failed")

	t.Run("primary succeeds", func(t *testing.T) {
		primary, secondary := &stubRenderer{out: []byte("a")}, &stubRenderer{out: []byte("b")}
		out, err := (&FallbackRenderer{Primary: primary, Secondary: secondary}).Render(context.Background(), nil, 1, 72)
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), out)
		assert.Zero(t, secondary.calls)
	})

	t.Run("secondary used on failure", func(t *testing.T) {
		primary, secondary := &stubRenderer{err: broken}, &stubRenderer{out: []byte("b")}
		out, err := (&FallbackRenderer{Primary: primary, Secondary: secondary}).Render(context.Background(), nil, 1, 72)
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), out)
	})

	t.Run("both fail", func(t *testing.T) {
		primary, secondary := &stubRenderer{err: broken}, &stubRenderer{err: ErrNoPageImage}
		_, err := (&FallbackRenderer{Primary: primary, Secondary: secondary}).Render(context.Background(), nil, 1, 72)
		assert.ErrorIs(t, err, broken)
		assert.ErrorIs(t, err, ErrNoPageImage)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		primary, secondary := &stubRenderer{err: context.Canceled}, &stubRenderer{out: []byte("b")}
		_, err := (&FallbackRenderer{Primary: primary, Secondary: secondary}).Render(ctx, nil, 1, 72)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, secondary.calls)
	})
}

// hasInk reports whether any pixel is noticeably darker than white.
func hasInk(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r < 0x8000 && g < 0x8000 && bl < 0x8000 {
				return true
			}
		}
	}
	return false
}
