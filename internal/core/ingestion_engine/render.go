package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"strconv"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// ErrNoPageImage is returned when a page has no raster content to render.
var ErrNoPageImage = errors.New("page has no raster image")

// PageRenderer rasterizes one PDF page to PNG bytes.
type PageRenderer interface {
	Render(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error)
}

// NewPageRenderer rasterizes with MuPDF and falls back to the page's embedded
// scan when MuPDF cannot open or draw the file.
func NewPageRenderer() PageRenderer {
	return &FallbackRenderer{Primary: NewFitzRenderer(), Secondary: NewEmbeddedImageRenderer()}
}

// FitzRenderer draws the whole page (text, vector art and images) through
// MuPDF via go-fitz.
type FitzRenderer struct{}

func NewFitzRenderer() *FitzRenderer { return &FitzRenderer{} }

func (r *FitzRenderer) Render(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error) {
	if pageNumber < 1 {
		return nil, fmt.Errorf("invalid page number %d", pageNumber)
	}
	if dpi <= 0 {
		dpi = 150
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf for rendering: %w", err)
	}
	defer doc.Close()

	if n := doc.NumPage(); pageNumber > n {
		return nil, fmt.Errorf("page %d out of range (%d pages)", pageNumber, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := doc.ImageDPI(pageNumber-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNumber, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FallbackRenderer tries Primary and hands the page to Secondary when it fails.
// Cancellation is returned as is.
type FallbackRenderer struct {
	Primary   PageRenderer
	Secondary PageRenderer
}

func (r *FallbackRenderer) Render(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error) {
	img, err := r.Primary.Render(ctx, data, pageNumber, dpi)
	if err == nil || ctx.Err() != nil {
		return img, err
	}
	img, fallbackErr := r.Secondary.Render(ctx, data, pageNumber, dpi)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return img, nil
}

// EmbeddedImageRenderer renders scanned pages by pulling the page's largest
// embedded raster image through pdfcpu and resampling it to the page size at
// the requested DPI. Scanners store one full-page image per page, which is
// exactly the content OCR needs.
type EmbeddedImageRenderer struct {
	conf *model.Configuration
}

func NewEmbeddedImageRenderer() *EmbeddedImageRenderer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &EmbeddedImageRenderer{conf: conf}
}

func (r *EmbeddedImageRenderer) Render(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error) {
	if pageNumber < 1 {
		return nil, fmt.Errorf("invalid page number %d", pageNumber)
	}
	if dpi <= 0 {
		dpi = 150
	}

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), []string{strconv.Itoa(pageNumber)}, r.conf)
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var best *model.Image
	for _, byObj := range pages {
		for objNr := range byObj {
			img := byObj[objNr]
			if img.PageNr != 0 && img.PageNr != pageNumber {
				continue
			}
			if best == nil || img.Width*img.Height > best.Width*best.Height {
				best = &img
			}
		}
	}
	if best == nil {
		return nil, ErrNoPageImage
	}

	src, _, err := image.Decode(best)
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", best.FileType, err)
	}

	width, height := defaultPageWidth, defaultPageHeight
	if reader, err := openPDF(data); err == nil {
		w, h := pageSize(reader.Page(pageNumber))
		width, height = int(w), int(h)
	}
	dst := resample(src, pointsToPixels(float64(width), dpi), pointsToPixels(float64(height), dpi))

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func pointsToPixels(points float64, dpi int) int {
	return int(math.Round(points / 72 * float64(dpi)))
}

// resample scales src into a w x h canvas with Catmull-Rom filtering.
func resample(src image.Image, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return src
	}
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
