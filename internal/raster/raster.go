// Package raster turns pages of scanned PDF documents into fixed-size
// grayscale bitmaps so that pixel comparisons across documents line up.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"

	_ "image/jpeg"

	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Target bitmap size: A4 at roughly 96 DPI.
const (
	Width  = 794
	Height = 1123
)

// Rasterizer renders single PDF pages to bitmaps of a fixed size.
type Rasterizer struct {
	Width  int
	Height int
}

// New returns a Rasterizer producing Width x Height bitmaps.
func New() *Rasterizer {
	return &Rasterizer{Width: Width, Height: Height}
}

// newConfig builds a fresh pdfcpu configuration per call; pdfcpu mutates it
// while running a command, so it cannot be shared between goroutines.
func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in pdf.
func PageCount(pdf []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(pdf), newConfig())
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// Render produces the bitmap of the 1-indexed page pageNumber. Scanned pages
// carry their content as an embedded image; the largest image on the page is
// taken as the page raster. Every failure wraps models.ErrRasterizationFailed.
func (r *Rasterizer) Render(pdf []byte, pageNumber int) (*image.Gray, error) {
	if pageNumber < 1 {
		return nil, fmt.Errorf("%w: page %d is out of range", models.ErrRasterizationFailed, pageNumber)
	}
	count, err := PageCount(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRasterizationFailed, err)
	}
	if pageNumber > count {
		return nil, fmt.Errorf("%w: page %d exceeds page count %d", models.ErrRasterizationFailed, pageNumber, count)
	}

	var best image.Image
	var bestArea int
	digest := func(img model.Image, _ bool, _ int) error {
		decoded, _, err := image.Decode(img)
		if err != nil {
			// Masks and unsupported filters are not page content.
			return nil
		}
		if area := decoded.Bounds().Dx() * decoded.Bounds().Dy(); area > bestArea {
			best, bestArea = decoded, area
		}
		return nil
	}
	pages := []string{strconv.Itoa(pageNumber)}
	if err := api.ExtractImages(bytes.NewReader(pdf), pages, digest, newConfig()); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", models.ErrRasterizationFailed, pageNumber, err)
	}
	if best == nil {
		return nil, fmt.Errorf("%w: page %d has no raster content", models.ErrRasterizationFailed, pageNumber)
	}
	return Normalize(best, r.Width, r.Height), nil
}

// Normalize scales img to a w x h grayscale bitmap.
func Normalize(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Decode parses an encoded PNG, JPEG or TIFF image and normalizes it to w x h.
func Decode(data []byte, w, h int) (*image.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return Normalize(img, w, h), nil
}

// EncodePNG serializes a bitmap for storage or synchronous analysis.
func EncodePNG(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
