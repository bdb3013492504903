package imagerender

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/viewport"
)

// Format is an output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ColorMode defines the color mode for encoding.
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// DefaultQuality is used when a JPEG quality is out of range.
const DefaultQuality = 85

func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, true
	case "jpg", "jpeg":
		return FormatJPEG, true
	}
	return "", false
}

func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Encode writes img in format f. Gray mode converts before encoding.
func Encode(w io.Writer, img image.Image, f Format, quality int, mode ColorMode) error {
	if mode == ColorGray {
		gray := image.NewGray(img.Bounds())
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
		img = gray
	}
	switch f {
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultQuality
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(w, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	}
	return nil
}

// RenderPage renders one page outside the view cache at scale and runs it
// through filter with sel. Used for page export.
func RenderPage(doc viewport.Document, filter imageproc.Filter, sel imageproc.Selection, page int, scale float64) (image.Image, error) {
	if doc == nil {
		return nil, fmt.Errorf("no document open")
	}
	if page < 0 || page >= doc.PageCount() {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", page+1, doc.PageCount())
	}
	scale = viewport.ClampZoom(scale)
	raw := doc.RenderPage(page, scale)
	if !raw.Valid() {
		return nil, fmt.Errorf("failed to render page %d", page+1)
	}
	out := raw
	if filter != nil && !sel.Identity() {
		processed, err := filter.Apply(raw, sel)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("export filter failed; using unprocessed page")
		} else {
			out = processed
		}
	}
	log.Debug().
		Int("page", page).
		Int("width", out.W).
		Int("height", out.H).
		Float64("scale", scale).
		Msg("rendered page for export")
	return out.ToRGBA(), nil
}
