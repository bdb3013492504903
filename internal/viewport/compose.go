package viewport

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/local/spreadview/internal/raster"
)

// DefaultBackground is the viewer's green backdrop.
var DefaultBackground = color.RGBA{R: 134, G: 180, B: 118, A: 0xff}

// Compose paints the frame's rasters onto a canvas filled with bg.
func Compose(rasters []*raster.Raster, l Layout, bg color.Color) *image.RGBA {
	canvas := image.NewRGBA(image.Rectangle{Max: l.Canvas})
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	for i, r := range rasters {
		if i >= len(l.Rects) || r.Empty() {
			continue
		}
		draw.Draw(canvas, l.Rects[i], r.ToRGBA(), image.Point{}, draw.Src)
	}
	return canvas
}

// Thumbnail scales img down so that neither side exceeds maxSide.
// Images already small enough are returned as is.
func Thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	tw, th := maxSide, maxSide
	if w >= h {
		th = max(1, h*maxSide/w)
	} else {
		tw = max(1, w*maxSide/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
