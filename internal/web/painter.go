package web

import (
	"image"
	"image/color"

	"github.com/local/spreadview/internal/viewport"
)

// framePainter composes each engine frame onto the backdrop. It lives on
// the event loop like the engine.
type framePainter struct {
	bg      color.Color
	img     *image.RGBA
	version uint64
}

func newFramePainter(bg color.Color) *framePainter {
	if bg == nil {
		bg = viewport.DefaultBackground
	}
	return &framePainter{bg: bg}
}

func (p *framePainter) Paint(f viewport.Frame) {
	p.version++
	if len(f.Rasters) == 0 {
		p.img = nil
		return
	}
	p.img = viewport.Compose(f.Rasters, f.Layout, p.bg)
}
