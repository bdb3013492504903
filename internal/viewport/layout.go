package viewport

import "image"

const (
	DefaultMargin = 6
	DefaultGap    = 6
)

// Layout places the rasters of a frame inside the viewport.
type Layout struct {
	// Content is the scrollable size: the spread plus a margin on each side.
	Content image.Point
	// Canvas is the painted area, at least the viewport and at least Content.
	Canvas image.Point
	// Rects holds one rectangle per slot, in slot order.
	Rects []image.Rectangle
}

// ComputeLayout lays out pages side by side, top aligned, separated by gap.
// The spread is centered horizontally when the viewport is wider than it.
func ComputeLayout(sizes []image.Point, viewport image.Point, margin, gap int) Layout {
	if len(sizes) == 0 {
		return Layout{Canvas: viewport}
	}
	contentW, contentH := 0, 0
	for i, s := range sizes {
		if i > 0 {
			contentW += gap
		}
		contentW += s.X
		if s.Y > contentH {
			contentH = s.Y
		}
	}

	baseX := margin
	if avail := viewport.X - 2*margin; avail > contentW {
		baseX = margin + (avail-contentW)/2
	}
	baseY := margin

	l := Layout{
		Content: image.Pt(contentW+2*margin, contentH+2*margin),
		Rects:   make([]image.Rectangle, len(sizes)),
	}
	l.Canvas = image.Pt(max(viewport.X, l.Content.X), max(viewport.Y, l.Content.Y))

	x := baseX
	for i, s := range sizes {
		l.Rects[i] = image.Rect(x, baseY, x+s.X, baseY+s.Y)
		x += s.X + gap
	}
	return l
}

// Hit returns the index of the rectangle containing p.
func (l Layout) Hit(p image.Point) (int, bool) {
	for i, r := range l.Rects {
		if p.In(r) {
			return i, true
		}
	}
	return -1, false
}
