package viewport

import "math"

const (
	MinZoom = 0.2
	MaxZoom = 6.0

	// zoomEpsilon is the smallest change that counts as a new scale.
	zoomEpsilon = 1e-9

	zoomStep      = 1.2
	zoomWheelBase = 1.1
)

// ClampZoom limits z to [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	return math.Max(MinZoom, math.Min(z, MaxZoom))
}

// ResolveZoom computes the fitted scale for a spread whose page sizes (in
// points) are given in slot order. ok is false for Manual mode, an empty
// spread, a zero-area viewport or a degenerate page size.
func ResolveZoom(sizes []Size, viewport Size, margin, gap float64, mode ZoomMode) (zoom float64, ok bool) {
	if mode != ZoomFitWidth && mode != ZoomFitPage {
		return 0, false
	}
	if viewport.W <= 0 || viewport.H <= 0 {
		return 0, false
	}
	aw := math.Max(1, viewport.W-2*margin)
	ah := math.Max(1, viewport.H-2*margin)

	var z float64
	switch len(sizes) {
	case 1:
		pw, ph := sizes[0].W, sizes[0].H
		if pw <= 0 || ph <= 0 {
			return 0, false
		}
		z = aw / pw
		if mode == ZoomFitPage {
			z = math.Min(z, ah/ph)
		}
	case 2:
		sumW := sizes[0].W + sizes[1].W
		maxH := math.Max(sizes[0].H, sizes[1].H)
		if sumW <= 0 || maxH <= 0 {
			return 0, false
		}
		z = math.Max(0.01, (aw-gap)/sumW)
		if mode == ZoomFitPage {
			z = math.Min(z, ah/maxH)
		}
	default:
		return 0, false
	}
	return ClampZoom(z), true
}

func zoomChanged(a, b float64) bool { return math.Abs(a-b) > zoomEpsilon }
