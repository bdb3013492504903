package imageproc

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/metrics"
	"github.com/local/spreadview/internal/raster"
)

// Numeric is the CPU filter backend. It ignores Selection.Shader.
type Numeric struct{}

// NewNumeric returns the CPU filter backend.
func NewNumeric() *Numeric { return &Numeric{} }

// Apply runs the enhance group and then the color group. The result depends
// only on src and the selection, so reprocessing is byte-identical.
func (Numeric) Apply(src *raster.Raster, sel Selection) (*raster.Raster, error) {
	if sel.Enhance == EnhanceNone && sel.Color == ColorNone {
		return src, nil
	}
	if src.Empty() {
		return src, nil
	}
	start := time.Now()
	out := Process(src, sel.Enhance, sel.Color)
	metrics.ObserveFilter("numeric", time.Since(start))
	log.Debug().
		Int("width", src.W).
		Int("height", src.H).
		Str("enhance", sel.Enhance.String()).
		Str("color", sel.Color.String()).
		Dur("took", time.Since(start)).
		Msg("processed raster")
	return out, nil
}

// Process applies both groups without the identity short-circuit.
func Process(src *raster.Raster, enh Enhance, col Color) *raster.Raster {
	out := src
	switch enh {
	case EnhanceSoften:
		out = Soften(out)
	case EnhanceSharpen:
		out = Sharpen(out)
	case EnhanceSoftenSharpen:
		out = SoftenSharpen(out)
	case EnhanceNone:
	}
	switch col {
	case ColorInvert:
		out = Invert(out)
	case ColorDuotone:
		out = Duotone(out)
	case ColorSepia:
		out = Sepia(out)
	case ColorNone:
	}
	if out == src {
		out = src.Clone()
	}
	return out
}
