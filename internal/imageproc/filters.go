package imageproc

import (
	"math"

	"github.com/local/spreadview/internal/raster"
)

const (
	blurRadius      = 1
	softenIntensity = 0.5
	postSharpenSoft = 0.3
	sepiaIntensity  = 0.65
	duotoneRedPct   = 89
	duotoneGreenPct = 120
	duotoneBluePct  = 79
)

// percent converts an intensity in (0,1] to the integer blend weight.
func percent(intensity float64) uint32 {
	return uint32(math.Round(intensity * 100))
}

// blend mixes a toward b by k percent using integer arithmetic.
func blend(a, b, k uint32) uint32 {
	return (a*(100-k) + b*k) / 100
}

// BoxBlur averages each (2r+1)² window over an edge-replicated copy of src,
// using a summed-area table so the per-pixel cost is constant. Intensity below
// 1 blends the blur back toward the original.
func BoxBlur(src *raster.Raster, r int, intensity float64) *raster.Raster {
	if r <= 0 || intensity <= 0 || src.Empty() {
		return src.Clone()
	}
	if intensity > 1 {
		intensity = 1
	}

	w, h := src.W, src.H
	k := 2*r + 1
	pw, ph := w+2*r, h+2*r
	// integral has one extra leading row and column of zeros.
	iw := pw + 1
	integ := make([]uint32, iw*(ph+1)*3)

	for py := 0; py < ph; py++ {
		sy := clampInt(py-r, 0, h-1)
		var row [3]uint32
		for px := 0; px < pw; px++ {
			sx := clampInt(px-r, 0, w-1)
			s := (sy*w + sx) * 3
			row[0] += uint32(src.Pix[s])
			row[1] += uint32(src.Pix[s+1])
			row[2] += uint32(src.Pix[s+2])
			d := ((py+1)*iw + px + 1) * 3
			u := (py*iw + px + 1) * 3
			integ[d] = integ[u] + row[0]
			integ[d+1] = integ[u+1] + row[1]
			integ[d+2] = integ[u+2] + row[2]
		}
	}

	out := raster.New(w, h)
	area := uint32(k * k)
	pct := percent(intensity)
	pure := intensity == 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := (y*iw + x) * 3
			b := (y*iw + x + k) * 3
			c := ((y+k)*iw + x) * 3
			d := ((y+k)*iw + x + k) * 3
			o := (y*w + x) * 3
			for ch := 0; ch < 3; ch++ {
				v := (integ[d+ch] - integ[b+ch] - integ[c+ch] + integ[a+ch]) / area
				if !pure {
					v = blend(uint32(src.Pix[o+ch]), v, pct)
				}
				out.Pix[o+ch] = byte(v)
			}
		}
	}
	return out
}

// Soften is a half-strength box blur.
func Soften(src *raster.Raster) *raster.Raster {
	return BoxBlur(src, blurRadius, softenIntensity)
}

// Sharpen applies an unsharp mask with amount 1: out = 2·orig − blur.
func Sharpen(src *raster.Raster) *raster.Raster {
	if src.Empty() {
		return src.Clone()
	}
	blur := BoxBlur(src, blurRadius, 1)
	out := raster.New(src.W, src.H)
	for i, v := range src.Pix {
		a := int16(v)
		out.Pix[i] = clampByte(a + (a - int16(blur.Pix[i])))
	}
	return out
}

// SoftenSharpen sharpens and then takes the edge off with a light blur.
func SoftenSharpen(src *raster.Raster) *raster.Raster {
	return BoxBlur(Sharpen(src), blurRadius, postSharpenSoft)
}

// Invert is its own inverse.
func Invert(src *raster.Raster) *raster.Raster {
	out := src.Clone()
	for i, v := range out.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// Duotone tints toward green by per-channel integer scaling.
func Duotone(src *raster.Raster) *raster.Raster {
	out := src.Clone()
	for i := 0; i+2 < len(out.Pix); i += 3 {
		out.Pix[i] = byte(uint32(out.Pix[i]) * duotoneRedPct / 100)
		out.Pix[i+1] = byte(min(255, uint32(out.Pix[i+1])*duotoneGreenPct/100))
		out.Pix[i+2] = byte(uint32(out.Pix[i+2]) * duotoneBluePct / 100)
	}
	return out
}

// Sepia applies the classic sepia matrix and blends it with the original.
func Sepia(src *raster.Raster) *raster.Raster {
	out := src.Clone()
	k := percent(sepiaIntensity)
	for i := 0; i+2 < len(out.Pix); i += 3 {
		r, g, b := uint32(out.Pix[i]), uint32(out.Pix[i+1]), uint32(out.Pix[i+2])
		tr := (393*r + 769*g + 189*b) / 1000
		tg := (349*r + 686*g + 168*b) / 1000
		tb := (272*r + 534*g + 131*b) / 1000
		out.Pix[i] = byte(min(255, blend(r, tr, k)))
		out.Pix[i+1] = byte(min(255, blend(g, tg, k)))
		out.Pix[i+2] = byte(min(255, blend(b, tb, k)))
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v int16) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
