package raster

import (
	"image"
	"image/color"
)

// Raster is an 8-bit RGB image stored row-major without alpha.
type Raster struct {
	W, H int
	Pix  []byte
}

// New allocates a black raster. Non-positive dimensions yield an empty raster.
func New(w, h int) *Raster {
	if w <= 0 || h <= 0 {
		return &Raster{}
	}
	return &Raster{W: w, H: h, Pix: make([]byte, w*h*3)}
}

// NewFilled allocates a raster with every pixel set to (r, g, b).
func NewFilled(w, h int, r, g, b byte) *Raster {
	out := New(w, h)
	for i := 0; i+2 < len(out.Pix); i += 3 {
		out.Pix[i] = r
		out.Pix[i+1] = g
		out.Pix[i+2] = b
	}
	return out
}

// NewWhite is the raster used for blank spread slots.
func NewWhite(w, h int) *Raster { return NewFilled(w, h, 255, 255, 255) }

// Empty reports whether the raster has no pixels.
func (r *Raster) Empty() bool { return r == nil || r.W <= 0 || r.H <= 0 }

// Valid reports whether Pix matches the declared dimensions.
func (r *Raster) Valid() bool {
	return !r.Empty() && len(r.Pix) == r.W*r.H*3
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	if r == nil {
		return nil
	}
	out := &Raster{W: r.W, H: r.H, Pix: make([]byte, len(r.Pix))}
	copy(out.Pix, r.Pix)
	return out
}

// Equal compares dimensions and samples.
func (r *Raster) Equal(o *Raster) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.W != o.W || r.H != o.H || len(r.Pix) != len(o.Pix) {
		return false
	}
	for i := range r.Pix {
		if r.Pix[i] != o.Pix[i] {
			return false
		}
	}
	return true
}

// FromImage converts any image into an RGB raster, dropping alpha.
// *image.RGBA sources (what go-fitz returns) take a fast path.
func FromImage(img image.Image) *Raster {
	if img == nil {
		return &Raster{}
	}
	b := img.Bounds()
	out := New(b.Dx(), b.Dy())
	if out.Empty() {
		return out
	}
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < out.H; y++ {
			src := rgba.Pix[(y+b.Min.Y-rgba.Rect.Min.Y)*rgba.Stride+(b.Min.X-rgba.Rect.Min.X)*4:]
			dst := out.Pix[y*out.W*3:]
			for x := 0; x < out.W; x++ {
				dst[x*3] = src[x*4]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+2]
			}
		}
		return out
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return out
}

// ToRGBA expands the raster into an opaque *image.RGBA.
func (r *Raster) ToRGBA() *image.RGBA {
	if r.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	img := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	for i, j := 0, 0; i+2 < len(r.Pix); i, j = i+3, j+4 {
		img.Pix[j] = r.Pix[i]
		img.Pix[j+1] = r.Pix[i+1]
		img.Pix[j+2] = r.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
