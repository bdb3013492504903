package imageproc

import (
	"fmt"
	"strings"

	"github.com/local/spreadview/internal/raster"
)

// Enhance selects the sharpness filter group.
type Enhance int

const (
	EnhanceNone Enhance = iota
	EnhanceSharpen
	EnhanceSoften
	EnhanceSoftenSharpen
)

var enhanceNames = [...]string{"none", "sharpen", "soften", "soften_sharpen"}

func (e Enhance) Valid() bool { return e >= EnhanceNone && e <= EnhanceSoftenSharpen }

func (e Enhance) String() string {
	if !e.Valid() {
		return fmt.Sprintf("Enhance(%d)", int(e))
	}
	return enhanceNames[e]
}

func (e Enhance) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// ParseEnhance accepts the names returned by String.
func ParseEnhance(s string) (Enhance, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range enhanceNames {
		if n == s {
			return Enhance(i), true
		}
	}
	return EnhanceNone, false
}

// Color selects the color transform group.
type Color int

const (
	ColorNone Color = iota
	ColorInvert
	ColorDuotone
	ColorSepia
)

var colorNames = [...]string{"none", "invert", "duotone", "sepia"}

func (c Color) Valid() bool { return c >= ColorNone && c <= ColorSepia }

func (c Color) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Color(%d)", int(c))
	}
	return colorNames[c]
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseColor accepts the names returned by String, plus the legacy
// green/brown aliases for duotone/sepia.
func ParseColor(s string) (Color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "green":
		return ColorDuotone, true
	case "brown":
		return ColorSepia, true
	}
	for i, n := range colorNames {
		if n == s {
			return Color(i), true
		}
	}
	return ColorNone, false
}

// Selection is the full set of post-processing choices baked into a cached raster.
type Selection struct {
	Enhance Enhance
	Color   Color
	// Shader names a GPU filter; only the shader backend reads it.
	Shader string
}

// Identity reports whether no processing is requested.
func (s Selection) Identity() bool {
	return s.Enhance == EnhanceNone && s.Color == ColorNone && s.Shader == ""
}

// Filter turns a freshly rendered raster into the processed raster that gets cached.
// Implementations must not modify src.
type Filter interface {
	Apply(src *raster.Raster, sel Selection) (*raster.Raster, error)
}
