package viewport

import (
	"fmt"
	"strings"

	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/raster"
)

// Mode is the display mode.
type Mode int

const (
	Single Mode = iota
	TwoUp
)

func (m Mode) Valid() bool { return m == Single || m == TwoUp }

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case TwoUp:
		return "two_up"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "single" and "two_up" (also "two", "double").
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "one":
		return Single, true
	case "two_up", "two", "double":
		return TwoUp, true
	}
	return Single, false
}

// Direction is the reading direction of a two-up spread.
type Direction int

const (
	LTR Direction = iota
	RTL
)

func (d Direction) Valid() bool { return d == LTR || d == RTL }

func (d Direction) String() string {
	switch d {
	case LTR:
		return "ltr"
	case RTL:
		return "rtl"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ltr":
		return LTR, true
	case "rtl":
		return RTL, true
	}
	return LTR, false
}

// ZoomMode selects how the scale factor is derived.
type ZoomMode int

const (
	ZoomManual ZoomMode = iota
	ZoomFitWidth
	ZoomFitPage
)

func (z ZoomMode) Valid() bool { return z >= ZoomManual && z <= ZoomFitPage }

func (z ZoomMode) String() string {
	switch z {
	case ZoomManual:
		return "manual"
	case ZoomFitWidth:
		return "fit_width"
	case ZoomFitPage:
		return "fit_page"
	}
	return fmt.Sprintf("ZoomMode(%d)", int(z))
}

func ParseZoomMode(s string) (ZoomMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return ZoomManual, true
	case "fit_width", "width":
		return ZoomFitWidth, true
	case "fit_page", "page":
		return ZoomFitPage, true
	}
	return ZoomManual, false
}

// Slot is a page index or Blank.
type Slot int

// Blank is the white filler page that precedes page 0 when pad-start is on.
const Blank Slot = -1

func (s Slot) IsBlank() bool { return s == Blank }

func (s Slot) String() string {
	if s == Blank {
		return "blank"
	}
	return fmt.Sprintf("%d", int(s))
}

// Spread is the ordered list of slots shown together (one or two).
type Spread []Slot

// Pages returns the concrete page indices in the spread, in document order.
func (s Spread) Pages() []int {
	out := make([]int, 0, len(s))
	for _, slot := range s {
		if !slot.IsBlank() {
			out = append(out, int(slot))
		}
	}
	if len(out) == 2 && out[0] > out[1] {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

// Size is a width/height pair, points or pixels depending on context.
type Size struct {
	W, H float64
}

// Document is what the engine needs from a decoded document.
//
// PageSize clamps out-of-range indices and falls back to a default paper
// size on failure. RenderPage returns an empty raster for invalid input.
type Document interface {
	PageCount() int
	PageSize(page int) Size
	RenderPage(page int, scale float64) *raster.Raster
}

// TextSource is implemented by documents that can extract page text.
type TextSource interface {
	PageText(page int) (string, error)
}

// ViewState is a snapshot of one session's view settings.
type ViewState struct {
	Session   string            `json:"session"`
	PageCount int               `json:"page_count"`
	Page      int               `json:"page"`
	Mode      Mode              `json:"mode"`
	Direction Direction         `json:"direction"`
	PadStart  bool              `json:"pad_start"`
	ZoomMode  ZoomMode          `json:"zoom_mode"`
	Zoom      float64           `json:"zoom"`
	Enhance   imageproc.Enhance `json:"enhance"`
	Color     imageproc.Color   `json:"color"`
	Shader    string            `json:"shader,omitempty"`
	Spread    Spread            `json:"spread"`
}

// Selection is the processing selection baked into cached rasters.
func (v ViewState) Selection() imageproc.Selection {
	return imageproc.Selection{Enhance: v.Enhance, Color: v.Color, Shader: v.Shader}
}

func (m Mode) MarshalText() ([]byte, error)      { return []byte(m.String()), nil }
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
func (z ZoomMode) MarshalText() ([]byte, error)  { return []byte(z.String()), nil }
func (s Slot) MarshalText() ([]byte, error)      { return []byte(s.String()), nil }
