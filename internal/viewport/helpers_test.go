package viewport

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/raster"
)

type renderCall struct {
	page  int
	scale float64
}

// fakeDoc renders uniform pages whose red channel encodes the page index.
type fakeDoc struct {
	n       int
	size    Size
	sizes   map[int]Size
	fail    map[int]bool
	text    map[int]string
	renders []renderCall
}

func newFakeDoc(n int) *fakeDoc {
	return &fakeDoc{n: n, size: Size{W: 100, H: 200}}
}

func (d *fakeDoc) PageCount() int { return d.n }

func (d *fakeDoc) PageSize(p int) Size {
	if s, ok := d.sizes[p]; ok {
		return s
	}
	return d.size
}

func (d *fakeDoc) RenderPage(p int, scale float64) *raster.Raster {
	d.renders = append(d.renders, renderCall{page: p, scale: scale})
	if p < 0 || p >= d.n || d.fail[p] {
		return &raster.Raster{}
	}
	sz := d.PageSize(p)
	return raster.NewFilled(int(sz.W*scale), int(sz.H*scale), byte(p*10), 100, 50)
}

func (d *fakeDoc) PageText(p int) (string, error) {
	if p < 0 || p >= d.n {
		return "", fmt.Errorf("page %d out of range", p)
	}
	return d.text[p], nil
}

func (d *fakeDoc) renderedPages() []int {
	out := make([]int, len(d.renders))
	for i, c := range d.renders {
		out[i] = c.page
	}
	return out
}

// manualSched holds timers until the test fires them.
type manualSched struct {
	timers []*manualTimer
}

type manualTimer struct {
	d         time.Duration
	f         func()
	fired     bool
	cancelled bool
}

func (m *manualSched) AfterFunc(d time.Duration, f func()) func() bool {
	t := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return func() bool {
		if t.fired || t.cancelled {
			return false
		}
		t.cancelled = true
		return true
	}
}

func (m *manualSched) pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.fired && !t.cancelled {
			n++
		}
	}
	return n
}

func (m *manualSched) fire() int {
	n := 0
	timers := append([]*manualTimer(nil), m.timers...)
	for _, t := range timers {
		if t.fired || t.cancelled {
			continue
		}
		t.fired = true
		t.f()
		n++
	}
	return n
}

// failingFilter always errors.
type failingFilter struct{}

func (failingFilter) Apply(src *raster.Raster, _ imageproc.Selection) (*raster.Raster, error) {
	return nil, errors.New("filter unavailable")
}

// catalogFilter accepts a fixed set of shader names.
type catalogFilter struct {
	names map[string]bool
	calls []imageproc.Selection
}

func (c *catalogFilter) Has(name string) bool { return c.names[name] }

func (c *catalogFilter) Apply(src *raster.Raster, sel imageproc.Selection) (*raster.Raster, error) {
	c.calls = append(c.calls, sel)
	return src, nil
}

type recordingPainter struct {
	frames []Frame
}

func (p *recordingPainter) Paint(f Frame) { p.frames = append(p.frames, f) }

func testOptions() Options {
	return Options{
		Margin:   DefaultMargin,
		Gap:      DefaultGap,
		Viewport: image.Pt(224, 212),
		Defaults: Defaults{Mode: TwoUp, ZoomMode: ZoomFitPage, Zoom: 1},
	}
}
