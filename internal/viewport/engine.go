package viewport

import (
	"image"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/logger"
	"github.com/local/spreadview/internal/metrics"
	"github.com/local/spreadview/internal/raster"
)

// Defaults is the view state a freshly opened document starts with.
type Defaults struct {
	Mode      Mode
	Direction Direction
	PadStart  bool
	ZoomMode  ZoomMode
	Zoom      float64
	Enhance   imageproc.Enhance
	Color     imageproc.Color
	Shader    string
}

// Options configures an Engine. Negative margins and unset prefetch bounds
// fall back to the package defaults.
type Options struct {
	Margin         int
	Gap            int
	Viewport       image.Point
	CacheCapacity  int
	KeepWindow     int
	PrefetchDelay  time.Duration
	PrefetchBehind int
	PrefetchAhead  int
	Defaults       Defaults
}

func (o *Options) normalize() {
	if o.Margin < 0 {
		o.Margin = DefaultMargin
	}
	if o.Gap < 0 {
		o.Gap = DefaultGap
	}
	if o.PrefetchBehind <= 0 {
		o.PrefetchBehind = DefaultPrefetchBehind
	}
	if o.PrefetchAhead <= 0 {
		o.PrefetchAhead = DefaultPrefetchAhead
	}
	if !o.Defaults.Mode.Valid() {
		o.Defaults.Mode = TwoUp
	}
	if !o.Defaults.Direction.Valid() {
		o.Defaults.Direction = LTR
	}
	if !o.Defaults.ZoomMode.Valid() {
		o.Defaults.ZoomMode = ZoomFitPage
	}
	if o.Defaults.Zoom <= 0 {
		o.Defaults.Zoom = 1
	}
	o.Defaults.Zoom = ClampZoom(o.Defaults.Zoom)
	if !o.Defaults.Enhance.Valid() {
		o.Defaults.Enhance = imageproc.EnhanceNone
	}
	if !o.Defaults.Color.Valid() {
		o.Defaults.Color = imageproc.ColorNone
	}
}

// Frame is what the painter receives after every refresh.
type Frame struct {
	Spread  Spread
	Rasters []*raster.Raster
	Zoom    float64
	Layout  Layout
}

// Painter receives each new frame.
type Painter interface {
	Paint(f Frame)
}

// ShaderCatalog is implemented by filters that know which shader names exist.
type ShaderCatalog interface {
	Has(name string) bool
}

// Engine owns the view state, render cache and prefetcher of the open
// document. It is not safe for concurrent use: every method must be called
// from the execution context that runs the Scheduler's callbacks.
type Engine struct {
	opts     Options
	filter   imageproc.Filter
	sched    Scheduler
	painter  Painter
	viewport image.Point

	sess    *session
	frame   Frame
	stopped bool
}

// session is everything tied to one open document. It is replaced, never
// reset, when the document changes.
type session struct {
	id       string
	doc      Document
	count    int
	state    ViewState
	cache    *Cache
	prefetch *Prefetcher
	log      zerolog.Logger
}

// New builds an engine with no document.
func New(opts Options, filter imageproc.Filter, sched Scheduler) *Engine {
	opts.normalize()
	if filter == nil {
		filter = imageproc.NewNumeric()
	}
	return &Engine{opts: opts, filter: filter, sched: sched, viewport: opts.Viewport}
}

// SetPainter installs the frame consumer.
func (e *Engine) SetPainter(p Painter) { e.painter = p }

// SetDocument replaces the open document. nil closes it. All view state and
// the cache start over from the configured defaults.
func (e *Engine) SetDocument(doc Document) {
	if e.sess != nil {
		e.sess.prefetch.Stop()
		e.sess.cache.Clear("document")
		e.sess.log.Info().Msg("session closed")
		e.sess = nil
	}
	e.frame = Frame{}
	if doc == nil || doc.PageCount() <= 0 {
		if doc != nil {
			log.Warn().Msg("document has no pages; nothing to show")
		}
		e.paint()
		return
	}

	d := e.opts.Defaults
	id := uuid.New().String()
	s := &session{
		id:    id,
		doc:   doc,
		count: doc.PageCount(),
		state: ViewState{
			Session:   id,
			Mode:      d.Mode,
			Direction: d.Direction,
			PadStart:  d.PadStart,
			ZoomMode:  d.ZoomMode,
			Zoom:      d.Zoom,
			Enhance:   d.Enhance,
			Color:     d.Color,
			Shader:    d.Shader,
		},
		cache:    NewCache(e.opts.CacheCapacity, e.opts.KeepWindow),
		prefetch: NewPrefetcher(e.sched, e.opts.PrefetchDelay),
		log:      logger.With("session", id),
	}
	s.state.PageCount = s.count
	e.sess = s
	s.log.Info().Int("pages", s.count).Msg("session opened")
	e.refresh()
}

// HasDocument reports whether a document is open.
func (e *Engine) HasDocument() bool { return e.sess != nil }

// Document returns the open document or nil.
func (e *Engine) Document() Document {
	if e.sess == nil {
		return nil
	}
	return e.sess.doc
}

// SetViewport records the viewport size in pixels and refits.
func (e *Engine) SetViewport(w, h int) {
	if w < 0 || h < 0 {
		return
	}
	p := image.Pt(w, h)
	if p == e.viewport {
		return
	}
	e.viewport = p
	e.refresh()
}

func (e *Engine) SetMode(m Mode) {
	if e.sess == nil || !m.Valid() || e.sess.state.Mode == m {
		return
	}
	e.sess.state.Mode = m
	e.refresh()
}

func (e *Engine) SetDirection(d Direction) {
	if e.sess == nil || !d.Valid() || e.sess.state.Direction == d {
		return
	}
	e.sess.state.Direction = d
	e.refresh()
}

// SetPadStart toggles the leading blank. Slot meaning shifts, so the cache is dropped.
func (e *Engine) SetPadStart(pad bool) {
	if e.sess == nil || e.sess.state.PadStart == pad {
		return
	}
	e.sess.state.PadStart = pad
	e.sess.cache.Clear("pad_start")
	e.refresh()
}

func (e *Engine) SetZoomMode(z ZoomMode) {
	if e.sess == nil || !z.Valid() || e.sess.state.ZoomMode == z {
		return
	}
	e.sess.state.ZoomMode = z
	e.refresh()
}

func (e *Engine) SetEnhance(m imageproc.Enhance) {
	if e.sess == nil || !m.Valid() || e.sess.state.Enhance == m {
		return
	}
	e.sess.state.Enhance = m
	e.sess.cache.Clear("enhance")
	e.refresh()
}

func (e *Engine) SetColor(c imageproc.Color) {
	if e.sess == nil || !c.Valid() || e.sess.state.Color == c {
		return
	}
	e.sess.state.Color = c
	e.sess.cache.Clear("color")
	e.refresh()
}

// SetShader selects the GPU filter by name; "" disables it. Names unknown
// to the filter's catalog are ignored, and a filter without a catalog has
// no shaders at all.
func (e *Engine) SetShader(name string) {
	name = strings.TrimSpace(name)
	if e.sess == nil || e.sess.state.Shader == name {
		return
	}
	if name != "" {
		cat, ok := e.filter.(ShaderCatalog)
		if !ok || !cat.Has(name) {
			return
		}
	}
	e.sess.state.Shader = name
	e.sess.cache.Clear("shader")
	e.refresh()
}

// SetZoom sets a manual scale.
func (e *Engine) SetZoom(z float64) {
	if e.sess == nil || math.IsNaN(z) || z <= 0 {
		return
	}
	z = ClampZoom(z)
	st := &e.sess.state
	if !zoomChanged(z, st.Zoom) && st.ZoomMode == ZoomManual {
		return
	}
	st.ZoomMode = ZoomManual
	st.Zoom = z
	e.refresh()
}

func (e *Engine) ZoomIn() {
	if e.sess != nil {
		e.SetZoom(e.sess.state.Zoom * zoomStep)
	}
}

func (e *Engine) ZoomOut() {
	if e.sess != nil {
		e.SetZoom(e.sess.state.Zoom / zoomStep)
	}
}

// ZoomWheel scales by 1.1 per wheel step and switches to manual zoom. It
// does nothing when the clamp leaves the scale unchanged.
func (e *Engine) ZoomWheel(steps float64) {
	if e.sess == nil || steps == 0 || math.IsNaN(steps) {
		return
	}
	st := &e.sess.state
	z := ClampZoom(st.Zoom * math.Pow(zoomWheelBase, steps))
	if !zoomChanged(z, st.Zoom) {
		return
	}
	st.ZoomMode = ZoomManual
	st.Zoom = z
	e.refresh()
}

// GoToPage jumps to index, clamped to the document.
func (e *Engine) GoToPage(index int) {
	if e.sess == nil {
		return
	}
	p := clampInt(index, 0, e.sess.count-1)
	if p == e.sess.state.Page {
		return
	}
	e.sess.state.Page = p
	e.refresh()
}

// GoNext advances one page in Single mode and two in TwoUp.
func (e *Engine) GoNext() {
	if e.sess == nil {
		return
	}
	e.GoToPage(e.sess.state.Page + e.step())
}

func (e *Engine) GoPrev() {
	if e.sess == nil {
		return
	}
	e.GoToPage(e.sess.state.Page - e.step())
}

// GoLeft and GoRight move toward the physical side; under RTL the left
// side is the next page.
func (e *Engine) GoLeft() {
	if e.sess != nil && e.sess.state.Direction == RTL {
		e.GoNext()
		return
	}
	e.GoPrev()
}

func (e *Engine) GoRight() {
	if e.sess != nil && e.sess.state.Direction == RTL {
		e.GoPrev()
		return
	}
	e.GoNext()
}

// Invalidate drops every cached raster and repaints, for when the filter
// itself changed underneath the selection (a shader reload).
func (e *Engine) Invalidate(reason string) {
	if e.sess == nil {
		return
	}
	e.sess.cache.Clear(reason)
	e.refresh()
}

func (e *Engine) step() int {
	if e.sess.state.Mode == TwoUp {
		return 2
	}
	return 1
}

// CurrentSpread returns the visible slots.
func (e *Engine) CurrentSpread() Spread {
	if e.sess == nil {
		return nil
	}
	st := e.sess.state
	return ResolveSpread(st.Page, st.Mode, st.Direction, st.PadStart, e.sess.count)
}

// Frame returns the last frame handed to the painter.
func (e *Engine) Frame() Frame { return e.frame }

// Layout returns the placement of the current frame.
func (e *Engine) Layout() Layout { return e.frame.Layout }

// PageAt maps a canvas point to the slot painted there.
func (e *Engine) PageAt(x, y int) (Slot, bool) {
	i, ok := e.frame.Layout.Hit(image.Pt(x, y))
	if !ok || i >= len(e.frame.Spread) {
		return 0, false
	}
	return e.frame.Spread[i], true
}

// SpreadText returns the text of the visible pages in document order,
// separated by blank lines. Documents without text support yield "".
func (e *Engine) SpreadText() (string, error) {
	if e.sess == nil {
		return "", nil
	}
	ts, ok := e.sess.doc.(TextSource)
	if !ok {
		return "", nil
	}
	var parts []string
	for _, p := range e.CurrentSpread().Pages() {
		t, err := ts.PageText(p)
		if err != nil {
			return "", err
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// State returns a snapshot of the view state.
func (e *Engine) State() ViewState {
	if e.sess == nil {
		return ViewState{}
	}
	st := e.sess.state
	st.Spread = e.CurrentSpread()
	return st
}

// Stop halts prefetching for good. Safe to call more than once.
func (e *Engine) Stop() {
	if e.stopped {
		return
	}
	e.stopped = true
	if e.sess != nil {
		e.sess.prefetch.Stop()
	}
	log.Debug().Msg("viewport engine stopped")
}

// refresh runs the full update: fit zoom, resolve the spread, fill it from
// the cache, hand the frame to the painter and arm the prefetcher.
func (e *Engine) refresh() {
	s := e.sess
	if s == nil {
		return
	}
	e.applyAutoZoom()

	spread := e.CurrentSpread()
	rasters := make([]*raster.Raster, len(spread))
	sizes := make([]image.Point, len(spread))
	for i, slot := range spread {
		rasters[i] = s.cache.Get(slot, s.state.Zoom, s.state.Page, e.fill)
		sizes[i] = image.Pt(rasters[i].W, rasters[i].H)
	}
	e.frame = Frame{
		Spread:  spread,
		Rasters: rasters,
		Zoom:    s.state.Zoom,
		Layout:  ComputeLayout(sizes, e.viewport, e.opts.Margin, e.opts.Gap),
	}
	s.log.Debug().
		Int("page", s.state.Page).
		Float64("zoom", s.state.Zoom).
		Str("spread", spreadString(spread)).
		Int("cached", s.cache.Len()).
		Msg("refreshed")
	e.paint()

	if !e.stopped {
		s.prefetch.Arm(e.prefetchFire)
	}
}

func (e *Engine) paint() {
	if e.painter != nil {
		e.painter.Paint(e.frame)
	}
}

// applyAutoZoom refits the scale unless zoom is manual.
func (e *Engine) applyAutoZoom() {
	s := e.sess
	if s.state.ZoomMode == ZoomManual {
		return
	}
	spread := e.CurrentSpread()
	sizes := make([]Size, len(spread))
	for i, slot := range spread {
		sizes[i] = e.slotSize(slot)
	}
	vp := Size{W: float64(e.viewport.X), H: float64(e.viewport.Y)}
	z, ok := ResolveZoom(sizes, vp, float64(e.opts.Margin), float64(e.opts.Gap), s.state.ZoomMode)
	if !ok || !zoomChanged(z, s.state.Zoom) {
		return
	}
	s.state.Zoom = z
	s.cache.ensureScale(z)
}

// slotSize is the page size in points; Blank borrows the current page's size.
func (e *Engine) slotSize(slot Slot) Size {
	s := e.sess
	if slot.IsBlank() {
		return s.doc.PageSize(clampInt(s.state.Page, 0, s.count-1))
	}
	return s.doc.PageSize(int(slot))
}

// fill is the cache miss path: render or synthesize, then filter.
func (e *Engine) fill(slot Slot) *raster.Raster {
	s := e.sess
	start := time.Now()
	var raw *raster.Raster
	source := "page"
	if slot.IsBlank() {
		source = "blank"
		sz := e.slotSize(slot)
		raw = raster.NewWhite(int(sz.W*s.state.Zoom), int(sz.H*s.state.Zoom))
	} else {
		raw = s.doc.RenderPage(int(slot), s.state.Zoom)
	}
	metrics.ObserveRender(source, time.Since(start))
	if raw.Empty() {
		metrics.IncRenderError()
		s.log.Warn().Str("slot", slot.String()).Float64("zoom", s.state.Zoom).Msg("page rendered empty")
		return raw
	}

	out, err := e.filter.Apply(raw, s.state.Selection())
	if err != nil {
		s.log.Warn().Err(err).Str("slot", slot.String()).Msg("filter failed; showing unprocessed page")
		return raw
	}
	return out
}

// prefetchFire fills uncached pages around the current page.
func (e *Engine) prefetchFire() {
	s := e.sess
	if s == nil || e.stopped {
		return
	}
	metrics.IncPrefetchRun()
	filled := 0
	for _, p := range Window(s.state.Page, s.count, e.opts.PrefetchBehind, e.opts.PrefetchAhead) {
		if s.cache.Has(Slot(p), s.state.Zoom) {
			continue
		}
		s.cache.Get(Slot(p), s.state.Zoom, s.state.Page, e.fill)
		filled++
	}
	if filled > 0 {
		metrics.AddPrefetchPages(filled)
		s.log.Debug().Int("page", s.state.Page).Int("filled", filled).Msg("prefetched")
	}
}

func spreadString(sp Spread) string {
	parts := make([]string, len(sp))
	for i, s := range sp {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
