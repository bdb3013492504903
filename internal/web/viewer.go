package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/document"
	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/imagerender"
	"github.com/local/spreadview/internal/source"
	"github.com/local/spreadview/internal/store"
	"github.com/local/spreadview/internal/viewport"
)

const defaultThumbSize = 160

// ViewerState is the JSON view of the engine plus the open document.
type ViewerState struct {
	viewport.ViewState
	Open    bool     `json:"open"`
	Name    string   `json:"name,omitempty"`
	Ref     string   `json:"ref,omitempty"`
	Title   string   `json:"title,omitempty"`
	Version uint64   `json:"version"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Shaders []string `json:"shaders,omitempty"`
}

// snapshot must run on the loop.
func (w *Web) snapshot() ViewerState {
	st := ViewerState{
		ViewState: w.deps.Engine.State(),
		Open:      w.deps.Engine.HasDocument(),
		Version:   w.painter.version,
	}
	if w.current != nil {
		st.Name = w.current.res.Name
		st.Ref = w.current.res.Ref
		st.Title = w.current.title
	}
	if img := w.painter.img; img != nil {
		st.Width, st.Height = img.Bounds().Dx(), img.Bounds().Dy()
	}
	if w.deps.Shaders != nil {
		st.Shaders = w.deps.Shaders.Names()
	}
	return st
}

func (w *Web) handleIndex(wr http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/view/" {
		http.NotFound(wr, r)
		return
	}
	var st ViewerState
	if !w.do(wr, r, func() { st = w.snapshot() }) {
		return
	}
	var buf bytes.Buffer
	if err := w.tpl.ExecuteTemplate(&buf, "viewer.html", st); err != nil {
		log.Error().Err(err).Msg("render viewer template")
		http.Error(wr, "template error", http.StatusInternalServerError)
		return
	}
	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	wr.Write(buf.Bytes())
}

func (w *Web) handleState(wr http.ResponseWriter, r *http.Request) {
	var st ViewerState
	if w.do(wr, r, func() { st = w.snapshot() }) {
		writeJSON(wr, http.StatusOK, st)
	}
}

func (w *Web) handleSpread(wr http.ResponseWriter, r *http.Request) {
	format, ok := imagerender.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		http.Error(wr, "unsupported format", http.StatusBadRequest)
		return
	}
	mode := imagerender.ColorRGB
	if parseFlag(r.URL.Query().Get("gray")) {
		mode = imagerender.ColorGray
	}

	var (
		img     *image.RGBA
		version uint64
		session string
	)
	if !w.do(wr, r, func() {
		img, version, session = w.painter.img, w.painter.version, w.deps.Engine.State().Session
	}) {
		return
	}
	if img == nil {
		http.Error(wr, "no document open", http.StatusNotFound)
		return
	}

	etag := fmt.Sprintf(`"%s-%d-%s-%s"`, session, version, format, mode)
	wr.Header().Set("ETag", etag)
	wr.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		wr.WriteHeader(http.StatusNotModified)
		return
	}
	w.writeImage(wr, img, format, mode)
}

func (w *Web) writeImage(wr http.ResponseWriter, img image.Image, format imagerender.Format, mode imagerender.ColorMode) {
	var buf bytes.Buffer
	if err := imagerender.Encode(&buf, img, format, w.deps.JPEGQuality, mode); err != nil {
		log.Error().Err(err).Msg("encode image")
		http.Error(wr, "encode failed", http.StatusInternalServerError)
		return
	}
	wr.Header().Set("Content-Type", format.ContentType())
	wr.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	wr.Write(buf.Bytes())
}

func (w *Web) handleNav(wr http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/view/")
	page := 0
	if action == "goto" {
		var err error
		if page, err = strconv.Atoi(strings.TrimSpace(r.FormValue("page"))); err != nil {
			http.Error(wr, "page must be an integer", http.StatusBadRequest)
			return
		}
	}
	e := w.deps.Engine
	var st ViewerState
	if !w.do(wr, r, func() {
		switch action {
		case "next":
			e.GoNext()
		case "prev":
			e.GoPrev()
		case "left":
			e.GoLeft()
		case "right":
			e.GoRight()
		case "goto":
			e.GoToPage(page)
		}
		st = w.snapshot()
	}) {
		return
	}
	w.saveProgress(st)
	writeJSON(wr, http.StatusOK, st)
}

// handleSet applies every recognised setting in the form. Values that do
// not parse are ignored, like invalid enums on the engine.
func (w *Web) handleSet(wr http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(wr, "invalid form", http.StatusBadRequest)
		return
	}
	f := r.Form
	e := w.deps.Engine
	var st ViewerState
	if !w.do(wr, r, func() {
		if v, ok := viewport.ParseMode(f.Get("mode")); ok {
			e.SetMode(v)
		}
		if v, ok := viewport.ParseDirection(f.Get("direction")); ok {
			e.SetDirection(v)
		}
		if v, err := strconv.ParseBool(f.Get("pad_start")); err == nil {
			e.SetPadStart(v)
		}
		if v, ok := viewport.ParseZoomMode(f.Get("zoom_mode")); ok {
			e.SetZoomMode(v)
		}
		if v, err := strconv.ParseFloat(f.Get("zoom"), 64); err == nil {
			e.SetZoom(v)
		}
		if v, ok := imageproc.ParseEnhance(f.Get("enhance")); ok {
			e.SetEnhance(v)
		}
		if v, ok := imageproc.ParseColor(f.Get("color")); ok {
			e.SetColor(v)
		}
		if f.Has("shader") {
			e.SetShader(f.Get("shader"))
		}
		st = w.snapshot()
	}) {
		return
	}
	if st.Open && (f.Has("mode") || f.Has("direction") || f.Has("pad_start") || f.Has("zoom_mode")) {
		w.savePrefs(st)
	}
	writeJSON(wr, http.StatusOK, st)
}

func (w *Web) handleZoom(wr http.ResponseWriter, r *http.Request) {
	op := r.FormValue("op")
	steps := 0.0
	switch op {
	case "in", "out":
	case "wheel":
		var err error
		steps, err = strconv.ParseFloat(r.FormValue("steps"), 64)
		if err != nil || math.IsInf(steps, 0) {
			http.Error(wr, "steps must be a number", http.StatusBadRequest)
			return
		}
	default:
		http.Error(wr, "op must be in, out or wheel", http.StatusBadRequest)
		return
	}
	e := w.deps.Engine
	var st ViewerState
	if w.do(wr, r, func() {
		switch op {
		case "in":
			e.ZoomIn()
		case "out":
			e.ZoomOut()
		case "wheel":
			e.ZoomWheel(steps)
		}
		st = w.snapshot()
	}) {
		writeJSON(wr, http.StatusOK, st)
	}
}

func (w *Web) handleResize(wr http.ResponseWriter, r *http.Request) {
	width, err1 := strconv.Atoi(r.FormValue("w"))
	height, err2 := strconv.Atoi(r.FormValue("h"))
	if err1 != nil || err2 != nil || width < 0 || height < 0 {
		http.Error(wr, "w and h must be non-negative integers", http.StatusBadRequest)
		return
	}
	var st ViewerState
	if w.do(wr, r, func() {
		w.deps.Engine.SetViewport(width, height)
		st = w.snapshot()
	}) {
		writeJSON(wr, http.StatusOK, st)
	}
}

func (w *Web) handleText(wr http.ResponseWriter, r *http.Request) {
	var (
		text string
		err  error
	)
	if !w.do(wr, r, func() { text, err = w.deps.Engine.SpreadText() }) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("spread text extraction failed")
		http.Error(wr, "text extraction failed", http.StatusInternalServerError)
		return
	}
	writeText(wr, text)
}

func (w *Web) handleHit(wr http.ResponseWriter, r *http.Request) {
	x, err1 := strconv.Atoi(r.URL.Query().Get("x"))
	y, err2 := strconv.Atoi(r.URL.Query().Get("y"))
	if err1 != nil || err2 != nil {
		http.Error(wr, "x and y must be integers", http.StatusBadRequest)
		return
	}
	var (
		slot viewport.Slot
		hit  bool
	)
	if !w.do(wr, r, func() { slot, hit = w.deps.Engine.PageAt(x, y) }) {
		return
	}
	resp := map[string]any{"hit": hit}
	if hit {
		resp["slot"] = slot
	}
	writeJSON(wr, http.StatusOK, resp)
}

func (w *Web) handleOpen(wr http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.FormValue("ref"))
	if ref == "" {
		http.Error(wr, "ref is required", http.StatusBadRequest)
		return
	}
	st, status, err := w.OpenRef(r.Context(), ref)
	if err != nil {
		http.Error(wr, err.Error(), status)
		return
	}
	writeJSON(wr, http.StatusOK, st)
}

// OpenRef resolves, decodes and shows ref, restoring saved preferences and
// the last page read. It returns the HTTP status to report on failure.
func (w *Web) OpenRef(ctx context.Context, ref string) (ViewerState, int, error) {
	res, err := w.deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("failed to resolve document")
		return ViewerState{}, resolveStatus(err), err
	}
	doc, err := w.deps.Open(res)
	if err != nil {
		res.Cleanup()
		log.Warn().Err(err).Str("ref", ref).Msg("failed to open document")
		return ViewerState{}, http.StatusUnprocessableEntity, err
	}
	od := &openDocument{res: res, doc: doc, title: documentTitle(doc)}
	prefs, havePrefs, progress := w.loadReaderState(res.Ref)

	var (
		mu        sync.Mutex
		applied   bool
		abandoned bool
		st        ViewerState
	)
	err = w.deps.Loop.Do(ctx, func() {
		mu.Lock()
		if abandoned {
			mu.Unlock()
			return
		}
		applied = true
		mu.Unlock()

		w.persistProgressLocked()
		old := w.current
		e := w.deps.Engine
		e.SetDocument(doc)
		w.current = od
		closeDocument(old)
		if havePrefs {
			applyPrefs(e, prefs)
		}
		if progress > 0 {
			e.GoToPage(progress)
		}
		st = w.snapshot()
	})
	if err != nil {
		mu.Lock()
		abandoned = true
		ran := applied
		mu.Unlock()
		if !ran {
			closeDocument(od)
		}
		return ViewerState{}, http.StatusServiceUnavailable, fmt.Errorf("viewer unavailable: %w", err)
	}

	if w.deps.Reader != nil {
		sctx, cancel := w.storeCtx()
		if err := w.deps.Reader.TouchRecent(sctx, res.Ref); err != nil {
			log.Warn().Err(err).Msg("failed to update recent documents")
		}
		cancel()
	}
	log.Info().Str("ref", ref).Str("session", st.Session).Int("pages", st.PageCount).Msg("document shown")
	return st, http.StatusOK, nil
}

func resolveStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, source.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, source.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadGateway
}

func (w *Web) handleClose(wr http.ResponseWriter, r *http.Request) {
	var st ViewerState
	if w.do(wr, r, func() {
		w.closeLocked()
		st = w.snapshot()
	}) {
		writeJSON(wr, http.StatusOK, st)
	}
}

// closeLocked runs on the loop.
func (w *Web) closeLocked() {
	w.persistProgressLocked()
	old := w.current
	w.current = nil
	w.deps.Engine.SetDocument(nil)
	closeDocument(old)
}

// Shutdown saves progress, closes the document and stops the engine.
func (w *Web) Shutdown(ctx context.Context) error {
	return w.deps.Loop.Do(ctx, func() {
		w.closeLocked()
		w.deps.Engine.Stop()
	})
}

func closeDocument(od *openDocument) {
	if od == nil {
		return
	}
	if c, ok := od.doc.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("ref", od.res.Ref).Msg("failed to close document")
		}
	}
	od.res.Cleanup()
}

func (w *Web) handlePage(wr http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := imagerender.FormatJPEG
	if q.Get("format") != "" {
		var ok bool
		if format, ok = imagerender.ParseFormat(q.Get("format")); !ok {
			http.Error(wr, "unsupported format", http.StatusBadRequest)
			return
		}
	}
	var (
		img  image.Image
		err  error
		name string
		page int
	)
	if !w.do(wr, r, func() {
		e := w.deps.Engine
		st := e.State()
		page = intParam(q.Get("page"), st.Page)
		scale := floatParam(q.Get("scale"), st.Zoom)
		img, err = imagerender.RenderPage(e.Document(), w.deps.Filter, st.Selection(), page, scale)
		if w.current != nil {
			name = w.current.res.Name
		}
	}) {
		return
	}
	if err != nil {
		http.Error(wr, err.Error(), http.StatusNotFound)
		return
	}
	ext := "png"
	if format == imagerender.FormatJPEG {
		ext = "jpg"
	}
	wr.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-p%d.%s"`, sanitizeName(name), page+1, ext))
	w.writeImage(wr, img, format, imagerender.ColorRGB)
}

func (w *Web) handleThumb(wr http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size := intParam(q.Get("size"), defaultThumbSize)
	if size <= 0 || size > 1024 {
		size = defaultThumbSize
	}
	var (
		img image.Image
		err error
	)
	if !w.do(wr, r, func() {
		doc := w.deps.Engine.Document()
		if doc == nil {
			err = errors.New("no document open")
			return
		}
		page := intParam(q.Get("page"), 0)
		ps := doc.PageSize(page)
		scale := float64(size) / math.Max(ps.W, ps.H)
		img, err = imagerender.RenderPage(doc, nil, imageproc.Selection{}, page, scale)
	}) {
		return
	}
	if err != nil {
		http.Error(wr, err.Error(), http.StatusNotFound)
		return
	}
	w.writeImage(wr, viewport.Thumbnail(img, size), imagerender.FormatPNG, imagerender.ColorRGB)
}

type metadataSource interface {
	Metadata() map[string]string
}

// documentTitle reads the title from the document info, if any.
func documentTitle(doc viewport.Document) string {
	m, ok := doc.(metadataSource)
	if !ok {
		return ""
	}
	return strings.TrimSpace(m.Metadata()["title"])
}

type outliner interface {
	Outline() ([]document.Heading, error)
}

func (w *Web) handleOutline(wr http.ResponseWriter, r *http.Request) {
	var (
		headings []document.Heading
		err      error
	)
	if !w.do(wr, r, func() {
		if o, ok := w.deps.Engine.Document().(outliner); ok {
			headings, err = o.Outline()
		}
	}) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("outline unavailable")
	}
	if headings == nil {
		headings = []document.Heading{}
	}
	writeJSON(wr, http.StatusOK, map[string]any{"outline": headings})
}

func (w *Web) handleRecent(wr http.ResponseWriter, r *http.Request) {
	recent := []string{}
	if w.deps.Reader != nil {
		ctx, cancel := w.storeCtx()
		defer cancel()
		got, err := w.deps.Reader.Recent(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read recent documents")
		} else if got != nil {
			recent = got
		}
	}
	writeJSON(wr, http.StatusOK, map[string]any{"recent": recent})
}

func (w *Web) handleRecentClear(wr http.ResponseWriter, r *http.Request) {
	if w.deps.Reader != nil {
		ctx, cancel := w.storeCtx()
		defer cancel()
		if err := w.deps.Reader.ClearRecent(ctx); err != nil {
			http.Error(wr, "failed to clear recent documents", http.StatusBadGateway)
			return
		}
	}
	writeJSON(wr, http.StatusOK, map[string]any{"recent": []string{}})
}

// handleShaderReload swaps shader programs on the loop so no filter pass
// sees a half-loaded library.
func (w *Web) handleShaderReload(wr http.ResponseWriter, r *http.Request) {
	if w.deps.Shaders == nil {
		http.Error(wr, "shader backend not enabled", http.StatusNotFound)
		return
	}
	var (
		err error
		st  ViewerState
	)
	if !w.do(wr, r, func() {
		if err = w.deps.Shaders.Reload(); err != nil {
			return
		}
		w.deps.Engine.Invalidate("shader_reload")
		st = w.snapshot()
	}) {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("shader reload failed")
		http.Error(wr, "shader reload failed", http.StatusInternalServerError)
		return
	}
	writeJSON(wr, http.StatusOK, st)
}

func (w *Web) loadReaderState(ref string) (store.Prefs, bool, int) {
	if w.deps.Reader == nil {
		return store.Prefs{}, false, -1
	}
	ctx, cancel := w.storeCtx()
	defer cancel()
	prefs, ok, err := w.deps.Reader.LoadPrefs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load reader preferences")
	}
	page, err := w.deps.Reader.Progress(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("failed to load reading progress")
		page = -1
	}
	return prefs, ok, page
}

func applyPrefs(e *viewport.Engine, p store.Prefs) {
	if v, ok := viewport.ParseMode(p.Mode); ok {
		e.SetMode(v)
	}
	if v, ok := viewport.ParseDirection(p.Direction); ok {
		e.SetDirection(v)
	}
	e.SetPadStart(p.PadStart)
	if v, ok := viewport.ParseZoomMode(p.ZoomMode); ok && v != viewport.ZoomManual {
		e.SetZoomMode(v)
	}
}

func (w *Web) savePrefs(st ViewerState) {
	if w.deps.Reader == nil {
		return
	}
	ctx, cancel := w.storeCtx()
	defer cancel()
	p := store.Prefs{
		Mode:      st.Mode.String(),
		Direction: st.Direction.String(),
		PadStart:  st.PadStart,
		ZoomMode:  st.ZoomMode.String(),
	}
	if err := w.deps.Reader.SavePrefs(ctx, p); err != nil {
		log.Warn().Err(err).Msg("failed to save reader preferences")
	}
}

func (w *Web) saveProgress(st ViewerState) {
	if w.deps.Reader == nil || !st.Open || st.Ref == "" {
		return
	}
	ctx, cancel := w.storeCtx()
	defer cancel()
	if err := w.deps.Reader.SaveProgress(ctx, st.Ref, st.Page); err != nil {
		log.Warn().Err(err).Msg("failed to save reading progress")
	}
}

// persistProgressLocked records the current page before the document goes away.
func (w *Web) persistProgressLocked() {
	if w.current == nil {
		return
	}
	w.saveProgress(ViewerState{ViewState: w.deps.Engine.State(), Open: true, Ref: w.current.res.Ref})
}

func intParam(s string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}

func floatParam(s string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) {
		return f
	}
	return def
}

func parseFlag(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func sanitizeName(name string) string {
	name = strings.TrimSuffix(name, ".pdf")
	if name == "" {
		return "page"
	}
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
}
