package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"html/template"
	"image/color"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/eventloop"
	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/source"
	"github.com/local/spreadview/internal/store"
	"github.com/local/spreadview/internal/viewport"
)

//go:embed templates/*.html
var templateFS embed.FS

// Resolver turns a document reference into a local file.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*source.Resolved, error)
}

// Opener decodes a resolved file.
type Opener func(res *source.Resolved) (viewport.Document, error)

// ReaderStore persists preferences, progress and recent documents.
type ReaderStore interface {
	SavePrefs(ctx context.Context, p store.Prefs) error
	LoadPrefs(ctx context.Context) (store.Prefs, bool, error)
	SaveProgress(ctx context.Context, ref string, page int) error
	Progress(ctx context.Context, ref string) (int, error)
	TouchRecent(ctx context.Context, ref string) error
	Recent(ctx context.Context) ([]string, error)
	ClearRecent(ctx context.Context) error
}

// ShaderLibrary is the reloadable set of GPU filters.
type ShaderLibrary interface {
	Names() []string
	Reload() error
}

type Deps struct {
	Loop     *eventloop.Loop
	Engine   *viewport.Engine
	Filter   imageproc.Filter
	Resolver Resolver
	Open     Opener
	Reader   ReaderStore   // optional
	Shaders  ShaderLibrary // optional

	Background  color.Color
	JPEGQuality int
	Username    string
	Password    string
	// StoreTimeout bounds each ReaderStore call.
	StoreTimeout time.Duration
}

type Web struct {
	deps    Deps
	tpl     *template.Template
	painter *framePainter

	// loop-owned
	current *openDocument
}

type openDocument struct {
	res   *source.Resolved
	doc   viewport.Document
	title string
}

func New(deps Deps) *Web {
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 500 * time.Millisecond
	}
	w := &Web{
		deps:    deps,
		tpl:     template.Must(template.ParseFS(templateFS, "templates/*.html")),
		painter: newFramePainter(deps.Background),
	}
	deps.Engine.SetPainter(w.painter)
	return w
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/view/", w.requireAuth(w.handleIndex))
	mux.HandleFunc("/view/state", w.requireAuth(w.handleState))
	mux.HandleFunc("/view/spread", w.requireAuth(w.handleSpread))
	mux.HandleFunc("/view/next", w.requireAuth(w.post(w.handleNav)))
	mux.HandleFunc("/view/prev", w.requireAuth(w.post(w.handleNav)))
	mux.HandleFunc("/view/left", w.requireAuth(w.post(w.handleNav)))
	mux.HandleFunc("/view/right", w.requireAuth(w.post(w.handleNav)))
	mux.HandleFunc("/view/goto", w.requireAuth(w.post(w.handleNav)))
	mux.HandleFunc("/view/set", w.requireAuth(w.post(w.handleSet)))
	mux.HandleFunc("/view/zoom", w.requireAuth(w.post(w.handleZoom)))
	mux.HandleFunc("/view/resize", w.requireAuth(w.post(w.handleResize)))
	mux.HandleFunc("/view/text", w.requireAuth(w.handleText))
	mux.HandleFunc("/view/hit", w.requireAuth(w.handleHit))
	mux.HandleFunc("/view/open", w.requireAuth(w.post(w.handleOpen)))
	mux.HandleFunc("/view/close", w.requireAuth(w.post(w.handleClose)))
	mux.HandleFunc("/view/page", w.requireAuth(w.handlePage))
	mux.HandleFunc("/view/thumb", w.requireAuth(w.handleThumb))
	mux.HandleFunc("/view/outline", w.requireAuth(w.handleOutline))
	mux.HandleFunc("/view/recent", w.requireAuth(w.handleRecent))
	mux.HandleFunc("/view/recent/clear", w.requireAuth(w.post(w.handleRecentClear)))
	mux.HandleFunc("/view/shaders/reload", w.requireAuth(w.post(w.handleShaderReload)))
}

// requireAuth enforces HTTP basic auth when credentials are configured.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if w.deps.Username == "" && w.deps.Password == "" {
			next(wr, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(w.deps.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(w.deps.Password)) != 1 {
			wr.Header().Set("WWW-Authenticate", `Basic realm="spreadview"`)
			http.Error(wr, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(wr, r)
	}
}

func (w *Web) post(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			wr.Header().Set("Allow", http.MethodPost)
			wr.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next(wr, r)
	}
}

// do runs f on the event loop, mapping loop failures to 503.
func (w *Web) do(wr http.ResponseWriter, r *http.Request, f func()) bool {
	if err := w.deps.Loop.Do(r.Context(), f); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("viewer loop unavailable")
		http.Error(wr, "viewer unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (w *Web) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), w.deps.StoreTimeout)
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write json response")
	}
}

func writeText(wr http.ResponseWriter, s string) {
	wr.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(wr, s)
}
