package document

import (
	"fmt"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/raster"
	"github.com/local/spreadview/internal/viewport"
)

// DefaultPageSize is A4 in points, used when a page's bounds cannot be read.
var DefaultPageSize = viewport.Size{W: 595, H: 842}

// Heading is one outline entry.
type Heading struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Page  int    `json:"page"`
}

// Fitz is a document decoded by MuPDF through go-fitz. It satisfies
// viewport.Document and viewport.TextSource.
type Fitz struct {
	mu    sync.Mutex
	doc   *fitz.Document
	path  string
	pages int
	sizes map[int]viewport.Size
}

// Open decodes the file at path.
func Open(path string) (*Fitz, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	f := &Fitz{doc: doc, path: path, pages: doc.NumPage(), sizes: map[int]viewport.Size{}}
	log.Debug().Str("path", path).Int("pages", f.pages).Msg("document opened")
	return f, nil
}

func (f *Fitz) Path() string { return f.path }

func (f *Fitz) PageCount() int { return f.pages }

// PageSize returns the page size in points. Out-of-range indices are
// clamped; unreadable pages report DefaultPageSize.
func (f *Fitz) PageSize(page int) viewport.Size {
	if f.pages <= 0 {
		return DefaultPageSize
	}
	page = clamp(page, 0, f.pages-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sizes[page]; ok {
		return s
	}
	b, err := f.doc.Bound(page)
	if err != nil || b.Dx() <= 0 || b.Dy() <= 0 {
		log.Warn().Err(err).Int("page", page).Msg("page bounds unavailable; using default size")
		return DefaultPageSize
	}
	s := viewport.Size{W: float64(b.Dx()), H: float64(b.Dy())}
	f.sizes[page] = s
	return s
}

// RenderPage rasterizes page at scale (1.0 = 72 dpi). Invalid input or a
// decoder failure yields an empty raster.
func (f *Fitz) RenderPage(page int, scale float64) *raster.Raster {
	if page < 0 || page >= f.pages || scale <= 0 {
		return &raster.Raster{}
	}
	f.mu.Lock()
	img, err := f.doc.ImageDPI(page, 72*scale)
	f.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Int("page", page).Float64("scale", scale).Msg("failed to render page")
		return &raster.Raster{}
	}
	r := raster.FromImage(img)
	log.Debug().
		Int("page", page).
		Int("width", r.W).
		Int("height", r.H).
		Float64("scale", scale).
		Msg("rendered page")
	return r
}

// PageText extracts and cleans the text of page.
func (f *Fitz) PageText(page int) (string, error) {
	if page < 0 || page >= f.pages {
		return "", fmt.Errorf("page %d out of range (document has %d pages)", page+1, f.pages)
	}
	f.mu.Lock()
	raw, err := f.doc.Text(page)
	f.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", page+1, err)
	}
	return CleanText(raw, page+1), nil
}

// Outline returns the table of contents with 0-based page indices.
func (f *Fitz) Outline() ([]Heading, error) {
	f.mu.Lock()
	toc, err := f.doc.ToC()
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read outline: %w", err)
	}
	out := make([]Heading, 0, len(toc))
	for _, o := range toc {
		out = append(out, Heading{Level: o.Level, Title: o.Title, Page: o.Page})
	}
	return out, nil
}

// Metadata returns the document info dictionary.
func (f *Fitz) Metadata() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Metadata()
}

func (f *Fitz) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Close()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
