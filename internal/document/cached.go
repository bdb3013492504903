package document

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/metrics"
	"github.com/local/spreadview/internal/raster"
	"github.com/local/spreadview/internal/viewport"
)

// RasterStore is a shared tier for raw page rasters.
type RasterStore interface {
	GetRaster(ctx context.Context, key string) (*raster.Raster, error)
	PutRaster(ctx context.Context, key string, r *raster.Raster) error
}

// Cached serves raw renders from a RasterStore before asking the wrapped
// document, and writes fresh renders back. Store failures never fail a
// render; they fall through to the document.
type Cached struct {
	viewport.Document
	store       RasterStore
	fingerprint string
	timeout     time.Duration
}

// NewCached wraps doc. fingerprint identifies the document content and
// namespaces the store keys.
func NewCached(doc viewport.Document, store RasterStore, fingerprint string, timeout time.Duration) *Cached {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Cached{Document: doc, store: store, fingerprint: fingerprint, timeout: timeout}
}

// RasterKey names a raw page raster in the store. The scale is written
// exactly; any zoom change the engine sees must land on a different key.
func RasterKey(fingerprint string, page int, scale float64) string {
	return fmt.Sprintf("raster:%s:%d:%s", fingerprint, page, strconv.FormatFloat(scale, 'g', -1, 64))
}

func (c *Cached) RenderPage(page int, scale float64) *raster.Raster {
	key := RasterKey(c.fingerprint, page, scale)
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	r, err := c.store.GetRaster(ctx, key)
	switch {
	case err != nil:
		metrics.StoreLookup("error")
		log.Warn().Err(err).Str("key", key).Msg("raster store lookup failed")
	case r.Valid():
		metrics.StoreLookup("hit")
		metrics.ObserveRender("store", time.Since(start))
		return r
	default:
		metrics.StoreLookup("miss")
	}

	r = c.Document.RenderPage(page, scale)
	if !r.Valid() {
		return r
	}
	if err := c.store.PutRaster(ctx, key, r); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("raster store write failed")
	}
	return r
}

// PageText forwards to the wrapped document when it supports text.
func (c *Cached) PageText(page int) (string, error) {
	if ts, ok := c.Document.(viewport.TextSource); ok {
		return ts.PageText(page)
	}
	return "", nil
}

// Outline forwards to the wrapped document when it has one.
func (c *Cached) Outline() ([]Heading, error) {
	if o, ok := c.Document.(interface{ Outline() ([]Heading, error) }); ok {
		return o.Outline()
	}
	return nil, nil
}

// Metadata forwards the wrapped document's info dictionary.
func (c *Cached) Metadata() map[string]string {
	if m, ok := c.Document.(interface{ Metadata() map[string]string }); ok {
		return m.Metadata()
	}
	return nil
}

// Close closes the wrapped document if it holds resources.
func (c *Cached) Close() error {
	if cl, ok := c.Document.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Unwrap returns the wrapped document.
func (c *Cached) Unwrap() viewport.Document { return c.Document }
