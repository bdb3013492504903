package shaderfx

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/raster"
)

// Filter adapts a Pipeline to imageproc.Filter. Rasters with a shader
// selected go through the GPU; the rest go to the fallback, if any.
type Filter struct {
	p        *Pipeline
	fallback imageproc.Filter
}

// NewFilter returns the shader backend. fallback may be nil.
func NewFilter(p *Pipeline, fallback imageproc.Filter) *Filter {
	return &Filter{p: p, fallback: fallback}
}

// Has reports whether name is a known shader filter.
func (f *Filter) Has(name string) bool { return f.p.Has(name) }

// Names lists the available shader filters.
func (f *Filter) Names() []string {
	if f.p.lib == nil {
		return nil
	}
	return f.p.lib.Names()
}

// Reload rereads the shader directory.
func (f *Filter) Reload() error { return f.p.Reload() }

func (f *Filter) Apply(src *raster.Raster, sel imageproc.Selection) (*raster.Raster, error) {
	if sel.Shader == "" {
		if f.fallback == nil {
			return src, nil
		}
		return f.fallback.Apply(src, sel)
	}
	out, err := f.p.Apply(sel.Shader, src)
	if err != nil {
		var se *ShaderError
		if !errors.As(err, &se) {
			log.Error().Err(err).Str("filter", sel.Shader).Msg("shader pipeline failed")
		}
		return src, err
	}
	return out, nil
}
