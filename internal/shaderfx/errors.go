package shaderfx

import (
	"errors"
	"fmt"
)

// ErrInvalidRaster is returned for rasters that are not 8-bit RGB with a
// matching sample count.
var ErrInvalidRaster = errors.New("shaderfx: raster must be non-empty 8-bit RGB")

// ShaderError reports a filter whose program failed to build. Log carries
// the compiler or pipeline diagnostic text. The filter stays unusable until
// the library is reloaded.
type ShaderError struct {
	Filter string
	Stage  string // "fragment", "module" or "link"
	Log    string
}

func (e *ShaderError) Error() string {
	return fmt.Sprintf("shader %q failed at %s stage: %s", e.Filter, e.Stage, e.Log)
}

// ResourceError wraps a failed GPU resource operation.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("gpu %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func resourceErr(op string, err error) error {
	return &ResourceError{Op: op, Err: err}
}
