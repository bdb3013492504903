package shaderfx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// SourceExt is the extension of fragment sources in a shader directory.
const SourceExt = ".wgsl"

// Library holds the fragment sources of a shader directory, one filter per
// file, named by the file stem.
type Library struct {
	mu      sync.RWMutex
	dir     string
	sources map[string]string
	gen     uint64
}

// LoadLibrary reads every *.wgsl file in dir. A missing dir yields an empty
// library so the viewer still runs without shaders.
func LoadLibrary(dir string) (*Library, error) {
	l := &Library{dir: dir, sources: map[string]string{}}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewLibrary builds a library from in-memory sources.
func NewLibrary(sources map[string]string) *Library {
	l := &Library{sources: make(map[string]string, len(sources)), gen: 1}
	for k, v := range sources {
		l.sources[k] = v
	}
	return l
}

// Reload rereads the directory. Pipelines drop programs built from the
// previous generation.
func (l *Library) Reload() error {
	if l.dir == "" {
		l.mu.Lock()
		l.gen++
		l.mu.Unlock()
		return nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read shader dir: %w", err)
	}
	sources := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), SourceExt) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable shader")
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		sources[name] = string(b)
	}

	l.mu.Lock()
	l.sources = sources
	l.gen++
	l.mu.Unlock()
	log.Info().Str("dir", l.dir).Int("filters", len(sources)).Msg("shader library loaded")
	return nil
}

// Source returns the fragment source for name.
func (l *Library) Source(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sources[name]
	return s, ok
}

func (l *Library) Has(name string) bool {
	_, ok := l.Source(name)
	return ok
}

// Names lists the filters in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.sources))
	for n := range l.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Generation increases on every reload.
func (l *Library) Generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen
}
