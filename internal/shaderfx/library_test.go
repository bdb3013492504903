package shaderfx

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sepia.wgsl", "// sepia")
	writeFile(t, dir, "Night.WGSL", "// night")
	writeFile(t, dir, "notes.txt", "not a shader")
	if err := os.Mkdir(filepath.Join(dir, "nested.wgsl"), 0o755); err != nil {
		t.Fatal(err)
	}

	lib, err := LoadLibrary(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := lib.Names(); !reflect.DeepEqual(got, []string{"Night", "sepia"}) {
		t.Fatalf("names = %v", got)
	}
	if src, ok := lib.Source("sepia"); !ok || src != "// sepia" {
		t.Fatalf("source = %q, %v", src, ok)
	}
	if lib.Has("notes") {
		t.Fatal("non-shader file loaded")
	}
}

func TestLoadLibraryMissingDir(t *testing.T) {
	lib, err := LoadLibrary(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if len(lib.Names()) != 0 {
		t.Fatal("expected empty library")
	}
}

func TestLibraryReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.wgsl", "a")
	lib, err := LoadLibrary(dir)
	if err != nil {
		t.Fatal(err)
	}
	gen := lib.Generation()
	writeFile(t, dir, "b.wgsl", "b")
	writeFile(t, dir, "a.wgsl", "a2")
	if err := lib.Reload(); err != nil {
		t.Fatal(err)
	}
	if lib.Generation() <= gen {
		t.Fatal("generation did not advance")
	}
	if src, _ := lib.Source("a"); src != "a2" || !lib.Has("b") {
		t.Fatal("reload did not pick up changes")
	}
}

func TestErrors(t *testing.T) {
	se := &ShaderError{Filter: "crt", Stage: "fragment", Log: "expected ';'"}
	if msg := se.Error(); !strings.Contains(msg, "crt") || !strings.Contains(msg, "expected ';'") {
		t.Fatalf("message = %q", msg)
	}
	base := errors.New("device lost")
	re := resourceErr("submit", base)
	if !errors.Is(re, base) {
		t.Fatal("ResourceError should unwrap")
	}
	var target *ResourceError
	if !errors.As(re, &target) || target.Op != "submit" {
		t.Fatal("ResourceError not matched")
	}
}

func TestFlipRGBA(t *testing.T) {
	// 2x2, pitch 8: bottom-up rows [R G] then [B W]
	src := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 255, 255, 255, 255,
	}
	got := flipRGBA(src, 2, 2, 8)
	want := []byte{
		0, 0, 255, 255, 255, 255,
		255, 0, 0, 0, 255, 0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flip = %v", got)
	}
}

func TestFlipRGBAIgnoresPadding(t *testing.T) {
	src := make([]byte, 256*2)
	src[0], src[256] = 1, 2
	src[4] = 99 // outside a 1-pixel row
	got := flipRGBA(src, 1, 2, 256)
	if got[0] != 2 || got[3] != 1 || len(got) != 6 {
		t.Fatalf("flip = %v", got)
	}
}

func TestBuffers(t *testing.T) {
	if n := len(quadVertices()); n != quadVertexCount*quadVertexStride {
		t.Fatalf("quad bytes = %d", n)
	}
	if n := len(uniformBytes(1, 2, 3)); n != uniformSize {
		t.Fatalf("uniform bytes = %d", n)
	}
	if !strings.Contains(programSource("X"), "fn vs_main") {
		t.Fatal("prelude missing vertex stage")
	}
}
