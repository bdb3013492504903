package document

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/spreadview/internal/raster"
	"github.com/local/spreadview/internal/viewport"
)

func TestCleanText(t *testing.T) {
	in := "CHAPTER ONE\n" +
		"The quick brown fox jumps\n" +
		"over the lazy dog.\n" +
		"* * *\n" +
		"Copyright 2024 Someone\n" +
		"A second paragraph ends here.\n" +
		"Page 7\n" +
		"7\n"
	want := "The quick brown fox jumps over the lazy dog.\nA second paragraph ends here."
	if got := CleanText(in, 7); got != want {
		t.Fatalf("CleanText =\n%q\nwant\n%q", got, want)
	}
}

func TestIsPageNumber(t *testing.T) {
	tests := []struct {
		line string
		page int
		want bool
	}{
		{"12", 12, true},
		{"page 12", 12, true},
		{"- 12 -", 12, true},
		{"[12]", 12, true},
		{"13", 12, false},
		{"12 angry men", 12, false},
	}
	for _, tt := range tests {
		if got := isPageNumber(tt.line, tt.page); got != tt.want {
			t.Errorf("isPageNumber(%q, %d) = %v", tt.line, tt.page, got)
		}
	}
}

type fakeDoc struct {
	renders int
	text    string
}

func (d *fakeDoc) PageCount() int               { return 3 }
func (d *fakeDoc) PageSize(int) viewport.Size   { return viewport.Size{W: 10, H: 20} }
func (d *fakeDoc) PageText(int) (string, error) { return d.text, nil }
func (d *fakeDoc) RenderPage(page int, scale float64) *raster.Raster {
	d.renders++
	if page == 2 {
		return &raster.Raster{}
	}
	return raster.NewFilled(int(10*scale), int(20*scale), byte(page), 0, 0)
}

type memStore struct {
	m      map[string]*raster.Raster
	getErr error
	puts   int
}

func (s *memStore) GetRaster(_ context.Context, key string) (*raster.Raster, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.m[key], nil
}

func (s *memStore) PutRaster(_ context.Context, key string, r *raster.Raster) error {
	s.puts++
	s.m[key] = r.Clone()
	return nil
}

func TestCachedServesFromStore(t *testing.T) {
	doc := &fakeDoc{text: "hello"}
	st := &memStore{m: map[string]*raster.Raster{}}
	c := NewCached(doc, st, "abc", 0)

	first := c.RenderPage(1, 2)
	second := c.RenderPage(1, 2)
	if doc.renders != 1 || st.puts != 1 {
		t.Fatalf("renders = %d puts = %d", doc.renders, st.puts)
	}
	if !first.Equal(second) {
		t.Fatal("store returned a different raster")
	}
	if _, ok := st.m[RasterKey("abc", 1, 2)]; !ok {
		t.Fatal("raster stored under unexpected key")
	}

	c.RenderPage(1, 1.5)
	if doc.renders != 2 {
		t.Fatal("scale should be part of the key")
	}
	if txt, _ := c.PageText(0); txt != "hello" {
		t.Fatalf("text = %q", txt)
	}
	if c.PageCount() != 3 || c.Unwrap() != doc {
		t.Fatal("wrapped document not exposed")
	}
}

func TestCachedSkipsEmptyAndSurvivesStoreErrors(t *testing.T) {
	doc := &fakeDoc{}
	st := &memStore{m: map[string]*raster.Raster{}}
	c := NewCached(doc, st, "abc", 0)

	if r := c.RenderPage(2, 1); !r.Empty() || st.puts != 0 {
		t.Fatal("empty render should not be stored")
	}

	st.getErr = errors.New("connection refused")
	if r := c.RenderPage(0, 1); !r.Valid() {
		t.Fatal("store failure should fall through to the document")
	}
}

func TestRasterKey(t *testing.T) {
	tests := []struct {
		scale float64
		want  string
	}{
		{1.25, "raster:f00:4:1.25"},
		{2, "raster:f00:4:2"},
		{1.00001, "raster:f00:4:1.00001"},
		{1.00003, "raster:f00:4:1.00003"},
	}
	for _, tt := range tests {
		if k := RasterKey("f00", 4, tt.scale); k != tt.want {
			t.Errorf("scale %v: key = %s, want %s", tt.scale, k, tt.want)
		}
	}
}

type titledDoc struct{ fakeDoc }

func (d *titledDoc) Metadata() map[string]string { return map[string]string{"title": "Atlas"} }

func TestCachedForwardsMetadata(t *testing.T) {
	st := &memStore{m: map[string]*raster.Raster{}}
	if m := NewCached(&titledDoc{}, st, "fp", 0).Metadata(); m["title"] != "Atlas" {
		t.Fatalf("metadata = %v", m)
	}
	if m := NewCached(&fakeDoc{}, st, "fp", 0).Metadata(); m != nil {
		t.Fatalf("metadata without source = %v", m)
	}
}

// scaleDoc stamps the render scale into its single pixel.
type scaleDoc struct{ renders int }

func (d *scaleDoc) PageCount() int             { return 1 }
func (d *scaleDoc) PageSize(int) viewport.Size { return viewport.Size{W: 1, H: 1} }
func (d *scaleDoc) RenderPage(_ int, scale float64) *raster.Raster {
	d.renders++
	return raster.NewFilled(1, 1, byte(int(math.Round(scale*1e5))%256), 0, 0)
}

func TestCachedNearbyScalesDoNotCollide(t *testing.T) {
	doc := &scaleDoc{}
	st := &memStore{m: map[string]*raster.Raster{}}
	c := NewCached(doc, st, "fp", 0)

	if r := c.RenderPage(0, 1.00001); r.Pix[0] != 161 {
		t.Fatalf("first render pixel = %d, want 161", r.Pix[0])
	}
	r := c.RenderPage(0, 1.00003)
	if r.Pix[0] != 163 {
		t.Fatalf("second render pixel = %d, want 163 (served the old scale)", r.Pix[0])
	}
	if doc.renders != 2 || len(st.m) != 2 {
		t.Fatalf("renders = %d, stored = %d", doc.renders, len(st.m))
	}
	if r := c.RenderPage(0, 1.00001); r.Pix[0] != 161 || doc.renders != 2 {
		t.Fatalf("repeat lookup pixel = %d renders = %d", r.Pix[0], doc.renders)
	}
}

func TestOpenImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	p := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	doc, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	if doc.PageCount() != 1 {
		t.Fatalf("pages = %d", doc.PageCount())
	}
	s := doc.PageSize(0)
	if s.W <= 0 || s.H <= 0 || s.W <= s.H {
		t.Fatalf("size = %+v", s)
	}
	if doc.PageSize(9) != s {
		t.Fatal("out-of-range size should clamp to the last page")
	}
	if r := doc.RenderPage(0, 1); !r.Valid() {
		t.Fatal("render failed")
	}
	if r := doc.RenderPage(3, 1); !r.Empty() {
		t.Fatal("out-of-range render should be empty")
	}
	if r := doc.RenderPage(0, 0); !r.Empty() {
		t.Fatal("zero scale should be empty")
	}
	if _, err := doc.PageText(4); err == nil {
		t.Fatal("expected range error")
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Fatal("expected error")
	}
}
