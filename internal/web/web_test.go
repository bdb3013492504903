package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/local/spreadview/internal/document"
	"github.com/local/spreadview/internal/eventloop"
	"github.com/local/spreadview/internal/raster"
	"github.com/local/spreadview/internal/source"
	"github.com/local/spreadview/internal/store"
	"github.com/local/spreadview/internal/viewport"
)

// testDoc is only touched on the loop, except for the closed flag.
type testDoc struct {
	n      int
	mu     sync.Mutex
	closed bool
}

func (d *testDoc) PageCount() int { return d.n }

func (d *testDoc) PageSize(int) viewport.Size { return viewport.Size{W: 100, H: 150} }

func (d *testDoc) RenderPage(p int, scale float64) *raster.Raster {
	if p < 0 || p >= d.n {
		return &raster.Raster{}
	}
	return raster.NewFilled(int(100*scale), int(150*scale), byte(p*20), 80, 40)
}

func (d *testDoc) PageText(p int) (string, error) { return fmt.Sprintf("page %d", p+1), nil }

func (d *testDoc) Outline() ([]document.Heading, error) {
	return []document.Heading{{Level: 1, Title: "Intro", Page: 0}}, nil
}

func (d *testDoc) Metadata() map[string]string {
	return map[string]string{"title": " A Test Book ", "format": "PDF 1.7"}
}

func (d *testDoc) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *testDoc) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeResolver struct {
	err error
}

func (f *fakeResolver) Resolve(_ context.Context, ref string) (*source.Resolved, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &source.Resolved{Ref: ref, Name: ref, Fingerprint: "fp-" + ref}, nil
}

type memReader struct {
	mu       sync.Mutex
	prefs    *store.Prefs
	progress map[string]int
	recent   []string
}

func newMemReader() *memReader { return &memReader{progress: map[string]int{}} }

func (m *memReader) SavePrefs(_ context.Context, p store.Prefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs = &p
	return nil
}

func (m *memReader) LoadPrefs(context.Context) (store.Prefs, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs == nil {
		return store.Prefs{}, false, nil
	}
	return *m.prefs, true, nil
}

func (m *memReader) SaveProgress(_ context.Context, ref string, page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[ref] = page
	return nil
}

func (m *memReader) Progress(_ context.Context, ref string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[ref]; ok {
		return p, nil
	}
	return -1, nil
}

func (m *memReader) TouchRecent(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{ref}
	for _, r := range m.recent {
		if r != ref {
			out = append(out, r)
		}
	}
	m.recent = out
	return nil
}

func (m *memReader) Recent(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recent...), nil
}

func (m *memReader) ClearRecent(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = nil
	return nil
}

type fixture struct {
	srv    *httptest.Server
	web    *Web
	reader *memReader
	res    *fakeResolver

	mu   sync.Mutex
	docs []*testDoc
}

func (f *fixture) doc(i int) *testDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[i]
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	loop := eventloop.New(0)
	t.Cleanup(loop.Close)

	f := &fixture{reader: newMemReader(), res: &fakeResolver{}}
	opts := viewport.Options{Viewport: image.Pt(400, 300), CacheCapacity: 8, KeepWindow: 4}
	engine := viewport.New(opts, nil, loop)
	deps := Deps{
		Loop:     loop,
		Engine:   engine,
		Resolver: f.res,
		Open: func(*source.Resolved) (viewport.Document, error) {
			d := &testDoc{n: 9}
			f.mu.Lock()
			f.docs = append(f.docs, d)
			f.mu.Unlock()
			return d, nil
		},
		Reader: f.reader,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.web = New(deps)
	mux := http.NewServeMux()
	f.web.RegisterRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(f.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeState(t *testing.T, resp *http.Response) ViewerState {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	st := ViewerState{}
	st.Open, _ = raw["open"].(bool)
	st.Name, _ = raw["name"].(string)
	st.Ref, _ = raw["ref"].(string)
	st.Title, _ = raw["title"].(string)
	if v, ok := raw["page"].(float64); ok {
		st.Page = int(v)
	}
	if v, ok := raw["page_count"].(float64); ok {
		st.PageCount = int(v)
	}
	if v, ok := raw["version"].(float64); ok {
		st.Version = uint64(v)
	}
	if s, ok := raw["session"].(string); ok {
		st.Session = s
	}
	if s, ok := raw["mode"].(string); ok {
		st.Mode, _ = viewport.ParseMode(s)
	}
	if s, ok := raw["direction"].(string); ok {
		st.Direction, _ = viewport.ParseDirection(s)
	}
	return st
}

func (f *fixture) open(t *testing.T, ref string) ViewerState {
	t.Helper()
	return decodeState(t, f.post(t, "/view/open", url.Values{"ref": {ref}}))
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Username, d.Password = "reader", "secret" })

	resp := f.get(t, "/view/state")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: status = %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}

	tests := []struct {
		user, pass string
		want       int
	}{
		{"reader", "wrong", http.StatusUnauthorized},
		{"other", "secret", http.StatusUnauthorized},
		{"reader", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/view/state", nil)
		req.SetBasicAuth(tt.user, tt.pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s/%s: status = %d, want %d", tt.user, tt.pass, resp.StatusCode, tt.want)
		}
	}
}

func TestMutationsRequirePost(t *testing.T) {
	f := newFixture(t, nil)
	for _, p := range []string{"/view/next", "/view/set", "/view/open", "/view/close", "/view/zoom", "/view/recent/clear"} {
		resp := f.get(t, p)
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: status = %d", p, resp.StatusCode)
		}
		if resp.Header.Get("Allow") != http.MethodPost {
			t.Errorf("GET %s: Allow = %q", p, resp.Header.Get("Allow"))
		}
	}
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get(t, "/view/")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}

	resp = f.get(t, "/view/missing")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", resp.StatusCode)
	}
}

func TestStateWithoutDocument(t *testing.T) {
	f := newFixture(t, nil)
	st := decodeState(t, f.get(t, "/view/state"))
	if st.Open || st.Session != "" {
		t.Fatalf("state = %+v", st)
	}
	resp := f.get(t, "/view/spread")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("spread without document: status = %d", resp.StatusCode)
	}
}

func TestOpenRestoresReaderState(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.prefs = &store.Prefs{Mode: "single", Direction: "rtl", ZoomMode: "fit_width"}
	f.reader.progress["book.pdf"] = 4

	st := f.open(t, "book.pdf")
	if !st.Open || st.Name != "book.pdf" || st.Title != "A Test Book" || st.PageCount != 9 {
		t.Fatalf("open state = %+v", st)
	}
	if st.Page != 4 || st.Mode != viewport.Single || st.Direction != viewport.RTL {
		t.Fatalf("restored state = %+v", st)
	}
	recent, _ := f.reader.Recent(context.Background())
	if len(recent) != 1 || recent[0] != "book.pdf" {
		t.Fatalf("recent = %v", recent)
	}
}

func TestNavigationSavesProgress(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "book.pdf")

	tests := []struct {
		path string
		form url.Values
		want int
	}{
		{"/view/next", nil, 2},
		{"/view/right", nil, 4},
		{"/view/prev", nil, 2},
		{"/view/left", nil, 0},
		{"/view/goto", url.Values{"page": {"7"}}, 7},
		{"/view/goto", url.Values{"page": {"99"}}, 8},
	}
	for _, tt := range tests {
		st := decodeState(t, f.post(t, tt.path, tt.form))
		if st.Page != tt.want {
			t.Fatalf("%s %v: page = %d, want %d", tt.path, tt.form, st.Page, tt.want)
		}
		if got, _ := f.reader.Progress(context.Background(), "book.pdf"); got != tt.want {
			t.Fatalf("%s: saved progress = %d, want %d", tt.path, got, tt.want)
		}
	}

	resp := f.post(t, "/view/goto", url.Values{"page": {"x"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad goto: status = %d", resp.StatusCode)
	}
}

func TestSetIgnoresInvalidValues(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "book.pdf")

	st := decodeState(t, f.post(t, "/view/set", url.Values{"mode": {"triple"}, "direction": {"rtl"}}))
	if st.Mode != viewport.TwoUp || st.Direction != viewport.RTL {
		t.Fatalf("state = %+v", st)
	}
	f.reader.mu.Lock()
	saved := f.reader.prefs
	f.reader.mu.Unlock()
	if saved == nil || saved.Direction != "rtl" || saved.Mode != "two_up" {
		t.Fatalf("saved prefs = %+v", saved)
	}
}

func TestZoomValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "book.pdf")

	tests := []struct {
		form url.Values
		want int
	}{
		{url.Values{"op": {"in"}}, http.StatusOK},
		{url.Values{"op": {"out"}}, http.StatusOK},
		{url.Values{"op": {"wheel"}, "steps": {"-2"}}, http.StatusOK},
		{url.Values{"op": {"wheel"}, "steps": {"lots"}}, http.StatusBadRequest},
		{url.Values{"op": {"sideways"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := f.post(t, "/view/zoom", tt.form)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.form, resp.StatusCode, tt.want)
		}
	}
}

func TestSpreadETag(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "book.pdf")

	resp := f.get(t, "/view/spread")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() < 400 || img.Bounds().Dy() < 300 {
		t.Fatalf("spread size = %v", img.Bounds())
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/view/spread", nil)
	req.Header.Set("If-None-Match", etag)
	again, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional status = %d", again.StatusCode)
	}

	f.post(t, "/view/next", nil).Body.Close()
	moved, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	moved.Body.Close()
	if moved.StatusCode != http.StatusOK || moved.Header.Get("ETag") == etag {
		t.Fatalf("after navigation: status = %d etag = %q", moved.StatusCode, moved.Header.Get("ETag"))
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", source.ErrUnsupported), http.StatusUnsupportedMediaType},
		{source.ErrBusy, http.StatusTooManyRequests},
		{source.ErrUnavailable, http.StatusServiceUnavailable},
		{source.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		f := newFixture(t, nil)
		f.res.err = tt.err
		resp := f.post(t, "/view/open", url.Values{"ref": {"http://host/doc.pdf"}})
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, resp.StatusCode, tt.want)
		}
	}

	f := newFixture(t, nil)
	resp := f.post(t, "/view/open", url.Values{"ref": {"  "}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty ref: status = %d", resp.StatusCode)
	}
}

func TestReopenClosesPreviousDocument(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "a.pdf")
	f.post(t, "/view/goto", url.Values{"page": {"3"}}).Body.Close()
	first := f.open(t, "b.pdf")

	if !f.doc(0).isClosed() {
		t.Fatal("previous document still open")
	}
	if first.Name != "b.pdf" || first.Page != 0 {
		t.Fatalf("state = %+v", first)
	}
	recent, _ := f.reader.Recent(context.Background())
	if len(recent) != 2 || recent[0] != "b.pdf" {
		t.Fatalf("recent = %v", recent)
	}

	st := decodeState(t, f.post(t, "/view/close", nil))
	if st.Open {
		t.Fatalf("state after close = %+v", st)
	}
	if !f.doc(1).isClosed() {
		t.Fatal("document not closed")
	}
	if p, _ := f.reader.Progress(context.Background(), "a.pdf"); p != 3 {
		t.Fatalf("progress for a.pdf = %d", p)
	}
}

func TestTextOutlineAndExport(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "book.pdf")

	resp := f.get(t, "/view/text")
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || string(text) != "page 1\n\npage 2" {
		t.Fatalf("text = %q, %v", text, err)
	}

	resp = f.get(t, "/view/outline")
	var outline struct {
		Outline []document.Heading `json:"outline"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&outline); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(outline.Outline) != 1 || outline.Outline[0].Title != "Intro" {
		t.Fatalf("outline = %+v", outline)
	}

	resp = f.get(t, "/view/page?page=2&format=png&scale=1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("export: status = %d type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "book-p3.png") {
		t.Fatalf("disposition = %q", cd)
	}

	resp = f.get(t, "/view/page?page=40")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("export out of range: status = %d", resp.StatusCode)
	}

	resp = f.get(t, "/view/thumb?page=1&size=64")
	defer resp.Body.Close()
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("thumb: %v", err)
	}
	if b := img.Bounds(); b.Dx() > 64 || b.Dy() > 64 {
		t.Fatalf("thumb size = %v", b)
	}
}

func TestRecentClear(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "a.pdf")

	resp := f.get(t, "/view/recent")
	var got struct {
		Recent []string `json:"recent"`
	}
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if len(got.Recent) != 1 {
		t.Fatalf("recent = %v", got.Recent)
	}

	f.post(t, "/view/recent/clear", nil).Body.Close()
	if r, _ := f.reader.Recent(context.Background()); len(r) != 0 {
		t.Fatalf("recent after clear = %v", r)
	}
}

func TestShaderReloadWithoutBackend(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.post(t, "/view/shaders/reload", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLoopClosedReturns503(t *testing.T) {
	f := newFixture(t, nil)
	f.web.deps.Loop.Close()
	resp := f.get(t, "/view/state")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
