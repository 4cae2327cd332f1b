package artwork

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestFetcher(t *testing.T, maxSize int) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Config{
		CacheDir:          t.TempDir(),
		MaxSize:           maxSize,
		RequestsPerSecond: 100,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	return f
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	payload := testJPEG(t, 64, 64)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 0)

	first, err := f.Fetch(context.Background(), srv.URL+"/cover.jpg")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !bytes.Equal(first, payload) {
		t.Error("fetched bytes differ from served bytes")
	}

	second, err := f.Fetch(context.Background(), srv.URL+"/cover.jpg")
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !bytes.Equal(second, first) {
		t.Error("cached bytes differ from first fetch")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (second fetch should hit the cache)", hits.Load())
	}
}

func TestFetchResizesLargeImages(t *testing.T) {
	payload := testJPEG(t, 800, 400)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 200)

	data, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("result is not a decodable image: %v", err)
	}
	if w := img.Bounds().Dx(); w != 200 {
		t.Errorf("width = %d, want 200", w)
	}
	if h := img.Bounds().Dy(); h != 100 {
		t.Errorf("height = %d, want 100 (aspect ratio preserved)", h)
	}
}

func TestFetchKeepsSmallImages(t *testing.T) {
	payload := testJPEG(t, 50, 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 200)

	data, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("image below the size cap should pass through unchanged")
	}
}

func TestFetchPreservesPNGFormat(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := newTestFetcher(t, 100)

	data, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
}

func TestFetchLocalPath(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "cover.jpg")
	payload := testJPEG(t, 10, 10)
	if err := os.WriteFile(local, payload, 0644); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t, 200)

	data, err := f.Fetch(context.Background(), local)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("local file should be returned as-is")
	}
}

func TestFetchRejectsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 0)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected an error for a 404 response")
	}
}

func TestFetchEmptyURL(t *testing.T) {
	f := newTestFetcher(t, 0)
	if _, err := f.Fetch(context.Background(), ""); err == nil {
		t.Error("expected an error for an empty URL")
	}
}

func TestClearCache(t *testing.T) {
	payload := testJPEG(t, 20, 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 0)
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}

	size, err := f.CacheSize()
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Fatal("expected a non-empty cache after a fetch")
	}

	if err := f.ClearCache(); err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	size, err = f.CacheSize()
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Errorf("cache size after clear = %d, want 0", size)
	}
}
