package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soundbase/soundbase-go/internal/download"
)

type finishResult struct {
	path string
	err  error
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := NewExecutor(t.TempDir(), 10*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return e
}

func waitResult(t *testing.T, ch <-chan finishResult) finishResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnFinished")
		return finishResult{}
	}
}

func TestExecutorDownloadsWholeFile(t *testing.T) {
	content := bytes.Repeat([]byte("abcdef"), 10000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "x.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	e := newTestExecutor(t)
	results := make(chan finishResult, 1)
	progressed := make(chan struct{}, 1)

	h, err := e.Begin(context.Background(), srv.URL, download.Callbacks{
		OnProgress: func(written, total int64) {
			select {
			case progressed <- struct{}{}:
			default:
			}
		},
		OnFinished: func(path string, err error) {
			results <- finishResult{path, err}
		},
	})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	res := waitResult(t, results)
	if res.err != nil {
		t.Fatalf("OnFinished error = %v", res.err)
	}

	got, err := os.ReadFile(res.path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("downloaded %d bytes, want %d", len(got), len(content))
	}

	select {
	case <-progressed:
	default:
		t.Error("expected at least one progress callback")
	}

	// The transfer is terminal; a late cancel is refused.
	if _, err := h.Cancel(); err != download.ErrTransferDone {
		t.Errorf("Cancel() error = %v, want ErrTransferDone", err)
	}
}

func TestExecutorReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := newTestExecutor(t)
	results := make(chan finishResult, 1)

	_, err := e.Begin(context.Background(), srv.URL, download.Callbacks{
		OnProgress: func(int64, int64) {},
		OnFinished: func(path string, err error) {
			results <- finishResult{path, err}
		},
	})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	res := waitResult(t, results)
	if res.err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

// rangeServer serves content, holding the first plain GET open after an
// initial chunk until release is closed. Range requests are served in
// full immediately.
func rangeServer(t *testing.T, content []byte, release chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")

		if rng := r.Header.Get("Range"); rng != "" {
			var start int64
			if _, err := fmt.Sscanf(rng, "bytes=%d-", &start); err != nil {
				t.Errorf("bad range header %q", rng)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, len(content)-1, len(content)))
			w.Header().Set("Content-Length", fmt.Sprint(int64(len(content))-start))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[start:])
			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		w.WriteHeader(http.StatusOK)
		w.Write(content[:4096])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
}

func TestExecutorCancelAndResume(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 8192) // 80 KiB
	release := make(chan struct{})
	srv := rangeServer(t, content, release)
	defer srv.Close()
	defer close(release)

	e := newTestExecutor(t)
	results := make(chan finishResult, 1)
	progressed := make(chan struct{}, 1)

	h, err := e.Begin(context.Background(), srv.URL, download.Callbacks{
		OnProgress: func(written, total int64) {
			select {
			case progressed <- struct{}{}:
			default:
			}
		},
		OnFinished: func(path string, err error) {
			results <- finishResult{path, err}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-progressed:
	case <-time.After(5 * time.Second):
		t.Fatal("no progress before cancel")
	}

	token, err := h.Cancel()
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if token == nil {
		t.Fatal("Cancel() returned no resume token from a range-capable server")
	}

	// The token's byte count matches the partial file exactly.
	var st resumeState
	if err := json.Unmarshal(token, &st); err != nil {
		t.Fatalf("token is not valid JSON: %v", err)
	}
	info, err := os.Stat(st.PartialPath)
	if err != nil {
		t.Fatalf("partial file missing: %v", err)
	}
	if info.Size() != st.Bytes {
		t.Fatalf("partial size = %d, token says %d", info.Size(), st.Bytes)
	}

	// No terminal callback fired for the cancelled transfer.
	select {
	case r := <-results:
		t.Fatalf("unexpected OnFinished after cancel: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	h2, err := e.Resume(context.Background(), token, download.Callbacks{
		OnProgress: func(int64, int64) {},
		OnFinished: func(path string, err error) {
			results <- finishResult{path, err}
		},
	})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	_ = h2

	res := waitResult(t, results)
	if res.err != nil {
		t.Fatalf("resumed transfer error = %v", res.err)
	}
	got, err := os.ReadFile(res.path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("resumed file has %d bytes, want %d", len(got), len(content))
	}
}

func TestExecutorResumeWithStalePartialRestarts(t *testing.T) {
	content := []byte("fresh content from a full restart")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			t.Error("stale partial must not produce a range request")
		}
		w.Write(content)
	}))
	defer srv.Close()

	e := newTestExecutor(t)

	// A token whose partial file size disagrees with its byte count.
	stale := filepath.Join(t.TempDir(), "stale.partial")
	if err := os.WriteFile(stale, []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	token, _ := json.Marshal(resumeState{URL: srv.URL, PartialPath: stale, Bytes: 9999})

	results := make(chan finishResult, 1)
	_, err := e.Resume(context.Background(), download.ResumeToken(token), download.Callbacks{
		OnProgress: func(int64, int64) {},
		OnFinished: func(path string, err error) {
			results <- finishResult{path, err}
		},
	})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	res := waitResult(t, results)
	if res.err != nil {
		t.Fatalf("restarted transfer error = %v", res.err)
	}
	got, _ := os.ReadFile(res.path)
	if !bytes.Equal(got, content) {
		t.Errorf("file = %q, want %q", got, content)
	}
}

func TestExecutorResumeRejectsGarbageToken(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Resume(context.Background(), download.ResumeToken("not json"), download.Callbacks{})
	if err == nil {
		t.Error("expected an error for a malformed token")
	}
}

func TestExecutorDiscard(t *testing.T) {
	e := newTestExecutor(t)

	partial := filepath.Join(t.TempDir(), "x.partial")
	if err := os.WriteFile(partial, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	token, _ := json.Marshal(resumeState{URL: "https://x", PartialPath: partial, Bytes: 4})

	e.Discard(download.ResumeToken(token))

	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Error("expected partial file to be removed")
	}
}

func TestValidateURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestExecutor(t)

	if !e.ValidateURL(context.Background(), srv.URL+"/ok") {
		t.Error("ValidateURL should accept a 200 response")
	}
	if e.ValidateURL(context.Background(), srv.URL+"/gone") {
		t.Error("ValidateURL should reject a 403 response")
	}
	if e.ValidateURL(context.Background(), "http://127.0.0.1:1/unreachable") {
		t.Error("ValidateURL should reject an unreachable host")
	}
}
