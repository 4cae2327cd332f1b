package network

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/soundbase/soundbase-go/internal/download"
)

// copyBufferSize is the read buffer and the buffered-writer size.
const copyBufferSize = 256 * 1024

// Executor is the production download.Executor: HTTP GET with Range
// resume, writing into .partial files in its temp directory. The final
// move into place is the manager's job.
type Executor struct {
	client *http.Client
	tmpDir string
	logger *zap.Logger
	seq    atomic.Int64
}

// NewExecutor creates an HTTP transfer executor writing partial files
// under tmpDir.
func NewExecutor(tmpDir string, timeout time.Duration, logger *zap.Logger) (*Executor, error) {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &Executor{
		client: GetDownloadClient(timeout),
		tmpDir: tmpDir,
		logger: logger.With(zap.String("component", "http_executor")),
	}, nil
}

// resumeState is the JSON shape behind a ResumeToken.
type resumeState struct {
	URL         string `json:"url"`
	PartialPath string `json:"partial_path"`
	Bytes       int64  `json:"bytes"`
}

// Begin starts a fresh transfer.
func (e *Executor) Begin(ctx context.Context, url string, cb download.Callbacks) (download.Handle, error) {
	partial := filepath.Join(e.tmpDir,
		fmt.Sprintf("transfer-%d-%d.partial", time.Now().UnixNano(), e.seq.Add(1)))
	return e.start(ctx, url, partial, 0, cb), nil
}

// Resume continues a transfer from a token. When the partial file no
// longer matches the recorded byte count the transfer silently starts
// over from zero.
func (e *Executor) Resume(ctx context.Context, token download.ResumeToken, cb download.Callbacks) (download.Handle, error) {
	var st resumeState
	if err := json.Unmarshal(token, &st); err != nil {
		return nil, fmt.Errorf("malformed resume token: %w", err)
	}
	if st.URL == "" || st.PartialPath == "" {
		return nil, fmt.Errorf("incomplete resume token")
	}

	start := st.Bytes
	if info, err := os.Stat(st.PartialPath); err != nil || info.Size() != st.Bytes {
		e.logger.Warn("partial file does not match resume token, restarting transfer",
			zap.String("partial", st.PartialPath))
		os.Remove(st.PartialPath)
		start = 0
	}

	return e.start(ctx, st.URL, st.PartialPath, start, cb), nil
}

// Discard releases the partial file behind a token.
func (e *Executor) Discard(token download.ResumeToken) {
	var st resumeState
	if err := json.Unmarshal(token, &st); err != nil {
		return
	}
	if st.PartialPath != "" {
		os.Remove(st.PartialPath)
	}
}

// ValidateURL probes url with a HEAD request.
func (e *Executor) ValidateURL(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}

func (e *Executor) start(ctx context.Context, url, partial string, startByte int64, cb download.Callbacks) *transfer {
	cctx, cancel := context.WithCancel(ctx)
	t := &transfer{
		exec:    e,
		url:     url,
		partial: partial,
		cb:      cb,
		cancel:  cancel,
		written: startByte,
		stopped: make(chan struct{}),
	}
	go t.run(cctx, startByte)
	return t
}

// transfer is one in-flight HTTP download.
type transfer struct {
	exec    *Executor
	url     string
	partial string
	cb      download.Callbacks
	cancel  context.CancelFunc
	stopped chan struct{}

	mu        sync.Mutex
	written   int64
	total     int64
	canResume bool
	done      bool
	cancelled bool
}

// Cancel stops the transfer. See download.Handle.
func (t *transfer) Cancel() (download.ResumeToken, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, download.ErrTransferDone
	}
	t.cancelled = true
	t.mu.Unlock()

	t.cancel()
	<-t.stopped

	t.mu.Lock()
	defer t.mu.Unlock()

	// The copy loop finished in the window before the cancel landed;
	// the terminal callback already fired and owns the outcome.
	if t.done {
		return nil, download.ErrTransferDone
	}

	if !t.canResume || t.written == 0 {
		os.Remove(t.partial)
		return nil, nil
	}

	token, err := json.Marshal(resumeState{
		URL:         t.url,
		PartialPath: t.partial,
		Bytes:       t.written,
	})
	if err != nil {
		os.Remove(t.partial)
		return nil, nil
	}
	return download.ResumeToken(token), nil
}

// isCancelled reports the cancel flag.
func (t *transfer) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// finish marks the transfer terminal and delivers OnFinished, unless a
// cancel already claimed it.
func (t *transfer) finish(err error) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()

	if err != nil {
		os.Remove(t.partial)
		t.cb.OnFinished("", err)
		return
	}
	t.cb.OnFinished(t.partial, nil)
}

func (t *transfer) run(ctx context.Context, startByte int64) {
	defer close(t.stopped)

	var file *os.File
	var err error
	if startByte > 0 {
		file, err = os.OpenFile(t.partial, os.O_APPEND|os.O_WRONLY, 0644)
	} else {
		if err = os.MkdirAll(filepath.Dir(t.partial), 0755); err == nil {
			file, err = os.Create(t.partial)
		}
	}
	if err != nil {
		t.finish(fmt.Errorf("failed to open partial file: %w", err))
		return
	}
	// file is reassigned when the server ignores a range request.
	defer func() { file.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		t.finish(fmt.Errorf("failed to create request: %w", err))
		return
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}

	resp, err := t.exec.client.Do(req)
	if err != nil {
		if t.isCancelled() {
			return
		}
		t.finish(fmt.Errorf("download request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	if startByte > 0 && resp.StatusCode == http.StatusOK {
		// Server ignored the range request; start the file over.
		t.exec.logger.Debug("server ignored range request, restarting from zero",
			zap.String("url", t.url))
		file.Close()
		file, err = os.Create(t.partial)
		if err != nil {
			t.finish(fmt.Errorf("failed to reset partial file: %w", err))
			return
		}
		startByte = 0
		t.mu.Lock()
		t.written = 0
		t.mu.Unlock()
	} else if startByte > 0 && resp.StatusCode != http.StatusPartialContent {
		t.finish(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		return
	} else if startByte == 0 && resp.StatusCode != http.StatusOK {
		t.finish(fmt.Errorf("download failed with status: %d", resp.StatusCode))
		return
	}

	t.mu.Lock()
	if resp.ContentLength > 0 {
		t.total = resp.ContentLength + startByte
	}
	t.canResume = resp.StatusCode == http.StatusPartialContent ||
		resp.Header.Get("Accept-Ranges") == "bytes"
	t.mu.Unlock()

	writer := bufio.NewWriterSize(file, copyBufferSize)
	buffer := make([]byte, copyBufferSize)

	for {
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := writer.Write(buffer[:n]); writeErr != nil {
				t.finish(fmt.Errorf("failed to write partial file: %w", writeErr))
				return
			}

			t.mu.Lock()
			t.written += int64(n)
			written, total := t.written, t.total
			cancelled := t.cancelled
			t.mu.Unlock()

			if cancelled {
				// Flush so the file matches the byte count in the token.
				writer.Flush()
				return
			}

			t.cb.OnProgress(written, total)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			writer.Flush()
			if t.isCancelled() {
				return
			}
			t.finish(fmt.Errorf("error reading response: %w", readErr))
			return
		}
	}

	if err := writer.Flush(); err != nil {
		t.finish(fmt.Errorf("failed to flush partial file: %w", err))
		return
	}
	if err := file.Close(); err != nil {
		t.finish(fmt.Errorf("failed to close partial file: %w", err))
		return
	}

	t.finish(nil)
}
