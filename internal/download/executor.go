package download

import (
	"context"
	"errors"
)

// ErrTransferDone is returned by Handle.Cancel when the transfer
// already reached a terminal state. The terminal callback owns cleanup
// in that case; the cancel request is a no-op.
var ErrTransferDone = errors.New("transfer already finished")

// ResumeToken is opaque resume state handed out by an Executor when a
// transfer is cancelled mid-flight. The manager never inspects it.
type ResumeToken []byte

// Callbacks receive transfer lifecycle notifications. OnProgress fires
// at least once per received chunk. OnFinished fires exactly once with
// the temp artifact path on success, or a non-nil error; it never fires
// after Cancel returned a token or (nil, nil).
type Callbacks struct {
	OnProgress func(written, total int64)
	OnFinished func(tmpPath string, err error)
}

// Handle controls one in-flight transfer.
type Handle interface {
	// Cancel stops the transfer. It returns a resume token when partial
	// data survived and the source supports ranges, (nil, nil) when the
	// transfer was cancelled without resume data, and (nil,
	// ErrTransferDone) when the transfer already finished.
	Cancel() (ResumeToken, error)
}

// Executor performs byte transfers. Implementations write into their
// own temp location and hand the path to OnFinished; moving the
// artifact into place is the caller's job.
type Executor interface {
	Begin(ctx context.Context, url string, cb Callbacks) (Handle, error)
	Resume(ctx context.Context, token ResumeToken, cb Callbacks) (Handle, error)
	// Discard releases any partial data referenced by token.
	Discard(token ResumeToken)
}

// Resolver turns a track ID into a downloadable stream URL. Resolved
// URLs are typically short-lived.
type Resolver interface {
	Resolve(ctx context.Context, trackID string) (string, error)
}

// Tagger embeds descriptive metadata into a finished artifact.
// Tagging is best-effort and never fails a download.
type Tagger interface {
	Apply(path, title, artist, thumbnailURL string) error
}

// URLValidator reports whether a previously resolved URL is still
// fetchable.
type URLValidator func(ctx context.Context, url string) bool
