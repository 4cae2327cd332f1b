package playlist

import (
	"context"
	"time"
)

// Driver is the playback backend. The engine decides what plays; the
// driver makes sound.
type Driver interface {
	Load(source string) error
	Play() error
	Pause() error
	Seek(position time.Duration) error
}

// StatusObserver receives now-playing surface updates: title, artist
// and optional artwork bytes. artwork is nil until (and unless) the
// thumbnail arrives.
type StatusObserver interface {
	Update(title, artist string, artwork []byte)
}

// ThumbnailLoader fetches artwork bytes for the status surface.
type ThumbnailLoader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
