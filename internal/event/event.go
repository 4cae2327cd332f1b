package event

import (
	"time"

	"github.com/soundbase/soundbase-go/internal/store"
)

// Type identifies an event kind on the bus.
type Type string

const (
	TypeDownloadTaskCreated Type = "download_task_created"
	TypeDownloadProgress    Type = "download_progress_updated"
	TypeDownloadCompleted   Type = "download_completed"
	TypeDownloadFailed      Type = "download_failed"
	TypeActiveCountChanged  Type = "active_download_count_changed"
	TypePlaylistUpdated     Type = "playlist_updated"
	TypeCurrentTrackChanged Type = "current_track_changed"
	TypePlayModeChanged     Type = "play_mode_changed"
)

// Event is one published occurrence. Payload is one of the typed
// payload structs below, keyed by Type.
type Event struct {
	Type      Type
	Payload   interface{}
	Timestamp time.Time
}

// TaskCreated is the payload for TypeDownloadTaskCreated.
type TaskCreated struct {
	TrackID string
	Title   string
	Channel string
}

// Progress is the payload for TypeDownloadProgress. Progress is in
// [0, 1]; it stays 0 while the total size is unknown.
type Progress struct {
	TrackID  string
	Title    string
	Progress float64
}

// Completed is the payload for TypeDownloadCompleted.
type Completed struct {
	Record store.DownloadRecord
}

// Failed is the payload for TypeDownloadFailed.
type Failed struct {
	TrackID string
	Message string
}

// ActiveCount is the payload for TypeActiveCountChanged.
type ActiveCount struct {
	Count int
}

// CurrentTrack is the payload for TypeCurrentTrackChanged. Item is nil
// when playback stopped with no current item.
type CurrentTrack struct {
	Item *store.PlaylistItem
}

// PlayMode is the payload for TypePlayModeChanged.
type PlayMode struct {
	RepeatMode     store.RepeatMode
	ShuffleEnabled bool
}
