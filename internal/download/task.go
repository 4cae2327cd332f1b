package download

import (
	"strings"
	"time"

	"github.com/soundbase/soundbase-go/internal/store"
)

// TaskState is the lifecycle state of an in-flight download task.
// Completed and failed tasks leave the registry, so neither is a task
// state.
type TaskState string

const (
	TaskParsing     TaskState = "parsing"
	TaskDownloading TaskState = "downloading"
	TaskPaused      TaskState = "paused"
)

// CompletionFunc is invoked exactly once when a download reaches a
// terminal state.
type CompletionFunc func(rec *store.DownloadRecord, err error)

// task is one registry entry. All fields are guarded by the manager
// mutex.
type task struct {
	trackID      string
	title        string
	channel      string
	thumbnailURL string
	sourceURL    string
	state        TaskState
	progress     float64
	startedAt    time.Time
	handle       Handle
	resumeToken  ResumeToken
	done         CompletionFunc
}

// TaskInfo is an immutable snapshot of a task for observers.
type TaskInfo struct {
	TrackID      string
	Title        string
	Channel      string
	ThumbnailURL string
	State        TaskState
	Progress     float64
	StartedAt    time.Time
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		TrackID:      t.trackID,
		Title:        t.title,
		Channel:      t.channel,
		ThumbnailURL: t.thumbnailURL,
		State:        t.state,
		Progress:     t.progress,
		StartedAt:    t.startedAt,
	}
}

// invalidFileNameChars are stripped from titles before they become file
// names.
const invalidFileNameChars = `:/\?%*|"<>`

// SanitizeFileName makes a title safe to use as a file name. Every
// invalid character becomes a dash.
func SanitizeFileName(name string) string {
	out := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidFileNameChars, r) {
			return '-'
		}
		return r
	}, name)
	out = strings.TrimSpace(out)
	if out == "" {
		return "untitled"
	}
	return out
}
