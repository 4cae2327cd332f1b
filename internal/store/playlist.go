package store

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RepeatMode controls what happens when playback of the current item
// finishes.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// PlaylistItem is one queue entry. InstanceID identifies the entry
// itself and survives index shifts; TrackID identifies the underlying
// track.
// An item is pending while neither FileName nor RemoteURL is set and
// Pending is true.
type PlaylistItem struct {
	InstanceID   string    `json:"instance_id"`
	TrackID      string    `json:"track_id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	RemoteURL    string    `json:"remote_url,omitempty"`
	AddedAt      time.Time `json:"added_at"`
	Pending      bool      `json:"pending"`
}

// PlaylistState is the whole persisted queue.
type PlaylistState struct {
	Version        int            `json:"version"`
	Items          []PlaylistItem `json:"items"`
	CurrentIndex   *int           `json:"current_index"`
	RepeatMode     RepeatMode     `json:"repeat_mode"`
	ShuffleEnabled bool           `json:"shuffle_enabled"`
}

// PlaylistStore persists the playlist document.
type PlaylistStore struct {
	mu     sync.Mutex
	docs   DocumentStore
	logger *zap.Logger
}

// NewPlaylistStore creates a playlist store.
func NewPlaylistStore(docs DocumentStore, logger *zap.Logger) *PlaylistStore {
	return &PlaylistStore{docs: docs, logger: logger}
}

// Load reads the persisted playlist. A missing or corrupt document
// yields an empty state. A persisted current index that no longer
// points inside the item list is dropped, as is an invalid repeat mode.
func (s *PlaylistStore) Load() (*PlaylistState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &PlaylistState{Version: schemaVersion, RepeatMode: RepeatOff}

	data, err := s.docs.Load(KeyPlaylist)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return state, nil
	}

	if err := json.Unmarshal(data, state); err != nil {
		s.logger.Warn("playlist document is corrupt, discarding",
			zap.Error(err))
		s.docs.Delete(KeyPlaylist)
		return &PlaylistState{Version: schemaVersion, RepeatMode: RepeatOff}, nil
	}

	if state.CurrentIndex != nil {
		if idx := *state.CurrentIndex; idx < 0 || idx >= len(state.Items) {
			s.logger.Warn("persisted current index out of range, dropping",
				zap.Int("index", idx),
				zap.Int("items", len(state.Items)))
			state.CurrentIndex = nil
		}
	}

	switch state.RepeatMode {
	case RepeatOff, RepeatAll, RepeatOne:
	default:
		state.RepeatMode = RepeatOff
	}

	state.Version = schemaVersion
	return state, nil
}

// Save persists the playlist state.
func (s *PlaylistStore) Save(state *PlaylistState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = schemaVersion
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.docs.Save(KeyPlaylist, data)
}
