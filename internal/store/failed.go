package store

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FailedDownload describes a download that reached the failed state.
// It carries enough descriptive metadata to retry without re-fetching
// anything.
type FailedDownload struct {
	TrackID      string    `json:"track_id"`
	Title        string    `json:"title"`
	Channel      string    `json:"channel"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Message      string    `json:"message"`
	FailedAt     time.Time `json:"failed_at"`
}

type failedDocument struct {
	Version int              `json:"version"`
	Records []FailedDownload `json:"records"`
}

// FailedStore persists the failed-downloads list, deduplicated by
// track ID (the latest failure wins).
type FailedStore struct {
	mu     sync.Mutex
	docs   DocumentStore
	logger *zap.Logger
}

// NewFailedStore creates a failed-downloads store.
func NewFailedStore(docs DocumentStore, logger *zap.Logger) *FailedStore {
	return &FailedStore{docs: docs, logger: logger}
}

// All returns every failed download record.
func (s *FailedStore) All() ([]FailedDownload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Put adds or replaces the failure record for fd.TrackID.
func (s *FailedStore) Put(fd FailedDownload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	out := records[:0]
	for _, r := range records {
		if r.TrackID != fd.TrackID {
			out = append(out, r)
		}
	}
	out = append(out, fd)

	return s.save(out)
}

// Remove deletes the failure record for trackID, if present.
func (s *FailedStore) Remove(trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	out := records[:0]
	removed := false
	for _, r := range records {
		if r.TrackID == trackID {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if !removed {
		return nil
	}

	return s.save(out)
}

// Clear drops the whole failed-downloads document.
func (s *FailedStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.Delete(KeyFailedDownloads)
}

func (s *FailedStore) load() ([]FailedDownload, error) {
	data, err := s.docs.Load(KeyFailedDownloads)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var doc failedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("failed downloads document is corrupt, discarding",
			zap.Error(err))
		s.docs.Delete(KeyFailedDownloads)
		return nil, nil
	}

	return doc.Records, nil
}

func (s *FailedStore) save(records []FailedDownload) error {
	doc := failedDocument{Version: schemaVersion, Records: records}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.docs.Save(KeyFailedDownloads, data)
}
