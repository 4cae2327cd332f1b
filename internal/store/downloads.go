package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DownloadRecord describes one completed download. FileName is relative
// to the downloads directory; the absolute path is always recomputed at
// read time so the library survives the data directory moving.
type DownloadRecord struct {
	TrackID      string    `json:"track_id"`
	Title        string    `json:"title"`
	Channel      string    `json:"channel"`
	FileName     string    `json:"file_name"`
	DownloadedAt time.Time `json:"downloaded_at"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
}

// FilePath returns the absolute path of the downloaded artifact.
func (r *DownloadRecord) FilePath(baseDir string) string {
	return filepath.Join(baseDir, r.FileName)
}

type downloadsDocument struct {
	Version int              `json:"version"`
	Records []DownloadRecord `json:"records"`
}

// DownloadStore persists the completed-downloads library. Every load
// reconciles the metadata against the filesystem: records whose file is
// missing or smaller than the size floor are dropped and the pruned
// document is written back.
type DownloadStore struct {
	mu      sync.Mutex
	docs    DocumentStore
	baseDir string
	minSize int64
	logger  *zap.Logger
}

// NewDownloadStore creates a download store. minSize is the artifact
// size floor in bytes; files below it are treated as corrupt.
func NewDownloadStore(docs DocumentStore, baseDir string, minSize int64, logger *zap.Logger) *DownloadStore {
	return &DownloadStore{
		docs:    docs,
		baseDir: baseDir,
		minSize: minSize,
		logger:  logger,
	}
}

// All returns every valid download record, pruning stale ones.
func (s *DownloadStore) All() ([]DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadValidated()
}

// Get returns the record for trackID, or nil when absent.
func (s *DownloadStore) Get(trackID string) (*DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadValidated()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].TrackID == trackID {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// Put adds or replaces the record for rec.TrackID.
func (s *DownloadStore) Put(rec DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadValidated()
	if err != nil {
		return err
	}

	out := records[:0]
	for _, r := range records {
		if r.TrackID != rec.TrackID {
			out = append(out, r)
		}
	}
	out = append(out, rec)

	return s.save(out)
}

// Remove deletes the record for trackID. Removing an absent record is
// not an error.
func (s *DownloadStore) Remove(trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadValidated()
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

// Clear drops the whole library document.
func (s *DownloadStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.Delete(KeyDownloads)
}

// loadValidated loads the document, drops records whose artifact is
// missing or undersized, and writes the pruned list back when anything
// changed. Caller holds s.mu.
func (s *DownloadStore) loadValidated() ([]DownloadRecord, error) {
	data, err := s.docs.Load(KeyDownloads)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var doc downloadsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("downloads document is corrupt, discarding",
			zap.Error(err))
		s.docs.Delete(KeyDownloads)
		return nil, nil
	}

	valid := doc.Records[:0]
	pruned := 0
	for _, rec := range doc.Records {
		info, err := os.Stat(rec.FilePath(s.baseDir))
		if err != nil || info.Size() < s.minSize {
			s.logger.Info("pruning download record with missing or undersized file",
				zap.String("track_id", rec.TrackID),
				zap.String("file", rec.FileName))
			pruned++
			continue
		}
		valid = append(valid, rec)
	}

	if pruned > 0 {
		if err := s.save(valid); err != nil {
			s.logger.Warn("failed to persist pruned downloads document",
				zap.Error(err))
		}
	}

	return valid, nil
}

// save writes records back. Caller holds s.mu.
func (s *DownloadStore) save(records []DownloadRecord) error {
	doc := downloadsDocument{Version: schemaVersion, Records: records}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.docs.Save(KeyDownloads, data)
}
