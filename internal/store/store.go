package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Document keys used by the typed stores.
const (
	KeyDownloads       = "downloads"
	KeyFailedDownloads = "failed_downloads"
	KeyPlaylist        = "playlist"
)

// schemaVersion is written into every persisted document.
const schemaVersion = 1

// DocumentStore persists whole JSON documents under string keys. Load
// returns (nil, nil) when no document exists for the key.
type DocumentStore interface {
	Load(key string) ([]byte, error)
	Save(key string, doc []byte) error
	Delete(key string) error
	Ping() error
}

// FileStore is a DocumentStore backed by one JSON file per key. Writes
// go through a temp file in the same directory followed by a rename, so
// a crash mid-write never leaves a half-written document behind.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed document store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load reads the document for key. An empty file is treated the same as
// a missing one and is removed.
func (s *FileStore) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read document %s: %w", key, err)
	}

	if len(data) == 0 {
		os.Remove(s.path(key))
		return nil, nil
	}

	return data, nil
}

// Save atomically replaces the document for key.
func (s *FileStore) Save(key string, doc []byte) error {
	tmp, err := os.CreateTemp(s.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document %s: %w", key, err)
	}

	return nil
}

// Delete removes the document for key. Deleting a missing document is
// not an error.
func (s *FileStore) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the store directory is usable.
func (s *FileStore) Ping() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}
