package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testMinSize = 100 * 1024

func newTestDownloadStore(t *testing.T) (*DownloadStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	baseDir := filepath.Join(dir, "downloads")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		t.Fatal(err)
	}
	return NewDownloadStore(fs, baseDir, testMinSize, zap.NewNop()), baseDir
}

func writeArtifact(t *testing.T, baseDir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(baseDir, name), make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func testRecord(trackID, fileName string) DownloadRecord {
	return DownloadRecord{
		TrackID:      trackID,
		Title:        "Title " + trackID,
		Channel:      "Channel",
		FileName:     fileName,
		DownloadedAt: time.Now(),
	}
}

func TestDownloadStorePutGet(t *testing.T) {
	s, baseDir := newTestDownloadStore(t)
	writeArtifact(t, baseDir, "a.m4a", testMinSize)

	if err := s.Put(testRecord("t1", "a.m4a")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rec, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Get() = nil, want record")
	}
	if rec.FileName != "a.m4a" {
		t.Errorf("FileName = %q, want a.m4a", rec.FileName)
	}

	if rec, _ := s.Get("other"); rec != nil {
		t.Error("Get() for unknown track should be nil")
	}
}

func TestDownloadStorePutReplacesSameTrack(t *testing.T) {
	s, baseDir := newTestDownloadStore(t)
	writeArtifact(t, baseDir, "a.m4a", testMinSize)
	writeArtifact(t, baseDir, "b.m4a", testMinSize)

	if err := s.Put(testRecord("t1", "a.m4a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRecord("t1", "b.m4a")); err != nil {
		t.Fatal(err)
	}

	records, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len(All()) = %d, want 1", len(records))
	}
	if records[0].FileName != "b.m4a" {
		t.Errorf("FileName = %q, want b.m4a", records[0].FileName)
	}
}

func TestDownloadStorePrunesMissingFiles(t *testing.T) {
	s, baseDir := newTestDownloadStore(t)
	writeArtifact(t, baseDir, "keep.m4a", testMinSize)
	writeArtifact(t, baseDir, "gone.m4a", testMinSize)

	if err := s.Put(testRecord("keep", "keep.m4a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRecord("gone", "gone.m4a")); err != nil {
		t.Fatal(err)
	}

	os.Remove(filepath.Join(baseDir, "gone.m4a"))

	records, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].TrackID != "keep" {
		t.Errorf("All() = %+v, want only keep", records)
	}
}

func TestDownloadStorePrunesUndersizedFiles(t *testing.T) {
	s, baseDir := newTestDownloadStore(t)
	writeArtifact(t, baseDir, "tiny.m4a", testMinSize-1)

	if err := s.Put(testRecord("tiny", "tiny.m4a")); err != nil {
		t.Fatal(err)
	}

	records, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("All() = %+v, want empty", records)
	}
}

func TestDownloadStoreCorruptDocumentDiscarded(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Save(KeyDownloads, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	s := NewDownloadStore(fs, dir, testMinSize, zap.NewNop())
	records, err := s.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("All() = %+v, want empty", records)
	}
	if data, _ := fs.Load(KeyDownloads); data != nil {
		t.Error("expected corrupt document to be deleted")
	}
}

func TestDownloadStoreRemoveAndClear(t *testing.T) {
	s, baseDir := newTestDownloadStore(t)
	writeArtifact(t, baseDir, "a.m4a", testMinSize)
	writeArtifact(t, baseDir, "b.m4a", testMinSize)

	if err := s.Put(testRecord("a", "a.m4a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRecord("b", "b.m4a")); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	records, _ := s.All()
	if len(records) != 1 || records[0].TrackID != "b" {
		t.Errorf("All() after Remove = %+v, want only b", records)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	records, _ = s.All()
	if len(records) != 0 {
		t.Errorf("All() after Clear = %+v, want empty", records)
	}
}
