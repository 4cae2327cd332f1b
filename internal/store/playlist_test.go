package store

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestPlaylistStore(t *testing.T) (*PlaylistStore, *FileStore) {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewPlaylistStore(fs, zap.NewNop()), fs
}

func TestPlaylistStoreLoadEmpty(t *testing.T) {
	s, _ := newTestPlaylistStore(t)

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.Items) != 0 {
		t.Errorf("Items = %+v, want empty", state.Items)
	}
	if state.CurrentIndex != nil {
		t.Error("CurrentIndex should be nil for empty state")
	}
	if state.RepeatMode != RepeatOff {
		t.Errorf("RepeatMode = %v, want %v", state.RepeatMode, RepeatOff)
	}
}

func TestPlaylistStoreRoundTrip(t *testing.T) {
	s, _ := newTestPlaylistStore(t)

	idx := 1
	state := &PlaylistState{
		Items: []PlaylistItem{
			{InstanceID: "i1", TrackID: "t1", Title: "One", Artist: "A", FileName: "one.m4a", AddedAt: time.Now()},
			{InstanceID: "i2", TrackID: "t2", Title: "Two", Artist: "B", RemoteURL: "https://cdn/2", AddedAt: time.Now()},
		},
		CurrentIndex:   &idx,
		RepeatMode:     RepeatAll,
		ShuffleEnabled: true,
	}
	if err := s.Save(state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(loaded.Items))
	}
	if loaded.CurrentIndex == nil || *loaded.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %v, want 1", loaded.CurrentIndex)
	}
	if loaded.RepeatMode != RepeatAll {
		t.Errorf("RepeatMode = %v, want %v", loaded.RepeatMode, RepeatAll)
	}
	if !loaded.ShuffleEnabled {
		t.Error("ShuffleEnabled should survive the round trip")
	}
	if loaded.Version != schemaVersion {
		t.Errorf("Version = %d, want %d", loaded.Version, schemaVersion)
	}
}

func TestPlaylistStoreDropsOutOfRangeIndex(t *testing.T) {
	s, _ := newTestPlaylistStore(t)

	idx := 5
	state := &PlaylistState{
		Items:        []PlaylistItem{{InstanceID: "i1", TrackID: "t1"}},
		CurrentIndex: &idx,
	}
	if err := s.Save(state); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.CurrentIndex != nil {
		t.Errorf("CurrentIndex = %v, want nil", *loaded.CurrentIndex)
	}
}

func TestPlaylistStoreCorruptDocument(t *testing.T) {
	s, fs := newTestPlaylistStore(t)

	if err := fs.Save(KeyPlaylist, []byte("###")); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Items) != 0 {
		t.Errorf("Items = %+v, want empty", loaded.Items)
	}
	if data, _ := fs.Load(KeyPlaylist); data != nil {
		t.Error("expected corrupt document to be deleted")
	}
}

func TestPlaylistStoreInvalidRepeatMode(t *testing.T) {
	s, fs := newTestPlaylistStore(t)

	if err := fs.Save(KeyPlaylist, []byte(`{"version":1,"items":[],"current_index":null,"repeat_mode":"bogus"}`)); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RepeatMode != RepeatOff {
		t.Errorf("RepeatMode = %v, want %v", loaded.RepeatMode, RepeatOff)
	}
}
