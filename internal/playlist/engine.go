package playlist

import (
	"context"
	"math/rand"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/soundbase/soundbase-go/internal/errors"
	"github.com/soundbase/soundbase-go/internal/event"
	"github.com/soundbase/soundbase-go/internal/monitoring"
	"github.com/soundbase/soundbase-go/internal/store"
)

// placeholderArtist is shown on the status surface while an item is
// still resolving.
const placeholderArtist = "Resolving stream..."

// thumbnailTimeout bounds the async artwork fetch per track change.
const thumbnailTimeout = 15 * time.Second

// Engine owns the playback queue: ordering, the current-item pointer,
// shuffle and repeat behavior, and deferred item resolution. One mutex
// guards all of it; driver calls happen from whichever goroutine
// mutated the queue.
type Engine struct {
	mu      sync.Mutex
	st      *store.PlaylistStore
	state   *store.PlaylistState
	baseDir string
	driver  Driver
	status  StatusObserver
	thumbs  ThumbnailLoader
	bus     *event.Bus
	logger  *zap.Logger
	rng     *rand.Rand
	history map[int]bool
	playing bool
}

// NewEngine creates the queue engine, restoring persisted state.
// baseDir is where downloaded artifacts live; local item paths are
// recomputed against it on every play.
func NewEngine(st *store.PlaylistStore, baseDir string, driver Driver, bus *event.Bus, logger *zap.Logger) (*Engine, error) {
	state, err := st.Load()
	if err != nil {
		return nil, err
	}

	monitoring.UpdatePlaylistSize(len(state.Items))

	return &Engine{
		st:      st,
		state:   state,
		baseDir: baseDir,
		driver:  driver,
		bus:     bus,
		logger:  logger.With(zap.String("component", "playlist_engine")),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		history: make(map[int]bool),
	}, nil
}

// SetStatusObserver installs an optional now-playing surface.
func (e *Engine) SetStatusObserver(s StatusObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
}

// SetThumbnailLoader installs an optional artwork fetcher.
func (e *Engine) SetThumbnailLoader(l ThumbnailLoader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thumbs = l
}

// AddAndPlay inserts a playable item right after the current one and
// plays it. source is either a file:// URL into the downloads
// directory or a remote stream URL. Adding a track that is already
// queued replaces the stale entry with this one, so the freshly
// supplied source wins; if the existing entry is current it simply
// replays. Returns the item's instance ID.
func (e *Engine) AddAndPlay(trackID, title, artist, thumbnailURL, source string) string {
	item := store.PlaylistItem{
		InstanceID:   uuid.NewString(),
		TrackID:      trackID,
		Title:        title,
		Artist:       artist,
		ThumbnailURL: thumbnailURL,
		AddedAt:      time.Now(),
	}
	if strings.HasPrefix(source, "file://") {
		if u, err := url.Parse(source); err == nil {
			item.FileName = path.Base(u.Path)
		} else {
			item.FileName = path.Base(source)
		}
	} else {
		item.RemoteURL = source
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertAndPlayLocked(item)
}

// AddAndPlayPending inserts an item whose stream is still resolving.
// The queue advances to it and the status surface shows a placeholder;
// actual playback starts when ResolvePending lands.
func (e *Engine) AddAndPlayPending(trackID, title, artist, thumbnailURL string) string {
	item := store.PlaylistItem{
		InstanceID:   uuid.NewString(),
		TrackID:      trackID,
		Title:        title,
		Artist:       artist,
		ThumbnailURL: thumbnailURL,
		AddedAt:      time.Now(),
		Pending:      true,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertAndPlayLocked(item)
}

// ResolvePending fills in the source of a pending item. When the item
// is current, playback starts immediately.
func (e *Engine) ResolvePending(instanceID, source string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOfInstanceLocked(instanceID)
	if idx < 0 {
		e.logger.Warn("resolution for unknown playlist item",
			zap.String("instance_id", instanceID))
		return
	}

	item := &e.state.Items[idx]
	item.Pending = false
	if strings.HasPrefix(source, "file://") {
		if u, err := url.Parse(source); err == nil {
			item.FileName = path.Base(u.Path)
		} else {
			item.FileName = path.Base(source)
		}
	} else {
		item.RemoteURL = source
	}

	e.persistLocked()
	e.bus.Publish(event.TypePlaylistUpdated, nil)

	if e.state.CurrentIndex != nil && *e.state.CurrentIndex == idx {
		e.playLocked(idx)
	}
}

// FailPending removes a pending item whose resolution failed. When the
// item was current the queue stops with no current item.
func (e *Engine) FailPending(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOfInstanceLocked(instanceID)
	if idx < 0 {
		return
	}

	e.logger.Warn("pending playlist item failed to resolve, removing",
		zap.String("instance_id", instanceID),
		zap.String("track_id", e.state.Items[idx].TrackID))
	e.removeLocked(idx)
}

// Play plays the item at index. Out-of-range indices are ignored.
func (e *Engine) Play(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playLocked(index)
}

// PlayNext advances manually: random under shuffle, sequential
// otherwise. At the end of the queue it wraps only under repeat-all;
// otherwise it reports false and leaves the pointer alone.
func (e *Engine) PlayNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.state.Items)
	if n == 0 {
		return false
	}

	if e.state.ShuffleEnabled {
		e.randomNextLocked()
		return true
	}

	next := 0
	if e.state.CurrentIndex != nil {
		next = *e.state.CurrentIndex + 1
	}
	if next >= n {
		if e.state.RepeatMode != store.RepeatAll {
			return false
		}
		next = 0
	}
	e.playLocked(next)
	return true
}

// PlayPrevious steps back manually: a random other item under shuffle,
// sequential otherwise. With no current item it starts from the tail;
// at the head of the queue it wraps to the last item only under
// repeat-all.
func (e *Engine) PlayPrevious() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.state.Items)
	if n == 0 {
		return false
	}

	if e.state.ShuffleEnabled {
		e.randomOtherLocked()
		return true
	}

	if e.state.CurrentIndex == nil {
		e.playLocked(n - 1)
		return true
	}
	prev := *e.state.CurrentIndex - 1
	if prev < 0 {
		if e.state.RepeatMode != store.RepeatAll {
			return false
		}
		prev = n - 1
	}
	e.playLocked(prev)
	return true
}

// OnPlaybackFinished is the driver's end-of-track signal. Repeat-one
// replays, shuffle picks the next unplayed item, sequential advances
// and wraps only under repeat-all.
func (e *Engine) OnPlaybackFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.state.Items)
	if n == 0 || e.state.CurrentIndex == nil {
		return
	}
	cur := *e.state.CurrentIndex

	if e.state.RepeatMode == store.RepeatOne {
		e.replayCurrentLocked()
		return
	}

	if e.state.ShuffleEnabled {
		e.randomNextLocked()
		return
	}

	next := cur + 1
	if next < n {
		e.playLocked(next)
		return
	}
	if e.state.RepeatMode == store.RepeatAll {
		e.playLocked(0)
		return
	}

	// End of the queue, nothing to repeat.
	e.playing = false
}

// Remove deletes the item at index. Removing the current item stops
// playback and clears the pointer; removing an earlier item shifts the
// pointer down so it keeps naming the same item.
func (e *Engine) Remove(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(index)
}

// RemoveByInstanceID deletes the item with the given instance ID.
func (e *Engine) RemoveByInstanceID(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx := e.indexOfInstanceLocked(instanceID); idx >= 0 {
		e.removeLocked(idx)
	}
}

// Clear empties the queue and stops playback.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playing {
		if err := e.driver.Pause(); err != nil {
			e.logger.Warn("driver pause failed", zap.Error(err))
		}
	}
	e.playing = false
	e.state.Items = nil
	e.state.CurrentIndex = nil
	e.history = make(map[int]bool)

	e.persistLocked()
	e.bus.Publish(event.TypePlaylistUpdated, nil)
	e.bus.Publish(event.TypeCurrentTrackChanged, event.CurrentTrack{})
}

// ToggleRepeatMode cycles off -> all -> one -> off and returns the new
// mode.
func (e *Engine) ToggleRepeatMode() store.RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.RepeatMode {
	case store.RepeatOff:
		e.state.RepeatMode = store.RepeatAll
	case store.RepeatAll:
		e.state.RepeatMode = store.RepeatOne
	default:
		e.state.RepeatMode = store.RepeatOff
	}

	e.persistLocked()
	e.bus.Publish(event.TypePlayModeChanged, event.PlayMode{
		RepeatMode:     e.state.RepeatMode,
		ShuffleEnabled: e.state.ShuffleEnabled,
	})
	return e.state.RepeatMode
}

// ToggleShuffle flips shuffle mode. Turning it off forgets the
// non-repeat history.
func (e *Engine) ToggleShuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ShuffleEnabled = !e.state.ShuffleEnabled
	if !e.state.ShuffleEnabled {
		e.history = make(map[int]bool)
	}

	e.persistLocked()
	e.bus.Publish(event.TypePlayModeChanged, event.PlayMode{
		RepeatMode:     e.state.RepeatMode,
		ShuffleEnabled: e.state.ShuffleEnabled,
	})
	return e.state.ShuffleEnabled
}

// CurrentItem returns a copy of the current item, or nil.
func (e *Engine) CurrentItem() *store.PlaylistItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.CurrentIndex == nil {
		return nil
	}
	item := e.state.Items[*e.state.CurrentIndex]
	return &item
}

// Items returns a copy of the queue.
func (e *Engine) Items() []store.PlaylistItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]store.PlaylistItem, len(e.state.Items))
	copy(out, e.state.Items)
	return out
}

// RepeatMode returns the active repeat mode.
func (e *Engine) RepeatMode() store.RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RepeatMode
}

// ShuffleEnabled reports whether shuffle is on.
func (e *Engine) ShuffleEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ShuffleEnabled
}

// insertAndPlayLocked applies the insert-next-to-current rule with
// dedup by track ID, then plays the inserted (or replayed) item.
func (e *Engine) insertAndPlayLocked(item store.PlaylistItem) string {
	if existing := e.indexOfTrackLocked(item.TrackID); existing >= 0 {
		if e.state.CurrentIndex != nil && *e.state.CurrentIndex == existing {
			// Already the current item: replay it.
			id := e.state.Items[existing].InstanceID
			e.playLocked(existing)
			return id
		}

		// Drop the stale entry; the caller's item carries the fresh
		// source and metadata.
		e.state.Items = append(e.state.Items[:existing], e.state.Items[existing+1:]...)
		if e.state.CurrentIndex != nil && existing < *e.state.CurrentIndex {
			idx := *e.state.CurrentIndex - 1
			e.state.CurrentIndex = &idx
		}
		e.pruneHistoryLocked()
	}

	at := 0
	if e.state.CurrentIndex != nil {
		at = *e.state.CurrentIndex + 1
	}
	e.state.Items = append(e.state.Items, store.PlaylistItem{})
	copy(e.state.Items[at+1:], e.state.Items[at:])
	e.state.Items[at] = item

	e.persistLocked()
	e.bus.Publish(event.TypePlaylistUpdated, nil)
	e.playLocked(at)
	return item.InstanceID
}

// playLocked makes index current and drives playback. Pending items
// only update the status surface.
func (e *Engine) playLocked(index int) {
	if index < 0 || index >= len(e.state.Items) {
		e.logger.Warn("play index out of range", zap.Int("index", index))
		return
	}

	idx := index
	e.state.CurrentIndex = &idx
	item := e.state.Items[index]

	e.persistLocked()
	itemCopy := item
	e.bus.Publish(event.TypeCurrentTrackChanged, event.CurrentTrack{Item: &itemCopy})

	if item.Pending {
		e.playing = false
		if e.status != nil {
			e.status.Update(item.Title, placeholderArtist, nil)
		}
		return
	}

	source := item.RemoteURL
	if item.FileName != "" {
		source = filepath.Join(e.baseDir, item.FileName)
	}

	if err := e.driver.Load(source); err != nil {
		e.logger.Error("driver failed to load source",
			zap.String("track_id", item.TrackID),
			zap.Error(err))
		e.playing = false
		return
	}
	if err := e.driver.Play(); err != nil {
		e.logger.Error("driver failed to start playback",
			zap.String("track_id", item.TrackID),
			zap.Error(err))
		e.playing = false
		return
	}
	e.playing = true

	if e.status != nil {
		e.status.Update(item.Title, item.Artist, nil)
	}
	e.fetchThumbnailLocked(item)
}

// replayCurrentLocked restarts the current item without touching the
// pointer (repeat-one).
func (e *Engine) replayCurrentLocked() {
	item := e.state.Items[*e.state.CurrentIndex]
	if item.Pending {
		return
	}
	if err := e.driver.Seek(0); err != nil {
		e.logger.Warn("driver seek failed", zap.Error(err))
	}
	if err := e.driver.Play(); err != nil {
		e.logger.Warn("driver replay failed", zap.Error(err))
		e.playing = false
		return
	}
	e.playing = true
}

// randomNextLocked picks an unplayed index. Once every index has been
// visited the history resets and a fresh cycle begins. A single-item
// queue simply replays.
func (e *Engine) randomNextLocked() {
	n := len(e.state.Items)
	if n == 1 {
		e.playLocked(0)
		return
	}

	if len(e.history) >= n {
		e.history = make(map[int]bool)
	}

	candidates := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !e.history[i] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		e.history = make(map[int]bool)
		for i := 0; i < n; i++ {
			candidates = append(candidates, i)
		}
	}

	pick := candidates[e.rng.Intn(len(candidates))]
	e.history[pick] = true
	e.playLocked(pick)
}

// randomOtherLocked picks a random index other than the current one
// (shuffle previous; no history).
func (e *Engine) randomOtherLocked() {
	n := len(e.state.Items)
	if n == 1 {
		e.playLocked(0)
		return
	}

	cur := -1
	if e.state.CurrentIndex != nil {
		cur = *e.state.CurrentIndex
	}
	for {
		pick := e.rng.Intn(n)
		if pick != cur {
			e.playLocked(pick)
			return
		}
	}
}

func (e *Engine) removeLocked(index int) {
	if index < 0 || index >= len(e.state.Items) {
		return
	}

	if e.state.CurrentIndex != nil {
		switch {
		case index == *e.state.CurrentIndex:
			if e.playing {
				if err := e.driver.Pause(); err != nil {
					e.logger.Warn("driver pause failed", zap.Error(err))
				}
			}
			e.playing = false
			e.state.CurrentIndex = nil
			e.bus.Publish(event.TypeCurrentTrackChanged, event.CurrentTrack{})
		case index < *e.state.CurrentIndex:
			idx := *e.state.CurrentIndex - 1
			e.state.CurrentIndex = &idx
		}
	}

	e.state.Items = append(e.state.Items[:index], e.state.Items[index+1:]...)
	e.pruneHistoryLocked()

	e.persistLocked()
	e.bus.Publish(event.TypePlaylistUpdated, nil)
}

// pruneHistoryLocked drops shuffle history entries that no longer name
// a valid index.
func (e *Engine) pruneHistoryLocked() {
	n := len(e.state.Items)
	for i := range e.history {
		if i >= n {
			delete(e.history, i)
		}
	}
}

func (e *Engine) indexOfTrackLocked(trackID string) int {
	for i := range e.state.Items {
		if e.state.Items[i].TrackID == trackID {
			return i
		}
	}
	return -1
}

func (e *Engine) indexOfInstanceLocked(instanceID string) int {
	for i := range e.state.Items {
		if e.state.Items[i].InstanceID == instanceID {
			return i
		}
	}
	return -1
}

// persistLocked saves the queue, logging and swallowing storage errors:
// the in-memory state stays authoritative.
func (e *Engine) persistLocked() {
	monitoring.UpdatePlaylistSize(len(e.state.Items))
	if err := e.st.Save(e.state); err != nil {
		e.logger.Warn("failed to persist playlist", zap.Error(err))
	}
}

// fetchThumbnailLocked kicks off the async artwork fetch for the status
// surface. A stale result (track changed meanwhile) is dropped.
func (e *Engine) fetchThumbnailLocked(item store.PlaylistItem) {
	if e.thumbs == nil || e.status == nil || item.ThumbnailURL == "" {
		return
	}

	loader := e.thumbs
	observer := e.status
	e.logger.Debug("fetching thumbnail", zap.String("track_id", item.TrackID))

	apperrors.SafeGo(e.logger, "thumbnail fetch", func() {
		ctx, cancel := context.WithTimeout(context.Background(), thumbnailTimeout)
		defer cancel()

		data, err := loader.Fetch(ctx, item.ThumbnailURL)
		if err != nil {
			e.logger.Warn("thumbnail fetch failed",
				zap.String("track_id", item.TrackID),
				zap.Error(err))
			return
		}

		e.mu.Lock()
		stillCurrent := e.state.CurrentIndex != nil &&
			*e.state.CurrentIndex < len(e.state.Items) &&
			e.state.Items[*e.state.CurrentIndex].InstanceID == item.InstanceID
		e.mu.Unlock()

		if stillCurrent {
			observer.Update(item.Title, item.Artist, data)
		}
	})
}
