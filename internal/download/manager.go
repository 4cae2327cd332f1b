package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/soundbase/soundbase-go/internal/errors"
	"github.com/soundbase/soundbase-go/internal/event"
	"github.com/soundbase/soundbase-go/internal/monitoring"
	"github.com/soundbase/soundbase-go/internal/store"
)

// ManagerConfig carries the download manager settings.
type ManagerConfig struct {
	OutputDir     string
	FileExtension string
	MinFileSize   int64
}

// Manager coordinates background downloads. One mutex guards the task
// registry; resolution and transfer completion re-enter through methods
// that take it, so every state transition is serialized.
type Manager struct {
	mu          sync.Mutex
	cfg         ManagerConfig
	resolver    Resolver
	executor    Executor
	downloads   *store.DownloadStore
	failed      *store.FailedStore
	tagger      Tagger
	validateURL URLValidator
	bus         *event.Bus
	logger      *zap.Logger

	tasks       map[string]*task
	downloading map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a download manager.
func NewManager(cfg ManagerConfig, resolver Resolver, executor Executor, downloads *store.DownloadStore, failed *store.FailedStore, bus *event.Bus, logger *zap.Logger) *Manager {
	if cfg.FileExtension == "" {
		cfg.FileExtension = ".m4a"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg,
		resolver:    resolver,
		executor:    executor,
		downloads:   downloads,
		failed:      failed,
		bus:         bus,
		logger:      logger.With(zap.String("component", "download_manager")),
		tasks:       make(map[string]*task),
		downloading: make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetTagger installs an optional post-download tagger.
func (m *Manager) SetTagger(t Tagger) {
	m.tagger = t
}

// SetURLValidator installs an optional validator used to probe stored
// source URLs before re-downloading through them.
func (m *Manager) SetURLValidator(v URLValidator) {
	m.validateURL = v
}

// Stop cancels all in-flight work.
func (m *Manager) Stop() {
	m.cancel()
}

// Download starts a background download for trackID. It returns
// immediately; the outcome arrives through done (which may be nil) and
// the event bus. Starting a track that is already downloaded or already
// has an active task is a no-op.
func (m *Manager) Download(trackID, title, channel, thumbnailURL string, done CompletionFunc) {
	if rec, err := m.downloads.Get(trackID); err == nil && rec != nil {
		m.logger.Debug("track already downloaded, skipping",
			zap.String("track_id", trackID))
		if done != nil {
			rec := rec
			apperrors.SafeGo(m.logger, "download completion", func() { done(rec, nil) })
		}
		return
	}

	m.mu.Lock()
	if _, active := m.tasks[trackID]; active {
		m.mu.Unlock()
		m.logger.Debug("download already in flight, skipping",
			zap.String("track_id", trackID))
		return
	}

	t := &task{
		trackID:      trackID,
		title:        title,
		channel:      channel,
		thumbnailURL: thumbnailURL,
		state:        TaskParsing,
		startedAt:    time.Now(),
		done:         done,
	}
	m.tasks[trackID] = t
	m.mu.Unlock()

	// A fresh attempt supersedes any stale failure record.
	if err := m.failed.Remove(trackID); err != nil {
		m.logger.Warn("failed to drop stale failure record", zap.Error(err))
	}

	monitoring.RecordDownloadStart()
	m.bus.Publish(event.TypeDownloadTaskCreated, event.TaskCreated{
		TrackID: trackID,
		Title:   title,
		Channel: channel,
	})

	m.logger.Info("download task created",
		zap.String("track_id", trackID),
		zap.String("title", title))

	apperrors.SafeGo(m.logger, "resolve and begin", func() {
		m.resolveAndBegin(trackID)
	})
}

// Redownload fetches a previously downloaded track again, for example
// after its artifact went missing. When the old record still carries a
// live source URL the resolution step is skipped.
func (m *Manager) Redownload(rec store.DownloadRecord, done CompletionFunc) {
	if err := m.downloads.Remove(rec.TrackID); err != nil {
		m.logger.Warn("failed to drop old download record", zap.Error(err))
	}

	if rec.SourceURL != "" && m.validateURL != nil && m.validateURL(m.ctx, rec.SourceURL) {
		m.logger.Info("stored source URL still valid, skipping resolution",
			zap.String("track_id", rec.TrackID))
		m.startResolved(rec.TrackID, rec.Title, rec.Channel, rec.ThumbnailURL, rec.SourceURL, done)
		return
	}

	m.Download(rec.TrackID, rec.Title, rec.Channel, rec.ThumbnailURL, done)
}

// RetryFailed retries a failed download from its failure record.
func (m *Manager) RetryFailed(fd store.FailedDownload, done CompletionFunc) {
	m.Download(fd.TrackID, fd.Title, fd.Channel, fd.ThumbnailURL, done)
}

// Pause suspends an active transfer, keeping its resume data. When the
// transfer cannot be resumed the pause degrades to a cancel; when it
// already finished the request is a no-op and the terminal outcome
// stands.
func (m *Manager) Pause(trackID string) error {
	m.mu.Lock()
	t, ok := m.tasks[trackID]
	if !ok || t.state != TaskDownloading {
		m.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("no active transfer for track %s", trackID))
	}
	handle := t.handle
	m.mu.Unlock()

	token, err := handle.Cancel()

	m.mu.Lock()
	cur, ok := m.tasks[trackID]
	if !ok || cur != t || t.state != TaskDownloading {
		// The transfer reached a terminal state while we were cancelling.
		m.mu.Unlock()
		return nil
	}

	if err == ErrTransferDone {
		// Terminal callback is in flight and owns cleanup.
		m.mu.Unlock()
		return nil
	}

	if token == nil {
		// No resume data: degrade to a full cancel.
		delete(m.tasks, trackID)
		delete(m.downloading, trackID)
		count := len(m.downloading)
		m.mu.Unlock()

		monitoring.RecordDownloadCancelled(true)
		m.bus.Publish(event.TypeActiveCountChanged, event.ActiveCount{Count: count})
		m.logger.Info("pause degraded to cancel, transfer not resumable",
			zap.String("track_id", trackID))
		return nil
	}

	t.state = TaskPaused
	t.resumeToken = token
	t.handle = nil
	delete(m.downloading, trackID)
	count := len(m.downloading)
	m.mu.Unlock()

	monitoring.RecordDownloadPaused()
	m.bus.Publish(event.TypeActiveCountChanged, event.ActiveCount{Count: count})
	m.logger.Info("download paused", zap.String("track_id", trackID))
	return nil
}

// Resume continues a paused download. A non-nil done replaces the
// original completion callback.
func (m *Manager) Resume(trackID string, done CompletionFunc) error {
	m.mu.Lock()
	t, ok := m.tasks[trackID]
	if !ok || t.state != TaskPaused {
		m.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("no paused download for track %s", trackID))
	}
	if done != nil {
		t.done = done
	}
	token := t.resumeToken
	monitoring.RecordDownloadResumed()
	if err := m.beginTransferLocked(t, token); err != nil {
		m.failLocked(t, apperrors.NewTransferError("could not resume transfer", err))
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("download resumed", zap.String("track_id", trackID))
	return nil
}

// Cancel abandons a task in any state. No record is written and any
// partial data is discarded.
func (m *Manager) Cancel(trackID string) error {
	m.mu.Lock()
	t, ok := m.tasks[trackID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("no task for track %s", trackID))
	}

	switch t.state {
	case TaskParsing:
		delete(m.tasks, trackID)
		m.mu.Unlock()
		monitoring.RecordDownloadCancelled(true)

	case TaskPaused:
		token := t.resumeToken
		delete(m.tasks, trackID)
		m.mu.Unlock()
		m.executor.Discard(token)
		monitoring.RecordDownloadCancelled(false)

	case TaskDownloading:
		handle := t.handle
		m.mu.Unlock()

		token, err := handle.Cancel()
		if err == ErrTransferDone {
			// Too late: the terminal callback already owns this task.
			return nil
		}
		if token != nil {
			m.executor.Discard(token)
		}

		m.mu.Lock()
		if cur, ok := m.tasks[trackID]; ok && cur == t {
			delete(m.tasks, trackID)
			delete(m.downloading, trackID)
		}
		count := len(m.downloading)
		m.mu.Unlock()

		monitoring.RecordDownloadCancelled(true)
		m.bus.Publish(event.TypeActiveCountChanged, event.ActiveCount{Count: count})
	}

	m.logger.Info("download cancelled", zap.String("track_id", trackID))
	return nil
}

// IsDownloading reports whether trackID has an active transfer.
func (m *Manager) IsDownloading(trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloading[trackID]
}

// IsDownloaded returns the completed record for trackID, or nil.
func (m *Manager) IsDownloaded(trackID string) *store.DownloadRecord {
	rec, err := m.downloads.Get(trackID)
	if err != nil {
		m.logger.Warn("failed to read downloads store", zap.Error(err))
		return nil
	}
	return rec
}

// ActiveTasks returns a snapshot of every in-flight task.
func (m *Manager) ActiveTasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.info())
	}
	return out
}

// Downloads returns the completed-downloads library, pruned against the
// filesystem.
func (m *Manager) Downloads() ([]store.DownloadRecord, error) {
	return m.downloads.All()
}

// FailedDownloads returns the persisted failure list.
func (m *Manager) FailedDownloads() ([]store.FailedDownload, error) {
	return m.failed.All()
}

// DeleteDownload removes a completed download's artifact and record.
func (m *Manager) DeleteDownload(trackID string) error {
	rec, err := m.downloads.Get(trackID)
	if err != nil {
		return err
	}
	if rec == nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("no download for track %s", trackID))
	}

	if err := os.Remove(rec.FilePath(m.cfg.OutputDir)); err != nil && !os.IsNotExist(err) {
		return apperrors.NewStorageError("failed to delete artifact", err)
	}
	return m.downloads.Remove(trackID)
}

// ClearDownloads deletes every completed download and its artifact.
func (m *Manager) ClearDownloads() error {
	records, err := m.downloads.All()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := os.Remove(rec.FilePath(m.cfg.OutputDir)); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to delete artifact",
				zap.String("file", rec.FileName),
				zap.Error(err))
		}
	}
	return m.downloads.Clear()
}

// ClearFailed drops the failed-downloads list.
func (m *Manager) ClearFailed() error {
	return m.failed.Clear()
}

// startResolved registers a task whose stream URL is already known and
// begins the transfer immediately.
func (m *Manager) startResolved(trackID, title, channel, thumbnailURL, url string, done CompletionFunc) {
	m.mu.Lock()
	if _, active := m.tasks[trackID]; active {
		m.mu.Unlock()
		return
	}
	t := &task{
		trackID:      trackID,
		title:        title,
		channel:      channel,
		thumbnailURL: thumbnailURL,
		sourceURL:    url,
		state:        TaskParsing,
		startedAt:    time.Now(),
		done:         done,
	}
	m.tasks[trackID] = t
	m.mu.Unlock()

	monitoring.RecordDownloadStart()
	m.bus.Publish(event.TypeDownloadTaskCreated, event.TaskCreated{
		TrackID: trackID,
		Title:   title,
		Channel: channel,
	})

	m.mu.Lock()
	cur, ok := m.tasks[trackID]
	if !ok || cur != t {
		m.mu.Unlock()
		return
	}
	if err := m.beginTransferLocked(t, nil); err != nil {
		m.failLocked(t, apperrors.NewTransferError("could not start transfer", err))
		return
	}
	m.mu.Unlock()
}

// resolveAndBegin runs on a background goroutine: resolve the stream
// URL, then hand the transfer to the executor.
func (m *Manager) resolveAndBegin(trackID string) {
	m.mu.Lock()
	t, ok := m.tasks[trackID]
	if !ok || t.state != TaskParsing {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	url, err := m.resolver.Resolve(m.ctx, trackID)

	m.mu.Lock()
	t, ok = m.tasks[trackID]
	if !ok || t.state != TaskParsing {
		// Cancelled while resolving.
		m.mu.Unlock()
		return
	}

	if err != nil {
		m.failLocked(t, apperrors.NewResolutionError("could not resolve stream URL", err))
		return
	}

	t.sourceURL = url
	if err := m.beginTransferLocked(t, nil); err != nil {
		m.failLocked(t, apperrors.NewTransferError("could not start transfer", err))
		return
	}
	m.mu.Unlock()
}

// beginTransferLocked hands the task to the executor. Caller holds
// m.mu and keeps holding it; on error the task state is untouched and
// the caller decides what to do.
func (m *Manager) beginTransferLocked(t *task, token ResumeToken) error {
	trackID := t.trackID
	cb := Callbacks{
		OnProgress: func(written, total int64) {
			m.onProgress(trackID, written, total)
		},
		OnFinished: func(tmpPath string, err error) {
			m.onFinished(trackID, tmpPath, err)
		},
	}

	var (
		h   Handle
		err error
	)
	if token == nil {
		h, err = m.executor.Begin(m.ctx, t.sourceURL, cb)
	} else {
		h, err = m.executor.Resume(m.ctx, token, cb)
	}
	if err != nil {
		return err
	}

	t.handle = h
	t.resumeToken = nil
	t.state = TaskDownloading
	m.downloading[trackID] = true
	count := len(m.downloading)

	m.bus.Publish(event.TypeActiveCountChanged, event.ActiveCount{Count: count})
	return nil
}

// onProgress relays executor progress into the bus.
func (m *Manager) onProgress(trackID string, written, total int64) {
	m.mu.Lock()
	t, ok := m.tasks[trackID]
	if !ok || t.state != TaskDownloading {
		m.mu.Unlock()
		return
	}

	var p float64
	if total > 0 {
		p = float64(written) / float64(total)
		if p > 1 {
			p = 1
		}
	}
	t.progress = p
	title := t.title
	m.mu.Unlock()

	m.bus.Publish(event.TypeDownloadProgress, event.Progress{
		TrackID:  trackID,
		Title:    title,
		Progress: p,
	})
}

// onFinished handles the executor's terminal callback.
func (m *Manager) onFinished(trackID string, tmpPath string, transferErr error) {
	m.mu.Lock()
	t, ok := m.tasks[trackID]
	if !ok || t.state == TaskPaused {
		// Cancelled or paused concurrently; drop the orphan artifact.
		m.mu.Unlock()
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
		return
	}

	if transferErr != nil {
		m.failLocked(t, apperrors.NewTransferError("transfer failed", transferErr))
		return
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		m.failLocked(t, apperrors.NewStorageError("downloaded artifact vanished", err))
		return
	}
	if info.Size() < m.cfg.MinFileSize {
		os.Remove(tmpPath)
		m.failLocked(t, apperrors.NewValidationError(
			fmt.Sprintf("artifact is %d bytes, below the %d byte floor", info.Size(), m.cfg.MinFileSize)))
		return
	}

	fileName := SanitizeFileName(t.title) + m.cfg.FileExtension
	destPath := filepath.Join(m.cfg.OutputDir, fileName)
	if err := m.moveIntoPlace(tmpPath, destPath); err != nil {
		m.failLocked(t, apperrors.NewStorageError("could not move artifact into place", err))
		return
	}

	rec := store.DownloadRecord{
		TrackID:      t.trackID,
		Title:        t.title,
		Channel:      t.channel,
		FileName:     fileName,
		DownloadedAt: time.Now(),
		ThumbnailURL: t.thumbnailURL,
		SourceURL:    t.sourceURL,
	}

	delete(m.tasks, trackID)
	delete(m.downloading, trackID)
	count := len(m.downloading)
	done := t.done
	duration := time.Since(t.startedAt)
	m.mu.Unlock()

	// Metadata persistence is best-effort: the artifact on disk is the
	// source of truth and the next load reconciles against it.
	if err := m.downloads.Put(rec); err != nil {
		m.logger.Warn("failed to persist download record", zap.Error(err))
	}

	monitoring.RecordDownloadComplete(duration, info.Size())
	m.bus.Publish(event.TypeDownloadCompleted, event.Completed{Record: rec})
	m.bus.Publish(event.TypeActiveCountChanged, event.ActiveCount{Count: count})

	m.logger.Info("download completed",
		zap.String("track_id", trackID),
		zap.String("file", fileName),
		zap.Int64("bytes", info.Size()))

	if m.tagger != nil {
		tagger := m.tagger
		apperrors.SafeGo(m.logger, "tag embedding", func() {
			if err := tagger.Apply(destPath, rec.Title, rec.Channel, rec.ThumbnailURL); err != nil {
				m.logger.Warn("tag embedding failed",
					zap.String("track_id", rec.TrackID),
					zap.Error(err))
			}
		})
	}

	if done != nil {
		rec := rec
		apperrors.SafeGo(m.logger, "download completion", func() { done(&rec, nil) })
	}
}

// failLocked moves a task to the failed terminal state. Caller holds
// m.mu; failLocked releases it.
func (m *Manager) failLocked(t *task, appErr *apperrors.AppError) {
	trackID := t.trackID
	delete(m.tasks, trackID)
	delete(m.downloading, trackID)
	count := len(m.downloading)
	done := t.done
	fd := store.FailedDownload{
		TrackID:      t.trackID,
		Title:        t.title,
		Channel:      t.channel,
		ThumbnailURL: t.thumbnailURL,
		Message:      appErr.Error(),
		FailedAt:     time.Now(),
	}
	m.mu.Unlock()

	if err := m.failed.Put(fd); err != nil {
		m.logger.Warn("failed to persist failure record", zap.Error(err))
	}

	monitoring.RecordDownloadFailed(string(appErr.Type))
	m.bus.Publish(event.TypeDownloadFailed, event.Failed{
		TrackID: trackID,
		Message: appErr.Error(),
	})
	m.bus.Publish(event.TypeActiveCountChanged, event.ActiveCount{Count: count})

	m.logger.Error("download failed",
		zap.String("track_id", trackID),
		zap.String("error_type", string(appErr.Type)),
		zap.Error(appErr))

	if done != nil {
		apperrors.SafeGo(m.logger, "download completion", func() { done(nil, appErr) })
	}
}

// moveIntoPlace renames the temp artifact to its final path, falling
// back to a copy when rename crosses filesystems.
func (m *Manager) moveIntoPlace(tmpPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		if copyErr := copyFile(tmpPath, destPath); copyErr != nil {
			return err
		}
		os.Remove(tmpPath)
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
