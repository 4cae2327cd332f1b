package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soundbase/soundbase-go/internal/artwork"
	"github.com/soundbase/soundbase-go/internal/config"
	"github.com/soundbase/soundbase-go/internal/download"
	"github.com/soundbase/soundbase-go/internal/event"
	apperrors "github.com/soundbase/soundbase-go/internal/errors"
	"github.com/soundbase/soundbase-go/internal/metadata"
	"github.com/soundbase/soundbase-go/internal/monitoring"
	"github.com/soundbase/soundbase-go/internal/network"
	"github.com/soundbase/soundbase-go/internal/playlist"
	"github.com/soundbase/soundbase-go/internal/store"
)

const version = "1.0.0"

// passthroughResolver treats the track ID as the stream URL when it
// already is one. A real frontend installs its own resolver.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(ctx context.Context, trackID string) (string, error) {
	u, err := url.Parse(trackID)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperrors.NewResolutionError(
			fmt.Sprintf("no resolver configured for track %q", trackID), err)
	}
	return trackID, nil
}

// logDriver is a headless playback backend: it logs transport commands
// instead of producing audio.
type logDriver struct {
	logger *zap.Logger
}

func (d *logDriver) Load(source string) error {
	d.logger.Info("load", zap.String("source", source))
	return nil
}

func (d *logDriver) Play() error {
	d.logger.Info("play")
	return nil
}

func (d *logDriver) Pause() error {
	d.logger.Info("pause")
	return nil
}

func (d *logDriver) Seek(position time.Duration) error {
	d.logger.Info("seek", zap.Duration("position", position))
	return nil
}

type logStatus struct {
	logger *zap.Logger
}

func (s *logStatus) Update(title, artist string, art []byte) {
	s.logger.Info("now playing",
		zap.String("title", title),
		zap.String("artist", artist),
		zap.Int("artwork_bytes", len(art)))
}

func main() {
	configPath := flag.String("config", "", "path to settings.json (defaults to the data directory)")
	listenAddr := flag.String("listen", "127.0.0.1:9464", "address for the metrics and health endpoints")
	dev := flag.Bool("dev", false, "log to console instead of the configured output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if *dev {
		logger, err = monitoring.NewDevelopmentLogger()
	} else {
		logger, err = monitoring.NewLogger(&monitoring.LogConfig{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Output:     cfg.Logging.Output,
			FilePath:   cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *listenAddr); err != nil {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, listenAddr string) error {
	logger.Info("starting soundbase core",
		zap.String("version", version),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("output_dir", cfg.Download.OutputDir))

	if err := os.MkdirAll(cfg.Download.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		docs   store.DocumentStore
		pinger monitoring.StorePinger
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := store.OpenSQLiteStore(filepath.Join(cfg.Storage.DataDir, "soundbase.db"))
		if err != nil {
			return err
		}
		defer db.Close()
		docs = db
		pinger = db
	default:
		fs, err := store.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		docs = fs
		pinger = fs
	}

	downloads := store.NewDownloadStore(docs, cfg.Download.OutputDir, cfg.MinFileSizeBytes(), logger)
	failed := store.NewFailedStore(docs, logger)
	playlistStore := store.NewPlaylistStore(docs, logger)

	bus := event.NewBus()

	executor, err := network.NewExecutor(cfg.Download.TempDir,
		time.Duration(cfg.Network.Timeout)*time.Second, logger)
	if err != nil {
		return err
	}

	mgr := download.NewManager(download.ManagerConfig{
		OutputDir:     cfg.Download.OutputDir,
		FileExtension: cfg.Download.FileExtension,
		MinFileSize:   cfg.MinFileSizeBytes(),
	}, passthroughResolver{}, executor, downloads, failed, bus, logger)
	defer mgr.Stop()

	if cfg.Network.ValidateBeforeRetry {
		mgr.SetURLValidator(executor.ValidateURL)
	}

	var fetcher *artwork.Fetcher
	if cfg.Artwork.Enabled {
		fetcher, err = artwork.NewFetcher(artwork.Config{
			CacheDir:          cfg.Artwork.CacheDir,
			MaxSize:           cfg.Artwork.MaxSize,
			RequestsPerSecond: int(cfg.Artwork.RequestsPerSecond),
			Timeout:           time.Duration(cfg.Network.Timeout) * time.Second,
		}, logger)
		if err != nil {
			return err
		}
	}

	if cfg.Metadata.EmbedTags {
		var artSource metadata.ArtworkSource
		if fetcher != nil {
			artSource = fetcher
		}
		mgr.SetTagger(metadata.NewManager(metadata.Config{
			EmbedTags:    cfg.Metadata.EmbedTags,
			EmbedArtwork: cfg.Metadata.EmbedArtwork,
		}, artSource, logger))
	}

	driver := &logDriver{logger: logger.With(zap.String("component", "driver"))}
	engine, err := playlist.NewEngine(playlistStore, cfg.Download.OutputDir, driver, bus, logger)
	if err != nil {
		return err
	}
	engine.SetStatusObserver(&logStatus{logger: logger.With(zap.String("component", "status"))})
	if fetcher != nil {
		engine.SetThumbnailLoader(fetcher)
	}

	// Mirror every bus event into the log at debug level.
	events, cancelEvents := bus.Subscribe()
	defer cancelEvents()
	apperrors.SafeGo(logger, "event log", func() {
		for evt := range events {
			logger.Debug("event", zap.String("type", string(evt.Type)))
		}
	})

	health := monitoring.NewHealthChecker(version, pinger, cfg.Storage.DataDir)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		check := health.Check(len(mgr.ActiveTasks()), len(engine.Items()))
		w.Header().Set("Content-Type", "application/json")
		if check.Status != monitoring.HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(check)
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	apperrors.SafeGo(logger, "http server", func() {
		logger.Info("serving metrics and health", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}
