// Package artwork fetches, resizes and caches thumbnail images for the
// now-playing surface and tag embedding.
package artwork

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/soundbase/soundbase-go/internal/errors"
	"github.com/soundbase/soundbase-go/internal/network"
)

// Fetcher downloads artwork with an on-disk cache. Remote hosts are
// rate limited; local file paths bypass the network entirely.
type Fetcher struct {
	cacheDir string
	maxSize  int
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Config controls the fetcher. MaxSize is the longest edge in pixels
// after downscaling; images already smaller pass through untouched.
type Config struct {
	CacheDir          string
	MaxSize           int
	RequestsPerSecond int
	Timeout           time.Duration
}

func NewFetcher(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.CacheDir == "" {
		return nil, apperrors.NewValidationError("artwork cache directory cannot be empty")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, apperrors.NewStorageError("failed to create artwork cache directory", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	clientCfg := network.DefaultClientConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}

	return &Fetcher{
		cacheDir: cfg.CacheDir,
		maxSize:  cfg.MaxSize,
		client:   network.NewClient(clientCfg),
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		logger:   logger.With(zap.String("component", "artwork")),
	}, nil
}

// Fetch returns image bytes for url. Results are cached on disk keyed
// by URL and target size, so repeated track changes hit the network at
// most once per image.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, apperrors.NewValidationError("artwork URL cannot be empty")
	}

	// Local artwork (e.g. extracted from a tagged file) is read as-is.
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		data, err := os.ReadFile(url)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to read local artwork", err)
		}
		return data, nil
	}

	cachePath := filepath.Join(f.cacheDir, f.cacheKey(url))
	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewResolutionError("artwork fetch cancelled", err)
	}

	data, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}

	if f.maxSize > 0 {
		if resized, err := f.resizeImage(data); err == nil {
			data = resized
		} else {
			f.logger.Debug("artwork resize failed, keeping original",
				zap.String("url", url), zap.Error(err))
		}
	}

	if err := f.saveToCache(cachePath, data); err != nil {
		f.logger.Warn("failed to cache artwork", zap.Error(err))
	}

	return data, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewResolutionError("invalid artwork URL", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewResolutionError("failed to download artwork", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewResolutionError(
			fmt.Sprintf("artwork request returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewResolutionError("failed to read artwork data", err)
	}
	return data, nil
}

func (f *Fetcher) cacheKey(url string) string {
	hash := md5.Sum([]byte(fmt.Sprintf("%s_%d", url, f.maxSize)))
	return hex.EncodeToString(hash[:]) + ".img"
}

// resizeImage downscales so the longest edge is at most maxSize,
// preserving aspect ratio. Smaller images are returned unchanged.
func (f *Fetcher) resizeImage(imageData []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= f.maxSize && height <= f.maxSize {
		return imageData, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(f.maxSize), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(f.maxSize), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) saveToCache(cachePath string, data []byte) error {
	tempPath := cachePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, cachePath); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

// ClearCache removes every cached image.
func (f *Fetcher) ClearCache() error {
	entries, err := os.ReadDir(f.cacheDir)
	if err != nil {
		return apperrors.NewStorageError("failed to read artwork cache directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(f.cacheDir, entry.Name())); err != nil {
			return apperrors.NewStorageError("failed to remove cached artwork", err)
		}
	}
	return nil
}

// CacheSize returns the total bytes of cached artwork.
func (f *Fetcher) CacheSize() (int64, error) {
	var total int64
	entries, err := os.ReadDir(f.cacheDir)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to read artwork cache directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
