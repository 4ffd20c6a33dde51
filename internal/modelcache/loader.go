// Package modelcache downloads the segmentation model once per session and
// persists it in a durable on-disk cache keyed by its canonical URL.
package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultModelURL is the canonical download location of the model.
	DefaultModelURL = "https://huggingface.co/briaai/RMBG-1.4/resolve/main/onnx/model.onnx"

	// modelSizeEstimate is used for progress when Content-Length is missing.
	modelSizeEstimate = 177 * 1024 * 1024

	downloadChunkSize = 256 * 1024
)

// ErrAlreadyLoading is returned when a second load starts while one is in
// flight. The caller must not retry until the first load settles.
var ErrAlreadyLoading = errors.New("model is already being loaded")

// LoadStatus is the per-load state machine position.
type LoadStatus string

const (
	StatusChecking    LoadStatus = "checking"
	StatusDownloading LoadStatus = "downloading"
	StatusCached      LoadStatus = "cached"
	StatusReady       LoadStatus = "ready"
	StatusError       LoadStatus = "error"
)

// LoadProgress reports byte-level progress of one load.
type LoadProgress struct {
	Percent float64
	Loaded  int64
	Total   int64
	Status  LoadStatus
	Message string
}

// ProgressFunc receives progress updates; Percent is non-decreasing and capped
// at 99 until the stream completes.
type ProgressFunc func(LoadProgress)

// Loader fetches the model at most once per session and memoizes the result.
type Loader struct {
	url    string
	dir    string
	client *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	loading bool
	model   []byte
}

func NewLoader(url, cacheDir string, logger *zap.Logger) *Loader {
	if url == "" {
		url = DefaultModelURL
	}
	return &Loader{
		url:    url,
		dir:    cacheDir,
		client: &http.Client{},
		logger: logger,
	}
}

func (l *Loader) cachePath() string {
	sum := sha256.Sum256([]byte(l.url))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:16])+".model")
}

func (l *Loader) metaPath() string {
	return l.cachePath() + ".cached-at"
}

// IsModelCached reports whether the durable cache holds the model.
func (l *Loader) IsModelCached() bool {
	info, err := os.Stat(l.cachePath())
	return err == nil && info.Size() > 0
}

// ClearCache removes the cached model and forgets the in-process copy.
func (l *Loader) ClearCache() error {
	l.mu.Lock()
	l.model = nil
	l.mu.Unlock()

	if err := os.Remove(l.cachePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear model cache: %w", err)
	}
	if err := os.Remove(l.metaPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear model cache metadata: %w", err)
	}
	l.logger.Info("Model cache cleared")
	return nil
}

// LoadWithProgress returns the model bytes, fetching over the network only
// when the durable cache misses. Only one load may be in flight; concurrent
// calls fail with ErrAlreadyLoading. A loaded model is memoized for the rest
// of the session.
func (l *Loader) LoadWithProgress(ctx context.Context, onProgress ProgressFunc) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(LoadProgress) {}
	}

	l.mu.Lock()
	if l.model != nil {
		model := l.model
		l.mu.Unlock()
		onProgress(LoadProgress{
			Percent: 100,
			Loaded:  int64(len(model)),
			Total:   int64(len(model)),
			Status:  StatusReady,
			Message: "model already loaded",
		})
		return model, nil
	}
	if l.loading {
		l.mu.Unlock()
		return nil, ErrAlreadyLoading
	}
	l.loading = true
	l.mu.Unlock()

	model, err := l.load(ctx, onProgress)

	l.mu.Lock()
	l.loading = false
	if err == nil {
		l.model = model
	}
	l.mu.Unlock()

	return model, err
}

func (l *Loader) load(ctx context.Context, onProgress ProgressFunc) ([]byte, error) {
	onProgress(LoadProgress{
		Total:   modelSizeEstimate,
		Status:  StatusChecking,
		Message: "checking model cache",
	})

	if cached, err := l.readCache(); err != nil {
		l.logger.Warn("Failed to read model cache", zap.Error(err))
	} else if cached != nil {
		onProgress(LoadProgress{
			Percent: 100,
			Loaded:  int64(len(cached)),
			Total:   int64(len(cached)),
			Status:  StatusCached,
			Message: "loaded model from cache",
		})
		return cached, nil
	}

	model, err := l.download(ctx, onProgress)
	if err != nil {
		onProgress(LoadProgress{
			Total:   modelSizeEstimate,
			Status:  StatusError,
			Message: fmt.Sprintf("model download failed: %v", err),
		})
		return nil, err
	}

	if err := l.writeCache(model); err != nil {
		// A failed cache write is not fatal, the model is already in memory.
		l.logger.Warn("Failed to persist model cache", zap.Error(err))
	}

	onProgress(LoadProgress{
		Percent: 100,
		Loaded:  int64(len(model)),
		Total:   int64(len(model)),
		Status:  StatusReady,
		Message: "model download complete",
	})
	return model, nil
}

func (l *Loader) download(ctx context.Context, onProgress ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch model: unexpected status %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = modelSizeEstimate
	}

	l.logger.Info("Downloading model",
		zap.String("url", l.url),
		zap.String("size", formatBytes(total)),
	)

	data := make([]byte, 0, total)
	buf := make([]byte, downloadChunkSize)
	var received int64

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			received += int64(n)
			onProgress(LoadProgress{
				Percent: math.Min(99, float64(received)/float64(total)*100),
				Loaded:  received,
				Total:   total,
				Status:  StatusDownloading,
				Message: fmt.Sprintf("downloading model %s / %s", formatBytes(received), formatBytes(total)),
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read model stream: %w", readErr)
		}
	}

	return data, nil
}

func (l *Loader) readCache() ([]byte, error) {
	data, err := os.ReadFile(l.cachePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	l.logger.Info("Found cached model", zap.String("path", l.cachePath()))
	return data, nil
}

func (l *Loader) writeCache(data []byte) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}

	tmp := l.cachePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.cachePath()); err != nil {
		return err
	}
	if err := os.WriteFile(l.metaPath(), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return err
	}

	l.logger.Info("Model cached", zap.String("path", l.cachePath()))
	return nil
}

// CachedAt returns the timestamp recorded when the model was persisted.
func (l *Loader) CachedAt() (time.Time, bool) {
	raw, err := os.ReadFile(l.metaPath())
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// GetModelSizeEstimate returns the fixed download size estimate in bytes.
func (l *Loader) GetModelSizeEstimate() int64 {
	return modelSizeEstimate
}

// GetEstimatedDownloadTime returns the expected download duration in seconds
// at the given connection speed in megabits per second.
func (l *Loader) GetEstimatedDownloadTime(speedMbps float64) int {
	if speedMbps <= 0 {
		speedMbps = 10
	}
	sizeMb := float64(modelSizeEstimate) / 1024 / 1024
	return int(math.Ceil(sizeMb / (speedMbps / 8)))
}

func formatBytes(bytes int64) string {
	switch {
	case bytes < 1<<10:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	}
}
