// Package processor sequences the per-file pipeline: decode, optional
// background removal via the inference worker, composite, watermark, encode.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/capability"
	"github.com/hyuraku/snapresize-ai/internal/config"
	"github.com/hyuraku/snapresize-ai/internal/memory"
	"github.com/hyuraku/snapresize-ai/internal/modelcache"
	"github.com/hyuraku/snapresize-ai/internal/models"
	"github.com/hyuraku/snapresize-ai/internal/presets"
	"github.com/hyuraku/snapresize-ai/internal/store"
	"github.com/hyuraku/snapresize-ai/internal/worker"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrAlreadyProcessing = errors.New("a processing pass is already running")
	ErrModelTimeout      = errors.New("timed out waiting for the model to become ready")
	ErrMaskTimeout       = errors.New("background removal timed out")
)

// Processor drives the per-file pipeline and the global batch pass.
type Processor struct {
	store      *store.Store
	cfg        *config.Config
	monitor    *memory.Monitor
	detector   *capability.Detector
	loader     *modelcache.Loader
	segFactory func() worker.Segmenter
	logger     *zap.Logger

	masks *worker.ResultCache

	failMu   sync.Mutex
	failures map[string]string

	mu         sync.Mutex
	worker     *worker.Worker
	pumpDone   chan struct{}
	modelReady atomic.Bool
}

func New(
	st *store.Store,
	cfg *config.Config,
	monitor *memory.Monitor,
	detector *capability.Detector,
	loader *modelcache.Loader,
	segFactory func() worker.Segmenter,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		store:      st,
		cfg:        cfg,
		monitor:    monitor,
		detector:   detector,
		loader:     loader,
		segFactory: segFactory,
		logger:     logger,
		masks:      worker.NewResultCache(),
		failures:   make(map[string]string),
	}
}

// SetBackgroundRemoval toggles the feature and manages the worker lifecycle:
// enabling creates a fresh worker and sends init; disabling terminates the
// worker unconditionally, abandoning in-flight requests.
func (p *Processor) SetBackgroundRemoval(enabled bool) {
	p.store.SetBackgroundRemoval(enabled)

	p.mu.Lock()
	defer p.mu.Unlock()

	if enabled && p.worker == nil {
		p.modelReady.Store(false)
		p.worker = worker.New(p.detector, p.loader, p.segFactory(), p.logger)
		p.pumpDone = make(chan struct{})
		go p.pumpEvents(p.worker, p.pumpDone)
		p.worker.Init()
		return
	}

	if !enabled && p.worker != nil {
		p.worker.Terminate()
		<-p.pumpDone
		p.worker = nil
		p.pumpDone = nil
		p.modelReady.Store(false)
		p.masks.Clear()
		p.store.SetModelState(models.ModelState{Status: models.ModelIdle})
	}
}

// pumpEvents mirrors worker messages into the store and the mask cache.
func (p *Processor) pumpEvents(w *worker.Worker, done chan struct{}) {
	defer close(done)

	for ev := range w.Events() {
		switch e := ev.(type) {
		case worker.ProgressEvent:
			if e.ID != "" {
				// Per-request phase updates; the pipeline's own polling loop
				// owns file progress, so these are only logged.
				p.logger.Debug("Worker progress",
					zap.String("id", e.ID),
					zap.Int("progress", e.Progress),
					zap.String("message", e.Message),
				)
				continue
			}
			status := models.ModelLoading
			if e.Status == "ready" {
				status = models.ModelReady
				p.modelReady.Store(true)
			}
			p.store.SetModelState(models.ModelState{
				Status:   status,
				Progress: e.Progress,
				Message:  e.Message,
				Device:   e.Device,
			})
		case worker.ResultEvent:
			p.masks.Put(e.ID, &worker.MaskResult{Width: e.Width, Height: e.Height, Pix: e.Pix})
			state := p.store.ModelState()
			state.Status = models.ModelReady
			state.Progress = 100
			state.Message = "model ready"
			p.store.SetModelState(state)
		case worker.ErrorEvent:
			if e.ID == "" {
				// Init failure: the model is unusable until re-initialized.
				p.modelReady.Store(false)
				p.store.SetModelState(models.ModelState{
					Status:  models.ModelError,
					Message: e.Message,
				})
				continue
			}
			// A per-request failure does not invalidate the model.
			p.failMu.Lock()
			p.failures[e.ID] = e.Message
			p.failMu.Unlock()
			p.logger.Warn("Worker request failed",
				zap.String("id", e.ID),
				zap.String("message", e.Message),
			)
		}
	}
}

// ProcessAll processes every currently pending file exactly once,
// sequentially, with a short pause between files. A second call while a pass
// is running returns ErrAlreadyProcessing and performs no work.
func (p *Processor) ProcessAll(ctx context.Context) error {
	if !p.store.TryBeginProcessing() {
		return ErrAlreadyProcessing
	}
	defer p.store.EndProcessing()

	pending := p.store.PendingIDs()
	p.logger.Info("Processing batch", zap.Int("files", len(pending)))

	for i, id := range pending {
		if _, err := p.ProcessFile(ctx, id); err != nil {
			p.logger.Warn("File processing failed",
				zap.String("id", id),
				zap.Error(err),
			)
		}

		// Pause between files only; the last file returns immediately.
		if i == len(pending)-1 {
			break
		}
		select {
		case <-time.After(p.cfg.InterFileDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ProcessFile runs one file through the pipeline. On failure the file is
// marked failed with its progress reset and the error is returned; the caller
// decides whether to continue with other files.
func (p *Processor) ProcessFile(ctx context.Context, fileID string) (*models.ProcessedImage, error) {
	file, ok := p.store.File(fileID)
	if !ok {
		return nil, ErrFileNotFound
	}

	result, err := p.runPipeline(ctx, file)
	if err != nil {
		p.store.UpdateFileStatus(fileID, models.StatusFailed, 0, err.Error())
		return nil, err
	}

	p.store.AddProcessedImage(result)
	p.store.UpdateFileStatus(fileID, models.StatusCompleted, 100, "")
	return result, nil
}

func (p *Processor) runPipeline(ctx context.Context, file models.ImageFile) (*models.ProcessedImage, error) {
	settings := p.store.Settings()

	p.store.UpdateFileStatus(file.ID, models.StatusProcessing, 10, "")

	img, err := decodeImage(file.Data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	memKey := "decoded:" + file.ID
	p.monitor.Track(memKey, memory.CalculateImageMemory(bounds.Dx(), bounds.Dy(), true))
	defer p.monitor.Release(memKey)

	var mask *maskBuffer
	if settings.EnableBackgroundRemoval {
		mask, err = p.removeBackground(ctx, file.ID, img)
		if err != nil {
			return nil, err
		}
	}

	p.store.UpdateFileStatus(file.ID, models.StatusProcessing, 75, "")

	width, height := presets.Size(settings.Preset, settings.CustomWidth, settings.CustomHeight)

	var canvas *image.NRGBA
	if mask != nil {
		canvas = coverFit(maskedImage(mask), width, height)
	} else {
		canvas = coverFit(img, width, height)
	}
	p.store.UpdateFileStatus(file.ID, models.StatusProcessing, 85, "")

	if settings.EnableWatermark && settings.WatermarkText != "" {
		if err := drawWatermark(canvas, settings.WatermarkText, settings.WatermarkPosition); err != nil {
			return nil, fmt.Errorf("draw watermark: %w", err)
		}
	}
	p.store.UpdateFileStatus(file.ID, models.StatusProcessing, 90, "")

	data, err := encodeOutput(canvas, settings.EnableBackgroundRemoval, settings.Quality)
	if err != nil {
		return nil, err
	}

	preset := presets.Describe(settings.Preset, settings.CustomWidth, settings.CustomHeight)

	return &models.ProcessedImage{
		ID:                   uuid.NewString(),
		OriginalID:           file.ID,
		Name:                 outputName(file.Name, preset.Key, settings.EnableBackgroundRemoval),
		Data:                 data,
		Preset:               preset,
		HasWatermark:         settings.EnableWatermark,
		HasBackgroundRemoval: settings.EnableBackgroundRemoval,
		Quality:              settings.Quality,
	}, nil
}

// removeBackground blocks this file's pipeline until the model is ready, then
// dispatches the pixel buffer to the worker and polls the mask cache for the
// correlated result, advancing progress from 30 toward 70.
func (p *Processor) removeBackground(ctx context.Context, fileID string, img image.Image) (*maskBuffer, error) {
	p.mu.Lock()
	w := p.worker
	p.mu.Unlock()
	if w == nil {
		return nil, errors.New("background removal enabled but worker is not running")
	}

	p.store.UpdateFileStatus(fileID, models.StatusProcessing, 20, "")

	if err := p.waitModelReady(ctx); err != nil {
		return nil, err
	}

	pix, width, height := rgbaPixels(img)
	// Ownership of pix transfers to the worker here.
	w.Process(fileID, width, height, pix)

	start := time.Now()
	ticker := time.NewTicker(p.cfg.MaskPollInterval)
	defer ticker.Stop()

	for {
		if result, ok := p.masks.Take(fileID); ok {
			return &maskBuffer{width: result.Width, height: result.Height, pix: result.Pix}, nil
		}
		if msg, ok := p.takeFailure(fileID); ok {
			return nil, errors.New(msg)
		}

		elapsed := time.Since(start)
		if elapsed > p.cfg.MaskResultTimeout {
			return nil, ErrMaskTimeout
		}

		progress := 30 + int(float64(elapsed)/float64(p.cfg.MaskResultTimeout)*40)
		if progress > 70 {
			progress = 70
		}
		p.store.UpdateFileStatus(fileID, models.StatusProcessing, progress, "")

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Processor) waitModelReady(ctx context.Context) error {
	if p.modelReady.Load() {
		return nil
	}

	start := time.Now()
	ticker := time.NewTicker(p.cfg.ModelPollInterval)
	defer ticker.Stop()

	for {
		if p.modelReady.Load() {
			return nil
		}
		if time.Since(start) > p.cfg.ModelReadyTimeout {
			return ErrModelTimeout
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Processor) takeFailure(fileID string) (string, bool) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	msg, ok := p.failures[fileID]
	if ok {
		delete(p.failures, fileID)
	}
	return msg, ok
}

// ModelReady reports whether the worker has confirmed model initialization.
func (p *Processor) ModelReady() bool {
	return p.modelReady.Load()
}

// Close tears down the worker if one is running.
func (p *Processor) Close() {
	p.SetBackgroundRemoval(false)
}
