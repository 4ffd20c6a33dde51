// Package store is the single source of truth for files, settings, model
// state and processed outputs. All mutation goes through its operations.
package store

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"sync"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/hyuraku/snapresize-ai/internal/memory"
	"github.com/hyuraku/snapresize-ai/internal/models"
	"github.com/hyuraku/snapresize-ai/internal/validation"
)

const (
	DefaultMaxFiles    = 50
	DefaultMaxFileSize = 50 * 1024 * 1024

	thumbnailSide = 128
)

// FileInput is one candidate file offered to AddFiles.
type FileInput struct {
	Name     string
	MimeType string
	Data     []byte
}

// RejectedFile records why one candidate was not accepted.
type RejectedFile struct {
	Name   string
	Reason string
}

// AddResult partitions an AddFiles call into accepted and rejected files.
type AddResult struct {
	Added    int
	Rejected []RejectedFile
}

// Store holds all shared mutable state behind one mutex.
type Store struct {
	maxFiles    int
	maxFileSize int64
	monitor     *memory.Monitor
	logger      *zap.Logger

	mu           sync.RWMutex
	files        []*models.ImageFile
	processed    []*models.ProcessedImage
	settings     models.Settings
	modelState   models.ModelState
	isProcessing bool
}

func New(maxFiles int, maxFileSize int64, monitor *memory.Monitor, logger *zap.Logger) *Store {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Store{
		maxFiles:    maxFiles,
		maxFileSize: maxFileSize,
		monitor:     monitor,
		logger:      logger,
		settings:    models.DefaultSettings(),
		modelState:  models.ModelState{Status: models.ModelIdle},
	}
}

// AddFiles validates and enqueues candidates. Candidates beyond the global
// file cap are ignored; every rejected entry carries a reason.
func (s *Store) AddFiles(candidates []FileInput) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := AddResult{}
	room := s.maxFiles - len(s.files)
	if room < 0 {
		room = 0
	}
	if len(candidates) > room {
		s.logger.Warn("Ignoring candidates beyond the file cap",
			zap.Int("ignored", len(candidates)-room),
			zap.Error(validation.ErrFileLimitReached),
		)
		candidates = candidates[:room]
	}

	for _, c := range candidates {
		if int64(len(c.Data)) > s.maxFileSize {
			result.Rejected = append(result.Rejected, RejectedFile{Name: c.Name, Reason: validation.ErrFileTooLarge.Error()})
			continue
		}
		if _, err := validation.ValidateImage(c.MimeType, c.Data); err != nil {
			result.Rejected = append(result.Rejected, RejectedFile{Name: c.Name, Reason: err.Error()})
			continue
		}

		file := &models.ImageFile{
			ID:        uuid.NewString(),
			Name:      c.Name,
			Size:      int64(len(c.Data)),
			MimeType:  validation.NormalizeMime(c.MimeType),
			Data:      c.Data,
			Thumbnail: makeThumbnail(c.Data),
			Status:    models.StatusPending,
		}
		s.files = append(s.files, file)
		if s.monitor != nil {
			s.monitor.Track("file:"+file.ID, file.Size)
		}
		result.Added++
	}

	s.logger.Info("Files added",
		zap.Int("added", result.Added),
		zap.Int("rejected", len(result.Rejected)),
		zap.Int("total", len(s.files)),
	)
	return result
}

func makeThumbnail(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	thumb := resize.Thumbnail(thumbnailSide, thumbnailSide, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return nil
	}
	return buf.Bytes()
}

// RemoveFile drops one file by id.
func (s *Store) RemoveFile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.files[:0]
	for _, f := range s.files {
		if f.ID == id {
			if s.monitor != nil {
				s.monitor.Release("file:" + f.ID)
			}
			continue
		}
		kept = append(kept, f)
	}
	s.files = kept
}

// ClearFiles drops all files and processed outputs.
func (s *Store) ClearFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitor != nil {
		for _, f := range s.files {
			s.monitor.Release("file:" + f.ID)
		}
	}
	s.files = nil
	s.processed = nil
}

// Files returns a snapshot of the file list.
func (s *Store) Files() []models.ImageFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ImageFile, len(s.files))
	for i, f := range s.files {
		out[i] = *f
	}
	return out
}

// File returns a snapshot of one file by id.
func (s *Store) File(id string) (models.ImageFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.files {
		if f.ID == id {
			return *f, true
		}
	}
	return models.ImageFile{}, false
}

// PendingIDs lists ids of files still waiting to be processed, in enqueue
// order.
func (s *Store) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, f := range s.files {
		if f.Status == models.StatusPending {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// UpdateFileStatus mutates one file's lifecycle state. Progress is kept
// monotonically non-decreasing while the file stays in processing.
func (s *Store) UpdateFileStatus(id string, status models.Status, progress int, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		if f.ID != id {
			continue
		}
		if status == models.StatusProcessing && f.Status == models.StatusProcessing && progress < f.Progress {
			progress = f.Progress
		}
		f.Status = status
		f.Progress = progress
		f.Error = errMsg
		return
	}
}

// AddProcessedImage appends one output.
func (s *Store) AddProcessedImage(img *models.ProcessedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, img)
	if s.monitor != nil {
		s.monitor.Track("processed:"+img.ID, int64(len(img.Data)))
	}
}

// Processed returns a snapshot of the outputs.
func (s *Store) Processed() []*models.ProcessedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ProcessedImage, len(s.processed))
	copy(out, s.processed)
	return out
}

// ClearProcessed drops all outputs.
func (s *Store) ClearProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil {
		for _, p := range s.processed {
			s.monitor.Release("processed:" + p.ID)
		}
	}
	s.processed = nil
}

// Settings returns the current processing settings.
func (s *Store) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) SetPreset(preset models.PresetKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Preset = preset
}

func (s *Store) SetCustomSize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.CustomWidth = width
	s.settings.CustomHeight = height
}

// SetQuality clamps quality to the supported 60-100 range.
func (s *Store) SetQuality(quality int) {
	if quality < 60 {
		quality = 60
	}
	if quality > 100 {
		quality = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Quality = quality
}

// SetWatermark updates the watermark toggle; empty text or position keep the
// previous value.
func (s *Store) SetWatermark(enabled bool, text string, position models.WatermarkPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.EnableWatermark = enabled
	if text != "" {
		s.settings.WatermarkText = text
	}
	if position != "" {
		s.settings.WatermarkPosition = position
	}
}

func (s *Store) SetBackgroundRemoval(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.EnableBackgroundRemoval = enabled
}

// ModelState returns the current model coordination record.
func (s *Store) ModelState() models.ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelState
}

// SetModelState replaces the model coordination record.
func (s *Store) SetModelState(state models.ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelState = state
}

// IsProcessing reports whether a global processing pass is running.
func (s *Store) IsProcessing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isProcessing
}

// TryBeginProcessing flips the global processing flag; it fails when a pass
// is already running.
func (s *Store) TryBeginProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isProcessing {
		return false
	}
	s.isProcessing = true
	return true
}

// EndProcessing clears the global processing flag.
func (s *Store) EndProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isProcessing = false
}
