package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hyuraku/snapresize-ai/internal/capability"
	"github.com/hyuraku/snapresize-ai/internal/config"
	"github.com/hyuraku/snapresize-ai/internal/memory"
	"github.com/hyuraku/snapresize-ai/internal/modelcache"
	"github.com/hyuraku/snapresize-ai/internal/models"
	"github.com/hyuraku/snapresize-ai/internal/store"
	"github.com/hyuraku/snapresize-ai/internal/worker"
)

type fullMaskSegmenter struct{}

func (fullMaskSegmenter) Init(context.Context, []byte, models.Backend) error { return nil }
func (fullMaskSegmenter) Segment(context.Context, []byte, int, int) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

// blockingSegmenter never answers; it unblocks only on cancellation.
type blockingSegmenter struct{}

func (blockingSegmenter) Init(context.Context, []byte, models.Backend) error { return nil }
func (blockingSegmenter) Segment(ctx context.Context, _ []byte, _, _ int) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakySegmenter fails its first inference and succeeds afterwards.
type flakySegmenter struct{ calls int }

func (s *flakySegmenter) Init(context.Context, []byte, models.Backend) error { return nil }
func (s *flakySegmenter) Segment(context.Context, []byte, int, int) ([][]float32, error) {
	s.calls++
	if s.calls == 1 {
		return nil, errors.New("tensor shape mismatch")
	}
	return [][]float32{{1}}, nil
}

type slowSegmenter struct{ delay time.Duration }

func (s slowSegmenter) Init(context.Context, []byte, models.Backend) error { return nil }
func (s slowSegmenter) Segment(ctx context.Context, _ []byte, _, _ int) ([][]float32, error) {
	select {
	case <-time.After(s.delay):
		return [][]float32{{1}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFiles:          50,
		MaxFileSize:       50 * 1024 * 1024,
		ModelReadyTimeout: 10 * time.Second,
		MaskResultTimeout: 10 * time.Second,
		ModelPollInterval: 10 * time.Millisecond,
		MaskPollInterval:  10 * time.Millisecond,
		InterFileDelay:    time.Millisecond,
	}
}

type testEnv struct {
	store *store.Store
	proc  *Processor
}

func newTestEnv(t *testing.T, cfg *config.Config, segFactory func() worker.Segmenter) *testEnv {
	t.Helper()
	return newTestEnvWithModel(t, cfg, segFactory, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("model-bytes"))
	}))
}

func newTestEnvWithModel(t *testing.T, cfg *config.Config, segFactory func() worker.Segmenter, model http.Handler) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	srv := httptest.NewServer(model)
	t.Cleanup(srv.Close)

	monitor := memory.NewMonitor(0, 0, logger)
	detector := capability.NewDetector(nil, logger)
	loader := modelcache.NewLoader(srv.URL, t.TempDir(), logger)
	st := store.New(cfg.MaxFiles, cfg.MaxFileSize, monitor, logger)

	proc := New(st, cfg, monitor, detector, loader, segFactory, logger)
	t.Cleanup(proc.Close)

	return &testEnv{store: st, proc: proc}
}

func pngData(t *testing.T, width, height int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegData(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 90, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func addFiles(t *testing.T, env *testEnv, inputs ...store.FileInput) []models.ImageFile {
	t.Helper()
	result := env.store.AddFiles(inputs)
	if result.Added != len(inputs) {
		t.Fatalf("added %d of %d files: %+v", result.Added, len(inputs), result.Rejected)
	}
	return env.store.Files()
}

func TestProcessAllResizesBatch(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })
	addFiles(t, env,
		store.FileInput{Name: "photo.png", MimeType: "image/png", Data: pngData(t, 32, 48, color.NRGBA{R: 200, A: 255})},
		store.FileInput{Name: "image.jpg", MimeType: "image/jpeg", Data: jpegData(t, 48, 32)},
	)

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	for _, f := range env.store.Files() {
		if f.Status != models.StatusCompleted || f.Progress != 100 {
			t.Errorf("file %s = %s/%d, want completed/100", f.Name, f.Status, f.Progress)
		}
	}

	processed := env.store.Processed()
	if len(processed) != 2 {
		t.Fatalf("processed %d outputs, want 2", len(processed))
	}
	wantNames := map[string]bool{
		"photo_instagram-square.jpg": true,
		"image_instagram-square.jpg": true,
	}
	for _, p := range processed {
		if !wantNames[p.Name] {
			t.Errorf("unexpected output name %q", p.Name)
		}
		img, format, err := image.Decode(bytes.NewReader(p.Data))
		if err != nil {
			t.Fatalf("decode output %s: %v", p.Name, err)
		}
		if format != "jpeg" {
			t.Errorf("output format = %q, want jpeg", format)
		}
		if b := img.Bounds(); b.Dx() != 1080 || b.Dy() != 1080 {
			t.Errorf("output size = %dx%d, want 1080x1080", b.Dx(), b.Dy())
		}
	}
}

func TestProcessAllWithBackgroundRemoval(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })
	env.store.SetPreset(models.PresetCustom)
	env.store.SetCustomSize(120, 120)
	addFiles(t, env,
		store.FileInput{Name: "subject.png", MimeType: "image/png", Data: pngData(t, 64, 64, color.NRGBA{R: 40, G: 180, B: 220, A: 255})},
	)

	env.proc.SetBackgroundRemoval(true)

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	processed := env.store.Processed()
	if len(processed) != 1 {
		t.Fatalf("processed %d outputs, want 1", len(processed))
	}
	p := processed[0]
	if p.Name != "subject_custom.png" {
		t.Errorf("output name = %q, want subject_custom.png", p.Name)
	}
	if !p.HasBackgroundRemoval {
		t.Error("output should be flagged as background-removed")
	}

	img, format, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" {
		t.Errorf("output format = %q, want png", format)
	}
	// Full-confidence mask keeps every pixel opaque.
	for _, pt := range []image.Point{{0, 0}, {60, 60}, {119, 119}} {
		_, _, _, a := img.At(pt.X, pt.Y).RGBA()
		if a != 0xFFFF {
			t.Errorf("alpha at %v = %d, want fully opaque", pt, a)
		}
	}

	if state := env.store.ModelState(); state.Status != models.ModelReady {
		t.Errorf("model state = %q, want ready", state.Status)
	}
}

func TestProcessAllIdleIsNoop(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll on empty store failed: %v", err)
	}
	if env.store.IsProcessing() {
		t.Error("processing flag left set")
	}
	if len(env.store.Processed()) != 0 {
		t.Error("idle pass must not produce outputs")
	}
}

func TestProcessAllPausesBetweenFilesOnly(t *testing.T) {
	cfg := testConfig()
	cfg.InterFileDelay = 5 * time.Second
	env := newTestEnv(t, cfg, func() worker.Segmenter { return fullMaskSegmenter{} })
	addFiles(t, env,
		store.FileInput{Name: "only.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{B: 255, A: 255})},
	)

	start := time.Now()
	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.InterFileDelay {
		t.Errorf("single-file batch took %v, must not wait out the inter-file pause", elapsed)
	}
	if got := len(env.store.Processed()); got != 1 {
		t.Errorf("outputs = %d, want 1", got)
	}
}

func TestProcessAllRejectsReentry(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })
	addFiles(t, env,
		store.FileInput{Name: "a.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{A: 255})},
	)

	if !env.store.TryBeginProcessing() {
		t.Fatal("could not claim the processing flag")
	}
	defer env.store.EndProcessing()

	err := env.proc.ProcessAll(context.Background())
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("ProcessAll error = %v, want ErrAlreadyProcessing", err)
	}
	if got := env.store.Files()[0].Status; got != models.StatusPending {
		t.Errorf("rejected pass must not touch files, status = %q", got)
	}
}

func TestProcessFileNotFound(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })

	_, err := env.proc.ProcessFile(context.Background(), "missing")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("ProcessFile error = %v, want ErrFileNotFound", err)
	}
}

func TestProcessAllContinuesAfterFailure(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })

	// Valid PNG signature but a broken stream: accepted at intake, fails at
	// decode.
	broken := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("garbage-payload")...)

	addFiles(t, env,
		store.FileInput{Name: "good-1.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{R: 255, A: 255})},
		store.FileInput{Name: "broken.png", MimeType: "image/png", Data: broken},
		store.FileInput{Name: "good-2.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{G: 255, A: 255})},
	)

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	var completed, failed int
	for _, f := range env.store.Files() {
		switch f.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusFailed:
			failed++
			if f.Error == "" {
				t.Errorf("failed file %s has no error message", f.Name)
			}
			if f.Progress != 0 {
				t.Errorf("failed file %s progress = %d, want 0", f.Name, f.Progress)
			}
		}
	}
	if completed != 2 || failed != 1 {
		t.Fatalf("completed=%d failed=%d, want 2/1", completed, failed)
	}

	processed := env.store.Processed()
	if len(processed) != 2 {
		t.Fatalf("processed %d outputs, want exactly one per completed file", len(processed))
	}
	seen := map[string]bool{}
	for _, p := range processed {
		if seen[p.OriginalID] {
			t.Errorf("duplicate output for original %s", p.OriginalID)
		}
		seen[p.OriginalID] = true
	}
}

func TestMaskTimeoutFailsFileAndReleasesFlag(t *testing.T) {
	cfg := testConfig()
	cfg.MaskResultTimeout = 300 * time.Millisecond

	env := newTestEnv(t, cfg, func() worker.Segmenter { return blockingSegmenter{} })
	env.store.SetPreset(models.PresetCustom)
	env.store.SetCustomSize(100, 100)
	addFiles(t, env,
		store.FileInput{Name: "stuck-1.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{A: 255})},
		store.FileInput{Name: "stuck-2.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{A: 255})},
	)

	env.proc.SetBackgroundRemoval(true)

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	// A hung worker fails each file within its timeout window instead of
	// stalling the batch.
	for _, f := range env.store.Files() {
		if f.Status != models.StatusFailed {
			t.Fatalf("file %s status = %q, want failed", f.Name, f.Status)
		}
		if !strings.Contains(f.Error, ErrMaskTimeout.Error()) {
			t.Errorf("file %s error = %q, want mask timeout", f.Name, f.Error)
		}
	}
	if env.store.IsProcessing() {
		t.Error("processing flag left set after timeout")
	}
}

func TestModelReadyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ModelReadyTimeout = 300 * time.Millisecond

	env := newTestEnvWithModel(t, cfg,
		func() worker.Segmenter { return fullMaskSegmenter{} },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}),
	)
	addFiles(t, env,
		store.FileInput{Name: "a.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{A: 255})},
	)

	env.proc.SetBackgroundRemoval(true)

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	f := env.store.Files()[0]
	if f.Status != models.StatusFailed {
		t.Fatalf("file status = %q, want failed", f.Status)
	}
	if !strings.Contains(f.Error, ErrModelTimeout.Error()) {
		t.Errorf("file error = %q, want model timeout", f.Error)
	}
	if state := env.store.ModelState(); state.Status != models.ModelError {
		t.Errorf("model state = %q, want error", state.Status)
	}
}

func TestInferenceFailureDoesNotPoisonBatch(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return &flakySegmenter{} })
	env.store.SetPreset(models.PresetCustom)
	env.store.SetCustomSize(100, 100)
	addFiles(t, env,
		store.FileInput{Name: "first.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{R: 255, A: 255})},
		store.FileInput{Name: "second.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{B: 255, A: 255})},
	)

	env.proc.SetBackgroundRemoval(true)

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	files := env.store.Files()
	if files[0].Status != models.StatusFailed {
		t.Errorf("first file status = %q, want failed", files[0].Status)
	}
	if !strings.Contains(files[0].Error, "segmentation failed") {
		t.Errorf("first file error = %q", files[0].Error)
	}
	if files[1].Status != models.StatusCompleted {
		t.Errorf("second file status = %q, want completed", files[1].Status)
	}
	if got := len(env.store.Processed()); got != 1 {
		t.Errorf("processed %d outputs, want 1", got)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return slowSegmenter{delay: 200 * time.Millisecond} })
	env.store.SetPreset(models.PresetCustom)
	env.store.SetCustomSize(100, 100)
	addFiles(t, env,
		store.FileInput{Name: "slow.png", MimeType: "image/png", Data: pngData(t, 16, 16, color.NRGBA{A: 255})},
	)
	id := env.store.Files()[0].ID

	env.proc.SetBackgroundRemoval(true)

	stop := make(chan struct{})
	var samples []int
	go func() {
		defer close(stop)
		for {
			f, ok := env.store.File(id)
			if !ok {
				return
			}
			samples = append(samples, f.Progress)
			if f.Status.Terminal() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if err := env.proc.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	<-stop

	prev := -1
	for i, p := range samples {
		if p < prev {
			t.Fatalf("progress regressed at sample %d: %d after %d (%v)", i, p, prev, samples)
		}
		prev = p
	}
	if prev != 100 {
		t.Errorf("final progress = %d, want 100", prev)
	}
}

func TestWatermarkChangesOutput(t *testing.T) {
	input := pngData(t, 128, 128, color.NRGBA{R: 255, A: 255})

	render := func(withWatermark bool) []byte {
		env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })
		env.store.SetPreset(models.PresetCustom)
		env.store.SetCustomSize(128, 128)
		if withWatermark {
			env.store.SetWatermark(true, "SnapResize", models.WatermarkBottomRight)
		}
		addFiles(t, env,
			store.FileInput{Name: "red.png", MimeType: "image/png", Data: input},
		)
		if err := env.proc.ProcessAll(context.Background()); err != nil {
			t.Fatalf("ProcessAll failed: %v", err)
		}
		processed := env.store.Processed()
		if len(processed) != 1 {
			t.Fatalf("processed %d outputs", len(processed))
		}
		if processed[0].HasWatermark != withWatermark {
			t.Fatalf("HasWatermark = %v, want %v", processed[0].HasWatermark, withWatermark)
		}
		return processed[0].Data
	}

	plain := render(false)
	marked := render(true)
	if bytes.Equal(plain, marked) {
		t.Error("watermarked output is identical to the plain one")
	}
}

func TestSetBackgroundRemovalLifecycle(t *testing.T) {
	env := newTestEnv(t, testConfig(), func() worker.Segmenter { return fullMaskSegmenter{} })

	env.proc.SetBackgroundRemoval(true)

	deadline := time.Now().Add(5 * time.Second)
	for !env.proc.ModelReady() {
		if time.Now().After(deadline) {
			t.Fatal("model never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if state := env.store.ModelState(); state.Status != models.ModelReady {
		t.Fatalf("model state = %q, want ready", state.Status)
	}

	env.proc.SetBackgroundRemoval(false)
	if env.proc.ModelReady() {
		t.Error("disabling must reset model readiness")
	}
	if state := env.store.ModelState(); state.Status != models.ModelIdle {
		t.Errorf("model state = %q, want idle", state.Status)
	}

	// Disabling again is a no-op.
	env.proc.SetBackgroundRemoval(false)
}
