// Package worker hosts the segmentation model in an isolated goroutine that
// communicates exclusively through asynchronous messages. Pixel buffers cross
// the boundary by ownership transfer: the sender must not touch them again.
package worker

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/capability"
	"github.com/hyuraku/snapresize-ai/internal/modelcache"
	"github.com/hyuraku/snapresize-ai/internal/models"
)

// Event is a message from the worker to its owner.
type Event interface{ isEvent() }

// ProgressEvent reports init and per-request progress. Status "ready" marks
// the model usable.
type ProgressEvent struct {
	Status   string
	Progress int
	Message  string
	Device   models.Backend
	ID       string
}

// ResultEvent carries the masked pixel buffer for one process request,
// correlated by ID. Ownership of Pix transfers to the receiver.
type ResultEvent struct {
	ID     string
	Width  int
	Height int
	Pix    []byte
}

// ErrorEvent reports a failure. A missing ID means the init failed and the
// model is unusable until a fresh init succeeds.
type ErrorEvent struct {
	ID      string
	Message string
}

func (ProgressEvent) isEvent() {}
func (ResultEvent) isEvent()   {}
func (ErrorEvent) isEvent()    {}

type request struct {
	init   bool
	id     string
	width  int
	height int
	pix    []byte
}

// Worker owns one loaded model instance and serves one segmentation at a
// time. At most one Worker should exist; the orchestrator enforces that.
type Worker struct {
	detector *capability.Detector
	loader   *modelcache.Loader
	seg      Segmenter
	logger   *zap.Logger

	requests chan request
	events   chan Event
	cancel   context.CancelFunc
	done     chan struct{}

	ready  bool
	device models.Backend
}

// New starts the worker goroutine. The caller must consume Events until it is
// closed, which happens after Terminate.
func New(detector *capability.Detector, loader *modelcache.Loader, seg Segmenter, logger *zap.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		detector: detector,
		loader:   loader,
		seg:      seg,
		logger:   logger,
		requests: make(chan request, 4),
		events:   make(chan Event, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Events is the worker-to-owner message channel.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Init requests model and preprocessor initialization.
func (w *Worker) Init() {
	w.send(request{init: true})
}

// Process requests segmentation of one RGBA pixel buffer. Ownership of pix
// transfers to the worker. The caller must not send a second request before
// receiving the prior result or error.
func (w *Worker) Process(id string, width, height int, pix []byte) {
	w.send(request{id: id, width: width, height: height, pix: pix})
}

func (w *Worker) send(req request) {
	select {
	case w.requests <- req:
	case <-w.done:
		// Terminated, request abandoned. In-flight callers observe this as a
		// poll timeout.
	}
}

// Terminate tears the worker down unconditionally. In-flight requests are
// abandoned and the events channel is closed once the goroutine exits.
func (w *Worker) Terminate() {
	w.cancel()
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			if req.init {
				w.handleInit(ctx)
			} else {
				w.handleProcess(ctx, req)
			}
		}
	}
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Worker) handleInit(ctx context.Context) {
	info := w.detector.DetectBestBackend(ctx)
	w.device = info.Backend

	msg := "initializing on accelerated backend"
	if !info.Accelerated {
		msg = "initializing on fallback backend, processing will be slower"
	}
	w.emit(ctx, ProgressEvent{Status: "loading", Progress: 0, Message: msg, Device: w.device})

	model, err := w.loader.LoadWithProgress(ctx, func(p modelcache.LoadProgress) {
		if p.Status == modelcache.StatusDownloading || p.Status == modelcache.StatusChecking {
			w.emit(ctx, ProgressEvent{
				Status:   "loading",
				Progress: int(p.Percent),
				Message:  p.Message,
				Device:   w.device,
			})
		}
	})
	if err != nil {
		w.ready = false
		w.emit(ctx, ErrorEvent{Message: fmt.Sprintf("model initialization failed: %v", err)})
		return
	}

	if err := w.seg.Init(ctx, model, w.device); err != nil {
		w.ready = false
		w.emit(ctx, ErrorEvent{Message: fmt.Sprintf("model initialization failed: %v", err)})
		return
	}

	w.ready = true
	w.logger.Info("Segmentation model ready", zap.String("device", string(w.device)))
	w.emit(ctx, ProgressEvent{Status: "ready", Progress: 100, Message: "model ready", Device: w.device})
}

func (w *Worker) handleProcess(ctx context.Context, req request) {
	if !w.ready {
		w.emit(ctx, ErrorEvent{ID: req.id, Message: "model is not initialized"})
		return
	}
	if len(req.pix) != req.width*req.height*4 {
		w.emit(ctx, ErrorEvent{ID: req.id, Message: "invalid pixel buffer"})
		return
	}

	w.emit(ctx, ProgressEvent{Status: "processing", Progress: 10, Message: "analyzing image", ID: req.id})
	w.emit(ctx, ProgressEvent{Status: "processing", Progress: 30, Message: "detecting foreground", ID: req.id})

	w.emit(ctx, ProgressEvent{Status: "processing", Progress: 50, Message: "running inference", ID: req.id})
	mask, err := w.seg.Segment(ctx, req.pix, req.width, req.height)
	if err != nil {
		// One failed inference does not invalidate the model.
		w.emit(ctx, ErrorEvent{ID: req.id, Message: fmt.Sprintf("segmentation failed: %v", err)})
		return
	}

	w.emit(ctx, ProgressEvent{Status: "processing", Progress: 80, Message: "applying mask", ID: req.id})
	applyMask(req.pix, req.width, req.height, mask)

	w.logger.Debug("Segmentation complete",
		zap.String("id", req.id),
		zap.Int("width", req.width),
		zap.Int("height", req.height),
	)
	w.emit(ctx, ResultEvent{ID: req.id, Width: req.width, Height: req.height, Pix: req.pix})
}

// applyMask up-samples the confidence map to the image's exact dimensions
// using nearest-neighbor index mapping and writes it into the alpha channel.
// RGB channels are left unchanged.
func applyMask(pix []byte, width, height int, mask [][]float32) {
	maskH := len(mask)
	if maskH == 0 {
		return
	}
	maskW := len(mask[0])
	if maskW == 0 {
		return
	}

	scaleX := float64(width) / float64(maskW)
	scaleY := float64(height) / float64(maskH)

	for y := 0; y < height; y++ {
		my := int(float64(y) / scaleY)
		if my > maskH-1 {
			my = maskH - 1
		}
		row := mask[my]
		for x := 0; x < width; x++ {
			mx := int(float64(x) / scaleX)
			if mx > maskW-1 {
				mx = maskW - 1
			}
			c := float64(row[mx])
			if c < 0 {
				c = 0
			} else if c > 1 {
				c = 1
			}
			pix[(y*width+x)*4+3] = uint8(math.Round(c * 255))
		}
	}
}
