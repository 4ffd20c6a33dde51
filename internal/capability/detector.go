// Package capability probes the execution environment once to decide between
// an accelerated compute backend and a slow universal fallback.
package capability

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/models"
)

// AdapterInfo describes the accelerated compute adapter, when one exists.
type AdapterInfo struct {
	Vendor       string
	Architecture string
	Device       string
	Description  string
}

// Info is the immutable-once-computed record of the detected backend.
type Info struct {
	Backend                  models.Backend
	Accelerated              bool
	Adapter                  *AdapterInfo
	RecommendedChunkSize     int
	EstimatedSpeedMultiplier int
}

// Probe acquires an accelerated compute adapter from the environment.
// Returning an error (or a nil adapter) means acceleration is unavailable.
type Probe interface {
	RequestAdapter(ctx context.Context) (*AdapterInfo, error)
}

// Detector memoizes a single backend detection for the process lifetime.
// Concurrent callers share one in-flight detection.
type Detector struct {
	probe  Probe
	logger *zap.Logger

	mu       sync.Mutex
	cached   *Info
	inflight chan struct{}
}

func NewDetector(probe Probe, logger *zap.Logger) *Detector {
	return &Detector{probe: probe, logger: logger}
}

// DetectBestBackend returns the detected backend, never an error: every
// failure path resolves to the fallback descriptor.
func (d *Detector) DetectBestBackend(ctx context.Context) Info {
	d.mu.Lock()
	if d.cached != nil {
		info := *d.cached
		d.mu.Unlock()
		return info
	}
	if d.inflight == nil {
		d.inflight = make(chan struct{})
		go d.detect(ctx)
	}
	wait := d.inflight
	d.mu.Unlock()

	<-wait

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil {
		// Detection goroutine raced with ClearCache; answer conservatively.
		return fallbackInfo()
	}
	return *d.cached
}

func (d *Detector) detect(ctx context.Context) {
	info := d.performDetection(ctx)

	d.mu.Lock()
	d.cached = &info
	close(d.inflight)
	d.inflight = nil
	d.mu.Unlock()
}

func (d *Detector) performDetection(ctx context.Context) Info {
	if d.probe == nil {
		d.logger.Warn("No acceleration probe configured, using fallback backend")
		return fallbackInfo()
	}

	adapter, err := d.probe.RequestAdapter(ctx)
	if err != nil || adapter == nil {
		d.logger.Warn("Accelerated backend unavailable, using fallback",
			zap.Error(err),
		)
		return fallbackInfo()
	}

	d.logger.Info("Accelerated backend available",
		zap.String("vendor", adapter.Vendor),
		zap.String("device", adapter.Device),
	)

	return Info{
		Backend:                  models.BackendAccelerated,
		Accelerated:              true,
		Adapter:                  adapter,
		RecommendedChunkSize:     5,
		EstimatedSpeedMultiplier: 1,
	}
}

// ClearCache resets the memoized verdict so the next call re-probes.
func (d *Detector) ClearCache() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// RecommendedChunkSize returns the parallel-chunk hint for a backend.
func RecommendedChunkSize(backend models.Backend) int {
	if backend == models.BackendAccelerated {
		return 5
	}
	return 2
}

func fallbackInfo() Info {
	return Info{
		Backend:                  models.BackendFallback,
		Accelerated:              false,
		RecommendedChunkSize:     2,
		EstimatedSpeedMultiplier: 100,
	}
}
