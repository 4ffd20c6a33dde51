// Package memory tracks approximate resource usage against a fixed budget and
// publishes warnings when usage crosses the configured threshold.
package memory

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxBytes is the fixed memory ceiling.
	DefaultMaxBytes = 1 << 30 // 1 GiB
	// DefaultWarningRatio is the usage fraction that triggers warnings.
	DefaultWarningRatio = 0.8

	cleanupSettleDelay = 100 * time.Millisecond
)

type resourceEntry struct {
	id        string
	size      int64
	timestamp time.Time
}

// UsageReader supplies a precise environment-level usage reading. When it
// returns 0 the monitor falls back to summing tracked resource sizes.
type UsageReader func() int64

// Diagnostics is a point-in-time snapshot of monitor state.
type Diagnostics struct {
	CurrentUsage     int64
	MaxBytes         int64
	UsageRatio       float64
	IsWarning        bool
	TrackedResources int
}

// Monitor tracks named resources against the memory budget.
type Monitor struct {
	maxBytes     int64
	warningRatio float64
	logger       *zap.Logger

	mu           sync.Mutex
	resources    map[string]resourceEntry
	listeners    map[int]func(usage int64)
	nextListener int
	usageReader  UsageReader
}

func NewMonitor(maxBytes int64, warningRatio float64, logger *zap.Logger) *Monitor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if warningRatio <= 0 || warningRatio >= 1 {
		warningRatio = DefaultWarningRatio
	}
	return &Monitor{
		maxBytes:     maxBytes,
		warningRatio: warningRatio,
		logger:       logger,
		resources:    make(map[string]resourceEntry),
		listeners:    make(map[int]func(int64)),
	}
}

// SetUsageReader installs a precise usage source used ahead of the tracked sum.
func (m *Monitor) SetUsageReader(r UsageReader) {
	m.mu.Lock()
	m.usageReader = r
	m.mu.Unlock()
}

// Track records size bytes under id and re-evaluates memory pressure.
func (m *Monitor) Track(id string, size int64) {
	m.mu.Lock()
	m.resources[id] = resourceEntry{id: id, size: size, timestamp: time.Now()}
	m.mu.Unlock()
	m.checkPressure()
}

// Release forgets the resource tracked under id and re-evaluates pressure.
func (m *Monitor) Release(id string) {
	m.mu.Lock()
	delete(m.resources, id)
	m.mu.Unlock()
	m.checkPressure()
}

// GetCurrentUsage returns the precise reading when available, otherwise the
// sum of tracked resource sizes.
func (m *Monitor) GetCurrentUsage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentUsageLocked()
}

func (m *Monitor) currentUsageLocked() int64 {
	if m.usageReader != nil {
		if usage := m.usageReader(); usage > 0 {
			return usage
		}
	}
	var total int64
	for _, r := range m.resources {
		total += r.size
	}
	return total
}

// CanAllocate reports whether size more bytes fit under the ceiling.
func (m *Monitor) CanAllocate(size int64) bool {
	return m.GetCurrentUsage()+size < m.maxBytes
}

// UsageRatio returns current usage as a fraction of the ceiling.
func (m *Monitor) UsageRatio() float64 {
	return float64(m.GetCurrentUsage()) / float64(m.maxBytes)
}

// IsWarning reports whether usage exceeds the warning threshold.
func (m *Monitor) IsWarning() bool {
	return m.UsageRatio() > m.warningRatio
}

// OnWarning registers a callback invoked on every pressure check that finds
// usage above the threshold. The returned function unsubscribes it.
func (m *Monitor) OnWarning(callback func(usage int64)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = callback
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) checkPressure() {
	m.mu.Lock()
	usage := m.currentUsageLocked()
	threshold := int64(float64(m.maxBytes) * m.warningRatio)
	var notify []func(int64)
	if usage > threshold {
		for _, l := range m.listeners {
			notify = append(notify, l)
		}
	}
	m.mu.Unlock()

	if notify == nil {
		return
	}
	m.logger.Warn("High memory usage",
		zap.String("usage", FormatBytes(usage)),
		zap.String("max", FormatBytes(m.maxBytes)),
	)
	for _, l := range notify {
		l(usage)
	}
}

// Cleanup drops every tracked resource and pauses briefly so the runtime can
// reclaim memory. The pause is advisory and has no correctness effect.
func (m *Monitor) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	m.resources = make(map[string]resourceEntry)
	m.mu.Unlock()

	runtime.GC()

	select {
	case <-time.After(cleanupSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("Memory cleanup complete")
	return nil
}

// CleanupOldResources releases every resource tracked longer than maxAge and
// returns how many were freed.
func (m *Monitor) CleanupOldResources(maxAge time.Duration) int {
	now := time.Now()
	freed := 0

	m.mu.Lock()
	for id, r := range m.resources {
		if now.Sub(r.timestamp) > maxAge {
			delete(m.resources, id)
			freed++
		}
	}
	m.mu.Unlock()

	if freed > 0 {
		m.logger.Info("Released stale resources", zap.Int("count", freed))
	}
	return freed
}

// Diagnostics returns a snapshot for status reporting.
func (m *Monitor) Diagnostics() Diagnostics {
	m.mu.Lock()
	usage := m.currentUsageLocked()
	tracked := len(m.resources)
	m.mu.Unlock()

	ratio := float64(usage) / float64(m.maxBytes)
	return Diagnostics{
		CurrentUsage:     usage,
		MaxBytes:         m.maxBytes,
		UsageRatio:       ratio,
		IsWarning:        ratio > m.warningRatio,
		TrackedResources: tracked,
	}
}

// CalculateImageMemory estimates the decoded size of an image in bytes.
func CalculateImageMemory(width, height int, hasAlpha bool) int64 {
	bytesPerPixel := int64(3)
	if hasAlpha {
		bytesPerPixel = 4
	}
	return int64(width) * int64(height) * bytesPerPixel
}

// FormatBytes renders a byte count in a human-readable unit.
func FormatBytes(bytes int64) string {
	switch {
	case bytes < 1<<10:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	case bytes < 1<<30:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1<<30))
	}
}
