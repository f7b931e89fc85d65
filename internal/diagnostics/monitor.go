package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
)

// ResourceSnapshot captures process resource state at a point in time.
type ResourceSnapshot struct {
	Timestamp      time.Time     `json:"timestamp"`
	OpenFDs        int           `json:"open_fds"`
	MaxFDs         int           `json:"max_fds"`
	FDUsagePercent float64       `json:"fd_usage_percent"`
	Goroutines     int           `json:"goroutines"`
	HeapAllocMB    float64       `json:"heap_alloc_mb"`
	HeapInUseMB    float64       `json:"heap_in_use_mb"`
	StackInUseMB   float64       `json:"stack_in_use_mb"`
	GCPauseNS      uint64        `json:"gc_pause_ns"`
	NumGC          uint32        `json:"num_gc"`
	ProcessUptime  time.Duration `json:"process_uptime"`
	CrashesSeen    int64         `json:"crashes_seen"`
}

// HealthWarning represents a single health concern.
type HealthWarning struct {
	Level   string  `json:"level"` // "warning" or "critical"
	Type    string  `json:"type"`  // "fd", "goroutine", "memory"
	Message string  `json:"message"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

// Thresholds above which CheckHealth warns. Zero disables a check.
type Thresholds struct {
	FDPercent  int
	Goroutines int
	HeapMB     int
}

// DefaultThresholds are used by NewResourceMonitor.
var DefaultThresholds = Thresholds{FDPercent: 80, Goroutines: 10000, HeapMB: 1024}

// ResourceMonitor keeps a bounded history of resource snapshots.
type ResourceMonitor struct {
	interval    time.Duration
	thresholds  Thresholds
	historySize int
	logger      *logging.Logger

	history []ResourceSnapshot
	mu      sync.RWMutex

	crashes atomic.Int64

	stopCh  chan struct{}
	stopped atomic.Bool
	started time.Time
}

// NewResourceMonitor creates a monitor sampling every interval and keeping
// historySize snapshots.
func NewResourceMonitor(interval time.Duration, historySize int, logger *logging.Logger) *ResourceMonitor {
	if historySize <= 0 {
		historySize = 60
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ResourceMonitor{
		interval:    interval,
		thresholds:  DefaultThresholds,
		historySize: historySize,
		logger:      logger.WithComponent("monitor"),
		history:     make([]ResourceSnapshot, 0, historySize),
		stopCh:      make(chan struct{}),
		started:     time.Now(),
	}
}

// SetThresholds replaces the health thresholds.
func (m *ResourceMonitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Start samples in the background until ctx ends or Stop is called.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		m.record(m.TakeSnapshot())

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.record(m.TakeSnapshot())
				for _, w := range m.CheckHealth() {
					m.logger.Warn("resource warning",
						"type", w.Type,
						"level", w.Level,
						"value", w.Value,
						"limit", w.Limit,
					)
				}
			}
		}
	}()
}

// Stop halts the sampling loop.
func (m *ResourceMonitor) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
}

// TakeSnapshot captures the current resource state without recording it.
func (m *ResourceMonitor) TakeSnapshot() ResourceSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	openFDs, maxFDs := CountFDs()
	fdPercent := 0.0
	if maxFDs > 0 {
		fdPercent = float64(openFDs) / float64(maxFDs) * 100
	}

	return ResourceSnapshot{
		Timestamp:      time.Now(),
		OpenFDs:        openFDs,
		MaxFDs:         maxFDs,
		FDUsagePercent: fdPercent,
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(mem.HeapAlloc) / 1024 / 1024,
		HeapInUseMB:    float64(mem.HeapInuse) / 1024 / 1024,
		StackInUseMB:   float64(mem.StackInuse) / 1024 / 1024,
		GCPauseNS:      mem.PauseNs[(mem.NumGC+255)%256],
		NumGC:          mem.NumGC,
		ProcessUptime:  time.Since(m.started),
		CrashesSeen:    m.crashes.Load(),
	}
}

// Sample takes a snapshot and appends it to the history.
func (m *ResourceMonitor) Sample() ResourceSnapshot {
	s := m.TakeSnapshot()
	m.record(s)
	return s
}

func (m *ResourceMonitor) record(s ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// History returns the recorded snapshots, oldest first.
func (m *ResourceMonitor) History() []ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResourceSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent recorded snapshot.
func (m *ResourceMonitor) Latest() (ResourceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return ResourceSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// CrashRecorded counts a captured crash.
func (m *ResourceMonitor) CrashRecorded() {
	m.crashes.Add(1)
}

// CheckHealth compares the latest snapshot against the thresholds.
func (m *ResourceMonitor) CheckHealth() []HealthWarning {
	s, ok := m.Latest()
	if !ok {
		s = m.TakeSnapshot()
	}
	m.mu.RLock()
	t := m.thresholds
	m.mu.RUnlock()

	var warnings []HealthWarning
	if t.FDPercent > 0 && s.FDUsagePercent > float64(t.FDPercent) {
		level := "warning"
		if s.FDUsagePercent > 90 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level:   level,
			Type:    "fd",
			Message: fmt.Sprintf("FD usage at %.1f%% (threshold: %d%%)", s.FDUsagePercent, t.FDPercent),
			Value:   s.FDUsagePercent,
			Limit:   float64(t.FDPercent),
		})
	}
	if t.Goroutines > 0 && s.Goroutines > t.Goroutines {
		level := "warning"
		if s.Goroutines > t.Goroutines*2 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level:   level,
			Type:    "goroutine",
			Message: fmt.Sprintf("Goroutine count at %d (threshold: %d)", s.Goroutines, t.Goroutines),
			Value:   float64(s.Goroutines),
			Limit:   float64(t.Goroutines),
		})
	}
	if t.HeapMB > 0 && s.HeapAllocMB > float64(t.HeapMB) {
		level := "warning"
		if s.HeapAllocMB > float64(t.HeapMB)*1.5 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level:   level,
			Type:    "memory",
			Message: fmt.Sprintf("Heap usage at %.1f MB (threshold: %d MB)", s.HeapAllocMB, t.HeapMB),
			Value:   s.HeapAllocMB,
			Limit:   float64(t.HeapMB),
		})
	}
	return warnings
}

// Uptime returns the time since the monitor was created.
func (m *ResourceMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}
