package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceMonitor_Defaults(t *testing.T) {
	m := NewResourceMonitor(0, 0, nil)
	assert.Equal(t, 30*time.Second, m.interval)
	assert.Equal(t, 60, m.historySize)
	assert.Equal(t, DefaultThresholds, m.thresholds)
}

func TestResourceMonitor_TakeSnapshot(t *testing.T) {
	m := NewResourceMonitor(time.Second, 10, nil)
	s := m.TakeSnapshot()

	assert.False(t, s.Timestamp.IsZero())
	assert.Positive(t, s.Goroutines)
	assert.Positive(t, s.HeapAllocMB)
	_, ok := m.Latest()
	assert.False(t, ok, "TakeSnapshot does not record")
}

func TestResourceMonitor_HistoryIsBounded(t *testing.T) {
	m := NewResourceMonitor(time.Second, 3, nil)
	for range 5 {
		m.Sample()
	}
	h := m.History()
	require.Len(t, h, 3)
	assert.False(t, h[2].Timestamp.Before(h[0].Timestamp))

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, h[2], latest)

	h[0].Goroutines = -1
	assert.NotEqual(t, -1, m.History()[0].Goroutines, "History returns a copy")
}

func TestResourceMonitor_StartStop(t *testing.T) {
	m := NewResourceMonitor(10*time.Millisecond, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	require.Eventually(t, func() bool { return len(m.History()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestResourceMonitor_CheckHealth(t *testing.T) {
	m := NewResourceMonitor(time.Second, 5, nil)
	m.SetThresholds(Thresholds{Goroutines: 1, HeapMB: 0, FDPercent: 0})
	m.Sample()

	warnings := m.CheckHealth()
	require.NotEmpty(t, warnings)
	assert.Equal(t, "goroutine", warnings[0].Type)
	assert.Equal(t, float64(1), warnings[0].Limit)

	m.SetThresholds(Thresholds{})
	assert.Empty(t, m.CheckHealth())
}

func TestResourceMonitor_CrashRecorded(t *testing.T) {
	m := NewResourceMonitor(time.Second, 5, nil)
	m.CrashRecorded()
	m.CrashRecorded()
	assert.Equal(t, int64(2), m.TakeSnapshot().CrashesSeen)
	assert.Positive(t, m.Uptime())
}

func TestCountFDs(t *testing.T) {
	open, limit := CountFDs()
	assert.GreaterOrEqual(t, open, 0)
	assert.GreaterOrEqual(t, limit, 0)
}
