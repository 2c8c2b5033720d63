package session

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postureguard-server/pkg/analysis"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testManager(t *testing.T, config *ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(testLogger(), config)
	t.Cleanup(m.Shutdown)
	return m
}

func resultWithStatus(status analysis.Status, confidence float64) *analysis.Result {
	return &analysis.Result{
		Timestamp:  time.Now(),
		Status:     status,
		Warnings:   []string{},
		Confidence: confidence,
	}
}

func TestStartGeneratesIDWhenEmpty(t *testing.T) {
	m := testManager(t, nil)

	s := m.Start("", analysis.ActivitySquat)

	require.NotNil(t, s)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, analysis.ActivitySquat, s.Activity)

	got, exists := m.Get(s.ID)
	require.True(t, exists)
	assert.Equal(t, s, got)
}

func TestStartOverwritesExistingSession(t *testing.T) {
	m := testManager(t, nil)

	m.Start("client-1", analysis.ActivitySquat)
	for i := 0; i < 3; i++ {
		m.Ingest("client-1", resultWithStatus(analysis.StatusGood, 0.9))
	}

	// Restarting the same id resets everything, no merge.
	m.Start("client-1", analysis.ActivityDeskSitting)

	stats := m.Stats("client-1")
	assert.Equal(t, "desk_sitting", stats.Activity)
	assert.Zero(t, stats.TotalFrames)
	assert.Zero(t, stats.FramesAnalyzed)
	assert.Zero(t, stats.AverageConfidence)
}

func TestIngestCountsByStatus(t *testing.T) {
	m := testManager(t, nil)
	m.Start("s1", analysis.ActivitySquat)

	m.Ingest("s1", resultWithStatus(analysis.StatusGood, 0.9))
	m.Ingest("s1", resultWithStatus(analysis.StatusWarning, 0.8))
	m.Ingest("s1", resultWithStatus(analysis.StatusBad, 0.7))
	m.Ingest("s1", resultWithStatus(analysis.StatusNeutral, 0.0))

	stats := m.Stats("s1")
	assert.Equal(t, int64(4), stats.TotalFrames)
	assert.Equal(t, int64(4), stats.FramesAnalyzed)
	assert.Equal(t, int64(1), stats.GoodPosture)
	assert.Equal(t, int64(1), stats.WarningPosture)
	assert.Equal(t, int64(1), stats.BadPosture)

	// Status counters never include neutral frames.
	assert.Equal(t, stats.TotalFrames, stats.GoodPosture+stats.WarningPosture+stats.BadPosture+1)
}

func TestHistoryBoundedAtCapacity(t *testing.T) {
	m := testManager(t, nil)
	m.Start("s1", analysis.ActivitySquat)

	// Tag each result with its ordinal as the confidence so eviction
	// order is observable.
	for i := 1; i <= 150; i++ {
		m.Ingest("s1", resultWithStatus(analysis.StatusGood, float64(i)))
	}

	stats := m.Stats("s1")
	assert.Equal(t, int64(150), stats.TotalFrames)
	assert.Equal(t, int64(150), stats.GoodPosture)

	s, exists := m.Get("s1")
	require.True(t, exists)

	s.mutex.Lock()
	require.Len(t, s.history, 100)
	first := s.history[0].Confidence
	last := s.history[99].Confidence
	s.mutex.Unlock()

	// Results 1 through 50 were evicted; 51 through 150 remain.
	assert.Equal(t, 51.0, first)
	assert.Equal(t, 150.0, last)

	// The average covers exactly the retained window: mean of 51..150.
	assert.InDelta(t, 100.5, stats.AverageConfidence, 1e-9)
}

func TestAverageConfidenceOverRetainedWindowOnly(t *testing.T) {
	m := testManager(t, nil)
	m.Start("s1", analysis.ActivitySquat)

	// Fifty low-confidence frames pushed out by a hundred at 0.8.
	for i := 0; i < 50; i++ {
		m.Ingest("s1", resultWithStatus(analysis.StatusNeutral, 0.0))
	}
	for i := 0; i < 100; i++ {
		m.Ingest("s1", resultWithStatus(analysis.StatusGood, 0.8))
	}

	stats := m.Stats("s1")
	assert.InDelta(t, 0.8, stats.AverageConfidence, 1e-9)
}

func TestCustomHistoryCapacity(t *testing.T) {
	m := testManager(t, &ManagerConfig{HistoryCapacity: 10})
	m.Start("s1", analysis.ActivitySquat)

	for i := 1; i <= 25; i++ {
		m.Ingest("s1", resultWithStatus(analysis.StatusGood, float64(i)))
	}

	stats := m.Stats("s1")
	assert.Equal(t, int64(25), stats.TotalFrames)

	// Mean of 16..25.
	assert.InDelta(t, 20.5, stats.AverageConfidence, 1e-9)
}

func TestUnknownSessionStatsZeroed(t *testing.T) {
	m := testManager(t, nil)

	stats := m.Stats("never-started")

	assert.Equal(t, "never-started", stats.SessionID)
	assert.Empty(t, stats.Activity)
	assert.Zero(t, stats.TotalFrames)
	assert.Zero(t, stats.FramesAnalyzed)
	assert.Zero(t, stats.AverageConfidence)
	assert.Zero(t, stats.SessionDuration)
}

func TestUnknownSessionIngestIsNoOp(t *testing.T) {
	m := testManager(t, nil)

	m.Ingest("never-started", resultWithStatus(analysis.StatusGood, 0.9))

	_, exists := m.Get("never-started")
	assert.False(t, exists)
	assert.Zero(t, m.Stats("never-started").TotalFrames)
}

func TestStopFixesDuration(t *testing.T) {
	m := testManager(t, nil)
	m.Start("s1", analysis.ActivitySquat)
	m.Ingest("s1", resultWithStatus(analysis.StatusGood, 0.9))

	time.Sleep(20 * time.Millisecond)
	final := m.Stop("s1")
	assert.Greater(t, final.SessionDuration, 0.0)
	assert.Equal(t, int64(1), final.FramesAnalyzed)

	// The record survives the stop and reports the same fixed duration.
	time.Sleep(20 * time.Millisecond)
	stats := m.Stats("s1")
	assert.Equal(t, final.SessionDuration, stats.SessionDuration)
}

func TestStopUnknownSessionZeroed(t *testing.T) {
	m := testManager(t, nil)

	summary := m.Stop("never-started")
	assert.Equal(t, "never-started", summary.SessionID)
	assert.Zero(t, summary.TotalFrames)
}

func TestLiveSessionDurationGrows(t *testing.T) {
	m := testManager(t, nil)
	m.Start("s1", analysis.ActivitySquat)

	time.Sleep(20 * time.Millisecond)
	first := m.Stats("s1").SessionDuration
	assert.Greater(t, first, 0.0)

	time.Sleep(20 * time.Millisecond)
	second := m.Stats("s1").SessionDuration
	assert.Greater(t, second, first)
}

func TestActiveCount(t *testing.T) {
	m := testManager(t, nil)

	assert.Equal(t, 0, m.ActiveCount())

	m.Start("a", analysis.ActivitySquat)
	m.Start("b", analysis.ActivityDeskSitting)
	assert.Equal(t, 2, m.ActiveCount())

	m.Stop("a")
	assert.Equal(t, 1, m.ActiveCount())
}

func TestReaperCollectsOnlyStoppedSessions(t *testing.T) {
	m := testManager(t, &ManagerConfig{
		StoppedRetention: time.Millisecond,
		CleanupInterval:  time.Hour,
	})

	m.Start("stopped", analysis.ActivitySquat)
	m.Start("live", analysis.ActivitySquat)
	m.Stop("stopped")

	time.Sleep(10 * time.Millisecond)
	m.reapStopped()

	_, exists := m.Get("stopped")
	assert.False(t, exists, "stopped session should be reaped after retention")

	_, exists = m.Get("live")
	assert.True(t, exists, "live session must never be reaped")
}

func TestConcurrentIngest(t *testing.T) {
	m := testManager(t, nil)
	m.Start("s1", analysis.ActivitySquat)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Ingest("s1", resultWithStatus(analysis.StatusGood, 0.9))
			}
		}()
	}
	wg.Wait()

	stats := m.Stats("s1")
	assert.Equal(t, int64(1000), stats.TotalFrames)
	assert.Equal(t, int64(1000), stats.GoodPosture)
	assert.InDelta(t, 0.9, stats.AverageConfidence, 1e-9)
}
