package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/metrics"
)

// DefaultHistoryCapacity bounds the per-session result window used for the
// rolling confidence average.
const DefaultHistoryCapacity = 100

// ManagerConfig holds session manager configuration.
type ManagerConfig struct {
	// HistoryCapacity caps the retained results per session.
	HistoryCapacity int

	// StoppedRetention is how long a stopped session stays resident for
	// stats reads before the reaper collects it. Live sessions are never
	// reaped.
	StoppedRetention time.Duration

	// CleanupInterval is how often the reaper scans for expired records.
	CleanupInterval time.Duration
}

// Session aggregates per-frame posture results for one monitored activity
// stream. The identity fields are immutable after creation; everything else
// is guarded by the session's own mutex so concurrent producers on one id
// cannot lose updates.
type Session struct {
	ID        string
	Activity  analysis.Activity
	StartTime time.Time

	mutex             sync.Mutex
	stopped           bool
	endTime           time.Time
	framesAnalyzed    int64
	totalFrames       int64
	goodPosture       int64
	warningPosture    int64
	badPosture        int64
	averageConfidence float64
	history           []*analysis.Result
}

// Summary is the wire snapshot of one session's aggregate statistics.
// SessionDuration is in seconds: elapsed so far for a live session, final
// for a stopped one, zero for unknown ids.
type Summary struct {
	SessionID         string  `json:"session_id"`
	Activity          string  `json:"activity"`
	TotalFrames       int64   `json:"total_frames"`
	GoodPosture       int64   `json:"good_posture"`
	WarningPosture    int64   `json:"warning_posture"`
	BadPosture        int64   `json:"bad_posture"`
	AverageConfidence float64 `json:"average_confidence"`
	FramesAnalyzed    int64   `json:"frames_analyzed"`
	SessionDuration   float64 `json:"session_duration"`
}

// Manager owns every posture session in the process. Records live in
// memory only and die with the process; a background reaper collects
// stopped sessions after the configured retention.
type Manager struct {
	logger        *logrus.Logger
	config        *ManagerConfig
	sessions      map[string]*Session
	mutex         sync.RWMutex
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
}

// NewManager creates a session manager and starts its reaper.
func NewManager(logger *logrus.Logger, config *ManagerConfig) *Manager {
	if config == nil {
		config = &ManagerConfig{}
	}
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = DefaultHistoryCapacity
	}
	if config.StoppedRetention <= 0 {
		config.StoppedRetention = time.Hour
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	m := &Manager{
		logger:   logger,
		config:   config,
		sessions: make(map[string]*Session),
		stopChan: make(chan struct{}),
	}

	m.cleanupTicker = time.NewTicker(config.CleanupInterval)
	go m.reapLoop()

	logger.WithFields(logrus.Fields{
		"history_capacity":  config.HistoryCapacity,
		"stopped_retention": config.StoppedRetention,
		"cleanup_interval":  config.CleanupInterval,
	}).Info("Session manager initialized")

	return m
}

// Start creates a fresh session record, overwriting any pre-existing
// session of the same id. An empty id gets a generated UUID; callers read
// the id back from the returned session.
func (m *Manager) Start(sessionID string, activity analysis.Activity) *Session {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	s := &Session{
		ID:        sessionID,
		Activity:  activity,
		StartTime: time.Now(),
		history:   make([]*analysis.Result, 0, m.config.HistoryCapacity),
	}

	m.mutex.Lock()
	m.sessions[sessionID] = s
	active := m.countActiveLocked()
	m.mutex.Unlock()

	metrics.RecordSessionStarted()
	metrics.SetSessionsActive(active)

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"activity":   activity.String(),
	}).Info("Posture session started")

	return s
}

// Get returns the session record for the id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, exists := m.sessions[sessionID]
	return s, exists
}

// Ingest folds one analyzed frame into the session. Unknown ids are a
// deliberate no-op so per-frame analysis never depends on a started
// session.
func (m *Manager) Ingest(sessionID string, result *analysis.Result) {
	if result == nil {
		return
	}

	m.mutex.RLock()
	s := m.sessions[sessionID]
	m.mutex.RUnlock()
	if s == nil {
		return
	}

	s.ingest(result, m.config.HistoryCapacity)
	metrics.RecordFrameIngested()
}

// Stop marks the session ended and returns the final summary. The record
// stays resident for stats reads until the reaper collects it. Unknown ids
// yield a zeroed summary.
func (m *Manager) Stop(sessionID string) Summary {
	m.mutex.RLock()
	s := m.sessions[sessionID]
	m.mutex.RUnlock()
	if s == nil {
		return zeroSummary(sessionID)
	}

	summary := s.stop()

	m.mutex.RLock()
	active := m.countActiveLocked()
	m.mutex.RUnlock()

	metrics.RecordSessionStopped(summary.Activity, time.Duration(summary.SessionDuration*float64(time.Second)))
	metrics.SetSessionsActive(active)

	m.logger.WithFields(logrus.Fields{
		"session_id":      summary.SessionID,
		"activity":        summary.Activity,
		"frames_analyzed": summary.FramesAnalyzed,
		"duration":        summary.SessionDuration,
	}).Info("Posture session stopped")

	return summary
}

// Stats returns a read-only snapshot of the session. Unknown ids yield a
// zeroed summary, never an error.
func (m *Manager) Stats(sessionID string) Summary {
	m.mutex.RLock()
	s := m.sessions[sessionID]
	m.mutex.RUnlock()
	if s == nil {
		return zeroSummary(sessionID)
	}
	return s.Snapshot()
}

// ActiveCount returns the number of sessions still accepting frames.
func (m *Manager) ActiveCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.countActiveLocked()
}

// Shutdown stops the background reaper. Records are in-memory only and die
// with the process, so there is nothing to flush.
func (m *Manager) Shutdown() {
	close(m.stopChan)
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	m.logger.Info("Session manager shutdown complete")
}

func (m *Manager) countActiveLocked() int {
	count := 0
	for _, s := range m.sessions {
		if !s.isStopped() {
			count++
		}
	}
	return count
}

func (m *Manager) reapLoop() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.reapStopped()
		case <-m.stopChan:
			return
		}
	}
}

// reapStopped drops sessions that ended more than the retention ago. Live
// sessions stay resident until stopped regardless of traffic.
func (m *Manager) reapStopped() {
	threshold := time.Now().Add(-m.config.StoppedRetention)

	m.mutex.Lock()
	var reaped []string
	for id, s := range m.sessions {
		if s.stoppedBefore(threshold) {
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	m.mutex.Unlock()

	if len(reaped) > 0 {
		m.logger.WithField("count", len(reaped)).Info("Reaped stopped posture sessions")
	}
}

// ingest applies one result under the session's own lock: bump the
// counters, append to history, truncate to the capacity, then recompute the
// average over what survived. The order matters; the rolling average is
// defined over the retained window only.
func (s *Session) ingest(result *analysis.Result, capacity int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.framesAnalyzed++
	s.totalFrames++

	switch result.Status {
	case analysis.StatusGood:
		s.goodPosture++
	case analysis.StatusWarning:
		s.warningPosture++
	case analysis.StatusBad:
		s.badPosture++
	}
	// Neutral frames count toward totals only.

	s.history = append(s.history, result)
	if len(s.history) > capacity {
		s.history = s.history[len(s.history)-capacity:]
	}

	var sum float64
	for _, r := range s.history {
		sum += r.Confidence
	}
	s.averageConfidence = sum / float64(len(s.history))
}

// Snapshot returns the session's current summary.
func (s *Session) Snapshot() Summary {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.summaryLocked()
}

func (s *Session) stop() Summary {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.stopped {
		s.stopped = true
		s.endTime = time.Now()
	}
	return s.summaryLocked()
}

func (s *Session) isStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped
}

func (s *Session) stoppedBefore(t time.Time) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped && s.endTime.Before(t)
}

func (s *Session) summaryLocked() Summary {
	var duration float64
	if s.stopped {
		duration = s.endTime.Sub(s.StartTime).Seconds()
	} else {
		duration = time.Since(s.StartTime).Seconds()
	}

	return Summary{
		SessionID:         s.ID,
		Activity:          s.Activity.String(),
		TotalFrames:       s.totalFrames,
		GoodPosture:       s.goodPosture,
		WarningPosture:    s.warningPosture,
		BadPosture:        s.badPosture,
		AverageConfidence: s.averageConfidence,
		FramesAnalyzed:    s.framesAnalyzed,
		SessionDuration:   duration,
	}
}

// zeroSummary is the snapshot for ids the manager has never seen.
func zeroSummary(sessionID string) Summary {
	return Summary{SessionID: sessionID}
}
