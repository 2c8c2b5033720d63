package analysis

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ResultListener represents something that consumes posture results as
// sessions produce them.
type ResultListener interface {
	// OnResult is called once per analyzed frame attributed to a session.
	OnResult(sessionID string, activity Activity, result *Result)
}

// ResultService fans analyzed frames out to registered listeners. Listener
// callbacks run synchronously on the publishing goroutine, so listeners
// with slow sinks must buffer internally.
type ResultService struct {
	logger    *logrus.Logger
	listeners []ResultListener
	mutex     sync.RWMutex
}

// NewResultService creates a new result fan-out service.
func NewResultService(logger *logrus.Logger) *ResultService {
	return &ResultService{
		logger:    logger,
		listeners: make([]ResultListener, 0),
	}
}

// AddListener registers a new result listener.
func (s *ResultService) AddListener(listener ResultListener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.listeners = append(s.listeners, listener)
	s.logger.Info("Added new posture result listener")
}

// RemoveListener removes a result listener.
func (s *ResultService) RemoveListener(listener ResultListener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, l := range s.listeners {
		if l == listener {
			// Remove listener by replacing with last element and truncating
			s.listeners[i] = s.listeners[len(s.listeners)-1]
			s.listeners = s.listeners[:len(s.listeners)-1]
			s.logger.Info("Removed posture result listener")
			return
		}
	}
}

// Publish notifies all listeners about a newly analyzed frame.
func (s *ResultService) Publish(sessionID string, activity Activity, result *Result) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if result == nil {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"status":         result.Status.String(),
		"listener_count": len(s.listeners),
	}).Debug("Publishing posture result to listeners")

	for _, listener := range s.listeners {
		listener.OnResult(sessionID, activity, result)
	}
}
