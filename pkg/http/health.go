package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"postureguard-server/pkg/version"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status         string                 `json:"status"`
	Timestamp      string                 `json:"timestamp"`
	Uptime         string                 `json:"uptime"`
	Version        string                 `json:"version"`
	ActiveSessions int                    `json:"active_sessions"`
	Checks         map[string]CheckResult `json:"checks"`
	System         SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines int    `json:"goroutines"`
	MemoryMB   uint64 `json:"memory_mb"`
	CPUCount   int    `json:"cpu_count"`
	WSClients  int    `json:"ws_clients"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	// Check session storage
	if s.sessions != nil {
		health.Checks["sessions"] = CheckResult{
			Status:  "healthy",
			Message: "Session storage operational",
		}
		health.ActiveSessions = s.sessions.ActiveCount()
	} else {
		health.Checks["sessions"] = CheckResult{
			Status:  "unhealthy",
			Message: "Session manager not available",
		}
		health.Status = "unhealthy"
	}

	// Check pose estimation
	if s.poseProviders != nil {
		if provider, ok := s.poseProviders.GetDefaultProvider(); ok {
			health.Checks["pose"] = CheckResult{
				Status:  "healthy",
				Message: fmt.Sprintf("Pose provider %s registered", provider.Name()),
			}
		} else {
			health.Checks["pose"] = CheckResult{
				Status:  "unhealthy",
				Message: "No default pose provider registered",
			}
			health.Status = "unhealthy"
		}
	} else {
		health.Checks["pose"] = CheckResult{
			Status:  "unhealthy",
			Message: "Pose provider registry not initialized",
		}
		health.Status = "unhealthy"
	}

	// Check WebSocket service
	if s.wsHub != nil && s.wsHub.IsRunning() {
		health.Checks["websocket"] = CheckResult{
			Status:  "healthy",
			Message: "WebSocket hub is running",
		}
		health.System.WSClients = s.wsHub.ClientCount()
	} else {
		health.Checks["websocket"] = CheckResult{
			Status:  "degraded",
			Message: "WebSocket hub not running",
		}
	}

	// Check AMQP if configured
	if s.amqpClient != nil {
		// Safely call IsConnected with panic recovery
		func() {
			defer func() {
				if r := recover(); r != nil {
					health.Checks["amqp"] = CheckResult{
						Status:  "degraded",
						Message: "AMQP client error",
					}
				}
			}()

			if s.amqpClient.IsConnected() {
				health.Checks["amqp"] = CheckResult{
					Status:  "healthy",
					Message: "AMQP connected",
				}
			} else {
				health.Checks["amqp"] = CheckResult{
					Status:  "degraded",
					Message: "AMQP disconnected",
				}
			}
		}()
	}

	// System information
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	// Log health check if it's detailed
	if r.URL.Query().Get("detailed") == "true" {
		s.logger.WithFields(logrus.Fields{
			"status":   health.Status,
			"checks":   health.Checks,
			"system":   health.System,
			"duration": time.Since(startTime),
		}).Debug("Health check performed")
	}

	// Set appropriate status code
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	// Return JSON response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	// Check if essential services are ready
	ready := s.sessions != nil

	if s.poseProviders == nil {
		ready = false
	} else if _, ok := s.poseProviders.GetDefaultProvider(); !ok {
		ready = false
	}

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}
