package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"postureguard-server/pkg/errors"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
	"postureguard-server/pkg/version"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SessionCounter exposes the live session count for health and status
// endpoints. The session manager satisfies it.
type SessionCounter interface {
	ActiveCount() int
}

// ConnectionChecker reports broker connectivity for health checks. The AMQP
// client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// Server represents the HTTP server for the API, WebSocket, health checks,
// and metrics
type Server struct {
	config             *Config
	logger             *logrus.Logger
	httpServer         *http.Server
	mux                *http.ServeMux
	sessions           SessionCounter
	startTime          time.Time
	additionalHandlers map[string]http.HandlerFunc
	wsHub              *PostureHub
	amqpClient         ConnectionChecker
	poseProviders      *pose.ProviderManager
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, config *Config, sessions SessionCounter) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	server := &Server{
		config:             config,
		logger:             logger,
		sessions:           sessions,
		startTime:          time.Now(),
		additionalHandlers: make(map[string]http.HandlerFunc),
	}

	mux := http.NewServeMux()
	server.mux = mux
	rootHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.corsMiddleware(mux).ServeHTTP(w, r)
	})

	// Wrap handlers with middleware that adds Server header
	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	// Register standard endpoints
	mux.HandleFunc("/health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.ReadinessHandler))

	if config.EnableMetrics {
		if registry := metrics.GetRegistry(); registry != nil {
			promHandler := promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
					Registry:          registry,
				},
			)
			mux.HandleFunc(config.MetricsPath, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.Info("Prometheus metrics endpoint enabled at " + config.MetricsPath)
		} else {
			logger.Warn("Metrics registry not initialized, metrics endpoint unavailable")
		}
	} else {
		logger.Info("Metrics endpoints disabled")
	}

	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      rootHandler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server
}

// corsMiddleware applies the configured origin policy and answers preflight
// requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowed := s.allowedOrigin(origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or empty when the origin is not allowed.
func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// RegisterHandler adds a custom handler to the server
func (s *Server) RegisterHandler(path string, handler http.HandlerFunc) {
	s.additionalHandlers[path] = handler

	if s.mux != nil {
		s.mux.HandleFunc(path, handler)
	}

	s.logger.WithField("path", path).Info("Registered custom HTTP handler")
}

// SetWebSocketHub sets the WebSocket hub and registers the /ws endpoint
func (s *Server) SetWebSocketHub(hub *PostureHub) {
	s.wsHub = hub

	if s.mux != nil {
		s.mux.HandleFunc("/ws", hub.ServeWS)
		s.logger.Info("WebSocket endpoint registered at /ws")
	}
}

// SetAMQPClient sets the AMQP client reference for health checks
func (s *Server) SetAMQPClient(client ConnectionChecker) {
	s.amqpClient = client
}

// SetPoseProviders sets the pose provider registry for health checks
func (s *Server) SetPoseProviders(providers *pose.ProviderManager) {
	s.poseProviders = providers
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		s.logger.Infof("HTTP server listening on port %d", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	// Verify that we can actually bind to the port
	go func() {
		time.Sleep(500 * time.Millisecond)

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port), 2*time.Second)
		if err != nil {
			s.logger.WithError(err).Error("Could not connect to HTTP server")
		} else {
			s.logger.Info("HTTP server is running correctly")
			conn.Close()
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.WithField("endpoint", "/status").Debug("Status endpoint accessed")

	status := map[string]interface{}{
		"status":          "ok",
		"uptime":          time.Since(s.startTime).String(),
		"active_sessions": 0,
		"version":         version.Version,
		"started_at":      s.startTime.Format(time.RFC3339),
	}

	if s.sessions != nil {
		status["active_sessions"] = s.sessions.ActiveCount()
	}
	if s.wsHub != nil {
		status["websocket_clients"] = s.wsHub.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}

// Handler returns the root handler, for tests exercising the full
// middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
