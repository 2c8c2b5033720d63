package http

import "time"

// Config holds the HTTP server configuration
type Config struct {
	// Port is the HTTP server port
	Port int `json:"port"`

	// EnableMetrics determines if the Prometheus endpoint should be enabled
	EnableMetrics bool `json:"enable_metrics"`

	// MetricsPath is the path for the metrics endpoint
	MetricsPath string `json:"metrics_path"`

	// CORSOrigins lists allowed cross-origin hosts; "*" allows all
	CORSOrigins []string `json:"cors_origins"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `json:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `json:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `json:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for the server to shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// NewDefaultConfig returns a new default configuration. The read and write
// timeouts are sized for video uploads, which can take minutes to receive
// and analyze.
func NewDefaultConfig() *Config {
	return &Config{
		Port:            8080,
		EnableMetrics:   true,
		MetricsPath:     "/metrics",
		CORSOrigins:     []string{"*"},
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// DefaultConfig returns default configuration for the HTTP server (for compatibility)
func DefaultConfig() *Config {
	return NewDefaultConfig()
}
