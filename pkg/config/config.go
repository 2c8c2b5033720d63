package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Pose      PoseConfig      `json:"pose"`
	Rules     RulesConfig     `json:"rules"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Session   SessionConfig   `json:"session"`
	Video     VideoConfig     `json:"video"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds the HTTP server settings
type HTTPConfig struct {
	// Port is the listen port for the API, WebSocket, and metrics surface
	Port int `json:"port"`

	// EnableMetrics controls the Prometheus /metrics endpoint
	EnableMetrics bool `json:"enable_metrics"`

	// CORSOrigins lists the allowed cross-origin hosts; "*" allows all
	CORSOrigins []string `json:"cors_origins"`
}

// PoseConfig holds the pose estimator collaborator settings
type PoseConfig struct {
	// Provider selects the estimation backend: "http" or "mock"
	Provider string `json:"provider"`

	// Endpoint is the base URL of the HTTP estimator sidecar
	Endpoint string `json:"endpoint"`

	// Timeout bounds one estimation round trip
	Timeout time.Duration `json:"timeout"`

	// ModelComplexity selects the estimator model variant (0, 1, or 2)
	ModelComplexity int `json:"model_complexity"`

	// MinDetectionConfidence gates person detection in the estimator
	MinDetectionConfidence float64 `json:"min_detection_confidence"`

	// MinTrackingConfidence gates landmark tracking in the estimator
	MinTrackingConfidence float64 `json:"min_tracking_confidence"`
}

// RulesConfig holds the posture rule thresholds
type RulesConfig struct {
	SquatBackAngleMin float64 `json:"squat_back_angle_min"`
	SquatKneeDepthMax float64 `json:"squat_knee_depth_max"`
	SquatKneeDepthMin float64 `json:"squat_knee_depth_min"`
	SquatHipHingeMax  float64 `json:"squat_hip_hinge_max"`

	DeskNeckAngleMax           float64 `json:"desk_neck_angle_max"`
	DeskBackStraightTolerance  float64 `json:"desk_back_straight_tolerance"`
	DeskShoulderLevelTolerance float64 `json:"desk_shoulder_level_tolerance"`
	DeskHeadForwardThreshold   float64 `json:"desk_head_forward_threshold"`
}

// AnalysisConfig holds batch analysis settings
type AnalysisConfig struct {
	// FrameSkip analyzes every Nth frame of an uploaded video
	FrameSkip int `json:"frame_skip"`
}

// SessionConfig holds session aggregation settings
type SessionConfig struct {
	// MaxHistory caps the per-session retained result window
	MaxHistory int `json:"max_history"`

	// Timeout is how long a stopped session stays readable before the
	// reaper collects it
	Timeout time.Duration `json:"timeout"`
}

// VideoConfig holds video upload settings
type VideoConfig struct {
	// MaxUploadSize caps an uploaded video in bytes
	MaxUploadSize int64 `json:"max_upload_size"`

	// UploadDir is where uploads are staged during processing
	UploadDir string `json:"upload_dir"`
}

// MessagingConfig holds the AMQP settings; an empty URL disables publishing
type MessagingConfig struct {
	AMQPUrl       string `json:"-"`
	AMQPQueueName string `json:"amqp_queue_name"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level logrus.Level `json:"level"`
}

// Load reads the configuration from the environment, honoring a .env file
// when one is present, and validates the result.
func Load(logger *logrus.Logger) (*Config, error) {
	loadDotEnv(logger)

	config := &Config{}

	loadHTTPConfig(logger, &config.HTTP)
	loadPoseConfig(logger, &config.Pose)
	loadRulesConfig(logger, &config.Rules)
	loadAnalysisConfig(logger, &config.Analysis)
	loadSessionConfig(logger, &config.Session)
	loadVideoConfig(logger, &config.Video)
	loadMessagingConfig(logger, &config.Messaging)
	loadLoggingConfig(logger, &config.Logging)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return config, nil
}

// loadDotEnv loads a .env file when one exists. Absence is normal and only
// worth a warning; real deployments configure through the environment.
func loadDotEnv(logger *logrus.Logger) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	for _, envFile := range []string{".env", "../.env"} {
		if loadErr := godotenv.Load(envFile); loadErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithFields(logrus.Fields{
				"working_dir": wd,
				"path":        absPath,
			}).Info("Successfully loaded .env file")
			return
		}
	}

	logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
}

func loadHTTPConfig(logger *logrus.Logger, http *HTTPConfig) {
	http.Port = getEnvInt(logger, "HTTP_PORT", 8080)
	http.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)

	origins := getEnv("CORS_ORIGINS", "*")
	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			http.CORSOrigins = append(http.CORSOrigins, trimmed)
		}
	}
	if len(http.CORSOrigins) == 0 {
		http.CORSOrigins = []string{"*"}
	}
}

func loadPoseConfig(logger *logrus.Logger, pose *PoseConfig) {
	pose.Provider = strings.ToLower(getEnv("POSE_PROVIDER", "mock"))
	pose.Endpoint = getEnv("POSE_ENDPOINT", "http://localhost:5001")
	pose.Timeout = getEnvDuration(logger, "POSE_TIMEOUT", 10*time.Second)
	pose.ModelComplexity = getEnvInt(logger, "MODEL_COMPLEXITY", 1)
	pose.MinDetectionConfidence = getEnvFloat(logger, "MIN_DETECTION_CONFIDENCE", 0.5)
	pose.MinTrackingConfidence = getEnvFloat(logger, "MIN_TRACKING_CONFIDENCE", 0.5)

	if pose.Provider == "mock" {
		logger.Warn("POSE_PROVIDER is 'mock'; analysis will run on synthetic skeletons")
	}
}

func loadRulesConfig(logger *logrus.Logger, rules *RulesConfig) {
	rules.SquatBackAngleMin = getEnvFloat(logger, "SQUAT_BACK_ANGLE_MIN", 150)
	rules.SquatKneeDepthMax = getEnvFloat(logger, "SQUAT_KNEE_DEPTH_MAX", 120)
	rules.SquatKneeDepthMin = getEnvFloat(logger, "SQUAT_KNEE_DEPTH_MIN", 70)
	rules.SquatHipHingeMax = getEnvFloat(logger, "SQUAT_HIP_HINGE_MAX", 160)
	rules.DeskNeckAngleMax = getEnvFloat(logger, "DESK_NECK_ANGLE_MAX", 30)
	rules.DeskBackStraightTolerance = getEnvFloat(logger, "DESK_BACK_STRAIGHT_TOLERANCE", 15)
	rules.DeskShoulderLevelTolerance = getEnvFloat(logger, "DESK_SHOULDER_LEVEL_TOLERANCE", 0.05)
	rules.DeskHeadForwardThreshold = getEnvFloat(logger, "DESK_HEAD_FORWARD_THRESHOLD", 0.10)
}

func loadAnalysisConfig(logger *logrus.Logger, analysis *AnalysisConfig) {
	analysis.FrameSkip = getEnvInt(logger, "ANALYSIS_FRAME_SKIP", 5)
}

func loadSessionConfig(logger *logrus.Logger, session *SessionConfig) {
	session.MaxHistory = getEnvInt(logger, "MAX_POSTURE_HISTORY", 100)
	session.Timeout = getEnvDuration(logger, "SESSION_TIMEOUT", time.Hour)
}

func loadVideoConfig(logger *logrus.Logger, video *VideoConfig) {
	video.MaxUploadSize = int64(getEnvInt(logger, "MAX_UPLOAD_SIZE", 100*1024*1024))
	video.UploadDir = getEnv("UPLOAD_DIR", "/tmp/postureguard-uploads")
}

func loadMessagingConfig(logger *logrus.Logger, messaging *MessagingConfig) {
	messaging.AMQPUrl = getEnv("AMQP_URL", "")
	messaging.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "posture_events")

	if messaging.AMQPUrl == "" {
		logger.Info("AMQP_URL not set; result publishing is disabled")
	}
}

func loadLoggingConfig(logger *logrus.Logger, logging *LoggingConfig) {
	levelStr := getEnv("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", levelStr)
		level = logrus.InfoLevel
	}
	logging.Level = level
}

// Validate checks the loaded configuration for values the server cannot
// run with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.NewInvalidInput(fmt.Sprintf("HTTP_PORT %d out of range", c.HTTP.Port))
	}

	if c.Pose.Provider != "http" && c.Pose.Provider != "mock" {
		return errors.NewInvalidInput(fmt.Sprintf("POSE_PROVIDER %q must be 'http' or 'mock'", c.Pose.Provider))
	}
	if c.Pose.Provider == "http" && c.Pose.Endpoint == "" {
		return errors.NewInvalidInput("POSE_ENDPOINT required when POSE_PROVIDER is 'http'")
	}
	if c.Pose.ModelComplexity < 0 || c.Pose.ModelComplexity > 2 {
		return errors.NewInvalidInput(fmt.Sprintf("MODEL_COMPLEXITY %d must be 0, 1, or 2", c.Pose.ModelComplexity))
	}
	if c.Pose.MinDetectionConfidence < 0 || c.Pose.MinDetectionConfidence > 1 {
		return errors.NewInvalidInput("MIN_DETECTION_CONFIDENCE must be within [0,1]")
	}
	if c.Pose.MinTrackingConfidence < 0 || c.Pose.MinTrackingConfidence > 1 {
		return errors.NewInvalidInput("MIN_TRACKING_CONFIDENCE must be within [0,1]")
	}

	if c.Rules.SquatKneeDepthMin >= c.Rules.SquatKneeDepthMax {
		return errors.NewInvalidInput("SQUAT_KNEE_DEPTH_MIN must be below SQUAT_KNEE_DEPTH_MAX")
	}

	if c.Analysis.FrameSkip <= 0 {
		return errors.NewInvalidInput("ANALYSIS_FRAME_SKIP must be positive")
	}
	if c.Session.MaxHistory <= 0 {
		return errors.NewInvalidInput("MAX_POSTURE_HISTORY must be positive")
	}
	if c.Video.MaxUploadSize <= 0 {
		return errors.NewInvalidInput("MAX_UPLOAD_SIZE must be positive")
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(logger *logrus.Logger, key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		logger.Warnf("Invalid %s '%s', defaulting to %d", key, value, defaultValue)
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default
// value. Whole numbers are read as seconds.
func getEnvDuration(logger *logrus.Logger, key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		logger.Warnf("Invalid %s '%s', defaulting to %s", key, value, defaultValue)
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(logger *logrus.Logger, key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warnf("Invalid %s '%s', defaulting to %g", key, value, defaultValue)
		return defaultValue
	}

	return floatValue
}
