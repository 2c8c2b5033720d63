package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/config"
	http_server "postureguard-server/pkg/http"
	"postureguard-server/pkg/messaging"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
	"postureguard-server/pkg/session"
	"postureguard-server/pkg/video"
)

var (
	logger         = logrus.New()
	appConfig      *config.Config
	poseProviders  *pose.ProviderManager
	analyzer       *analysis.Analyzer
	resultService  *analysis.ResultService
	sessionManager *session.Manager
	amqpClient     *messaging.AMQPClient
	videoProcessor *video.Processor
	httpServer     *http_server.Server
	wsHub          *http_server.PostureHub

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Set up logger with basic configuration (will be updated after config is loaded)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	// Initialize the root context for graceful shutdown
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	// Initialize everything
	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	// Start HTTP server for the API, WebSocket, and metrics surface
	httpServer.Start()
	logger.Info("HTTP server started")

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	// Create a context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Cancel the root context to signal shutdown to all goroutines
	rootCancel()

	// Shutdown HTTP server first so no new frames arrive
	if httpServer != nil {
		logger.Debug("Shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		} else {
			logger.Info("HTTP server shut down successfully")
		}
	}

	// The hub drains through context cancellation; give connections a
	// moment to close gracefully
	if wsHub != nil {
		logger.Debug("Shutting down WebSocket hub...")
		time.Sleep(500 * time.Millisecond)
		logger.Info("WebSocket hub shut down")
	}

	// Disconnect from AMQP
	if amqpClient != nil {
		logger.Debug("Disconnecting from AMQP...")
		amqpClient.Disconnect()
		logger.Info("AMQP disconnected")
	}

	// Stop the session reaper last; records are in-memory only
	if sessionManager != nil {
		sessionManager.Shutdown()
	}

	logger.Info("Application shut down gracefully")
}

// initialize loads configuration and initializes all components
func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Apply logging configuration
	logger.SetLevel(appConfig.Logging.Level)
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	// Initialize metrics system
	metrics.StartMetrics(logger, appConfig.HTTP.EnableMetrics)
	logger.Info("Metrics system initialized")

	// Posture analyzer with the configured rule thresholds
	analyzer = analysis.NewAnalyzer(logger, thresholdsFromConfig(&appConfig.Rules))

	// Register the configured pose estimation backend
	poseProviders = pose.NewProviderManager(logger, appConfig.Pose.Provider)
	switch appConfig.Pose.Provider {
	case "http":
		provider := pose.NewHTTPProvider(logger, pose.HTTPProviderConfig{
			Endpoint:               appConfig.Pose.Endpoint,
			Timeout:                appConfig.Pose.Timeout,
			ModelComplexity:        appConfig.Pose.ModelComplexity,
			MinDetectionConfidence: appConfig.Pose.MinDetectionConfidence,
			MinTrackingConfidence:  appConfig.Pose.MinTrackingConfidence,
		})
		if err := poseProviders.RegisterProvider(provider); err != nil {
			return fmt.Errorf("failed to register HTTP pose provider: %w", err)
		}
	case "mock":
		if err := poseProviders.RegisterProvider(pose.NewMockProvider(logger)); err != nil {
			return fmt.Errorf("failed to register mock pose provider: %w", err)
		}
	default:
		return fmt.Errorf("unsupported pose provider %q", appConfig.Pose.Provider)
	}
	logger.WithFields(logrus.Fields{
		"provider": appConfig.Pose.Provider,
		"endpoint": appConfig.Pose.Endpoint,
	}).Info("Pose estimation provider initialized")

	// Session aggregation
	sessionManager = session.NewManager(logger, &session.ManagerConfig{
		HistoryCapacity:  appConfig.Session.MaxHistory,
		StoppedRetention: appConfig.Session.Timeout,
	})

	// Result fan-out for downstream consumers
	resultService = analysis.NewResultService(logger)

	// Initialize AMQP client with robust error handling
	if appConfig.Messaging.AMQPUrl != "" && appConfig.Messaging.AMQPQueueName != "" {
		logger.Info("Initializing AMQP client")

		client := messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:        appConfig.Messaging.AMQPUrl,
			QueueName:  appConfig.Messaging.AMQPQueueName,
			RoutingKey: appConfig.Messaging.AMQPQueueName,
			Durable:    true,
			AutoDelete: false,
		})

		// Connect in a goroutine with a timeout so a slow broker does not
		// block server startup
		connectChan := make(chan error, 1)
		go func() {
			connectChan <- client.Connect()
		}()

		select {
		case connectErr := <-connectChan:
			if connectErr != nil {
				logger.WithError(connectErr).Warn("Failed to connect to AMQP server, continuing without result publishing")
			} else {
				amqpClient = client
				logger.Info("AMQP client initialized successfully")
			}
		case <-time.After(5 * time.Second):
			logger.Warn("AMQP initialization timed out after 5 seconds, continuing without result publishing")
		}
	} else {
		logger.Warn("AMQP not configured, posture results will not be sent to message queue")
	}

	if amqpClient != nil && amqpClient.IsConnected() {
		resultService.AddListener(messaging.NewAMQPResultListener(logger, amqpClient))
		logger.Info("AMQP result listener registered")
	}

	// Video upload pipeline
	videoProcessor = video.NewProcessor(logger, poseProviders, analyzer, appConfig.Analysis.FrameSkip, appConfig.Video.UploadDir)

	// Initialize HTTP server
	serverConfig := http_server.NewDefaultConfig()
	serverConfig.Port = appConfig.HTTP.Port
	serverConfig.EnableMetrics = appConfig.HTTP.EnableMetrics
	serverConfig.CORSOrigins = appConfig.HTTP.CORSOrigins

	httpServer = http_server.NewServer(logger, serverConfig, sessionManager)
	httpServer.SetPoseProviders(poseProviders)
	if amqpClient != nil {
		httpServer.SetAMQPClient(amqpClient)
	}

	// Create the WebSocket hub and start it in a goroutine
	wsHub = http_server.NewPostureHub(logger, sessionManager, poseProviders, analyzer, resultService)
	go wsHub.Run(rootCtx)
	httpServer.SetWebSocketHub(wsHub)

	// Register the posture API handlers
	postureHandler := http_server.NewPostureHandler(logger, poseProviders, analyzer, sessionManager, videoProcessor, appConfig.Video.MaxUploadSize)
	postureHandler.RegisterHandlers(httpServer)

	// Log configuration on startup
	logStartupConfig()

	return nil
}

// thresholdsFromConfig maps the rule limits loaded from the environment onto
// the analyzer's thresholds.
func thresholdsFromConfig(rules *config.RulesConfig) analysis.Thresholds {
	return analysis.Thresholds{
		SquatBackAngleMin:          rules.SquatBackAngleMin,
		SquatKneeDepthMax:          rules.SquatKneeDepthMax,
		SquatKneeDepthMin:          rules.SquatKneeDepthMin,
		SquatHipHingeMax:           rules.SquatHipHingeMax,
		DeskNeckAngleMax:           rules.DeskNeckAngleMax,
		DeskBackStraightTolerance:  rules.DeskBackStraightTolerance,
		DeskShoulderLevelTolerance: rules.DeskShoulderLevelTolerance,
		DeskHeadForwardThreshold:   rules.DeskHeadForwardThreshold,
	}
}

// logStartupConfig logs the current configuration
func logStartupConfig() {
	logger.Info("PostureGuard server is starting with the following configuration:")

	// HTTP configuration
	logger.WithFields(logrus.Fields{
		"http_port":    appConfig.HTTP.Port,
		"http_metrics": appConfig.HTTP.EnableMetrics,
		"cors_origins": appConfig.HTTP.CORSOrigins,
	}).Info("HTTP server configuration")

	// Pose estimation configuration
	logger.WithFields(logrus.Fields{
		"provider":                 appConfig.Pose.Provider,
		"endpoint":                 appConfig.Pose.Endpoint,
		"timeout":                  appConfig.Pose.Timeout,
		"model_complexity":         appConfig.Pose.ModelComplexity,
		"min_detection_confidence": appConfig.Pose.MinDetectionConfidence,
	}).Info("Pose estimation configuration")

	// Video analysis configuration
	logger.WithFields(logrus.Fields{
		"frame_skip":      appConfig.Analysis.FrameSkip,
		"max_upload_size": appConfig.Video.MaxUploadSize,
		"upload_dir":      appConfig.Video.UploadDir,
		"video_decoding":  videoProcessor.Available(),
	}).Info("Video analysis configuration")

	// Session configuration
	logger.WithFields(logrus.Fields{
		"max_history":     appConfig.Session.MaxHistory,
		"session_timeout": appConfig.Session.Timeout,
	}).Info("Session configuration")

	// Messaging configuration
	logger.WithFields(logrus.Fields{
		"amqp_configured": appConfig.Messaging.AMQPUrl != "",
		"amqp_queue":      appConfig.Messaging.AMQPQueueName,
		"amqp_connected":  amqpClient != nil && amqpClient.IsConnected(),
	}).Info("Messaging configuration")
}
