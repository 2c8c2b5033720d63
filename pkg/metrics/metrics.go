package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Analysis metrics
	FramesAnalyzedTotal *prometheus.CounterVec
	AnalysisLatency     *prometheus.HistogramVec
	AnalysisFaultsTotal prometheus.Counter
	NoPersonFrames      prometheus.Counter
	WarningsIssuedTotal *prometheus.CounterVec

	// Pose estimation metrics
	EstimationRequestsTotal *prometheus.CounterVec
	EstimationLatency       *prometheus.HistogramVec

	// Session metrics
	SessionsActive       prometheus.Gauge
	SessionsStartedTotal prometheus.Counter
	SessionsStoppedTotal prometheus.Counter
	SessionDuration      *prometheus.HistogramVec
	FramesIngestedTotal  prometheus.Counter

	// WebSocket metrics
	WSClientsActive prometheus.Gauge
	WSEventsTotal   *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPReconnectAttempts *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge

	// Video metrics
	VideoUploadsTotal    *prometheus.CounterVec
	VideoFramesProcessed prometheus.Counter
	VideoProcessingTime  prometheus.Histogram
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		// Initialize analysis metrics
		FramesAnalyzedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_frames_analyzed_total",
				Help: "Total number of frames classified, by activity and resulting status",
			},
			[]string{"activity", "status"},
		)

		AnalysisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postureguard_analysis_latency_seconds",
				Help:    "Latency of the rule-based posture classification",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~40ms
			},
			[]string{"activity"},
		)

		AnalysisFaultsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postureguard_analysis_faults_total",
				Help: "Total number of frames that took the internal fault path",
			},
		)

		NoPersonFrames = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postureguard_no_person_frames_total",
				Help: "Total number of frames with no detected person",
			},
		)

		WarningsIssuedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_warnings_issued_total",
				Help: "Total number of posture warnings issued, by activity",
			},
			[]string{"activity"},
		)

		// Initialize pose estimation metrics
		EstimationRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_estimation_requests_total",
				Help: "Total number of pose estimation requests, by provider and status",
			},
			[]string{"provider", "status"},
		)

		EstimationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postureguard_estimation_latency_seconds",
				Help:    "Latency of pose estimation requests",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
			},
			[]string{"provider"},
		)

		// Initialize session metrics
		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "postureguard_sessions_active",
				Help: "Number of live monitoring sessions",
			},
		)

		SessionsStartedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postureguard_sessions_started_total",
				Help: "Total number of monitoring sessions started",
			},
		)

		SessionsStoppedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postureguard_sessions_stopped_total",
				Help: "Total number of monitoring sessions stopped",
			},
		)

		SessionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postureguard_session_duration_seconds",
				Help:    "Duration of monitoring sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9 hours
			},
			[]string{"activity"},
		)

		FramesIngestedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postureguard_frames_ingested_total",
				Help: "Total number of results folded into session statistics",
			},
		)

		// Initialize WebSocket metrics
		WSClientsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "postureguard_websocket_clients_active",
				Help: "Number of connected WebSocket clients",
			},
		)

		WSEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_websocket_events_total",
				Help: "Total number of WebSocket events processed, by event and direction",
			},
			[]string{"event", "direction"},
		)

		// Initialize AMQP metrics
		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"queue", "status"},
		)

		AMQPReconnectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_amqp_reconnect_attempts_total",
				Help: "Total number of AMQP reconnection attempts",
			},
			[]string{"status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "postureguard_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		// Initialize video metrics
		VideoUploadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postureguard_video_uploads_total",
				Help: "Total number of video uploads processed, by status",
			},
			[]string{"status"},
		)

		VideoFramesProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postureguard_video_frames_processed_total",
				Help: "Total number of video frames run through analysis",
			},
		)

		VideoProcessingTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postureguard_video_processing_time_seconds",
				Help:    "Time taken to analyze an uploaded video",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
			},
		)

		// Register all metrics
		registry.MustRegister(
			// Analysis metrics
			FramesAnalyzedTotal,
			AnalysisLatency,
			AnalysisFaultsTotal,
			NoPersonFrames,
			WarningsIssuedTotal,

			// Pose estimation metrics
			EstimationRequestsTotal,
			EstimationLatency,

			// Session metrics
			SessionsActive,
			SessionsStartedTotal,
			SessionsStoppedTotal,
			SessionDuration,
			FramesIngestedTotal,

			// WebSocket metrics
			WSClientsActive,
			WSEventsTotal,

			// AMQP metrics
			AMQPPublishedMessages,
			AMQPReconnectAttempts,
			AMQPConnectionStatus,

			// Video metrics
			VideoUploadsTotal,
			VideoFramesProcessed,
			VideoProcessingTime,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// RecordFrameAnalyzed records one classified frame with its processing time
func RecordFrameAnalyzed(activity, status string, duration time.Duration) {
	if metricsEnabled && FramesAnalyzedTotal != nil {
		FramesAnalyzedTotal.WithLabelValues(activity, status).Inc()
		AnalysisLatency.WithLabelValues(activity).Observe(duration.Seconds())
	}
}

// RecordWarnings records posture warnings issued for one frame
func RecordWarnings(activity string, count int) {
	if metricsEnabled && WarningsIssuedTotal != nil && count > 0 {
		WarningsIssuedTotal.WithLabelValues(activity).Add(float64(count))
	}
}

// RecordAnalysisFault records a frame that took the internal fault path
func RecordAnalysisFault() {
	if metricsEnabled && AnalysisFaultsTotal != nil {
		AnalysisFaultsTotal.Inc()
	}
}

// RecordNoPersonFrame records a frame with no detected person
func RecordNoPersonFrame() {
	if metricsEnabled && NoPersonFrames != nil {
		NoPersonFrames.Inc()
	}
}

// RecordEstimationRequest records a pose estimation request outcome
func RecordEstimationRequest(provider, status string) {
	if metricsEnabled && EstimationRequestsTotal != nil {
		EstimationRequestsTotal.WithLabelValues(provider, status).Inc()
	}
}

// ObserveEstimationLatency records estimation latency with a timer function
func ObserveEstimationLatency(provider string) func() {
	if !metricsEnabled || EstimationLatency == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		EstimationLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}

// RecordSessionStarted records a session start
func RecordSessionStarted() {
	if metricsEnabled && SessionsStartedTotal != nil {
		SessionsStartedTotal.Inc()
	}
}

// RecordSessionStopped records a session stop with its final duration
func RecordSessionStopped(activity string, duration time.Duration) {
	if metricsEnabled && SessionsStoppedTotal != nil {
		SessionsStoppedTotal.Inc()
		SessionDuration.WithLabelValues(activity).Observe(duration.Seconds())
	}
}

// SetSessionsActive sets the live session gauge
func SetSessionsActive(count int) {
	if metricsEnabled && SessionsActive != nil {
		SessionsActive.Set(float64(count))
	}
}

// RecordFrameIngested records one result folded into session statistics
func RecordFrameIngested() {
	if metricsEnabled && FramesIngestedTotal != nil {
		FramesIngestedTotal.Inc()
	}
}

// WSClientConnected increments the connected client gauge
func WSClientConnected() {
	if metricsEnabled && WSClientsActive != nil {
		WSClientsActive.Inc()
	}
}

// WSClientDisconnected decrements the connected client gauge
func WSClientDisconnected() {
	if metricsEnabled && WSClientsActive != nil {
		WSClientsActive.Dec()
	}
}

// RecordWSEvent records a processed WebSocket event
func RecordWSEvent(event, direction string) {
	if metricsEnabled && WSEventsTotal != nil {
		WSEventsTotal.WithLabelValues(event, direction).Inc()
	}
}

// RecordAMQPPublish records metrics for an AMQP publish
func RecordAMQPPublish(queue, status string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}

// RecordAMQPReconnect records an AMQP reconnection attempt
func RecordAMQPReconnect(status string) {
	if metricsEnabled && AMQPReconnectAttempts != nil {
		AMQPReconnectAttempts.WithLabelValues(status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if metricsEnabled && AMQPConnectionStatus != nil {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}

// RecordVideoUpload records the outcome of a video upload
func RecordVideoUpload(status string) {
	if metricsEnabled && VideoUploadsTotal != nil {
		VideoUploadsTotal.WithLabelValues(status).Inc()
	}
}

// RecordVideoFrame records one video frame run through analysis
func RecordVideoFrame() {
	if metricsEnabled && VideoFramesProcessed != nil {
		VideoFramesProcessed.Inc()
	}
}

// ObserveVideoProcessing records video analysis time with a timer function
func ObserveVideoProcessing() func() {
	if !metricsEnabled || VideoProcessingTime == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		VideoProcessingTime.Observe(time.Since(start).Seconds())
	}
}
