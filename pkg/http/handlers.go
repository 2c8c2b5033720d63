package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/errors"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
	"postureguard-server/pkg/session"
	"postureguard-server/pkg/video"

	"github.com/sirupsen/logrus"
)

// multipartMemory caps the in-memory portion of a parsed upload; the rest
// spills to temp files.
const multipartMemory = 32 << 20

// SessionReader exposes the read-only statistics surface of the session
// manager.
type SessionReader interface {
	Stats(sessionID string) session.Summary
}

// AnalyzeFrameRequest is the body of POST /api/analyze-frame
type AnalyzeFrameRequest struct {
	Image    string `json:"image"`
	Activity string `json:"activity,omitempty"`
}

// VideoUploadResponse is the body of a successful POST /api/upload-video
type VideoUploadResponse struct {
	Success bool `json:"success"`
	*video.Batch
}

// PostureHandler handles the posture analysis REST API requests
type PostureHandler struct {
	logger        *logrus.Logger
	providers     *pose.ProviderManager
	analyzer      *analysis.Analyzer
	sessions      SessionReader
	video         *video.Processor
	maxUploadSize int64
}

// NewPostureHandler creates a new posture analysis REST handler
func NewPostureHandler(logger *logrus.Logger, providers *pose.ProviderManager, analyzer *analysis.Analyzer, sessions SessionReader, processor *video.Processor, maxUploadSize int64) *PostureHandler {
	return &PostureHandler{
		logger:        logger,
		providers:     providers,
		analyzer:      analyzer,
		sessions:      sessions,
		video:         processor,
		maxUploadSize: maxUploadSize,
	}
}

// RegisterHandlers registers the posture API handlers with the HTTP server
func (h *PostureHandler) RegisterHandlers(server *Server) {
	server.RegisterHandler("/api/analyze-frame", h.handleAnalyzeFrame)
	server.RegisterHandler("/api/upload-video", h.handleUploadVideo)
	server.RegisterHandler("/api/session-stats", h.handleSessionStats)

	h.logger.Info("Posture API handlers registered")
}

// handleAnalyzeFrame analyzes a single frame without session side effects
func (h *PostureHandler) handleAnalyzeFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		h.writeError(w, errors.NewInvalidImage("no image data provided"))
		return
	}

	image, err := decodeImagePayload(req.Image)
	if err != nil {
		h.writeError(w, err)
		return
	}

	activity, err := analysis.ParseActivity(req.Activity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	landmarks, err := h.providers.Detect(r.Context(), "", image)
	if err != nil {
		h.logger.WithError(err).Error("Pose estimation failed for frame analysis")
		if !errors.IsErrorType(err, errors.ErrEstimationFailed) {
			err = errors.NewEstimationFailed(err.Error())
		}
		h.writeError(w, err)
		return
	}

	result := h.analyzer.Analyze(landmarks, activity)

	writeJSONResponse(w, result, http.StatusOK)
}

// handleUploadVideo runs the batch pipeline over an uploaded video file
func (h *PostureHandler) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	if h.maxUploadSize > 0 && r.ContentLength > h.maxUploadSize {
		metrics.RecordVideoUpload("rejected")
		h.writeError(w, errors.Wrap(errors.ErrUploadTooLarge,
			fmt.Sprintf("request body is %d bytes, limit is %d", r.ContentLength, h.maxUploadSize)))
		return
	}
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		metrics.RecordVideoUpload("rejected")
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(w, errors.Wrap(errors.ErrUploadTooLarge, err.Error()))
			return
		}
		h.writeError(w, errors.NewInvalidInput("malformed multipart form"))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		metrics.RecordVideoUpload("rejected")
		h.writeError(w, errors.NewInvalidInput("no video file provided"))
		return
	}
	defer file.Close()

	if header.Filename == "" {
		metrics.RecordVideoUpload("rejected")
		h.writeError(w, errors.NewInvalidInput("no file selected"))
		return
	}

	if !h.video.SupportedFile(header.Filename) {
		metrics.RecordVideoUpload("rejected")
		h.writeError(w, errors.NewInvalidInput(
			fmt.Sprintf("unsupported video format: %q", filepath.Ext(header.Filename))))
		return
	}

	if !h.video.Available() {
		metrics.RecordVideoUpload("unsupported")
		h.writeError(w, errors.Wrap(errors.ErrVideoUnsupported, "video decoding is not compiled into this build"))
		return
	}

	activity, err := analysis.ParseActivity(r.FormValue("activity"))
	if err != nil {
		metrics.RecordVideoUpload("rejected")
		h.writeError(w, err)
		return
	}

	path, cleanup, err := h.video.Stage(file, header.Filename)
	if err != nil {
		metrics.RecordVideoUpload("error")
		h.writeError(w, err)
		return
	}
	defer cleanup()

	batch, err := h.video.ProcessFile(r.Context(), path, activity)
	if err != nil {
		metrics.RecordVideoUpload("error")
		h.logger.WithError(err).WithField("filename", header.Filename).Error("Video analysis failed")
		h.writeError(w, err)
		return
	}

	metrics.RecordVideoUpload("success")
	h.logger.WithFields(logrus.Fields{
		"filename":        header.Filename,
		"activity":        activity.String(),
		"analyzed_frames": batch.TotalFrames,
	}).Info("Video upload analyzed")

	writeJSONResponse(w, VideoUploadResponse{Success: true, Batch: batch}, http.StatusOK)
}

// handleSessionStats returns the summary snapshot for one session
func (h *PostureHandler) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}

	// Unknown ids get a zeroed summary, never an error
	stats := h.sessions.Stats(sessionID)

	writeJSONResponse(w, stats, http.StatusOK)
}

// writeError writes a structured error response with the status derived
// from the error chain
func (h *PostureHandler) writeError(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	h.logger.WithError(err).Warn("Posture API error response")
}

// Helper functions

// decodeImagePayload decodes a base64 frame, tolerating a data-URL prefix
// such as "data:image/jpeg;base64,".
func decodeImagePayload(payload string) ([]byte, error) {
	if _, after, found := strings.Cut(payload, ","); found {
		payload = after
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.NewInvalidImage("invalid image data")
	}
	if len(decoded) == 0 {
		return nil, errors.NewInvalidImage("empty image payload")
	}

	return decoded, nil
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"error": err.Error(),
		"code":  statusCode,
	}
	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		logrus.WithError(encErr).Error("Failed to encode JSON error response")
	}
}
