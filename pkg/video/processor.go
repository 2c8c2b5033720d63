package video

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/errors"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
)

// EmitFunc receives one decoded frame as an encoded JPEG. Returning an error
// aborts the decode loop.
type EmitFunc func(frameNumber int, timestamp float64, image []byte) error

// allowedExtensions are the video containers the decoder accepts.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// FrameResult is a posture result tagged with its position in the source
// video. The timestamp is in seconds from the start of the clip.
type FrameResult struct {
	analysis.Result
	FrameNumber    int     `json:"frame_number"`
	TimestampVideo float64 `json:"timestamp_video"`
}

// Batch holds the outcome of analyzing one uploaded video.
type Batch struct {
	Results []FrameResult `json:"results"`

	// TotalFrames counts the analyzed frames, matching len(Results).
	TotalFrames int `json:"total_frames"`

	// FramesRead counts every decoded frame, including ones the stride
	// skipped. Diagnostic only.
	FramesRead int `json:"-"`
}

// Processor runs the per-frame analysis pipeline over uploaded videos.
// Batch results never touch sessions.
type Processor struct {
	logger    *logrus.Logger
	decoder   *Decoder
	providers *pose.ProviderManager
	analyzer  *analysis.Analyzer
	stride    int
	uploadDir string
}

// NewProcessor creates a video processor analyzing every stride-th frame.
func NewProcessor(logger *logrus.Logger, providers *pose.ProviderManager, analyzer *analysis.Analyzer, stride int, uploadDir string) *Processor {
	if stride <= 0 {
		stride = 1
	}

	return &Processor{
		logger:    logger,
		decoder:   NewDecoder(logger),
		providers: providers,
		analyzer:  analyzer,
		stride:    stride,
		uploadDir: uploadDir,
	}
}

// Available reports whether this build can decode video.
func (p *Processor) Available() bool {
	return p.decoder.Available()
}

// SupportedFile reports whether the filename carries an accepted video
// extension.
func (p *Processor) SupportedFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return allowedExtensions[ext]
}

// Stage copies an upload into the staging directory under a unique name and
// returns the staged path with a cleanup function removing it.
func (p *Processor) Stage(src io.Reader, originalName string) (string, func(), error) {
	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return "", nil, errors.Wrap(err, "failed to create upload directory")
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(p.uploadDir, uuid.New().String()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to stage upload")
	}

	written, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", nil, errors.Wrap(err, "failed to stage upload")
	}

	p.logger.WithFields(logrus.Fields{
		"path":  path,
		"bytes": written,
	}).Debug("Staged video upload")

	cleanup := func() {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			p.logger.WithFields(logrus.Fields{
				"path":  path,
				"error": removeErr,
			}).Warn("Failed to remove staged upload")
		}
	}

	return path, cleanup, nil
}

// ProcessFile decodes the staged video and classifies every stride-th frame
// for the activity. A frame whose estimation fails aborts the batch; the
// analyzer itself never fails a frame.
func (p *Processor) ProcessFile(ctx context.Context, path string, activity analysis.Activity) (*Batch, error) {
	done := metrics.ObserveVideoProcessing()
	defer done()

	results := make([]FrameResult, 0, 64)

	read, err := p.decoder.Decode(ctx, path, p.stride, func(frameNumber int, timestamp float64, image []byte) error {
		landmarks, detectErr := p.providers.Detect(ctx, "", image)
		if detectErr != nil {
			return errors.Wrap(detectErr, fmt.Sprintf("estimation failed at frame %d", frameNumber))
		}

		result := p.analyzer.Analyze(landmarks, activity)
		results = append(results, FrameResult{
			Result:         *result,
			FrameNumber:    frameNumber,
			TimestampVideo: timestamp,
		})
		metrics.RecordVideoFrame()

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"path":            path,
		"activity":        activity.String(),
		"frames_read":     read,
		"analyzed_frames": len(results),
	}).Info("Video analysis completed")

	return &Batch{Results: results, TotalFrames: len(results), FramesRead: read}, nil
}
