//go:build video
// +build video

package video

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"postureguard-server/pkg/errors"
)

// defaultFPS stands in when the container reports no frame rate.
const defaultFPS = 30.0

// Decoder walks a video file frame by frame using OpenCV.
type Decoder struct {
	logger *logrus.Logger
}

// NewDecoder creates a decoder backed by the OpenCV toolchain.
func NewDecoder(logger *logrus.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Available reports whether this build can decode video.
func (d *Decoder) Available() bool {
	return true
}

// Decode reads the file at path and hands every stride-th frame, starting
// with frame zero, to emit as an encoded JPEG. The frame timestamp is the
// frame number divided by the container frame rate. Decode returns the total
// number of frames read, including skipped ones.
func (d *Decoder) Decode(ctx context.Context, path string, stride int, emit EmitFunc) (int, error) {
	if stride <= 0 {
		stride = 1
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return 0, errors.Wrap(errors.ErrVideoDecodeFailed, fmt.Sprintf("open %s: %v", path, err))
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		d.logger.WithField("path", path).Warn("Video reports no frame rate, assuming 30fps")
		fps = defaultFPS
	}

	mat := gocv.NewMat()
	defer mat.Close()

	frameNumber := 0
	for {
		select {
		case <-ctx.Done():
			return frameNumber, errors.Wrap(ctx.Err(), "video decoding canceled")
		default:
		}

		if ok := capture.Read(&mat); !ok {
			break
		}
		if mat.Empty() {
			continue
		}

		if frameNumber%stride == 0 {
			buf, encErr := gocv.IMEncode(gocv.JPEGFileExt, mat)
			if encErr != nil {
				d.logger.WithFields(logrus.Fields{
					"path":  path,
					"frame": frameNumber,
					"error": encErr,
				}).Warn("Failed to encode video frame, skipping")
				frameNumber++
				continue
			}

			image := make([]byte, len(buf.GetBytes()))
			copy(image, buf.GetBytes())
			buf.Close()

			if emitErr := emit(frameNumber, float64(frameNumber)/fps, image); emitErr != nil {
				return frameNumber, emitErr
			}
		}

		frameNumber++
	}

	d.logger.WithFields(logrus.Fields{
		"path":   path,
		"frames": frameNumber,
		"fps":    fps,
	}).Debug("Video decoding completed")

	return frameNumber, nil
}
