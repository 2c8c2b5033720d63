//go:build !video
// +build !video

package video

import (
	"context"

	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/errors"
)

// Decoder is the fallback for builds without the video tag. Every decode
// attempt reports that video support is compiled out.
type Decoder struct {
	logger *logrus.Logger
}

// NewDecoder creates the stub decoder.
func NewDecoder(logger *logrus.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Available reports whether this build can decode video.
func (d *Decoder) Available() bool {
	return false
}

// Decode always fails; rebuild with the video tag for OpenCV support.
func (d *Decoder) Decode(ctx context.Context, path string, stride int, emit EmitFunc) (int, error) {
	_ = ctx
	_ = path
	_ = stride
	_ = emit
	return 0, errors.Wrap(errors.ErrVideoUnsupported, "rebuild with -tags video to enable decoding")
}
