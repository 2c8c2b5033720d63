package analysis

import (
	"time"

	"postureguard-server/pkg/pose"
)

// Status classifies the posture quality of one analyzed frame.
type Status string

const (
	// StatusNeutral marks frames with no person visible or an analysis fault.
	StatusNeutral Status = "neutral"
	// StatusGood marks frames where every rule passed.
	StatusGood Status = "good"
	// StatusWarning marks frames with correctable form issues.
	StatusWarning Status = "warning"
	// StatusBad marks frames needing immediate correction.
	StatusBad Status = "bad"
)

// String returns the wire name of the status.
func (s Status) String() string {
	return string(s)
}

// Result is the complete outcome of analyzing one frame. Results are
// immutable once assembled and carry everything a client needs to render
// feedback for the frame.
type Result struct {
	Timestamp    time.Time          `json:"timestamp"`
	Status       Status             `json:"status"`
	Warnings     []string           `json:"warnings"`
	Confidence   float64            `json:"confidence"`
	Keypoints    []pose.Keypoint    `json:"keypoints"`
	Angles       AngleSet           `json:"angles"`
	Measurements map[string]float64 `json:"measurements,omitempty"`

	// fault holds the diagnostic cause on the degraded paths:
	// ErrNoPersonDetected for empty frames, the recovered cause for
	// analysis errors. Never serialized.
	fault error
}

// Fault returns the diagnostic cause behind a degraded result, or nil for
// results produced normally.
func (r *Result) Fault() error {
	if r == nil {
		return nil
	}
	return r.fault
}
