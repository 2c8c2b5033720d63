package pose

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MockProvider implements a pose provider for testing and offline operation.
// It cycles through canned skeletons so downstream consumers see realistic,
// changing classifications without a running estimator.
type MockProvider struct {
	logger *logrus.Logger

	mu        sync.Mutex
	calls     int
	landmarks []RawLandmark
	empty     bool
}

// NewMockProvider creates a new mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock pose provider initialized")
	return nil
}

// SetLandmarks pins the provider to a fixed landmark set
func (p *MockProvider) SetLandmarks(landmarks []RawLandmark) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.landmarks = landmarks
}

// SetEmpty makes the provider report an empty frame (no person)
func (p *MockProvider) SetEmpty(empty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.empty = empty
}

// DetectPose returns a canned skeleton, alternating between an upright and a
// slouched figure so statuses vary over a stream of frames.
func (p *MockProvider) DetectPose(ctx context.Context, image []byte) ([]RawLandmark, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.empty {
		p.logger.Debug("Mock pose provider returning empty frame")
		return nil, nil
	}

	if p.landmarks != nil {
		return p.landmarks, nil
	}

	p.calls++
	skeleton := uprightSkeleton()
	if p.calls%4 == 0 {
		skeleton = slouchedSkeleton()
	}

	p.logger.WithFields(logrus.Fields{
		"call":      p.calls,
		"landmarks": len(skeleton),
	}).Debug("Mock pose provider generated skeleton")

	return skeleton, nil
}

// uprightSkeleton is a camera-facing figure standing centered in the frame.
func uprightSkeleton() []RawLandmark {
	pts := make([]RawLandmark, LandmarkCount)
	set := func(l Landmark, x, y float64) {
		pts[l] = RawLandmark{X: x, Y: y, Z: -0.05, Visibility: 0.97}
	}

	set(Nose, 0.47, 0.18)
	set(LeftEyeInner, 0.455, 0.165)
	set(LeftEye, 0.45, 0.165)
	set(LeftEyeOuter, 0.445, 0.165)
	set(RightEyeInner, 0.485, 0.165)
	set(RightEye, 0.49, 0.165)
	set(RightEyeOuter, 0.495, 0.165)
	set(LeftEar, 0.43, 0.175)
	set(RightEar, 0.51, 0.175)
	set(MouthLeft, 0.455, 0.205)
	set(MouthRight, 0.485, 0.205)
	set(LeftShoulder, 0.42, 0.30)
	set(RightShoulder, 0.52, 0.30)
	set(LeftElbow, 0.40, 0.42)
	set(RightElbow, 0.54, 0.42)
	set(LeftWrist, 0.39, 0.53)
	set(RightWrist, 0.55, 0.53)
	set(LeftPinky, 0.385, 0.565)
	set(RightPinky, 0.555, 0.565)
	set(LeftIndex, 0.38, 0.56)
	set(RightIndex, 0.56, 0.56)
	set(LeftThumb, 0.39, 0.555)
	set(RightThumb, 0.55, 0.555)
	set(LeftHip, 0.44, 0.55)
	set(RightHip, 0.52, 0.55)
	set(LeftKnee, 0.43, 0.72)
	set(RightKnee, 0.53, 0.72)
	set(LeftAnkle, 0.43, 0.88)
	set(RightAnkle, 0.53, 0.88)
	set(LeftHeel, 0.42, 0.90)
	set(RightHeel, 0.54, 0.90)
	set(LeftFootIndex, 0.46, 0.92)
	set(RightFootIndex, 0.50, 0.92)

	return pts
}

// slouchedSkeleton leans the head forward and rounds the upper back.
func slouchedSkeleton() []RawLandmark {
	pts := uprightSkeleton()
	pts[Nose].X += 0.08
	pts[Nose].Y += 0.04
	for _, l := range []Landmark{LeftEyeInner, LeftEye, LeftEyeOuter, RightEyeInner, RightEye, RightEyeOuter, LeftEar, RightEar, MouthLeft, MouthRight} {
		pts[l].X += 0.07
		pts[l].Y += 0.035
	}
	return pts
}
