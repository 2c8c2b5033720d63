package analysis

import (
	"math"

	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/pose"
)

// Angle names produced by BuildAngles. Rules read angles by these names.
const (
	AngleNeck      = "neck_angle"
	AngleBack      = "back_angle"
	AngleLeftKnee  = "left_knee_angle"
	AngleRightKnee = "right_knee_angle"
	AngleHip       = "hip_angle"
)

// AngleSet maps angle names to degrees. A name is absent when a keypoint
// required to compute it was missing from the frame; absence is not zero.
type AngleSet map[string]float64

// angleTriples is the fixed table of keypoint triples behind each named
// angle. The vertex is the middle point; the angle opens between the rays
// toward the two endpoints.
var angleTriples = []struct {
	name   string
	first  pose.Landmark
	vertex pose.Landmark
	second pose.Landmark
}{
	{AngleNeck, pose.LeftShoulder, pose.Nose, pose.RightShoulder},
	{AngleBack, pose.LeftHip, pose.LeftShoulder, pose.Nose},
	{AngleLeftKnee, pose.LeftHip, pose.LeftKnee, pose.LeftAnkle},
	{AngleRightKnee, pose.RightHip, pose.RightKnee, pose.RightAnkle},
	{AngleHip, pose.LeftKnee, pose.LeftHip, pose.LeftShoulder},
}

// angleBetween computes the angle at vertex b in degrees from the x and y
// components only. The second return reports degenerate geometry, where
// either ray has zero length and the angle defaults to 0.0.
func angleBetween(a, b, c pose.Keypoint) (float64, bool) {
	v1x, v1y := a.X-b.X, a.Y-b.Y
	v2x, v2y := c.X-b.X, c.Y-b.Y

	n1 := math.Hypot(v1x, v1y)
	n2 := math.Hypot(v2x, v2y)
	if n1 == 0 || n2 == 0 {
		return 0.0, true
	}

	cos := (v1x*v2x + v1y*v2y) / (n1 * n2)

	// Clamp against floating-point overshoot of the acos domain.
	if cos > 1.0 {
		cos = 1.0
	} else if cos < -1.0 {
		cos = -1.0
	}

	return math.Acos(cos) * 180.0 / math.Pi, false
}

// AngleAt returns the angle in degrees at vertex b formed by the rays
// toward a and c. Degenerate input yields 0.0, never an error.
func AngleAt(a, b, c pose.Keypoint) float64 {
	deg, _ := angleBetween(a, b, c)
	return deg
}

// BuildAngles computes every named angle whose keypoints are present.
// Missing keypoints omit that angle only; the others compute independently.
func BuildAngles(logger *logrus.Logger, keypoints *pose.KeypointSet) AngleSet {
	angles := make(AngleSet, len(angleTriples))

	for _, t := range angleTriples {
		first, ok := keypoints.Get(t.first)
		if !ok {
			continue
		}
		vertex, ok := keypoints.Get(t.vertex)
		if !ok {
			continue
		}
		second, ok := keypoints.Get(t.second)
		if !ok {
			continue
		}

		deg, degenerate := angleBetween(first, vertex, second)
		if degenerate {
			logger.WithFields(logrus.Fields{
				"angle":  t.name,
				"vertex": t.vertex.String(),
			}).Warn("Degenerate geometry while computing angle, defaulting to 0.0")
		}
		angles[t.name] = deg
	}

	return angles
}
