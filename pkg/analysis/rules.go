package analysis

import (
	"fmt"
	"math"

	"postureguard-server/pkg/pose"
)

// Thresholds carries the tunable limits of both rule sets. Values are
// loaded from configuration; zero values are never meaningful, so callers
// should start from DefaultThresholds.
type Thresholds struct {
	// Squat limits, in degrees.
	SquatBackAngleMin float64
	SquatKneeDepthMax float64
	SquatKneeDepthMin float64
	SquatHipHingeMax  float64

	// Desk sitting limits. Angles in degrees, offsets as fractions of the
	// normalized image dimensions.
	DeskNeckAngleMax           float64
	DeskBackStraightTolerance  float64
	DeskShoulderLevelTolerance float64
	DeskHeadForwardThreshold   float64
}

// DefaultThresholds returns the stock rule limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SquatBackAngleMin:          150,
		SquatKneeDepthMax:          120,
		SquatKneeDepthMin:          70,
		SquatHipHingeMax:           160,
		DeskNeckAngleMax:           30,
		DeskBackStraightTolerance:  15,
		DeskShoulderLevelTolerance: 0.05,
		DeskHeadForwardThreshold:   0.10,
	}
}

// Severity ranks how strongly a triggered rule degrades the frame status.
type Severity int

const (
	// SeverityMinor escalates good to warning and leaves worse states alone.
	SeverityMinor Severity = iota
	// SeverityModerate escalates good to warning and anything else to bad.
	SeverityModerate
	// SeverityCritical forces bad outright.
	SeverityCritical
)

// escalate folds one triggered rule into the running frame status.
func (s Severity) escalate(current Status) Status {
	switch s {
	case SeverityCritical:
		return StatusBad
	case SeverityModerate:
		if current == StatusGood {
			return StatusWarning
		}
		return StatusBad
	default:
		if current == StatusGood {
			return StatusWarning
		}
		return current
	}
}

// RuleContext exposes one frame's geometry to rule evaluation and collects
// the measurements rules record along the way. Contexts are single-frame
// and never shared.
type RuleContext struct {
	Keypoints *pose.KeypointSet
	Angles    AngleSet

	measurements map[string]float64
}

func newRuleContext(keypoints *pose.KeypointSet, angles AngleSet) *RuleContext {
	return &RuleContext{
		Keypoints:    keypoints,
		Angles:       angles,
		measurements: make(map[string]float64),
	}
}

// Angle reads a named angle, substituting 0 when it was not computed.
func (c *RuleContext) Angle(name string) float64 {
	return c.Angles[name]
}

// Measure records a named measurement on the frame result. Rules measure
// regardless of whether they trigger.
func (c *RuleContext) Measure(name string, value float64) {
	c.measurements[name] = value
}

// Rule is one posture check. Evaluate inspects the context and reports
// whether the rule triggered along with the warning text to attach. Rules
// with absent keypoints report untriggered and leave no trace.
type Rule struct {
	Name     string
	Severity Severity
	Evaluate func(ctx *RuleContext) (bool, string)
}

// evaluateRules folds the ordered rule list over one frame, returning the
// final status and the warnings in rule order.
func evaluateRules(rules []Rule, ctx *RuleContext) (Status, []string) {
	status := StatusGood
	warnings := make([]string, 0, len(rules))

	for _, rule := range rules {
		triggered, message := rule.Evaluate(ctx)
		if !triggered {
			continue
		}
		warnings = append(warnings, message)
		status = rule.Severity.escalate(status)
	}

	return status, warnings
}

// rulesFor selects the rule set for the activity.
func rulesFor(activity Activity, t Thresholds) []Rule {
	if activity == ActivityDeskSitting {
		return deskSittingRules(t)
	}
	return squatRules(t)
}

// squatRules builds the squat checks in their fixed evaluation order.
func squatRules(t Thresholds) []Rule {
	return []Rule{
		{
			Name:     "left_knee_past_toe",
			Severity: SeverityModerate,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				knee, ok := ctx.Keypoints.Get(pose.LeftKnee)
				if !ok {
					return false, ""
				}
				ankle, ok := ctx.Keypoints.Get(pose.LeftAnkle)
				if !ok {
					return false, ""
				}
				if knee.X > ankle.X {
					return true, "Left knee extends beyond toe"
				}
				return false, ""
			},
		},
		{
			Name:     "right_knee_past_toe",
			Severity: SeverityModerate,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				knee, ok := ctx.Keypoints.Get(pose.RightKnee)
				if !ok {
					return false, ""
				}
				ankle, ok := ctx.Keypoints.Get(pose.RightAnkle)
				if !ok {
					return false, ""
				}
				if knee.X > ankle.X {
					return true, "Right knee extends beyond toe"
				}
				return false, ""
			},
		},
		{
			Name:     "back_hunched",
			Severity: SeverityCritical,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				backAngle := ctx.Angle(AngleBack)
				ctx.Measure("back_angle", backAngle)
				if backAngle < t.SquatBackAngleMin {
					return true, fmt.Sprintf("Back too hunched (angle: %.1f°)", backAngle)
				}
				return false, ""
			},
		},
		{
			Name:     "squat_depth",
			Severity: SeverityMinor,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				avgKnee := (ctx.Angle(AngleLeftKnee) + ctx.Angle(AngleRightKnee)) / 2
				ctx.Measure("knee_angle", avgKnee)
				if avgKnee > t.SquatKneeDepthMax {
					return true, "Squat not deep enough"
				}
				if avgKnee < t.SquatKneeDepthMin {
					return true, "Squat too deep"
				}
				return false, ""
			},
		},
		{
			Name:     "hip_hinge",
			Severity: SeverityMinor,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				hipAngle := ctx.Angle(AngleHip)
				ctx.Measure("hip_angle", hipAngle)
				if hipAngle > t.SquatHipHingeMax {
					return true, "Need more hip hinge movement"
				}
				return false, ""
			},
		},
	}
}

// deskSittingRules builds the seated posture checks in their fixed
// evaluation order.
func deskSittingRules(t Thresholds) []Rule {
	return []Rule{
		{
			Name:     "neck_forward",
			Severity: SeverityCritical,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				neckAngle := ctx.Angle(AngleNeck)
				ctx.Measure("neck_angle", neckAngle)
				if neckAngle > t.DeskNeckAngleMax {
					return true, fmt.Sprintf("Neck too far forward (angle: %.1f°)", neckAngle)
				}
				return false, ""
			},
		},
		{
			Name:     "back_straight",
			Severity: SeverityModerate,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				backAngle := ctx.Angle(AngleBack)
				ctx.Measure("back_angle", backAngle)
				if math.Abs(backAngle-180) > t.DeskBackStraightTolerance {
					return true, "Back not straight - sit up straight"
				}
				return false, ""
			},
		},
		{
			Name:     "shoulders_level",
			Severity: SeverityMinor,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				left, ok := ctx.Keypoints.Get(pose.LeftShoulder)
				if !ok {
					return false, ""
				}
				right, ok := ctx.Keypoints.Get(pose.RightShoulder)
				if !ok {
					return false, ""
				}
				diff := math.Abs(left.Y - right.Y)
				ctx.Measure("shoulder_level_diff", diff)
				if diff > t.DeskShoulderLevelTolerance {
					return true, "Shoulders not level"
				}
				return false, ""
			},
		},
		{
			Name:     "head_forward",
			Severity: SeverityMinor,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				nose, ok := ctx.Keypoints.Get(pose.Nose)
				if !ok {
					return false, ""
				}
				left, ok := ctx.Keypoints.Get(pose.LeftShoulder)
				if !ok {
					return false, ""
				}
				right, ok := ctx.Keypoints.Get(pose.RightShoulder)
				if !ok {
					return false, ""
				}
				centerX := (left.X + right.X) / 2
				offset := math.Abs(nose.X - centerX)
				ctx.Measure("head_forward", offset)
				if offset > t.DeskHeadForwardThreshold {
					return true, "Head too far forward"
				}
				return false, ""
			},
		},
	}
}
