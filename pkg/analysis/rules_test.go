package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"postureguard-server/pkg/pose"
)

func TestSeverityEscalation(t *testing.T) {
	testCases := []struct {
		name     string
		severity Severity
		current  Status
		expected Status
	}{
		{"critical from good", SeverityCritical, StatusGood, StatusBad},
		{"critical from warning", SeverityCritical, StatusWarning, StatusBad},
		{"critical from bad", SeverityCritical, StatusBad, StatusBad},
		{"moderate from good", SeverityModerate, StatusGood, StatusWarning},
		{"moderate from warning", SeverityModerate, StatusWarning, StatusBad},
		{"moderate from bad", SeverityModerate, StatusBad, StatusBad},
		{"minor from good", SeverityMinor, StatusGood, StatusWarning},
		{"minor from warning", SeverityMinor, StatusWarning, StatusWarning},
		{"minor from bad", SeverityMinor, StatusBad, StatusBad},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.severity.escalate(tc.current))
		})
	}
}

func TestScoreConfidence(t *testing.T) {
	assert.Equal(t, 0.9, scoreConfidence(0))
	assert.InDelta(t, 0.8, scoreConfidence(1), 1e-9)
	assert.InDelta(t, 0.7, scoreConfidence(2), 1e-9)
	assert.InDelta(t, 0.6, scoreConfidence(3), 1e-9)

	// Floor holds no matter how noisy the frame is.
	assert.Equal(t, 0.6, scoreConfidence(4))
	assert.Equal(t, 0.6, scoreConfidence(25))
}

func TestScoreConfidenceMonotonicallyNonIncreasing(t *testing.T) {
	previous := scoreConfidence(0)
	for count := 1; count <= 12; count++ {
		current := scoreConfidence(count)
		assert.LessOrEqual(t, current, previous, "confidence rose at %d warnings", count)
		assert.GreaterOrEqual(t, current, 0.6)
		previous = current
	}
}

func TestEvaluateRulesAppliesFixedOrder(t *testing.T) {
	var order []string
	stub := func(name string, severity Severity, triggered bool) Rule {
		return Rule{
			Name:     name,
			Severity: severity,
			Evaluate: func(ctx *RuleContext) (bool, string) {
				order = append(order, name)
				return triggered, name
			},
		}
	}

	rules := []Rule{
		stub("first", SeverityMinor, true),
		stub("second", SeverityMinor, false),
		stub("third", SeverityModerate, true),
	}

	ctx := newRuleContext(pose.NewKeypointSet(nil), AngleSet{})
	status, warnings := evaluateRules(rules, ctx)

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, []string{"first", "third"}, warnings)

	// Minor lifted good to warning, then moderate escalated to bad.
	assert.Equal(t, StatusBad, status)
}

func TestEvaluateRulesCleanRun(t *testing.T) {
	rules := []Rule{
		{Name: "quiet", Severity: SeverityCritical, Evaluate: func(ctx *RuleContext) (bool, string) {
			return false, ""
		}},
	}

	ctx := newRuleContext(pose.NewKeypointSet(nil), AngleSet{})
	status, warnings := evaluateRules(rules, ctx)

	assert.Equal(t, StatusGood, status)
	assert.Empty(t, warnings)
	assert.NotNil(t, warnings)
}

func TestRuleContextAngleDefaultsToZero(t *testing.T) {
	ctx := newRuleContext(pose.NewKeypointSet(nil), AngleSet{AngleBack: 175.0})

	assert.Equal(t, 175.0, ctx.Angle(AngleBack))
	assert.Equal(t, 0.0, ctx.Angle(AngleNeck))
}

func TestSquatRulesSkipWithMissingKeypoints(t *testing.T) {
	// No keypoints at all: the positional checks skip, but the angle
	// checks still read zeroes and fire.
	ctx := newRuleContext(pose.NewKeypointSet(nil), AngleSet{})
	status, warnings := evaluateRules(squatRules(DefaultThresholds()), ctx)

	// back_angle reads 0 < 150, knee average 0 < 70.
	assert.Equal(t, StatusBad, status)
	assert.Contains(t, warnings, "Squat too deep")
	assert.Len(t, warnings, 2)
}

func TestDeskSittingRulesSkipWithMissingKeypoints(t *testing.T) {
	ctx := newRuleContext(pose.NewKeypointSet(nil), AngleSet{})
	status, warnings := evaluateRules(deskSittingRules(DefaultThresholds()), ctx)

	// neck_angle 0 passes, back_angle 0 is 180 away from straight.
	assert.Equal(t, StatusWarning, status)
	assert.Equal(t, []string{"Back not straight - sit up straight"}, warnings)

	// The keypoint-gated rules left no measurements behind.
	_, ok := ctx.measurements["shoulder_level_diff"]
	assert.False(t, ok)
	_, ok = ctx.measurements["head_forward"]
	assert.False(t, ok)
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()

	assert.Equal(t, 150.0, th.SquatBackAngleMin)
	assert.Equal(t, 120.0, th.SquatKneeDepthMax)
	assert.Equal(t, 70.0, th.SquatKneeDepthMin)
	assert.Equal(t, 160.0, th.SquatHipHingeMax)
	assert.Equal(t, 30.0, th.DeskNeckAngleMax)
	assert.Equal(t, 15.0, th.DeskBackStraightTolerance)
	assert.Equal(t, 0.05, th.DeskShoulderLevelTolerance)
	assert.Equal(t, 0.10, th.DeskHeadForwardThreshold)
}
