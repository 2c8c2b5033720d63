package analysis

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/errors"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
)

// FaultHook receives the recovered cause whenever a frame takes the
// analysis-error path. Hooks run synchronously on the analysis goroutine.
type FaultHook func(activity Activity, cause error)

// Analyzer classifies single frames of landmarks into posture results. It
// holds no state across frames and is safe for concurrent use.
type Analyzer struct {
	logger     *logrus.Logger
	thresholds Thresholds
	faultHook  FaultHook

	// ruleSource supplies the rule set per activity. Swappable in tests.
	ruleSource func(Activity, Thresholds) []Rule
}

// NewAnalyzer creates an analyzer with the given rule thresholds.
func NewAnalyzer(logger *logrus.Logger, thresholds Thresholds) *Analyzer {
	return &Analyzer{
		logger:     logger,
		thresholds: thresholds,
		ruleSource: rulesFor,
	}
}

// SetFaultHook installs a diagnostic callback invoked on analysis-error
// results. Must be set before the analyzer is shared across goroutines.
func (a *Analyzer) SetFaultHook(hook FaultHook) {
	a.faultHook = hook
}

// Analyze classifies one frame for the activity. The call always yields a
// complete result: an empty landmark set produces a neutral no-person
// result, and any internal fault is recovered here into a neutral
// analysis-error result instead of propagating.
func (a *Analyzer) Analyze(landmarks []pose.RawLandmark, activity Activity) (result *Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = a.recoverFault(activity, r)
		}
		metrics.RecordFrameAnalyzed(activity.String(), result.Status.String(), time.Since(start))
	}()

	if len(landmarks) == 0 {
		metrics.RecordNoPersonFrame()
		return noPersonResult()
	}

	keypoints := pose.NewKeypointSet(landmarks)
	angles := BuildAngles(a.logger, keypoints)
	ctx := newRuleContext(keypoints, angles)

	status, warnings := evaluateRules(a.ruleSource(activity, a.thresholds), ctx)
	if len(warnings) > 0 {
		metrics.RecordWarnings(activity.String(), len(warnings))
	}

	return &Result{
		Timestamp:    time.Now(),
		Status:       status,
		Warnings:     warnings,
		Confidence:   scoreConfidence(len(warnings)),
		Keypoints:    keypoints.Keypoints(),
		Angles:       angles,
		Measurements: ctx.measurements,
	}
}

// recoverFault turns a recovered panic into the analysis-error result,
// logging the cause with its stack and notifying the fault hook.
func (a *Analyzer) recoverFault(activity Activity, recovered interface{}) *Result {
	cause := errors.Wrap(errors.ErrAnalysisFault, fmt.Sprintf("recovered: %v", recovered))

	a.logger.WithFields(logrus.Fields{
		"activity":    activity.String(),
		"panic_value": recovered,
		"stack_trace": string(debug.Stack()),
	}).Error("Recovered from posture analysis fault")

	metrics.RecordAnalysisFault()

	if a.faultHook != nil {
		a.faultHook(activity, cause)
	}

	return &Result{
		Timestamp:  time.Now(),
		Status:     StatusNeutral,
		Warnings:   []string{"Analysis error occurred"},
		Confidence: 0.5,
		Keypoints:  []pose.Keypoint{},
		Angles:     AngleSet{},
		fault:      cause,
	}
}

// noPersonResult is the neutral result for frames without a visible person.
// The sentinel on the diagnostic field lets in-process consumers tell this
// apart from the analysis-error path without parsing warning text.
func noPersonResult() *Result {
	return &Result{
		Timestamp:  time.Now(),
		Status:     StatusNeutral,
		Warnings:   []string{"No person detected in frame"},
		Confidence: 0.0,
		Keypoints:  []pose.Keypoint{},
		Angles:     AngleSet{},
		fault:      errors.ErrNoPersonDetected,
	}
}
