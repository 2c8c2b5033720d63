package analysis

// scoreConfidence derives the frame confidence from the final warning
// count. A clean frame scores 0.9; each warning shaves 0.1 off, floored at
// 0.6 so a noisy frame still carries usable signal.
func scoreConfidence(warningCount int) float64 {
	if warningCount == 0 {
		return 0.9
	}
	confidence := 0.9 - 0.1*float64(warningCount)
	if confidence < 0.6 {
		return 0.6
	}
	return confidence
}
