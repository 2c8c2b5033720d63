package analysis

import "postureguard-server/pkg/errors"

// Activity selects which rule set evaluates a frame.
type Activity string

const (
	// ActivitySquat checks squat form over the full body.
	ActivitySquat Activity = "squat"
	// ActivityDeskSitting checks seated posture of the upper body.
	ActivityDeskSitting Activity = "desk_sitting"
)

// ParseActivity maps a request string onto a known activity. An empty
// string selects the squat default; anything else must match exactly.
func ParseActivity(s string) (Activity, error) {
	switch s {
	case "":
		return ActivitySquat, nil
	case string(ActivitySquat):
		return ActivitySquat, nil
	case string(ActivityDeskSitting):
		return ActivityDeskSitting, nil
	default:
		return "", errors.NewInvalidActivity(s)
	}
}

// String returns the wire name of the activity.
func (a Activity) String() string {
	return string(a)
}
