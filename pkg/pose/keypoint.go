package pose

// RawLandmark is a single position estimate as produced by the pose model.
// Coordinates are normalized to the source image, z is a relative depth
// estimate, and visibility is the model's confidence that the point is
// visible in the frame.
type RawLandmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Keypoint is a named, application-facing wrapper around one landmark.
// Keypoints are immutable once produced for a frame.
type Keypoint struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// KeypointSet holds at most one keypoint per landmark slot. Slots are
// addressed by the Landmark enumeration; a slot may be unoccupied when the
// estimator produced fewer points than the full topology.
type KeypointSet struct {
	points  [LandmarkCount]Keypoint
	present [LandmarkCount]bool
	count   int
}

// NewKeypointSet adapts a raw detection result into an addressable set.
// Entries beyond the known topology are ignored.
func NewKeypointSet(landmarks []RawLandmark) *KeypointSet {
	s := &KeypointSet{}
	for i, lm := range landmarks {
		if i >= LandmarkCount {
			break
		}
		l := Landmark(i)
		s.points[l] = Keypoint{
			ID:         i,
			Name:       l.String(),
			X:          lm.X,
			Y:          lm.Y,
			Z:          lm.Z,
			Visibility: lm.Visibility,
		}
		s.present[l] = true
		s.count++
	}
	return s
}

// Get returns the keypoint for the landmark and whether it is present.
func (s *KeypointSet) Get(l Landmark) (Keypoint, bool) {
	if s == nil || !l.Valid() || !s.present[l] {
		return Keypoint{}, false
	}
	return s.points[l], true
}

// Has reports whether every given landmark is present in the set.
func (s *KeypointSet) Has(landmarks ...Landmark) bool {
	for _, l := range landmarks {
		if _, ok := s.Get(l); !ok {
			return false
		}
	}
	return true
}

// Len returns the number of occupied slots.
func (s *KeypointSet) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Empty reports whether no keypoints are present.
func (s *KeypointSet) Empty() bool {
	return s.Len() == 0
}

// Keypoints returns the present keypoints in topology order. The slice is
// freshly allocated, so callers may retain it.
func (s *KeypointSet) Keypoints() []Keypoint {
	out := make([]Keypoint, 0, s.Len())
	if s == nil {
		return out
	}
	for l := Landmark(0); l < LandmarkCount; l++ {
		if s.present[l] {
			out = append(out, s.points[l])
		}
	}
	return out
}
