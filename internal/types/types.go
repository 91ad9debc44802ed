package types

type Vector3 struct {
	X float32 `json:"x" cbor:"x"`
	Y float32 `json:"y" cbor:"y"`
	Z float32 `json:"z" cbor:"z"`
}

// Pose is a 6-DoF head pose: rotation in degrees, translation in metres.
type Pose struct {
	Rotation    Vector3 `json:"rotation"`
	Translation Vector3 `json:"translation"`
}

type PoseResult struct {
	Success bool
	Pose    Pose
}

type TrackingState int

const (
	NotTracked TrackingState = iota
	PositionOnly
	Tracked
)

func (s TrackingState) String() string {
	switch s {
	case NotTracked:
		return "not_tracked"
	case PositionOnly:
		return "position_only"
	case Tracked:
		return "tracked"
	default:
		return "unknown"
	}
}

// Trackable reports whether a subject in this state keeps a Tracker alive.
func (s TrackingState) Trackable() bool {
	return s == Tracked || s == PositionOnly
}

// ParseTrackingState accepts the names returned by String.
func ParseTrackingState(name string) (TrackingState, bool) {
	switch name {
	case "not_tracked", "NotTracked":
		return NotTracked, true
	case "position_only", "PositionOnly":
		return PositionOnly, true
	case "tracked", "Tracked":
		return Tracked, true
	default:
		return NotTracked, false
	}
}

type Subject struct {
	ID       int32              `json:"id"`
	State    TrackingState      `json:"state"`
	Position Vector3            `json:"position"`
	Joints   map[string]Vector3 `json:"joints,omitempty"`
}

// FrameBatch is one synchronized colour/depth/subject delivery from a device.
// Complete is false when any of the three parts could not be acquired.
type FrameBatch struct {
	DeviceID    string
	FrameNumber uint32
	ColorFormat ColorFormat
	Color       []byte
	DepthFormat DepthFormat
	Depth       []uint16
	Subjects    []Subject
	Complete    bool
}

type RawMessage struct {
	Type  string
	Batch FrameBatch
	Meta  map[string]any
}
