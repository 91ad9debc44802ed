package estimator

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"posecast-go/internal/device"
	"posecast-go/internal/types"
)

const (
	JointHead           = "head"
	JointShoulderCenter = "shoulder_center"
	JointShoulderLeft   = "shoulder_left"
	JointShoulderRight  = "shoulder_right"
)

// Synthetic derives a head pose from skeleton joints alone. It stands in
// for the device vendor's face tracker when running against the simulator.
type Synthetic struct {
	open    atomic.Int64
	created atomic.Uint64
}

func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

func (s *Synthetic) NewHandle(dev device.Device) (Handle, error) {
	s.open.Add(1)
	s.created.Add(1)
	return &syntheticHandle{owner: s, device: dev}, nil
}

// Open returns the number of handles not yet closed.
func (s *Synthetic) Open() int64 {
	return s.open.Load()
}

func (s *Synthetic) Created() uint64 {
	return s.created.Load()
}

type syntheticHandle struct {
	owner  *Synthetic
	device device.Device
	closed atomic.Bool
}

func (h *syntheticHandle) Estimate(frame Frame, subject types.Subject) types.PoseResult {
	if h.closed.Load() || len(frame.Depth) == 0 || len(frame.Color) == 0 {
		return types.PoseResult{}
	}
	pose, ok := HeadPose(subject.Joints)
	if !ok {
		return types.PoseResult{}
	}
	return types.PoseResult{Success: true, Pose: pose}
}

func (h *syntheticHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.owner.open.Add(-1)
	}
	return nil
}

// HeadPose estimates rotation (pitch, yaw, roll in degrees) and translation
// from the head, shoulder-centre and shoulder joints.
func HeadPose(joints map[string]types.Vector3) (types.Pose, bool) {
	head, ok := joints[JointHead]
	if !ok {
		return types.Pose{}, false
	}
	centre, ok := joints[JointShoulderCenter]
	if !ok {
		return types.Pose{}, false
	}

	neck := r3.Sub(vec(head), vec(centre))
	if r3.Norm(neck) == 0 {
		return types.Pose{}, false
	}
	neck = r3.Unit(neck)
	pitch := math.Atan2(-neck.Z, neck.Y)

	var yaw, roll float64
	left, okL := joints[JointShoulderLeft]
	right, okR := joints[JointShoulderRight]
	if okL && okR {
		across := r3.Sub(vec(right), vec(left))
		if r3.Norm(across) > 0 {
			across = r3.Unit(across)
			yaw = math.Atan2(across.Z, across.X)
			roll = math.Asin(clamp(across.Y, -1, 1))
		}
	}

	return types.Pose{
		Rotation: types.Vector3{
			X: float32(degrees(pitch)),
			Y: float32(degrees(yaw)),
			Z: float32(degrees(roll)),
		},
		Translation: head,
	}, true
}

func vec(v types.Vector3) r3.Vec {
	return r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
