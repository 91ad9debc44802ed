package simulator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"posecast-go/internal/estimator"
	"posecast-go/internal/types"
)

const (
	episodeFrames     = 240
	absenceFrames     = 150
	positionOnlyEvery = 7
	formatSwitchEvery = 900
)

// Scene generates frame batches for one simulated device: a couple of
// subjects drifting in front of the sensor, leaving and coming back with a
// new id, and an occasional colour format switch.
type Scene struct {
	deviceID string
	rng      *rand.Rand
	frame    uint32
	nextID   int32
	people   []*person
	color    types.ColorFormat
	depth    types.DepthFormat
	colorBuf []byte
	depthBuf []uint16
}

type person struct {
	id      int32
	phase   float64
	visible bool
	until   int
	offsetX float64
}

func NewScene(deviceID string, seed int64, people int) *Scene {
	s := &Scene{
		deviceID: deviceID,
		rng:      rand.New(rand.NewSource(seed)),
		color:    types.RgbResolution640x480Fps30,
		depth:    types.Resolution320x240Fps30,
	}
	for i := 0; i < people; i++ {
		p := &person{
			phase:   s.rng.Float64() * 2 * math.Pi,
			offsetX: (float64(i) - float64(people-1)/2) * 0.6,
		}
		s.enter(p, 0)
		s.people = append(s.people, p)
	}
	return s
}

func (s *Scene) enter(p *person, now int) {
	s.nextID++
	p.id = s.nextID
	p.visible = true
	p.until = now + episodeFrames + s.rng.Intn(episodeFrames)
}

// Next returns the batch for the following frame.
func (s *Scene) Next() types.FrameBatch {
	s.frame++
	now := int(s.frame)

	if now%formatSwitchEvery == 0 {
		if s.color == types.RgbResolution640x480Fps30 {
			s.color = types.RgbResolution1280x960Fps12
		} else {
			s.color = types.RgbResolution640x480Fps30
		}
		s.colorBuf = nil
	}
	if s.colorBuf == nil {
		s.colorBuf = make([]byte, s.color.PixelDataLength())
	}
	if s.depthBuf == nil {
		s.depthBuf = make([]uint16, s.depth.PixelDataLength())
	}

	batch := types.FrameBatch{
		DeviceID:    s.deviceID,
		FrameNumber: s.frame,
		ColorFormat: s.color,
		Color:       s.colorBuf,
		DepthFormat: s.depth,
		Depth:       s.depthBuf,
		Subjects:    make([]types.Subject, 0, len(s.people)),
		Complete:    true,
	}

	for _, p := range s.people {
		if now >= p.until {
			if p.visible {
				p.visible = false
				p.until = now + absenceFrames + s.rng.Intn(absenceFrames)
			} else {
				s.enter(p, now)
			}
		}
		if !p.visible {
			continue
		}
		state := types.Tracked
		if now%positionOnlyEvery == 0 {
			state = types.PositionOnly
		}
		batch.Subjects = append(batch.Subjects, s.subject(p, state, float64(now)))
	}
	return batch
}

func (s *Scene) subject(p *person, state types.TrackingState, t float64) types.Subject {
	sway := math.Sin(t/30 + p.phase)
	nod := math.Sin(t/45+p.phase) * 0.05
	x := p.offsetX + sway*0.1
	z := 1.8 + math.Cos(t/60+p.phase)*0.2
	noise := func() float64 { return s.rng.NormFloat64() * 0.002 }

	head := vec(x+noise(), 0.55+noise(), z-nod+noise())
	centre := vec(x, 0.25, z)
	return types.Subject{
		ID:       p.id,
		State:    state,
		Position: centre,
		Joints: map[string]types.Vector3{
			estimator.JointHead:           head,
			estimator.JointShoulderCenter: centre,
			estimator.JointShoulderLeft:   vec(x-0.18, 0.25, z+sway*0.02),
			estimator.JointShoulderRight:  vec(x+0.18, 0.25, z-sway*0.02),
		},
	}
}

func vec(x, y, z float64) types.Vector3 {
	return types.Vector3{X: float32(x), Y: float32(y), Z: float32(z)}
}

// Stream emits one batch per device per tick at rate frames/sec.
func Stream(ctx context.Context, deviceIDs []string, rate float64) <-chan types.RawMessage {
	out := make(chan types.RawMessage)
	go func() {
		defer close(out)

		if rate <= 0 {
			rate = 30
		}
		scenes := make([]*Scene, len(deviceIDs))
		for i, id := range deviceIDs {
			scenes[i] = NewScene(id, time.Now().UnixNano()+int64(i), 2)
		}

		ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, scene := range scenes {
					select {
					case <-ctx.Done():
						return
					case out <- types.RawMessage{Type: "frame", Batch: scene.Next()}:
					}
				}
			}
		}
	}()

	return out
}
