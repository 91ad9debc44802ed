// Package broadcast renders pose estimates as text lines and fans them out
// to every registered subscriber.
//
// Line format:
//
//	Kinect <deviceIndex> <rotX> <rotY> <rotZ> <transX> <transY> <transZ>\n
package broadcast

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"

	"posecast-go/internal/registry"
	"posecast-go/internal/types"
)

const linePrefix = "Kinect"

type Broadcaster struct {
	registry *registry.Registry
	logLines atomic.Bool

	lines     atomic.Uint64
	delivered atomic.Uint64
	evicted   atomic.Uint64
}

type Stats struct {
	Lines     uint64
	Delivered uint64
	Evicted   uint64
}

func New(reg *registry.Registry) *Broadcaster {
	return &Broadcaster{registry: reg}
}

// LogLines echoes every broadcast line to the log.
func (b *Broadcaster) LogLines(enabled bool) {
	b.logLines.Store(enabled)
}

func (b *Broadcaster) Broadcast(deviceIndex int, rotation, translation types.Vector3) {
	line := FormatPose(deviceIndex, rotation, translation)
	res := b.registry.SnapshotAndBroadcast(line)
	b.lines.Add(1)
	b.delivered.Add(uint64(res.Delivered))
	b.evicted.Add(uint64(res.Evicted))
	if b.logLines.Load() {
		log.Printf("[broadcast] %s (clients=%d)", strings.TrimSuffix(string(line), "\n"), res.Delivered)
	}
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Lines:     b.lines.Load(),
		Delivered: b.delivered.Load(),
		Evicted:   b.evicted.Load(),
	}
}

func FormatPose(deviceIndex int, rotation, translation types.Vector3) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, linePrefix...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(deviceIndex), 10)
	for _, v := range [6]float32{rotation.X, rotation.Y, rotation.Z, translation.X, translation.Y, translation.Z} {
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, float64(v), 'f', -1, 32)
	}
	return append(buf, '\n')
}

// ParsePose parses one line produced by FormatPose. The trailing newline
// is optional.
func ParsePose(line string) (int, types.Pose, error) {
	fields := strings.Fields(line)
	if len(fields) != 8 || fields[0] != linePrefix {
		return 0, types.Pose{}, fmt.Errorf("malformed pose line %q", line)
	}
	deviceIndex, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, types.Pose{}, fmt.Errorf("device index: %w", err)
	}
	var vals [6]float32
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i+2], 32)
		if err != nil {
			return 0, types.Pose{}, fmt.Errorf("field %d: %w", i+2, err)
		}
		vals[i] = float32(v)
	}
	return deviceIndex, types.Pose{
		Rotation:    types.Vector3{X: vals[0], Y: vals[1], Z: vals[2]},
		Translation: types.Vector3{X: vals[3], Y: vals[4], Z: vals[5]},
	}, nil
}
