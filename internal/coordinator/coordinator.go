// Package coordinator drives one device's tracker table through each
// frame batch and hands successful poses to the broadcaster.
package coordinator

import (
	"errors"
	"log"

	"posecast-go/internal/device"
	"posecast-go/internal/estimator"
	"posecast-go/internal/tracking"
	"posecast-go/internal/types"
)

var ErrIncompleteBatch = errors.New("incomplete frame batch")

type Publisher interface {
	Broadcast(deviceIndex int, rotation, translation types.Vector3)
}

type Summary struct {
	FrameNumber uint32
	Updated     int
	Estimated   int
	Broadcast   int
	Evicted     int
	Reset       bool
}

// Coordinator is single-threaded; call HandleBatch from one goroutine.
type Coordinator struct {
	device    device.Device
	table     *tracking.Table
	publisher Publisher

	colorFormat types.ColorFormat
	depthFormat types.DepthFormat
	colorImage  []byte
	depthImage  []uint16
	lastFrame   uint32
}

type success struct {
	subjectID int32
	pose      types.Pose
}

func New(dev device.Device, table *tracking.Table, pub Publisher) *Coordinator {
	return &Coordinator{
		device:    dev,
		table:     table,
		publisher: pub,
	}
}

func (c *Coordinator) Device() device.Device { return c.device }

// HandleBatch runs one frame cycle: format check, tracker updates, sweep,
// then one broadcast per successful estimate. Incomplete batches are
// skipped entirely.
func (c *Coordinator) HandleBatch(batch types.FrameBatch) (Summary, error) {
	summary := Summary{FrameNumber: batch.FrameNumber}
	if !batch.Complete || batch.Color == nil || batch.Depth == nil {
		return summary, ErrIncompleteBatch
	}

	// The estimator cannot follow a subject across a format change, so
	// every tracker restarts.
	if c.depthFormat != batch.DepthFormat {
		if n := c.table.OnFormatChanged(); n > 0 {
			log.Printf("[coordinator] device %d depth format %s -> %s, dropped %d tracker(s)", c.device.Index, c.depthFormat, batch.DepthFormat, n)
		}
		c.depthImage = nil
		c.depthFormat = batch.DepthFormat
		summary.Reset = true
	}
	if c.colorFormat != batch.ColorFormat {
		if n := c.table.OnFormatChanged(); n > 0 {
			log.Printf("[coordinator] device %d colour format %s -> %s, dropped %d tracker(s)", c.device.Index, c.colorFormat, batch.ColorFormat, n)
		}
		c.colorImage = nil
		c.colorFormat = batch.ColorFormat
		summary.Reset = true
	}

	if c.depthImage == nil || len(c.depthImage) != len(batch.Depth) {
		c.depthImage = make([]uint16, len(batch.Depth))
	}
	if c.colorImage == nil || len(c.colorImage) != len(batch.Color) {
		c.colorImage = make([]byte, len(batch.Color))
	}
	copy(c.depthImage, batch.Depth)
	copy(c.colorImage, batch.Color)

	frame := estimator.Frame{
		ColorFormat: c.colorFormat,
		Color:       c.colorImage,
		DepthFormat: c.depthFormat,
		Depth:       c.depthImage,
	}

	var successes []success
	seen := make(map[int32]struct{}, len(batch.Subjects))
	for _, subject := range batch.Subjects {
		if !subject.State.Trackable() {
			continue
		}
		// A subject feeds its tracker at most once per frame; later
		// duplicates of the same id are ignored.
		if _, dup := seen[subject.ID]; dup {
			continue
		}
		seen[subject.ID] = struct{}{}
		res, err := c.table.Update(subject, batch.FrameNumber, frame)
		if err != nil {
			continue
		}
		summary.Updated++
		if res.Success {
			summary.Estimated++
			successes = append(successes, success{subjectID: subject.ID, pose: res.Pose})
		}
	}

	summary.Evicted = len(c.table.Sweep(batch.FrameNumber))
	c.lastFrame = batch.FrameNumber

	if c.publisher != nil {
		for _, s := range successes {
			c.publisher.Broadcast(c.device.Index, s.pose.Rotation, s.pose.Translation)
			summary.Broadcast++
		}
	}
	return summary, nil
}

// Snapshot reports the coordinator's current view for status endpoints.
// It must be called from the goroutine that owns the coordinator.
func (c *Coordinator) Snapshot() types.DeviceSnapshot {
	return types.DeviceSnapshot{
		Index:       c.device.Index,
		ID:          c.device.ID,
		Trackers:    c.table.Len(),
		LastFrame:   c.lastFrame,
		ColorFormat: c.colorFormat.String(),
		DepthFormat: c.depthFormat.String(),
	}
}

// Close releases every tracker held by the table.
func (c *Coordinator) Close() {
	c.table.Close()
	c.colorImage = nil
	c.depthImage = nil
}
