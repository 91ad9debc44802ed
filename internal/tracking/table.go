// Package tracking keeps the per-device table of subjects currently or
// recently seen, and owns each subject's estimator handle.
//
// A Table is not safe for concurrent use. Each device worker owns exactly
// one Table.
package tracking

import (
	"errors"
	"sort"

	"posecast-go/internal/config"
	"posecast-go/internal/device"
	"posecast-go/internal/estimator"
	"posecast-go/internal/types"
)

var ErrNotTrackable = errors.New("subject is not trackable")

type Table struct {
	device     device.Device
	estimator  estimator.Estimator
	maxMissed  uint32
	trackers   map[int32]*Tracker
	generation uint64
}

// NewTable returns an empty table. A maxMissed of zero selects the default.
func NewTable(dev device.Device, est estimator.Estimator, maxMissed uint32) *Table {
	if maxMissed == 0 {
		maxMissed = config.DefaultMaxMissedFrames
	}
	return &Table{
		device:    dev,
		estimator: est,
		maxMissed: maxMissed,
		trackers:  make(map[int32]*Tracker),
	}
}

func (t *Table) Device() device.Device { return t.device }

func (t *Table) MaxMissed() uint32 { return t.maxMissed }

func (t *Table) Len() int { return len(t.trackers) }

func (t *Table) Tracker(id int32) (*Tracker, bool) {
	tr, ok := t.trackers[id]
	return tr, ok
}

// SubjectIDs returns the tracked ids in ascending order.
func (t *Table) SubjectIDs() []int32 {
	ids := make([]int32, 0, len(t.trackers))
	for id := range t.trackers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnFormatChanged drops every tracker and releases its estimator handle.
// It returns the number of trackers dropped.
func (t *Table) OnFormatChanged() int {
	n := len(t.trackers)
	for id := range t.trackers {
		t.evict(id)
	}
	return n
}

// Update records a sighting of subject at frameNumber, creating a tracker
// if needed. Only Tracked subjects are estimated; PositionOnly subjects
// just stay alive.
func (t *Table) Update(subject types.Subject, frameNumber uint32, frame estimator.Frame) (types.PoseResult, error) {
	if !subject.State.Trackable() {
		return types.PoseResult{}, ErrNotTrackable
	}
	tr, ok := t.trackers[subject.ID]
	if !ok {
		t.generation++
		tr = &Tracker{SubjectID: subject.ID, Generation: t.generation}
		t.trackers[subject.ID] = tr
	}
	tr.LastSeenFrame = frameNumber

	if subject.State != types.Tracked {
		return types.PoseResult{}, nil
	}
	return tr.estimate(t.device, t.estimator, frame, subject), nil
}

// Sweep evicts trackers not seen for more than MaxMissed frames. Frame
// numbers are compared with uint32 wraparound. Evicted ids are returned in
// ascending order.
func (t *Table) Sweep(currentFrame uint32) []int32 {
	var evicted []int32
	for id, tr := range t.trackers {
		missed := currentFrame - tr.LastSeenFrame
		if missed > t.maxMissed {
			evicted = append(evicted, id)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	for _, id := range evicted {
		t.evict(id)
	}
	return evicted
}

// Remove evicts a single tracker.
func (t *Table) Remove(id int32) bool {
	if _, ok := t.trackers[id]; !ok {
		return false
	}
	t.evict(id)
	return true
}

// Close releases every tracker. The table stays usable afterwards.
func (t *Table) Close() {
	t.OnFormatChanged()
}

func (t *Table) evict(id int32) {
	tr, ok := t.trackers[id]
	if !ok {
		return
	}
	delete(t.trackers, id)
	tr.release()
}
