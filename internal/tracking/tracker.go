package tracking

import (
	"log"

	"posecast-go/internal/device"
	"posecast-go/internal/estimator"
	"posecast-go/internal/types"
)

// Tracker is the per-subject record for one tracking episode.
type Tracker struct {
	SubjectID     int32
	LastSeenFrame uint32
	// Generation is unique per table and distinguishes episodes that reuse
	// the same subject id.
	Generation uint64

	handle     estimator.Handle
	initFailed bool
	released   bool
}

// HasHandle reports whether an estimator handle is currently held.
func (t *Tracker) HasHandle() bool {
	return t.handle != nil
}

// InitFailed reports whether handle creation failed for this episode.
func (t *Tracker) InitFailed() bool {
	return t.initFailed
}

func (t *Tracker) estimate(dev device.Device, est estimator.Estimator, frame estimator.Frame, subject types.Subject) types.PoseResult {
	if t.released || t.initFailed {
		return types.PoseResult{}
	}
	if t.handle == nil {
		handle, err := est.NewHandle(dev)
		if err != nil || handle == nil {
			t.initFailed = true
			log.Printf("[tracking] device %d subject %d: estimator init failed: %v", dev.Index, t.SubjectID, err)
			return types.PoseResult{}
		}
		t.handle = handle
	}
	return t.handle.Estimate(frame, subject)
}

// release closes the estimator handle. Safe to call more than once; the
// handle is closed only the first time.
func (t *Tracker) release() {
	if t.released {
		return
	}
	t.released = true
	if t.handle == nil {
		return
	}
	if err := t.handle.Close(); err != nil {
		log.Printf("[tracking] subject %d: estimator close failed: %v", t.SubjectID, err)
	}
	t.handle = nil
}
