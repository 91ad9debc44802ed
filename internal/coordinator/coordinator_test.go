package coordinator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"posecast-go/internal/device"
	"posecast-go/internal/estimator"
	"posecast-go/internal/tracking"
	"posecast-go/internal/types"
)

type countingHandle struct {
	id     int
	closes int
	frames []estimator.Frame
}

func (h *countingHandle) Estimate(frame estimator.Frame, s types.Subject) types.PoseResult {
	h.frames = append(h.frames, frame)
	if s.Position.Z <= 0 {
		return types.PoseResult{}
	}
	return types.PoseResult{Success: true, Pose: types.Pose{
		Rotation:    types.Vector3{X: float32(h.id)},
		Translation: s.Position,
	}}
}

func (h *countingHandle) Close() error {
	h.closes++
	return nil
}

type countingEstimator struct {
	handles []*countingHandle
}

func (e *countingEstimator) NewHandle(device.Device) (estimator.Handle, error) {
	h := &countingHandle{id: len(e.handles) + 1}
	e.handles = append(e.handles, h)
	return h, nil
}

type published struct {
	Device      int
	Rotation    types.Vector3
	Translation types.Vector3
	Trackers    int
}

type recordingPublisher struct {
	table *tracking.Table
	out   []published
}

func (p *recordingPublisher) Broadcast(deviceIndex int, rotation, translation types.Vector3) {
	n := -1
	if p.table != nil {
		n = p.table.Len()
	}
	p.out = append(p.out, published{deviceIndex, rotation, translation, n})
}

var dev = device.Device{Index: 1, ID: "kinect-b"}

func newHarness() (*Coordinator, *tracking.Table, *countingEstimator, *recordingPublisher) {
	est := &countingEstimator{}
	table := tracking.NewTable(dev, est, 100)
	pub := &recordingPublisher{table: table}
	return New(dev, table, pub), table, est, pub
}

func batch(frame uint32, subjects ...types.Subject) types.FrameBatch {
	return types.FrameBatch{
		DeviceID:    dev.ID,
		FrameNumber: frame,
		ColorFormat: types.RgbResolution640x480Fps30,
		Color:       []byte{1, 2, 3, 4},
		DepthFormat: types.Resolution320x240Fps30,
		Depth:       []uint16{100, 200},
		Subjects:    subjects,
		Complete:    true,
	}
}

func subject(id int32, state types.TrackingState, z float32) types.Subject {
	return types.Subject{ID: id, State: state, Position: types.Vector3{X: 0.1, Y: 0.2, Z: z}}
}

func TestHandleBatchBroadcastsSuccessfulPoses(t *testing.T) {
	c, table, _, pub := newHarness()

	summary, err := c.HandleBatch(batch(1,
		subject(1, types.Tracked, 1.5),
		subject(2, types.Tracked, 2.0),
		subject(3, types.Tracked, 0), // estimate fails
	))
	if err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	want := Summary{FrameNumber: 1, Updated: 3, Estimated: 2, Broadcast: 2, Reset: true}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(pub.out) != 2 {
		t.Fatalf("expected two broadcasts, got %d", len(pub.out))
	}
	if pub.out[0].Device != 1 || pub.out[0].Translation.Z != 1.5 || pub.out[1].Translation.Z != 2.0 {
		t.Fatalf("unexpected broadcasts: %+v", pub.out)
	}
	if table.Len() != 3 {
		t.Fatalf("failed estimate must still be tracked, table has %d", table.Len())
	}
}

func TestHandleBatchSkipsNotTracked(t *testing.T) {
	c, table, est, pub := newHarness()

	summary, err := c.HandleBatch(batch(5,
		subject(1, types.NotTracked, 1),
		subject(2, types.PositionOnly, 1),
	))
	if err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}
	if _, ok := table.Tracker(1); ok {
		t.Fatalf("not-tracked subject created a tracker")
	}
	if tr, ok := table.Tracker(2); !ok || tr.LastSeenFrame != 5 {
		t.Fatalf("position-only subject not tracked")
	}
	if len(est.handles) != 0 || len(pub.out) != 0 {
		t.Fatalf("position-only subject must not be estimated")
	}
	if summary.Updated != 1 {
		t.Fatalf("unexpected updated count: %d", summary.Updated)
	}
}

func TestHandleBatchIncompleteIsSkipped(t *testing.T) {
	c, table, _, pub := newHarness()
	if _, err := c.HandleBatch(batch(1, subject(1, types.Tracked, 1))); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}
	pub.out = nil

	incomplete := batch(500, subject(2, types.Tracked, 1))
	incomplete.Complete = false
	_, err := c.HandleBatch(incomplete)
	if !errors.Is(err, ErrIncompleteBatch) {
		t.Fatalf("unexpected error: %v", err)
	}

	missingDepth := batch(501, subject(2, types.Tracked, 1))
	missingDepth.Depth = nil
	if _, err := c.HandleBatch(missingDepth); !errors.Is(err, ErrIncompleteBatch) {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cmp.Equal(table.SubjectIDs(), []int32{1}) {
		t.Fatalf("skipped batch must not update or sweep, table=%v", table.SubjectIDs())
	}
	if len(pub.out) != 0 {
		t.Fatalf("skipped batch broadcast %d poses", len(pub.out))
	}
}

func TestSweepRunsBeforeBroadcast(t *testing.T) {
	c, _, est, pub := newHarness()
	_, _ = c.HandleBatch(batch(10, subject(1, types.Tracked, 0)))
	pub.out = nil

	summary, _ := c.HandleBatch(batch(200, subject(2, types.Tracked, 1)))
	if summary.Evicted != 1 {
		t.Fatalf("expected stale subject evicted, got %d", summary.Evicted)
	}
	if len(pub.out) != 1 || pub.out[0].Trackers != 1 {
		t.Fatalf("broadcast must see the swept table: %+v", pub.out)
	}
	if est.handles[0].closes != 1 {
		t.Fatalf("evicted handle closed %d times", est.handles[0].closes)
	}
}

func TestFormatChangeScenarioC(t *testing.T) {
	c, table, est, _ := newHarness()

	_, _ = c.HandleBatch(batch(1, subject(7, types.Tracked, 1)))
	before, _ := table.Tracker(7)

	changed := batch(2, subject(7, types.Tracked, 1))
	changed.ColorFormat = types.RgbResolution1280x960Fps12
	changed.Color = make([]byte, 8)
	summary, err := c.HandleBatch(changed)
	if err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}
	if !summary.Reset {
		t.Fatalf("expected reset on colour format change")
	}

	after, _ := table.Tracker(7)
	if before == after || before.Generation == after.Generation {
		t.Fatalf("subject reused its tracker across a format change")
	}
	if len(est.handles) != 2 {
		t.Fatalf("expected a fresh estimator handle, got %d handles", len(est.handles))
	}
	if est.handles[0].closes != 1 || est.handles[1].closes != 0 {
		t.Fatalf("unexpected close counts %d/%d", est.handles[0].closes, est.handles[1].closes)
	}
	if got := len(est.handles[1].frames[0].Color); got != 8 {
		t.Fatalf("colour buffer not reallocated, len=%d", got)
	}
}

func TestDepthFormatChangeResets(t *testing.T) {
	c, table, est, _ := newHarness()
	_, _ = c.HandleBatch(batch(1, subject(1, types.Tracked, 1), subject(2, types.PositionOnly, 1)))

	changed := batch(2)
	changed.DepthFormat = types.Resolution640x480Fps30
	summary, _ := c.HandleBatch(changed)

	if !summary.Reset || table.Len() != 0 {
		t.Fatalf("expected empty table after depth format change, got %d", table.Len())
	}
	if est.handles[0].closes != 1 {
		t.Fatalf("handle closed %d times", est.handles[0].closes)
	}
}

func TestSteadyFormatDoesNotReset(t *testing.T) {
	c, _, est, _ := newHarness()
	_, _ = c.HandleBatch(batch(1, subject(1, types.Tracked, 1)))
	summary, _ := c.HandleBatch(batch(2, subject(1, types.Tracked, 1)))

	if summary.Reset {
		t.Fatalf("unexpected reset")
	}
	if len(est.handles) != 1 || len(est.handles[0].frames) != 2 {
		t.Fatalf("tracker did not persist across frames")
	}
}

func TestBatchBuffersAreCopied(t *testing.T) {
	c, _, est, _ := newHarness()
	b := batch(1, subject(1, types.Tracked, 1))
	_, _ = c.HandleBatch(b)
	b.Color[0] = 99

	if got := est.handles[0].frames[0].Color[0]; got != 1 {
		t.Fatalf("coordinator must own its buffers, saw %d", got)
	}
}

func TestCloseReleasesTrackers(t *testing.T) {
	c, table, est, _ := newHarness()
	_, _ = c.HandleBatch(batch(1, subject(1, types.Tracked, 1), subject(2, types.Tracked, 1)))
	c.Close()

	if table.Len() != 0 {
		t.Fatalf("table not empty after close")
	}
	for _, h := range est.handles {
		if h.closes != 1 {
			t.Fatalf("handle %d closed %d times", h.id, h.closes)
		}
	}
	snap := c.Snapshot()
	if snap.Index != 1 || snap.Trackers != 0 || snap.LastFrame != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestDuplicateSubjectHandledOncePerBatch(t *testing.T) {
	c, _, est, pub := newHarness()

	summary, err := c.HandleBatch(batch(1,
		subject(7, types.Tracked, 1),
		subject(7, types.Tracked, 2),
		subject(8, types.Tracked, 3),
	))
	if err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	want := Summary{FrameNumber: 1, Updated: 2, Estimated: 2, Broadcast: 2, Reset: true}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(pub.out) != 2 || pub.out[0].Translation.Z != 1 || pub.out[1].Translation.Z != 3 {
		t.Fatalf("expected one line per subject from the first entry: %+v", pub.out)
	}
	if len(est.handles) != 2 || len(est.handles[0].frames) != 1 {
		t.Fatalf("subject 7 estimated more than once")
	}
}
