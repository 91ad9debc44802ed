// Package pipeline routes incoming frame batches to one worker per device.
// Each worker owns its device's coordinator and tracker table, so batches
// for one device are handled strictly in order while different devices
// proceed concurrently.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"posecast-go/internal/coordinator"
	"posecast-go/internal/device"
	"posecast-go/internal/estimator"
	"posecast-go/internal/output"
	"posecast-go/internal/tracking"
	"posecast-go/internal/types"
)

// workerQueue bounds the batches waiting per device. Overflow drops whole
// batches; tracker eviction compares frame numbers, not handled batch
// counts, so a dropped frame still counts as missed.
const workerQueue = 8

type metrics struct {
	messages       atomic.Uint64
	batches        atomic.Uint64
	batchesSkipped atomic.Uint64
	batchesDropped atomic.Uint64
	subjects       atomic.Uint64
	estimates      atomic.Uint64
	broadcasts     atomic.Uint64
	evictions      atomic.Uint64
	resets         atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"messages_total":        m.messages.Load(),
		"batches_total":         m.batches.Load(),
		"batches_skipped_total": m.batchesSkipped.Load(),
		"batches_dropped_total": m.batchesDropped.Load(),
		"subject_updates_total": m.subjects.Load(),
		"estimates_total":       m.estimates.Load(),
		"broadcasts_total":      m.broadcasts.Load(),
		"evictions_total":       m.evictions.Load(),
		"format_resets_total":   m.resets.Load(),
	}
}

type Pipeline struct {
	directory *device.Directory
	estimator estimator.Estimator
	publisher coordinator.Publisher
	maxMissed uint32

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
	metrics metrics
}

type worker struct {
	device   device.Device
	in       chan types.FrameBatch
	snapshot atomic.Pointer[types.DeviceSnapshot]
}

func New(dir *device.Directory, est estimator.Estimator, pub coordinator.Publisher, maxMissed uint32) *Pipeline {
	return &Pipeline{
		directory: dir,
		estimator: est,
		publisher: pub,
		maxMissed: maxMissed,
		workers:   make(map[string]*worker),
	}
}

// Run consumes messages until ctx is cancelled or in is closed, then stops
// every worker and waits for their tables to be released.
func (p *Pipeline) Run(ctx context.Context, in <-chan types.RawMessage) {
	defer p.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			p.Handle(msg)
		}
	}
}

func (p *Pipeline) Handle(msg types.RawMessage) {
	p.metrics.messages.Add(1)
	switch msg.Type {
	case "start":
		p.discover(msg.Meta)
	case "end":
		log.Printf("[pipeline] end of stream: %v", output.NormalizeJSONValue(msg.Meta))
	case "frame":
		p.Dispatch(msg.Batch)
	}
}

// Dispatch queues batch on its device's worker. A batch arriving while the
// worker is still busy with earlier ones is dropped; the device simply
// misses that frame. Safe to call concurrently with Close.
func (p *Pipeline) Dispatch(batch types.FrameBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workerLocked(batch.DeviceID)
	if w == nil {
		return
	}
	select {
	case w.in <- batch:
	default:
		p.metrics.batchesDropped.Add(1)
	}
}

// Close stops all workers and waits for them to release their trackers.
// Further dispatches are ignored.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.in)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Snapshots returns the latest per-device view ordered by device index.
func (p *Pipeline) Snapshots() []types.DeviceSnapshot {
	p.mu.Lock()
	out := make([]types.DeviceSnapshot, 0, len(p.workers))
	for _, w := range p.workers {
		if snap := w.snapshot.Load(); snap != nil {
			out = append(out, *snap)
		} else {
			out = append(out, types.DeviceSnapshot{Index: w.device.Index, ID: w.device.ID})
		}
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (p *Pipeline) Metrics() map[string]any {
	return p.metrics.snapshot()
}

func (p *Pipeline) workerLocked(deviceID string) *worker {
	if p.closed {
		return nil
	}
	if w, ok := p.workers[deviceID]; ok {
		return w
	}
	dev := p.directory.Resolve(deviceID)
	w := &worker{device: dev, in: make(chan types.FrameBatch, workerQueue)}
	p.workers[deviceID] = w
	p.wg.Add(1)
	go p.runWorker(w)
	log.Printf("[pipeline] device %d (%s) online", dev.Index, dev.ID)
	return w
}

func (p *Pipeline) runWorker(w *worker) {
	defer p.wg.Done()
	table := tracking.NewTable(w.device, p.estimator, p.maxMissed)
	coord := coordinator.New(w.device, table, p.publisher)
	defer coord.Close()

	for batch := range w.in {
		summary, err := coord.HandleBatch(batch)
		if errors.Is(err, coordinator.ErrIncompleteBatch) {
			p.metrics.batchesSkipped.Add(1)
			continue
		}
		p.metrics.batches.Add(1)
		p.metrics.subjects.Add(uint64(summary.Updated))
		p.metrics.estimates.Add(uint64(summary.Estimated))
		p.metrics.broadcasts.Add(uint64(summary.Broadcast))
		p.metrics.evictions.Add(uint64(summary.Evicted))
		if summary.Reset {
			p.metrics.resets.Add(1)
		}
		snap := coord.Snapshot()
		w.snapshot.Store(&snap)
	}
	log.Printf("[pipeline] device %d (%s) stopped", w.device.Index, w.device.ID)
}

// discover pre-registers devices listed in start metadata so their indices
// follow the bridge's enumeration order.
func (p *Pipeline) discover(meta map[string]any) {
	list, ok := meta["devices"].([]any)
	if !ok {
		return
	}
	for _, item := range list {
		if id, ok := item.(string); ok && id != "" {
			dev := p.directory.Resolve(id)
			log.Printf("[pipeline] discovered device %d (%s)", dev.Index, dev.ID)
		}
	}
}
