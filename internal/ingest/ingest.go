package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"posecast-go/internal/types"
)

// RawRecorder receives every message exactly as it came off the socket.
type RawRecorder interface {
	Record(payload []byte) error
}

const recvTimeout = 250 * time.Millisecond

var (
	decodeFailures atomic.Uint64
	decodeCount    atomic.Uint64
	decodeNanos    atomic.Uint64
	logCounter     atomic.Uint64
)

// Stream returns a channel of messages from the sensor bridge.
// Expects CBOR messages shaped like:
//
//	{ "type": "frame", "device_id": <str>, "frame_number": <uint>,
//	  "color_format": <int|str>, "color": <bytes|tag 64|tag 40>,
//	  "depth_format": <int|str>, "depth": <tag 69|tag 40>,
//	  "subjects": [ { "id": <int>, "state": <int|str>, "position": [x,y,z],
//	                  "joints": { "head": [x,y,z], ... } } ] }
//
// "start" and "end" messages carry a "meta" map and are passed through.
func Stream(ctx context.Context, endpoint string) (<-chan types.RawMessage, error) {
	return StreamWithLogEveryAndRecorder(ctx, endpoint, 1, nil)
}

func StreamWithLogEveryAndRecorder(ctx context.Context, endpoint string, logEvery int, recorder RawRecorder) (<-chan types.RawMessage, error) {
	if logEvery < 1 {
		logEvery = 1
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	log.Printf("[ingest] connected to %s", endpoint)

	out := make(chan types.RawMessage, 128)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				logEveryN(logEvery, "[ingest] recv error: %v", err)
				continue
			}
			if recorder != nil {
				if err := recorder.Record(msg); err != nil {
					logEveryN(logEvery, "[ingest] raw log write failed: %v", err)
				}
			}

			raw, ok := decodeMessage(msg, logEvery)
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- raw:
			}
		}
	}()

	return out, nil
}

// DecodeFailures is the number of messages dropped as undecodable.
func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

func DecodeTiming() (uint64, uint64) {
	return decodeCount.Load(), decodeNanos.Load()
}

type wireMessage struct {
	Type        string         `cbor:"type"`
	DeviceID    string         `cbor:"device_id"`
	FrameNumber uint64         `cbor:"frame_number"`
	ColorFormat any            `cbor:"color_format"`
	Color       any            `cbor:"color"`
	DepthFormat any            `cbor:"depth_format"`
	Depth       any            `cbor:"depth"`
	Subjects    *[]wireSubject `cbor:"subjects"`
	Meta        map[string]any `cbor:"meta"`
}

type wireSubject struct {
	ID       int64                `cbor:"id"`
	State    any                  `cbor:"state"`
	Position []float32            `cbor:"position"`
	Joints   map[string][]float32 `cbor:"joints"`
}

var errMissingDevice = errors.New("missing device_id")

func decodeMessage(msg []byte, logEvery int) (types.RawMessage, bool) {
	start := time.Now()
	defer func() {
		decodeCount.Add(1)
		decodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
	}()

	raw, err := Decode(msg)
	if err != nil {
		if !errors.Is(err, errIgnoredType) {
			decodeFailures.Add(1)
		}
		logEveryN(logEvery, "[ingest] %v", err)
		return types.RawMessage{}, false
	}
	return raw, true
}

var errIgnoredType = errors.New("ignored message type")

// Decode parses one bridge message.
func Decode(msg []byte) (types.RawMessage, error) {
	var wire wireMessage
	if err := cbor.Unmarshal(msg, &wire); err != nil {
		return types.RawMessage{}, fmt.Errorf("CBOR decode error: %w", err)
	}

	switch wire.Type {
	case "start", "end":
		return types.RawMessage{Type: wire.Type, Meta: wire.Meta}, nil
	case "frame":
	default:
		return types.RawMessage{}, fmt.Errorf("%w %q", errIgnoredType, wire.Type)
	}

	batch, err := decodeBatch(wire)
	if err != nil {
		return types.RawMessage{}, fmt.Errorf("invalid frame: %w", err)
	}
	return types.RawMessage{Type: "frame", Batch: batch}, nil
}

// decodeBatch converts a frame message. Missing colour, depth or subject
// data yields an incomplete batch rather than an error; the coordinator
// decides what to skip.
func decodeBatch(wire wireMessage) (types.FrameBatch, error) {
	if wire.DeviceID == "" {
		return types.FrameBatch{}, errMissingDevice
	}
	batch := types.FrameBatch{
		DeviceID:    wire.DeviceID,
		FrameNumber: uint32(wire.FrameNumber),
		Complete:    true,
	}

	var err error
	if batch.ColorFormat, err = colorFormat(wire.ColorFormat); err != nil {
		return types.FrameBatch{}, err
	}
	if batch.DepthFormat, err = depthFormat(wire.DepthFormat); err != nil {
		return types.FrameBatch{}, err
	}

	if wire.Color == nil {
		batch.Complete = false
	} else if batch.Color, err = decodeColor(wire.Color); err != nil {
		return types.FrameBatch{}, fmt.Errorf("color: %w", err)
	}
	if wire.Depth == nil {
		batch.Complete = false
	} else if batch.Depth, err = decodeDepth(wire.Depth); err != nil {
		return types.FrameBatch{}, fmt.Errorf("depth: %w", err)
	}
	if wire.Subjects == nil {
		batch.Complete = false
		return batch, nil
	}

	batch.Subjects = make([]types.Subject, 0, len(*wire.Subjects))
	for _, ws := range *wire.Subjects {
		subject, err := decodeSubject(ws)
		if err != nil {
			return types.FrameBatch{}, err
		}
		batch.Subjects = append(batch.Subjects, subject)
	}
	return batch, nil
}

func decodeSubject(ws wireSubject) (types.Subject, error) {
	if ws.ID < math.MinInt32 || ws.ID > math.MaxInt32 {
		return types.Subject{}, fmt.Errorf("subject id %d out of range", ws.ID)
	}
	state, err := trackingState(ws.State)
	if err != nil {
		return types.Subject{}, fmt.Errorf("subject %d: %w", ws.ID, err)
	}
	subject := types.Subject{ID: int32(ws.ID), State: state}
	if len(ws.Position) > 0 {
		if subject.Position, err = toVector(ws.Position); err != nil {
			return types.Subject{}, fmt.Errorf("subject %d position: %w", ws.ID, err)
		}
	}
	if len(ws.Joints) > 0 {
		subject.Joints = make(map[string]types.Vector3, len(ws.Joints))
		for name, raw := range ws.Joints {
			v, err := toVector(raw)
			if err != nil {
				return types.Subject{}, fmt.Errorf("subject %d joint %q: %w", ws.ID, name, err)
			}
			subject.Joints[name] = v
		}
	}
	return subject, nil
}

func toVector(v []float32) (types.Vector3, error) {
	if len(v) != 3 {
		return types.Vector3{}, fmt.Errorf("expected 3 components, got %d", len(v))
	}
	return types.Vector3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func trackingState(v any) (types.TrackingState, error) {
	if name, ok := v.(string); ok {
		state, ok := types.ParseTrackingState(name)
		if !ok {
			return types.NotTracked, fmt.Errorf("unknown tracking state %q", name)
		}
		return state, nil
	}
	n, err := toInt(v)
	if err != nil {
		return types.NotTracked, err
	}
	if n < int(types.NotTracked) || n > int(types.Tracked) {
		return types.NotTracked, fmt.Errorf("tracking state %d out of range", n)
	}
	return types.TrackingState(n), nil
}

func colorFormat(v any) (types.ColorFormat, error) {
	if v == nil {
		return types.ColorUndefined, nil
	}
	if name, ok := v.(string); ok {
		f, ok := types.ParseColorFormat(name)
		if !ok {
			return types.ColorUndefined, fmt.Errorf("unknown color format %q", name)
		}
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return types.ColorUndefined, err
	}
	return types.ColorFormat(n), nil
}

func depthFormat(v any) (types.DepthFormat, error) {
	if v == nil {
		return types.DepthUndefined, nil
	}
	if name, ok := v.(string); ok {
		f, ok := types.ParseDepthFormat(name)
		if !ok {
			return types.DepthUndefined, fmt.Errorf("unknown depth format %q", name)
		}
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return types.DepthUndefined, err
	}
	return types.DepthFormat(n), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func logEveryN(n int, format string, args ...any) {
	if logCounter.Add(1)%uint64(n) == 0 {
		log.Printf(format, args...)
	}
}
