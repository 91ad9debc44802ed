// Package estimator defines the contract with the per-subject pose
// estimator and ships a synthetic implementation for debug runs.
package estimator

import (
	"errors"

	"posecast-go/internal/device"
	"posecast-go/internal/types"
)

var ErrEstimatorUnavailable = errors.New("pose estimator unavailable")

// Frame is the device image data a Handle estimates against. Buffers are
// owned by the caller and only valid for the duration of Estimate.
type Frame struct {
	ColorFormat types.ColorFormat
	Color       []byte
	DepthFormat types.DepthFormat
	Depth       []uint16
}

// Estimator creates one Handle per tracked subject.
type Estimator interface {
	NewHandle(dev device.Device) (Handle, error)
}

// Handle holds per-subject estimator state. Close must be called exactly once.
type Handle interface {
	Estimate(frame Frame, subject types.Subject) types.PoseResult
	Close() error
}

type Func func(frame Frame, subject types.Subject) types.PoseResult

// FuncEstimator adapts a stateless estimate function.
type FuncEstimator Func

func (f FuncEstimator) NewHandle(device.Device) (Handle, error) {
	if f == nil {
		return nil, ErrEstimatorUnavailable
	}
	return funcHandle{fn: Func(f)}, nil
}

type funcHandle struct {
	fn Func
}

func (h funcHandle) Estimate(frame Frame, subject types.Subject) types.PoseResult {
	return h.fn(frame, subject)
}

func (h funcHandle) Close() error { return nil }
