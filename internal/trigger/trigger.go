// Package trigger abstracts the global pulse source that drives camera
// exposures: a hardware pulse box over serial, a fake in-process clock for
// tests and demos, a PTP-synchronized camera needing no pulse source at
// all, or a fixed device-timestamp calibration computed once at startup.
package trigger

import (
	"context"
	"time"
)

// Mode identifies which trigger implementation is in play; camnode uses
// it to choose how to compute a packet's TriggerTimestamp (§4.4 step 3).
type Mode int

const (
	// ModeFake is an in-process ticker, for tests and demos.
	ModeFake Mode = iota
	// ModePulse is a hardware pulse box reached over a serial transport.
	ModePulse
	// ModePTP is a PTP-synchronized camera; device timestamps are
	// host-equivalent directly, no clock model is used.
	ModePTP
	// ModeDeviceTimestamp calibrates a fixed device->host model once at
	// startup and applies it to every subsequent packet.
	ModeDeviceTimestamp
)

func (m Mode) String() string {
	switch m {
	case ModeFake:
		return "fake"
	case ModePulse:
		return "pulse"
	case ModePTP:
		return "ptp"
	case ModeDeviceTimestamp:
		return "device-timestamp"
	default:
		return "unknown"
	}
}

// Sample is one (pulse count, host-observed time) pair, fed to
// internal/clockmodel.
type Sample struct {
	PulseCount uint64
	HostTime   time.Time
}

// Driver is the common interface implemented by every trigger source.
type Driver interface {
	// Mode reports which kind of driver this is.
	Mode() Mode

	// Run starts the driver and blocks until ctx is cancelled or the
	// driver encounters a fatal error. Samples are delivered on the
	// channel returned by Samples while Run is active.
	Run(ctx context.Context) error

	// Samples returns the channel on which (pulseCount, hostTime) pairs
	// are delivered. ModePTP and ModeDeviceTimestamp drivers may deliver
	// zero or one sample and otherwise leave it empty.
	Samples() <-chan Sample

	// ConnectionChanged returns a channel closed the next time the
	// driver's connected/disconnected state changes.
	ConnectionChanged() <-chan struct{}

	// Connected reports whether the trigger source is currently
	// reachable.
	Connected() bool

	// Pause asks the driver to stop emitting pulses, for the sync
	// controller's Pausing state. No-op for PTP and device-timestamp
	// drivers, which have no pulse stream to stop.
	Pause(ctx context.Context) error

	// Resume asks the driver to resume emitting pulses after a pause.
	Resume(ctx context.Context) error

	// Close releases any resources (serial port, tickers).
	Close() error
}
