package trigger

import (
	"context"

	"github.com/straln/braidcore/internal/clockmodel"
	"github.com/straln/braidcore/internal/wire"
)

// DeviceTimestampDriver calibrates a fixed device-clock->host-clock model
// once at startup from a short batch of samples, then freezes it: every
// subsequent packet's device timestamp is mapped through that frozen
// model rather than a continuously-refit one. This is the behavior
// spec'd as the intended fix for the device-timestamp trigger path's
// previously-unimplemented case (§9).
type DeviceTimestampDriver struct {
	estimator *clockmodel.Estimator
	connected bool
	samples   chan Sample
	connCh    chan struct{}
}

// NewDeviceTimestampDriver creates a driver that will calibrate against
// the given calibration samples (device timestamp in the PulseCount
// field, host time in HostTime) the first time Calibrate is called.
func NewDeviceTimestampDriver() *DeviceTimestampDriver {
	return &DeviceTimestampDriver{
		estimator: clockmodel.New(0, 0, 0),
		connected: true,
		samples:   make(chan Sample),
		connCh:    make(chan struct{}),
	}
}

func (d *DeviceTimestampDriver) Mode() Mode { return ModeDeviceTimestamp }

// Run blocks until ctx is cancelled; calibration happens via Calibrate,
// not via the Samples channel.
func (d *DeviceTimestampDriver) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DeviceTimestampDriver) Samples() <-chan Sample             { return d.samples }
func (d *DeviceTimestampDriver) ConnectionChanged() <-chan struct{} { return d.connCh }
func (d *DeviceTimestampDriver) Connected() bool                    { return d.connected }

func (d *DeviceTimestampDriver) Pause(ctx context.Context) error  { return nil }
func (d *DeviceTimestampDriver) Resume(ctx context.Context) error { return nil }
func (d *DeviceTimestampDriver) Close() error                     { return nil }

// Calibrate feeds a short startup batch of (deviceTimestamp, hostTime)
// pairs to the underlying estimator and freezes the resulting model;
// subsequent calls are no-ops once a model has been produced.
func (d *DeviceTimestampDriver) Calibrate(batch []Sample) {
	if !d.estimator.IsIdle() {
		return
	}
	for _, s := range batch {
		d.estimator.PushSample(s.PulseCount, float64(s.HostTime.UnixNano())/1e9)
	}
}

// Model returns the frozen device->host model, or nil if Calibrate has
// not yet produced one.
func (d *DeviceTimestampDriver) Model() *wire.ClockModel {
	return d.estimator.CurrentModel()
}

// ApplyModel maps a device timestamp (nanoseconds) to a host-time
// estimate (float seconds since epoch) using the frozen model. Returns
// false if calibration has not completed.
func (d *DeviceTimestampDriver) ApplyModel(deviceTimestampNanos uint64) (float64, bool) {
	return d.estimator.Predict(deviceTimestampNanos)
}
