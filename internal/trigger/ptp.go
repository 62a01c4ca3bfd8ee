package trigger

import "context"

// PTPDriver represents a PTP-synchronized camera: frames already carry a
// network-disciplined device timestamp that is host-equivalent directly,
// so no clock model sample stream is needed. Per §4.3, the estimator is
// still constructed by the caller but never fed; this driver simply never
// produces samples.
type PTPDriver struct {
	connected bool
	samples   chan Sample
	connCh    chan struct{}
}

// NewPTPDriver creates a PTP driver. It is considered connected as soon
// as it is constructed; there is no handshake in scope here.
func NewPTPDriver() *PTPDriver {
	return &PTPDriver{
		connected: true,
		samples:   make(chan Sample),
		connCh:    make(chan struct{}),
	}
}

func (d *PTPDriver) Mode() Mode { return ModePTP }

// Run blocks until ctx is cancelled; there is no pulse stream to pump.
func (d *PTPDriver) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *PTPDriver) Samples() <-chan Sample             { return d.samples }
func (d *PTPDriver) ConnectionChanged() <-chan struct{} { return d.connCh }
func (d *PTPDriver) Connected() bool                    { return d.connected }

// Pause and Resume are no-ops: there is no pulse emission to stop.
func (d *PTPDriver) Pause(ctx context.Context) error  { return nil }
func (d *PTPDriver) Resume(ctx context.Context) error { return nil }

func (d *PTPDriver) Close() error { return nil }
