package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/straln/braidcore/internal/timeutil"
)

// FakeDriver emits pulses at a fixed frame rate using a timeutil.Clock,
// so it can run under a MockClock in tests as well as RealClock in the
// fake-trigger demo mode.
type FakeDriver struct {
	clock timeutil.Clock
	fps   float64

	mu          sync.Mutex
	paused      bool
	connected   bool
	pulseCount  uint64
	connChanged chan struct{}

	samples chan Sample
}

// NewFakeDriver creates a fake trigger running at fps frames per second.
func NewFakeDriver(clock timeutil.Clock, fps float64) *FakeDriver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FakeDriver{
		clock:       clock,
		fps:         fps,
		connected:   true,
		connChanged: make(chan struct{}),
		samples:     make(chan Sample, 16),
	}
}

func (d *FakeDriver) Mode() Mode { return ModeFake }

func (d *FakeDriver) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / d.fps)
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			d.mu.Lock()
			if d.paused {
				d.mu.Unlock()
				continue
			}
			d.pulseCount++
			count := d.pulseCount
			d.mu.Unlock()

			select {
			case d.samples <- Sample{PulseCount: count, HostTime: now}:
			default:
				// Slow consumer: drop this pulse sample, the model just
				// fits on whatever arrives.
			}
		}
	}
}

func (d *FakeDriver) Samples() <-chan Sample { return d.samples }

func (d *FakeDriver) ConnectionChanged() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connChanged
}

func (d *FakeDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *FakeDriver) Pause(ctx context.Context) error {
	d.mu.Lock()
	d.paused = true
	d.pulseCount = 0
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Resume(ctx context.Context) error {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		d.connected = false
		close(d.connChanged)
		d.connChanged = make(chan struct{})
	}
	return nil
}
