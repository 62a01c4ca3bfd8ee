package trigger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/serialmux"
	"github.com/straln/braidcore/internal/timeutil"
)

// pulseStatusLine is the JSON status line the trigger box emits once
// FMT=J has been sent during Initialize.
type pulseStatusLine struct {
	PulseCount uint64 `json:"pulse_count"`
}

// PulseDriver is the hardware trigger box, reached over the shared serial
// transport in internal/serialmux.
type PulseDriver struct {
	mux   serialmux.SerialMuxInterface
	clock timeutil.Clock

	mu          sync.Mutex
	connected   bool
	connChanged chan struct{}

	samples chan Sample
}

// NewPulseDriver wraps an already-constructed serial mux. Initialize must
// be called on mux before Run (or the caller's own startup sequence) so
// the box is in a known idle state.
func NewPulseDriver(mux serialmux.SerialMuxInterface, clock timeutil.Clock) *PulseDriver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PulseDriver{
		mux:         mux,
		clock:       clock,
		connected:   true,
		connChanged: make(chan struct{}),
		samples:     make(chan Sample, 64),
	}
}

func (d *PulseDriver) Mode() Mode { return ModePulse }

// Run subscribes to the mux's line stream and runs it through Monitor
// concurrently, translating each parsed status line into a Sample. It
// returns when ctx is cancelled or Monitor returns a fatal error.
func (d *PulseDriver) Run(ctx context.Context) error {
	id, lines := d.mux.Subscribe()
	defer d.mux.Unsubscribe(id)

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- d.mux.Monitor(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-monitorErr:
			d.setConnected(false)
			return err

		case line, ok := <-lines:
			if !ok {
				d.setConnected(false)
				return nil
			}
			var status pulseStatusLine
			if jsonErr := json.Unmarshal([]byte(line), &status); jsonErr != nil {
				monitoring.Logf("trigger: ignoring unparsable status line %q: %v", line, jsonErr)
				continue
			}
			select {
			case d.samples <- Sample{PulseCount: status.PulseCount, HostTime: d.clock.Now()}:
			default:
				monitoring.Logf("trigger: dropping pulse sample, samples channel full")
			}
		}
	}
}

func (d *PulseDriver) Samples() <-chan Sample { return d.samples }

func (d *PulseDriver) ConnectionChanged() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connChanged
}

func (d *PulseDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *PulseDriver) setConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected == connected {
		return
	}
	d.connected = connected
	close(d.connChanged)
	d.connChanged = make(chan struct{})
}

// Pause stops the box's pulse emission.
func (d *PulseDriver) Pause(ctx context.Context) error {
	return d.mux.SendCommand("STOP")
}

// Resume restarts the box's pulse emission with the counter freed to
// continue from zero, matching invariant 3 (sync_frame 0 corresponds to
// the pulse immediately after the pause ends).
func (d *PulseDriver) Resume(ctx context.Context) error {
	if err := d.mux.SendCommand("RESET"); err != nil {
		return err
	}
	return d.mux.SendCommand("START")
}

func (d *PulseDriver) Close() error {
	return d.mux.Close()
}
