// Package syncctrl implements the pause/reset/measure state machine that
// brings a newly-started session of N expected cameras into a state
// where every camera's local frame sequence differs from the global
// SyncFrameNumber by a fixed, known, per-camera offset.
package syncctrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/straln/braidcore/internal/cammgr"
	"github.com/straln/braidcore/internal/clockmodel"
	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/timeutil"
	"github.com/straln/braidcore/internal/trigger"
)

// State is one of the controller's named states.
type State int

const (
	Idle State = iota
	WaitingForCameras
	WaitingForTrigger
	Pausing
	Resetting
	Measuring
	Synced
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingForCameras:
		return "WaitingForCameras"
	case WaitingForTrigger:
		return "WaitingForTrigger"
	case Pausing:
		return "Pausing"
	case Resetting:
		return "Resetting"
	case Measuring:
		return "Measuring"
	case Synced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// ErrSyncFailed is the fatal error threaded back to the orchestrator's
// shutdown/error channel when synchronization cannot complete after
// retries.
var ErrSyncFailed = errors.New("syncctrl: synchronization failed after retry")

// ErrSyncLost is the transient error recorded against a single camera
// when its packets stop matching their installed offset.
var ErrSyncLost = errors.New("syncctrl: camera lost synchronization")

// Default timing constants per §4.2. DefaultResidualThreshold is a mean
// squared residual in seconds^2 — (2ms)^2 — chosen to match the
// orchestrator's clockmodel.Estimator outlier threshold (2ms) so the fit
// quality gate and the per-sample outlier gate agree on what "close
// enough" means.
const (
	DefaultPauseDuration     = 3 * time.Second
	DefaultPauseMargin       = 500 * time.Millisecond
	DefaultResidualThreshold = 4e-6
)

// MissingCameraGrace is pauseDuration + 2s, per spec.
func missingCameraGrace(pauseDuration time.Duration) time.Duration {
	return pauseDuration + 2*time.Second
}

// PacketEvent is reported by the UDP ingress / coordinator for every
// accepted FeaturePacket, before the controller decides whether it may
// become a FramedPoint.
type PacketEvent struct {
	CamName         string
	LocalFrame      int32
	HostReceiveTime time.Time
}

// Decision is the controller's verdict on a PacketEvent.
type Decision struct {
	Accept bool
	// SyncFrameNumber is only meaningful when Accept is true.
	SyncFrameNumber uint64
}

// Config carries the controller's tunable timing constants.
type Config struct {
	PauseDuration     time.Duration
	PauseMargin       time.Duration
	ResidualThreshold float64
}

func (c Config) withDefaults() Config {
	if c.PauseDuration <= 0 {
		c.PauseDuration = DefaultPauseDuration
	}
	if c.PauseMargin <= 0 {
		c.PauseMargin = DefaultPauseMargin
	}
	if c.ResidualThreshold <= 0 {
		c.ResidualThreshold = DefaultResidualThreshold
	}
	return c
}

type cameraDeadline struct {
	deadline time.Time
	retried  bool
}

// Controller drives the state machine from a single goroutine (Run).
// Outside callers interact with it via NotifyPacket, State, and the
// error channels; all mutation of internal state happens on the Run
// goroutine except where noted.
type Controller struct {
	mgr   *cammgr.Manager
	trig  trigger.Driver
	est   *clockmodel.Estimator
	clock timeutil.Clock
	cfg   Config

	mu             sync.RWMutex
	state          State
	pauseOnset     time.Time
	pauseWindowEnd time.Time
	cameraDeadline map[string]*cameraDeadline

	packetEvents chan PacketEvent
	syncFailed   chan error
	syncLost     chan string
}

// New constructs a Controller over the given camera manager, trigger
// driver, and clock model estimator. The estimator is expected to
// already be wired to trig's sample stream by the caller (typically the
// coordinator orchestrator); the controller only calls Reset on it.
func New(mgr *cammgr.Manager, trig trigger.Driver, est *clockmodel.Estimator, clock timeutil.Clock, cfg Config) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		mgr:            mgr,
		trig:           trig,
		est:            est,
		clock:          clock,
		cfg:            cfg.withDefaults(),
		state:          Idle,
		cameraDeadline: make(map[string]*cameraDeadline),
		packetEvents:   make(chan PacketEvent, 256),
		syncFailed:     make(chan error, 1),
		syncLost:       make(chan string, 16),
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SyncFailed returns the channel on which a fatal SyncFailed is sent.
func (c *Controller) SyncFailed() <-chan error { return c.syncFailed }

// SyncLost returns the channel on which transient per-camera SyncLost
// camera names are sent.
func (c *Controller) SyncLost() <-chan string { return c.syncLost }

// NotifyPacket feeds an accepted packet's arrival into the controller.
// Safe to call from any goroutine; it never blocks the caller for long
// since the channel is buffered and the controller drains it promptly.
func (c *Controller) NotifyPacket(ev PacketEvent) {
	select {
	case c.packetEvents <- ev:
	default:
		monitoring.Logf("syncctrl: dropping packet event for %s, event queue full", ev.CamName)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	monitoring.Logf("syncctrl: transition to %s", s)
}

// Run drives the state machine until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(WaitingForCameras)

	pollTicker := c.clock.NewTicker(1 * time.Second)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pollTicker.C():
			c.onPoll(ctx)

		case <-c.mgr.PresenceChanged():
			c.onPoll(ctx)

		case <-c.trig.ConnectionChanged():
			c.onTriggerChanged(ctx)

		case ev := <-c.packetEvents:
			c.onPacket(ctx, ev)
		}
	}
}

func (c *Controller) onTriggerChanged(ctx context.Context) {
	if !c.trig.Connected() {
		monitoring.Logf("syncctrl: trigger disconnected, returning to WaitingForCameras")
		c.mgr.ClearAllOffsets()
		c.setState(WaitingForCameras)
	}
}

func (c *Controller) onPoll(ctx context.Context) {
	switch c.State() {
	case WaitingForCameras, WaitingForTrigger:
		if c.trig.Connected() && c.mgr.AllPresent() {
			c.beginPause(ctx)
		}

	case Pausing:
		now := c.clock.Now()
		if now.Sub(c.pauseOnset) >= c.cfg.PauseDuration {
			c.enterResetting(ctx)
		}

	case Measuring:
		c.checkMissingCameras()
		c.checkSynced()
	}
}

func (c *Controller) beginPause(ctx context.Context) {
	c.mu.Lock()
	c.pauseOnset = c.clock.Now()
	c.pauseWindowEnd = c.pauseOnset.Add(c.cfg.PauseDuration).Add(c.cfg.PauseMargin)
	c.mu.Unlock()
	c.setState(Pausing)

	if err := c.trig.Pause(ctx); err != nil {
		monitoring.Logf("syncctrl: trigger pause failed: %v", err)
	}
}

func (c *Controller) enterResetting(ctx context.Context) {
	c.setState(Resetting)

	c.mgr.ClearAllOffsets()
	c.est.Reset()

	if err := c.trig.Resume(ctx); err != nil {
		monitoring.Logf("syncctrl: trigger resume failed: %v", err)
	}

	deadline := c.clock.Now().Add(missingCameraGrace(c.cfg.PauseDuration))
	c.mu.Lock()
	c.cameraDeadline = make(map[string]*cameraDeadline)
	for _, name := range c.mgr.RegisteredCamNames() {
		c.cameraDeadline[name] = &cameraDeadline{deadline: deadline}
	}
	c.mu.Unlock()

	c.setState(Measuring)
}

func (c *Controller) checkMissingCameras() {
	now := c.clock.Now()

	c.mu.Lock()
	var expired []string
	for name, cd := range c.cameraDeadline {
		if _, hasOffset := c.mgr.Offset(name); hasOffset {
			delete(c.cameraDeadline, name)
			continue
		}
		if now.Before(cd.deadline) {
			continue
		}
		if !cd.retried {
			cd.retried = true
			cd.deadline = now.Add(missingCameraGrace(c.cfg.PauseDuration))
			c.mgr.MarkMissing(name)
			continue
		}
		expired = append(expired, name)
	}
	c.mu.Unlock()

	if len(expired) > 0 {
		err := fmt.Errorf("%w: cameras never produced a packet after retry: %v", ErrSyncFailed, expired)
		select {
		case c.syncFailed <- err:
		default:
		}
	}
}

func (c *Controller) checkSynced() {
	if !c.mgr.AllSynced() {
		return
	}
	model := c.est.CurrentModel()
	if model == nil || model.Residual >= c.cfg.ResidualThreshold {
		return
	}
	c.setState(Synced)
}

// onPacket applies the per-packet sync decision described in §4.2 and
// reports SyncLost/offset installation as a side effect. Callers that
// need the Decision for FramedPoint emission should call Decide
// directly from the same goroutine that owns packet ingestion; onPacket
// exists for the Run-goroutine-driven bookkeeping (offset install,
// deadlines, SyncLost→Pausing) triggered by the same events.
func (c *Controller) onPacket(ctx context.Context, ev PacketEvent) {
	state := c.State()

	if state == Pausing || state == Resetting {
		return // invariant 4: no packets accepted during Pausing/Resetting
	}

	c.mu.RLock()
	inPauseWindow := !c.pauseWindowEnd.IsZero() && !ev.HostReceiveTime.Before(c.pauseOnset) && ev.HostReceiveTime.Before(c.pauseWindowEnd)
	c.mu.RUnlock()
	if inPauseWindow {
		return
	}

	if state != Measuring && state != Synced {
		return
	}

	if _, hasOffset := c.mgr.Offset(ev.CamName); !hasOffset {
		offset := uint64(ev.LocalFrame)
		if err := c.mgr.SetOffset(ev.CamName, offset); err != nil {
			monitoring.Logf("syncctrl: failed to install offset for %s: %v", ev.CamName, err)
			return
		}
		c.mu.Lock()
		delete(c.cameraDeadline, ev.CamName)
		c.mu.Unlock()
		if state == Measuring {
			c.checkSynced()
		}
		return
	}

	offset, _ := c.mgr.Offset(ev.CamName)
	expectedSyncFrame := uint64(ev.LocalFrame) - offset
	_ = expectedSyncFrame // the deviation check below recomputes against the prior sync frame

	if deviates(ev.LocalFrame, offset) {
		select {
		case c.syncLost <- ev.CamName:
		default:
		}
		c.beginPause(ctx)
	}
}

// deviates reports whether a packet's local frame number, given its
// installed offset, would resolve to a negative sync frame — the
// cheapest available signal (without a per-camera "last sync frame"
// state machine of its own) that this camera's local counter has
// drifted from the offset fixed right after Resetting.
func deviates(localFrame int32, offset uint64) bool {
	return uint64(localFrame) < offset
}

// Decide computes a FramedPoint emission decision for an accepted
// packet without mutating controller state, for use by the coordinator
// ingestion path that must answer "can this become a FramedPoint" on
// every packet, not just the ones that happen to race the Run
// goroutine's own channel drain.
func (c *Controller) Decide(ev PacketEvent) Decision {
	state := c.State()
	if state != Measuring && state != Synced {
		return Decision{Accept: false}
	}

	c.mu.RLock()
	inPauseWindow := !c.pauseWindowEnd.IsZero() && !ev.HostReceiveTime.Before(c.pauseOnset) && ev.HostReceiveTime.Before(c.pauseWindowEnd)
	c.mu.RUnlock()
	if inPauseWindow {
		return Decision{Accept: false}
	}

	offset, ok := c.mgr.Offset(ev.CamName)
	if !ok {
		return Decision{Accept: false}
	}

	syncFrame := uint64(ev.LocalFrame) - offset
	return Decision{Accept: true, SyncFrameNumber: syncFrame}
}
