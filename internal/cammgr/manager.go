// Package cammgr is the coordinator's process-wide camera registry: which
// cameras are expected, which have connected, each camera's per-stream
// frame-number offset relative to the global trigger sequence, and the
// aggregate "all-present"/"all-synced" signals the sync controller polls.
package cammgr

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCamera is returned by Register when raw_cam_name is not in
// the expected set.
var ErrUnknownCamera = errors.New("cammgr: unknown camera")

// ErrAlreadyRegistered is returned by Register when the camera has
// already registered this session with a different registration.
var ErrAlreadyRegistered = errors.New("cammgr: camera already registered with a different registration")

// Registration is what a camera node reports on first contact.
type Registration struct {
	RawCamName    string
	ControlURL    string
	ControlToken  string
	InitialImage  []byte
	SettingsBlob  string
	SignalPeriod  float64
}

// Equal reports whether two registrations are byte-identical, the
// criterion used to allow a reconnecting camera to keep its CamNum.
func (r Registration) Equal(other Registration) bool {
	return r.RawCamName == other.RawCamName &&
		r.ControlURL == other.ControlURL &&
		r.ControlToken == other.ControlToken &&
		string(r.InitialImage) == string(other.InitialImage) &&
		r.SettingsBlob == other.SettingsBlob &&
		r.SignalPeriod == other.SignalPeriod
}

// cameraState holds everything the manager tracks for one registered
// camera.
type cameraState struct {
	camNum       uint8
	registration Registration
	offset       *uint64 // nil until the sync controller installs one
	missing      bool
}

// Manager is the coordinator's exclusive-owned camera registry. Safe for
// concurrent use.
type Manager struct {
	mu sync.RWMutex

	expected map[string]bool
	cameras  map[string]*cameraState
	nextNum  uint8

	presenceCh chan struct{} // closed+replaced on every presence change
}

// New creates a Manager for the given set of expected camera names.
func New(expectedCamNames []string) *Manager {
	expected := make(map[string]bool, len(expectedCamNames))
	for _, n := range expectedCamNames {
		expected[n] = true
	}
	return &Manager{
		expected:   expected,
		cameras:    make(map[string]*cameraState),
		presenceCh: make(chan struct{}),
	}
}

// Register assigns a CamNum to a newly-reporting camera, or returns the
// camera's existing CamNum if it is re-registering identically.
// CamNum assignment is monotonic in registration order: the nth distinct
// camera to register gets a CamNum strictly greater than every prior
// one's, enforced by nextNum being mutated only under mu.
func (m *Manager) Register(reg Registration) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.expected[reg.RawCamName] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCamera, reg.RawCamName)
	}

	if existing, ok := m.cameras[reg.RawCamName]; ok {
		if existing.registration.Equal(reg) {
			existing.missing = false
			return existing.camNum, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrAlreadyRegistered, reg.RawCamName)
	}

	num := m.nextNum
	m.nextNum++

	m.cameras[reg.RawCamName] = &cameraState{
		camNum:       num,
		registration: reg,
	}

	m.notifyPresenceChangedLocked()
	return num, nil
}

// notifyPresenceChangedLocked closes the current presence channel (waking
// any poller) and installs a fresh one. Callers must hold m.mu.
func (m *Manager) notifyPresenceChangedLocked() {
	close(m.presenceCh)
	m.presenceCh = make(chan struct{})
}

// PresenceChanged returns a channel closed the next time a new camera
// registers. An identical re-registration and MarkMissing do not close it.
func (m *Manager) PresenceChanged() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presenceCh
}

// AllPresent reports whether every expected camera has registered this
// session.
func (m *Manager) AllPresent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name := range m.expected {
		if _, ok := m.cameras[name]; !ok {
			return false
		}
	}
	return true
}

// ExpectedCount returns the number of expected cameras.
func (m *Manager) ExpectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.expected)
}

// CamNumFor returns the CamNum for an already-registered camera.
func (m *Manager) CamNumFor(rawCamName string) (uint8, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.cameras[rawCamName]
	if !ok {
		return 0, false
	}
	return cs.camNum, true
}

// RawCamNameFor resolves a CamNum back to its RawCamName, for invariant 1
// (every FramedPoint's CamNum resolves back to the original RawCamName).
func (m *Manager) RawCamNameFor(camNum uint8) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, cs := range m.cameras {
		if cs.camNum == camNum {
			return name, true
		}
	}
	return "", false
}

// SetOffset installs rawCamName's sync frame offset. Called by the sync
// controller the moment a camera's first post-reset packet establishes
// offset = local_frame - 0.
func (m *Manager) SetOffset(rawCamName string, offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.cameras[rawCamName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, rawCamName)
	}
	cs.offset = &offset
	return nil
}

// ClearOffset invalidates rawCamName's offset, e.g. on Resetting or a
// force-sync request.
func (m *Manager) ClearOffset(rawCamName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs, ok := m.cameras[rawCamName]; ok {
		cs.offset = nil
	}
}

// ClearAllOffsets invalidates every camera's offset, called by the sync
// controller on entering Resetting.
func (m *Manager) ClearAllOffsets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cs := range m.cameras {
		cs.offset = nil
	}
}

// Offset returns rawCamName's current offset, or false if none is
// installed.
func (m *Manager) Offset(rawCamName string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.cameras[rawCamName]
	if !ok || cs.offset == nil {
		return 0, false
	}
	return *cs.offset, true
}

// AllSynced reports whether every registered camera has a non-nil
// offset.
func (m *Manager) AllSynced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.cameras) == 0 {
		return false
	}
	for _, cs := range m.cameras {
		if cs.offset == nil {
			return false
		}
	}
	return true
}

// MarkMissing flags rawCamName as missing (failed to produce a packet in
// time after Resetting).
func (m *Manager) MarkMissing(rawCamName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs, ok := m.cameras[rawCamName]; ok {
		cs.missing = true
	}
}

// Missing returns the RawCamNames currently flagged missing.
func (m *Manager) Missing() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, cs := range m.cameras {
		if cs.missing {
			out = append(out, name)
		}
	}
	return out
}

// RegisteredCamNames returns the RawCamNames currently registered.
func (m *Manager) RegisteredCamNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cameras))
	for name := range m.cameras {
		out = append(out, name)
	}
	return out
}

// ControlURL returns the registered control URL for rawCamName.
func (m *Manager) ControlURL(rawCamName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.cameras[rawCamName]
	if !ok {
		return "", false
	}
	return cs.registration.ControlURL, true
}
