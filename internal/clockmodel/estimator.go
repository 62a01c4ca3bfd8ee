// Package clockmodel fits a linear model relating trigger pulse counts to
// host-clock seconds from a lazy stream of (pulseCount, hostSeconds)
// samples, using a bounded sliding window so memory stays O(1).
package clockmodel

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/straln/braidcore/internal/wire"
)

// DefaultWindowSize bounds how many samples the estimator retains.
const DefaultWindowSize = 100

// DefaultNMin is the minimum accepted-sample count before a model exists.
const DefaultNMin = 5

// DefaultOutlierThreshold is the default maximum allowed deviation, in
// seconds, between a sample's host time and the current model's
// prediction before the sample is rejected as an outlier.
const DefaultOutlierThreshold = 1000 * 1e-6 // 1000 microseconds

type sample struct {
	pulseCount uint64
	hostSecs   float64
}

// Estimator maintains a sliding-window least-squares clock model. It is
// safe for concurrent use.
type Estimator struct {
	mu sync.RWMutex

	windowSize        int
	nMin              int
	outlierThreshold  float64
	samples           []sample
	model             *wire.ClockModel
	rejectedCount     int
}

// New constructs an Estimator with the given window size, minimum sample
// count, and outlier-rejection threshold (seconds). Zero/negative values
// fall back to the package defaults.
func New(windowSize, nMin int, outlierThreshold float64) *Estimator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if nMin <= 0 {
		nMin = DefaultNMin
	}
	if outlierThreshold <= 0 {
		outlierThreshold = DefaultOutlierThreshold
	}
	return &Estimator{
		windowSize:       windowSize,
		nMin:             nMin,
		outlierThreshold: outlierThreshold,
	}
}

// PushSample offers a new (pulseCount, hostTimestamp) pair. If a model
// already exists, samples predicting further than the outlier threshold
// from the current model are rejected and do not affect the fit. The
// very first NMin samples of a freshly-reset estimator are always
// accepted, since there is no prior model to judge them against.
// Returns true if the sample was accepted.
func (e *Estimator) PushSample(pulseCount uint64, hostTimestamp float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model != nil {
		predicted := e.model.Predict(pulseCount)
		if abs(predicted-hostTimestamp) > e.outlierThreshold {
			e.rejectedCount++
			return false
		}
	}

	e.samples = append(e.samples, sample{pulseCount: pulseCount, hostSecs: hostTimestamp})
	if len(e.samples) > e.windowSize {
		e.samples = e.samples[len(e.samples)-e.windowSize:]
	}

	if len(e.samples) >= e.nMin {
		e.refit()
	}

	return true
}

// refit recomputes the model from the current sample window. Callers
// must hold e.mu.
//
// Residual is the mean squared residual (seconds^2), not the raw
// sum-of-squares: that keeps its scale tied to the outlier threshold
// (itself a per-sample seconds bound) regardless of window size, so a
// Residual-based "is this model good enough" gate stays meaningful as
// the sample count grows from NMin towards windowSize.
func (e *Estimator) refit() {
	xs := make([]float64, len(e.samples))
	ys := make([]float64, len(e.samples))
	for i, s := range e.samples {
		xs[i] = float64(s.pulseCount)
		ys[i] = s.hostSecs
	}

	offset, gain := stat.LinearRegression(xs, ys, nil, false)

	var ss float64
	for i := range xs {
		resid := ys[i] - (gain*xs[i] + offset)
		ss += resid * resid
	}

	e.model = &wire.ClockModel{
		Gain:          gain,
		Offset:        offset,
		Residual:      ss / float64(len(xs)),
		NMeasurements: len(e.samples),
	}
}

// CurrentModel returns a snapshot of the current model, or nil if fewer
// than NMin samples have been accepted since the last reset.
func (e *Estimator) CurrentModel() *wire.ClockModel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return nil
	}
	m := *e.model
	return &m
}

// IsIdle reports whether the estimator has never been fed a model (used
// by PTP trigger mode, which constructs an estimator but never feeds
// it).
func (e *Estimator) IsIdle() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model == nil
}

// Predict maps a pulse count to a host-time estimate using the current
// model. It returns false if no model exists yet.
func (e *Estimator) Predict(pulseCount uint64) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return 0, false
	}
	return e.model.Predict(pulseCount), true
}

// RejectedCount returns the number of samples rejected as outliers since
// the last Reset.
func (e *Estimator) RejectedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rejectedCount
}

// Reset clears all state: samples, model, and the rejected-sample
// counter. Called by the sync controller on entering Resetting.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = nil
	e.model = nil
	e.rejectedCount = 0
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
