package coordinator

import "errors"

// Typed startup failures, returned from Orchestrator.Start and mapped to
// exit code 1 by cmd/mainbrain.
var (
	ErrBind            = errors.New("coordinator: failed to bind UDP ingest socket")
	ErrCalibrationLoad = errors.New("coordinator: failed to load calibration file")
	ErrTriggerInit     = errors.New("coordinator: failed to initialize trigger driver")
	ErrConfiguration   = errors.New("coordinator: invalid configuration")
)

// ErrSyncFailedFatal wraps a sync-controller failure that reaches the
// orchestrator's shutdown path, mapped to exit code 2 by cmd/mainbrain.
var ErrSyncFailedFatal = errors.New("coordinator: fatal synchronization failure")

// ErrClean marks an orderly shutdown (signal-triggered or operator
// requested), as opposed to a failure of one of the supervised tasks.
var ErrClean = errors.New("coordinator: clean shutdown")
