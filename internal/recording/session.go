package recording

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyClosed is returned by Close on a session that has already
// been closed, and by RecordCameraSnapshot on a closed session.
var ErrAlreadyClosed = errors.New("recording: session already closed")

// CameraSnapshot is the per-camera metadata captured into a
// RecordingSession the moment a camera is registered during that
// session: its assigned CamNum, its original name, and whatever
// settings/initial-image blobs the camera reported at registration.
type CameraSnapshot struct {
	CamNum       uint8
	RawCamName   string
	SettingsBlob string
	InitialImage []byte
}

// Session is a RecordingSession: an output directory, a creation time, an
// expected fps, and the set of per-camera snapshots contributed while it
// was open. Created on start-saving, closed on stop-saving or coordinator
// exit.
type Session struct {
	db  *DB
	id  int64
	mu  sync.Mutex
	closed bool

	OutputDirname  string
	CreatedAt      time.Time
	ExpectedFPS    float64
	ExperimentUUID string
}

// Start opens a new RecordingSession and records it. Every session is
// assigned a fresh experiment UUID so external tooling (an analysis
// notebook, a label review queue) can reference it without depending on
// the SQLite row ID.
func Start(db *DB, outputDirname string, expectedFPS float64) (*Session, error) {
	now := time.Now()
	experimentUUID := uuid.New().String()
	res, err := db.Exec(
		`INSERT INTO recording_sessions (output_dirname, created_at_unix_nanos, expected_fps, experiment_uuid) VALUES (?, ?, ?, ?)`,
		outputDirname, now.UnixNano(), expectedFPS, experimentUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("recording: start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("recording: start session: %w", err)
	}
	return &Session{
		db:             db,
		id:             id,
		OutputDirname:  outputDirname,
		CreatedAt:      now,
		ExpectedFPS:    expectedFPS,
		ExperimentUUID: experimentUUID,
	}, nil
}

// RecordCameraSnapshot persists snap as having contributed to this
// session. Re-registration of the same CamNum (e.g. a camera reconnecting
// mid-session with an identical registration) overwrites its prior
// snapshot rather than erroring.
func (s *Session) RecordCameraSnapshot(snap CameraSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrAlreadyClosed
	}
	_, err := s.db.Exec(
		`INSERT INTO camera_snapshots (session_id, cam_num, raw_cam_name, settings_blob, initial_image)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, cam_num) DO UPDATE SET
		   raw_cam_name = excluded.raw_cam_name,
		   settings_blob = excluded.settings_blob,
		   initial_image = excluded.initial_image`,
		s.id, snap.CamNum, snap.RawCamName, snap.SettingsBlob, snap.InitialImage,
	)
	if err != nil {
		return fmt.Errorf("recording: record camera snapshot: %w", err)
	}
	return nil
}

// Snapshots returns the camera snapshots recorded for this session, in
// CamNum order.
func (s *Session) Snapshots() ([]CameraSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT cam_num, raw_cam_name, settings_blob, initial_image
		 FROM camera_snapshots WHERE session_id = ? ORDER BY cam_num`,
		s.id,
	)
	if err != nil {
		return nil, fmt.Errorf("recording: snapshots: %w", err)
	}
	defer rows.Close()

	var out []CameraSnapshot
	for rows.Next() {
		var snap CameraSnapshot
		var settings sql.NullString
		if err := rows.Scan(&snap.CamNum, &snap.RawCamName, &settings, &snap.InitialImage); err != nil {
			return nil, fmt.Errorf("recording: snapshots: %w", err)
		}
		snap.SettingsBlob = settings.String
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close finalizes the session, recording the close time. Idempotent
// calls past the first return ErrAlreadyClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrAlreadyClosed
	}
	_, err := s.db.Exec(
		`UPDATE recording_sessions SET closed_at_unix_nanos = ? WHERE id = ?`,
		time.Now().UnixNano(), s.id,
	)
	if err != nil {
		return fmt.Errorf("recording: close session: %w", err)
	}
	s.closed = true
	return nil
}
