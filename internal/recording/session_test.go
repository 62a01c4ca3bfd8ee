package recording

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "recording.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStart_CreatesSession(t *testing.T) {
	db := openTestDB(t)

	s, err := Start(db, "/tmp/out", 100.0)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", s.OutputDirname)
	assert.Equal(t, 100.0, s.ExpectedFPS)
	assert.NotEmpty(t, s.ExperimentUUID)
}

func TestStart_AssignsDistinctExperimentUUIDs(t *testing.T) {
	db := openTestDB(t)

	s1, err := Start(db, "/tmp/out1", 100.0)
	require.NoError(t, err)
	s2, err := Start(db, "/tmp/out2", 100.0)
	require.NoError(t, err)

	assert.NotEqual(t, s1.ExperimentUUID, s2.ExperimentUUID)
}

func TestRecordCameraSnapshot_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	s, err := Start(db, "/tmp/out", 100.0)
	require.NoError(t, err)

	snap := CameraSnapshot{CamNum: 1, RawCamName: "camA", SettingsBlob: `{"fps":100}`, InitialImage: []byte{1, 2, 3}}
	require.NoError(t, s.RecordCameraSnapshot(snap))

	got, err := s.Snapshots()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "camA", got[0].RawCamName)
	assert.Equal(t, uint8(1), got[0].CamNum)
}

func TestRecordCameraSnapshot_ReconnectOverwrites(t *testing.T) {
	db := openTestDB(t)
	s, err := Start(db, "/tmp/out", 100.0)
	require.NoError(t, err)

	require.NoError(t, s.RecordCameraSnapshot(CameraSnapshot{CamNum: 1, RawCamName: "camA", SettingsBlob: "v1"}))
	require.NoError(t, s.RecordCameraSnapshot(CameraSnapshot{CamNum: 1, RawCamName: "camA", SettingsBlob: "v2"}))

	got, err := s.Snapshots()
	require.NoError(t, err)
	require.Len(t, got, 1, "reconnect should overwrite, not append")
	assert.Equal(t, "v2", got[0].SettingsBlob)
}

func TestClose_IsIdempotentlyRejected(t *testing.T) {
	db := openTestDB(t)
	s, err := Start(db, "/tmp/out", 100.0)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrAlreadyClosed)
	assert.ErrorIs(t, s.RecordCameraSnapshot(CameraSnapshot{CamNum: 1, RawCamName: "camA"}), ErrAlreadyClosed)
}
