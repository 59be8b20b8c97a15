package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/internal"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := NewStateStore(t.TempDir(), 3600)
	require.NoError(t, err)
	return store
}

func TestBootRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := internal.BootRecord{
		CrashFlag:        internal.CrashPending,
		CrashCount:       3,
		ResetCount:       2,
		ResetWindowStart: 1700000000123,
	}
	require.NoError(t, store.SaveBootRecord(rec))
	assert.Equal(t, rec, store.LoadBootRecord())
}

func TestBootRecordMissingFileReadsClean(t *testing.T) {
	store := newTestStore(t)
	rec := store.LoadBootRecord()
	assert.Equal(t, internal.CrashClean, rec.CrashFlag)
	assert.Zero(t, rec.CrashCount)
	assert.Zero(t, rec.ResetCount)
}

func TestBootRecordCorruptionReadsClean(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir, 3600)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.json"), []byte("\x00\xffgarbage"), 0o644))
	assert.Equal(t, internal.CrashClean, store.LoadBootRecord().CrashFlag)

	// Valid JSON with an impossible flag is corruption too.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.json"),
		[]byte(`{"crash_flag":"maybe","crash_count":7}`), 0o644))
	rec := store.LoadBootRecord()
	assert.Equal(t, internal.CrashClean, rec.CrashFlag)
	assert.Zero(t, rec.CrashCount)
}

func TestSleepSecondsDefaultAndRoundTrip(t *testing.T) {
	store := newTestStore(t)
	assert.Zero(t, store.LoadSleepSeconds())

	require.NoError(t, store.SaveSleepSeconds(300))
	assert.Equal(t, uint32(300), store.LoadSleepSeconds())

	require.NoError(t, store.SaveSleepSeconds(0))
	assert.Zero(t, store.LoadSleepSeconds())
}

func TestSleepSecondsClampedToMaximum(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir, 3600)
	require.NoError(t, err)

	require.NoError(t, store.SaveSleepSeconds(99999))
	assert.Equal(t, uint32(3600), store.LoadSleepSeconds())

	// A value corrupted on disk is clamped on read as well.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sleep.json"),
		[]byte(`{"sleep_seconds":4294967295}`), 0o644))
	assert.Equal(t, uint32(3600), store.LoadSleepSeconds())
}

func TestNetworkRecordRoundTripAndClear(t *testing.T) {
	store := newTestStore(t)
	assert.False(t, store.LoadNetwork().HasCredentials())

	rec := internal.NetworkRecord{SSID: "homenet", Passphrase: "hunter2", DeviceName: "attic probe"}
	require.NoError(t, store.SaveNetwork(rec))
	assert.Equal(t, rec, store.LoadNetwork())

	require.NoError(t, store.ClearNetwork())
	assert.False(t, store.LoadNetwork().HasCredentials())
	// Clearing twice is fine.
	require.NoError(t, store.ClearNetwork())
}

func TestPortalRequestMarker(t *testing.T) {
	store := newTestStore(t)
	assert.False(t, store.ConsumePortalRequest())

	require.NoError(t, store.SetPortalRequest())
	assert.True(t, store.ConsumePortalRequest())
	assert.False(t, store.ConsumePortalRequest(), "marker must clear on consume")
}
