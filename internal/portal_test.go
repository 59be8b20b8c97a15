package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

type memNetworkStore struct {
	rec NetworkRecord
}

func (m *memNetworkStore) LoadNetwork() NetworkRecord { return m.rec }

func (m *memNetworkStore) SaveNetwork(rec NetworkRecord) error {
	m.rec = rec
	return nil
}

type fakeRestarter struct{ calls int }

func (f *fakeRestarter) Restart() error {
	f.calls++
	return nil
}

func newTestPortal(store *memNetworkStore, radio *fakeRadio, ap *fakeAP, rst *fakeRestarter) *Portal {
	p := NewPortal(store, radio, ap, rst, config.PortalConfig{
		ListenAddr: "127.0.0.1:0",
		APSSID:     "sensor-setup",
		Timeout:    100 * time.Millisecond,
		JoinWait:   2 * time.Second,
	})
	clock := time.Unix(1700000000, 0)
	p.now = func() time.Time { return clock }
	p.wait = func(d time.Duration) { clock = clock.Add(d) }
	return p
}

func TestPortalSubmissionJoinsNewNetwork(t *testing.T) {
	store := &memNetworkStore{rec: NetworkRecord{SSID: "oldnet", DeviceName: "attic"}}
	radio := &fakeRadio{connected: true}
	rst := &fakeRestarter{}
	p := newTestPortal(store, radio, &fakeAP{}, rst)

	err := p.applySubmission(portalSubmission{
		ssid:       "newnet",
		passphrase: "correct horse",
		deviceName: "",
	})

	require.NoError(t, err)
	assert.Equal(t, PortalConnected, p.State())
	assert.Equal(t, "newnet", store.rec.SSID)
	assert.Equal(t, "attic", store.rec.DeviceName, "blank name keeps the stored one")
	assert.Equal(t, 1, radio.connectCalls)
	assert.Zero(t, rst.calls)
}

func TestPortalSubmissionJoinFailureRestarts(t *testing.T) {
	store := &memNetworkStore{}
	radio := &fakeRadio{connected: false}
	rst := &fakeRestarter{}
	p := newTestPortal(store, radio, &fakeAP{}, rst)

	err := p.applySubmission(portalSubmission{ssid: "newnet"})

	assert.ErrorIs(t, err, ErrPortalAbandoned)
	assert.Equal(t, 1, rst.calls)
	// Credentials are persisted even though the join failed, so the next
	// boot can retry them.
	assert.Equal(t, "newnet", store.rec.SSID)
}

func TestPortalTimeoutFallsBackToStoredCredentials(t *testing.T) {
	store := &memNetworkStore{rec: NetworkRecord{SSID: "homenet", Passphrase: "hunter2"}}
	radio := &fakeRadio{connected: true}
	rst := &fakeRestarter{}
	p := newTestPortal(store, radio, &fakeAP{}, rst)

	err := p.fallbackToStored()

	require.NoError(t, err)
	assert.Equal(t, PortalConnected, p.State())
	assert.Equal(t, 1, radio.connectCalls)
	assert.Zero(t, rst.calls)
}

func TestPortalTimeoutWithoutCredentialsRestarts(t *testing.T) {
	store := &memNetworkStore{}
	rst := &fakeRestarter{}
	p := newTestPortal(store, &fakeRadio{}, &fakeAP{}, rst)

	err := p.fallbackToStored()

	assert.ErrorIs(t, err, ErrPortalAbandoned)
	assert.Equal(t, 1, rst.calls)
}

func TestPortalRunTimesOutAndRestarts(t *testing.T) {
	store := &memNetworkStore{}
	ap := &fakeAP{}
	rst := &fakeRestarter{}
	p := newTestPortal(store, &fakeRadio{}, ap, rst)

	err := p.Run(BootRapidReset)

	assert.ErrorIs(t, err, ErrPortalAbandoned)
	assert.Equal(t, PortalTimedOut, p.State())
	assert.Equal(t, 1, ap.startCalls)
	assert.Equal(t, 1, rst.calls)
}
