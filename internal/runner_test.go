package internal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

type memDeviceStore struct {
	memBootStore
	sleepSec       uint32
	portalRequests int
}

func (m *memDeviceStore) LoadSleepSeconds() uint32 { return m.sleepSec }

func (m *memDeviceStore) SaveSleepSeconds(sec uint32) error {
	m.sleepSec = sec
	return nil
}

func (m *memDeviceStore) SetPortalRequest() error {
	m.portalRequests++
	return nil
}

type fakeSensor struct {
	value   float64
	healthy bool
	ready   bool
}

func (f *fakeSensor) Service() error { return nil }

func (f *fakeSensor) LastReading() (float64, time.Time, bool) {
	return f.value, time.Unix(1700000000, 0), true
}

func (f *fakeSensor) Healthy() bool      { return f.healthy }
func (f *fakeSensor) ReadyToSleep() bool { return f.ready }

type fakeOTA struct {
	active bool
	checks int
}

func (f *fakeOTA) InProgress() bool { return f.active }
func (f *fakeOTA) MaybeCheck()      { f.checks++ }

type runnerHarness struct {
	r       *Runner
	store   *memDeviceStore
	radio   *fakeRadio
	ap      *fakeAP
	client  *fakePubSub
	sensor  *fakeSensor
	ota     *fakeOTA
	sleeper *fakeSleeper
	rst     *fakeRestarter
}

func newRunnerHarness(t *testing.T) *runnerHarness {
	t.Helper()

	cfg := &config.Config{
		MQTT: config.MQTTConfig{Namespace: "sensors"},
		Boot: config.BootConfig{
			CrashLoopThreshold: 5,
			ResetThreshold:     3,
			ResetWindow:        2 * time.Second,
			ResetCountSanity:   10,
		},
		WiFi: config.WiFiConfig{
			AttemptInterval: 5 * time.Second,
			FallbackTimeout: 60 * time.Second,
			StaleTimeout:    90 * time.Second,
			FallbackSSID:    "sensor-fallback",
		},
		Session: config.SessionConfig{
			ReconnectInterval: 5 * time.Second,
			StaleTimeout:      120 * time.Second,
			DisconnectGrace:   500 * time.Millisecond,
		},
		Sleep: config.SleepConfig{MaxSeconds: 3600, CommandWindow: 5 * time.Second},
		Loop: config.LoopConfig{
			TickInterval:   time.Second,
			StatusInterval: 60 * time.Second,
			ReportInterval: 60 * time.Second,
		},
	}

	h := &runnerHarness{
		store:   &memDeviceStore{},
		radio:   &fakeRadio{},
		ap:      &fakeAP{},
		client:  &fakePubSub{},
		sensor:  &fakeSensor{value: 21.5, healthy: true},
		ota:     &fakeOTA{},
		sleeper: &fakeSleeper{},
		rst:     &fakeRestarter{},
	}

	boot := NewBootCheck(h.store, cfg.Boot)
	wifi := NewWiFiSupervisor(h.radio, h.ap, storedCreds(), cfg.WiFi)
	h.r = NewRunner(cfg, h.store, boot, wifi, h.client, h.ota, h.sensor,
		h.sleeper, h.rst, "dev1", BootNormal, false)

	// The scheduler's command window runs on a fake clock so tests finish
	// promptly.
	clock := time.Unix(1700000000, 0)
	h.r.sleep.now = func() time.Time { return clock }
	h.r.sleep.wait = func(d time.Duration) { clock = clock.Add(d) }

	return h
}

func TestTickReachesSteadyStateAndPublishes(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true

	h.r.tick()

	assert.True(t, h.r.published)
	assert.Contains(t, h.client.published, "sensors/dev1/status")
	// Boot event flushed once the session was up.
	assert.Contains(t, h.client.published, "sensors/dev1/events")
	assert.Equal(t, CrashClean, h.store.rec.CrashFlag, "steady state must clear the crash flag")
	assert.Equal(t, 1, h.ota.checks)
	assert.Empty(t, h.sleeper.slept, "sleep disabled by default")
}

func TestTickWithoutRadioStaysPending(t *testing.T) {
	h := newRunnerHarness(t)
	h.store.rec = BootRecord{CrashFlag: CrashPending}

	h.r.tick()

	assert.False(t, h.r.published)
	assert.Equal(t, CrashPending, h.store.rec.CrashFlag)
	assert.Zero(t, h.ota.checks)
}

func TestDeepSleepCommandPersistsAndSuspends(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.sensor.ready = true

	h.r.tick()
	require.True(t, h.r.published)
	require.False(t, h.r.suspended)

	// Remote command arrives between ticks on the transport goroutine.
	require.NotNil(t, h.client.handler)
	h.client.handler([]byte("deepsleep 30"))

	h.r.tick()

	assert.Equal(t, uint32(30), h.store.sleepSec)
	assert.True(t, h.r.suspended)
	assert.Equal(t, []time.Duration{30 * time.Second}, h.sleeper.slept)
	assert.GreaterOrEqual(t, h.client.disconnects, 1, "session must close before suspend")
	assert.Equal(t, 1, h.radio.disconnects, "radio must drop before suspend")
}

func TestUnpublishedCycleBlocksSleep(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.sensor.ready = true
	h.store.sleepSec = 30
	h.client.publishErr = errors.New("broker hiccup")

	h.r.tick()

	assert.False(t, h.r.published)
	assert.False(t, h.r.suspended)
	assert.Empty(t, h.sleeper.slept)
}

func TestOTATransferBlocksSleep(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.sensor.ready = true
	h.store.sleepSec = 30
	h.ota.active = true

	h.r.tick()

	assert.True(t, h.r.published)
	assert.False(t, h.r.suspended)
	assert.Empty(t, h.sleeper.slept)
}

func TestRestartCommand(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.r.tick()

	h.client.handler([]byte("restart"))
	h.r.tick()

	assert.True(t, h.r.restartRequested)
}

func TestResetCredentialsCommandLeavesMarkerAndRestarts(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.r.tick()

	h.client.handler([]byte("resetcredentials"))
	h.r.tick()

	assert.Equal(t, 1, h.store.portalRequests)
	assert.True(t, h.r.restartRequested)
}

func TestIntervalCommandAdjustsReporting(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.r.tick()

	h.client.handler([]byte("interval 120"))
	h.r.tick()

	assert.Equal(t, uint32(120), h.r.reportSeconds)
}

func TestSensorUnhealthyEmitsSingleEvent(t *testing.T) {
	h := newRunnerHarness(t)
	h.radio.connected = true
	h.r.tick()

	before := len(h.client.published)
	h.sensor.healthy = false
	h.r.tick()
	h.r.tick()

	events := 0
	for _, topic := range h.client.published[before:] {
		if topic == "sensors/dev1/events" {
			events++
		}
	}
	assert.Equal(t, 1, events, "unhealthy transition must be reported once, not every tick")
}
