package internal

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

// ErrSuspended is returned by Run after a deep-sleep suspend completes on
// platforms where suspension returns to the caller. The process must exit
// and re-enter at boot; there is no in-memory continuation.
var ErrSuspended = errors.New("execution suspended, re-enter at boot")

// degradedStableAfter bounds how long an uplink outage can keep the boot
// counted as incomplete. A device that runs this long is stable, just
// degraded, and must not drift toward crash-loop recovery.
const degradedStableAfter = 5 * time.Minute

// RunnerStore is the slice of the state store the steady-state loop needs.
type RunnerStore interface {
	LoadBootRecord() BootRecord
	LoadSleepSeconds() uint32
	SaveSleepSeconds(sec uint32) error
	SetPortalRequest() error
}

// OTA is the slice of the update client the loop consumes.
type OTA interface {
	InProgress() bool
	MaybeCheck()
}

// Runner is the explicit device context: every piece of mutable steady-state
// lives here or in exactly one component it owns, and the single tick loop
// is the only writer.
type Runner struct {
	cfg        *config.Config
	store      RunnerStore
	boot       *BootCheck
	wifi       *WiFiSupervisor
	session    *SessionManager
	sleep      *SleepScheduler
	telemetry  *Telemetry
	dispatcher *Dispatcher
	ota        OTA
	sensor     Sensor
	restarter  Restarter

	deviceName string
	bootReason BootReason
	bootTime   time.Time

	reportSeconds    uint32
	published        bool
	lastReport       time.Time
	steadyMarked     bool
	restartRequested bool
	suspended        bool
	sensorWasHealthy bool

	// events waiting for a live session; seeded with the boot event and
	// flushed on the first connect.
	pendingEvents []Event
}

func NewRunner(
	cfg *config.Config,
	store RunnerStore,
	boot *BootCheck,
	wifi *WiFiSupervisor,
	client PubSub,
	ota OTA,
	sensor Sensor,
	sleeper Sleeper,
	restarter Restarter,
	deviceName string,
	bootReason BootReason,
	freshlyConfigured bool,
) *Runner {
	r := &Runner{
		cfg:              cfg,
		store:            store,
		boot:             boot,
		wifi:             wifi,
		ota:              ota,
		sensor:           sensor,
		restarter:        restarter,
		deviceName:       deviceName,
		bootReason:       bootReason,
		bootTime:         time.Now(),
		reportSeconds:    uint32(cfg.Loop.ReportInterval / time.Second),
		sensorWasHealthy: true,
	}

	r.dispatcher = NewDispatcher(CommandActions{
		PublishStatus:    func() { r.publishStatus() },
		RequestRestart:   func() { r.restartRequested = true },
		ResetCredentials: r.resetCredentials,
		SetSleepSeconds:  r.setSleepSeconds,
		SetParam: map[string]func(uint32){
			"interval": func(v uint32) { r.reportSeconds = v },
		},
	}, cfg.Sleep.MaxSeconds)

	r.session = NewSessionManager(client, CommandTopic(cfg.MQTT.Namespace, deviceName), r.dispatcher.Dispatch, cfg.Session)
	r.telemetry = NewTelemetry(r.session, cfg.MQTT.Namespace, deviceName)
	r.sleep = NewSleepScheduler(sleeper, cfg.Sleep)

	r.pendingEvents = append(r.pendingEvents, Event{
		Event:     "boot",
		Severity:  "info",
		Message:   "boot reason: " + bootReason.String(),
		Timestamp: time.Now().Unix(),
	})
	if freshlyConfigured {
		r.pendingEvents = append(r.pendingEvents, Event{
			Event:     "device_configured",
			Severity:  "info",
			Message:   "credentials updated via setup portal",
			Timestamp: time.Now().Unix(),
		})
	}

	return r
}

// Run drives the cooperative loop until restart, suspension, or ctx cancel.
func (r *Runner) Run(ctx context.Context) error {
	tick := time.NewTicker(r.cfg.Loop.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("runner: shutting down")
			r.session.Shutdown()
			return nil
		case <-tick.C:
			r.tick()
		}

		if r.restartRequested {
			log.Printf("runner: restarting device")
			r.session.Shutdown()
			return r.restarter.Restart()
		}
		if r.suspended {
			return ErrSuspended
		}
	}
}

// tick is one pass of the main cycle. Every step must return promptly;
// multi-step work is polled across ticks inside the components.
func (r *Runner) tick() {
	r.serviceSensor()

	r.wifi.Tick()
	r.session.Tick(r.wifi.Connected())

	for _, ev := range r.wifi.DrainEvents() {
		r.telemetry.PublishEvent(ev)
	}
	r.flushPendingEvents()

	r.markSteadyState()

	if r.wifi.Connected() {
		r.ota.MaybeCheck()
	}

	r.publishCycle()

	if r.published && r.sensor.ReadyToSleep() {
		r.suspended = r.sleep.Evaluate(SleepDeps{
			SleepSeconds:    r.store.LoadSleepSeconds,
			OTAActive:       r.ota.InProgress,
			Published:       r.published,
			ServiceCommands: r.session.ServiceCommands,
			ShutdownSession: r.session.Shutdown,
			ShutdownRadio:   r.wifi.Shutdown,
		})
	}
}

func (r *Runner) serviceSensor() {
	if err := r.sensor.Service(); err != nil {
		log.Printf("runner: sensor service: %v", err)
	}
	healthy := r.sensor.Healthy()
	if r.sensorWasHealthy && !healthy {
		r.telemetry.PublishEvent(Event{
			Event:     "sensor_error",
			Severity:  "error",
			Message:   "sensor reports unhealthy",
			Timestamp: time.Now().Unix(),
		})
	}
	r.sensorWasHealthy = healthy
}

// markSteadyState clears the pending crash flag once, either on a fully
// established uplink or after running degraded long enough to prove the
// firmware itself is fine.
func (r *Runner) markSteadyState() {
	if r.steadyMarked {
		return
	}
	established := r.wifi.Connected() && r.session.Connected()
	degradedButStable := time.Since(r.bootTime) > degradedStableAfter
	if !established && !degradedButStable {
		return
	}
	if err := r.boot.MarkBootSuccessful(); err != nil {
		log.Printf("runner: unable to mark boot successful: %v", err)
		return
	}
	r.steadyMarked = true
	if established {
		log.Printf("runner: steady state reached")
	} else {
		log.Printf("runner: degraded but stable, boot counted as successful")
	}
}

// publishCycle publishes the status document when the report interval has
// elapsed (or the boot publish is still owed). A failed publish leaves the
// cycle unpublished so the sleep scheduler holds the device awake and the
// next tick retries.
func (r *Runner) publishCycle() {
	interval := time.Duration(r.reportSeconds) * time.Second
	if interval <= 0 {
		interval = r.cfg.Loop.StatusInterval
	}
	if !r.lastReport.IsZero() && time.Since(r.lastReport) < interval {
		return
	}
	r.published = false
	if !r.session.Connected() {
		return
	}
	if r.publishStatus() {
		r.published = true
		r.lastReport = time.Now()
	}
}

func (r *Runner) publishStatus() bool {
	sleepSec := r.store.LoadSleepSeconds()
	payload := StatusPayload{
		UptimeSeconds:    int64(time.Since(r.bootTime) / time.Second),
		WifiRSSI:         r.wifi.RSSI(),
		FreeHeap:         freeHeap(),
		DeepSleepEnabled: sleepSec > 0,
		DeepSleepSeconds: sleepSec,
		BootReason:       r.bootReason.String(),
		CrashCount:       r.store.LoadBootRecord().CrashCount,
		FallbackAPActive: r.wifi.FallbackActive(),
		ReportSeconds:    r.reportSeconds,
	}
	if value, at, ok := r.sensor.LastReading(); ok {
		payload.Reading = &value
		payload.ReadingAt = &at
	}
	if err := r.telemetry.PublishStatus(payload); err != nil {
		log.Printf("runner: status publish failed: %v", err)
		return false
	}
	return true
}

func (r *Runner) flushPendingEvents() {
	if len(r.pendingEvents) == 0 || !r.session.Connected() {
		return
	}
	for _, ev := range r.pendingEvents {
		r.telemetry.PublishEvent(ev)
	}
	r.pendingEvents = nil
}

func (r *Runner) setSleepSeconds(sec uint32) {
	if err := r.store.SaveSleepSeconds(sec); err != nil {
		log.Printf("runner: unable to persist sleep interval: %v", err)
	}
}

func (r *Runner) resetCredentials() {
	if err := r.store.SetPortalRequest(); err != nil {
		log.Printf("runner: unable to record portal request: %v", err)
		return
	}
	r.restartRequested = true
}
