package internal

import (
	"log"
	"time"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

// SleepDeps is everything the scheduler consults or tears down when it
// decides to suspend. SleepSeconds is a function, not a value: a remote
// command arriving inside the command window mutates the stored value and
// the scheduler must see it.
type SleepDeps struct {
	SleepSeconds    func() uint32
	OTAActive       func() bool
	Published       bool
	ServiceCommands func()
	ShutdownSession func()
	ShutdownRadio   func()
}

// SleepScheduler decides once per main cycle whether to suspend for power
// saving. Three conditions independently veto sleep: sleep disabled, an OTA
// transfer in flight, and a cycle whose telemetry has not yet been published
// (the device must not sleep on unpublished data).
//
// Before suspending it holds the session open for a bounded command window,
// still servicing inbound commands, so a "deepsleep 0" sent moments before
// suspension is honored.
type SleepScheduler struct {
	sleeper Sleeper
	cfg     config.SleepConfig

	now  func() time.Time
	wait func(time.Duration)
}

const commandWindowStep = 100 * time.Millisecond

func NewSleepScheduler(sleeper Sleeper, cfg config.SleepConfig) *SleepScheduler {
	return &SleepScheduler{
		sleeper: sleeper,
		cfg:     cfg,
		now:     time.Now,
		wait:    time.Sleep,
	}
}

// Evaluate returns true when the device is suspending; on real hardware
// DeepSleep does not return and execution resumes at boot.
func (s *SleepScheduler) Evaluate(deps SleepDeps) bool {
	sec := deps.SleepSeconds()
	if sec == 0 {
		return false
	}
	if deps.OTAActive() {
		return false
	}
	if !deps.Published {
		// Retry the cycle next tick instead.
		return false
	}

	log.Printf("sleep: suspending for %ds after %s command window", sec, s.cfg.CommandWindow)

	deadline := s.now().Add(s.cfg.CommandWindow)
	for s.now().Before(deadline) {
		deps.ServiceCommands()
		s.wait(commandWindowStep)
	}
	deps.ServiceCommands()

	// Re-check the vetoes: a command inside the window may have disabled
	// sleep, and an OTA transfer may have started.
	sec = deps.SleepSeconds()
	if sec == 0 {
		log.Printf("sleep: cancelled during command window")
		return false
	}
	if deps.OTAActive() {
		log.Printf("sleep: deferred, OTA transfer in progress")
		return false
	}

	deps.ShutdownSession()
	deps.ShutdownRadio()

	if err := s.sleeper.DeepSleep(time.Duration(sec) * time.Second); err != nil {
		// Treated as transient: stay awake, publish again next cycle.
		log.Printf("sleep: suspend failed: %v", err)
		return false
	}
	return true
}
