package internal

import (
	"log"
	"time"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

// BootStore is the slice of the state store the boot check needs.
type BootStore interface {
	LoadBootRecord() BootRecord
	SaveBootRecord(BootRecord) error
	ConsumePortalRequest() bool
}

// BootCheck classifies the current boot before anything else initializes.
// It is the only component allowed to block outside the portal: after
// recording the first reset of a window it sleeps out the remainder of the
// window so the user has time to press reset again. A reset arriving during
// that sleep kills the process; the next boot finds the window still open
// and the count already written.
type BootCheck struct {
	store BootStore
	cfg   config.BootConfig

	now  func() time.Time
	wait func(time.Duration)
}

func NewBootCheck(store BootStore, cfg config.BootConfig) *BootCheck {
	return &BootCheck{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		wait:  time.Sleep,
	}
}

// ClassifyBoot decides why this boot happened. Called exactly once, first.
func (b *BootCheck) ClassifyBoot() BootReason {
	rec := b.store.LoadBootRecord()

	// A remote "reset credentials" command leaves a marker and restarts;
	// honor it before any counter bookkeeping.
	if b.store.ConsumePortalRequest() {
		rec.CrashCount = 0
		rec.ResetCount = 0
		rec.ResetWindowStart = 0
		b.arm(rec)
		return BootRemoteReset
	}

	if rec.CrashFlag == CrashPending {
		// Previous boot never reached steady state. This is either a
		// genuine fault or a user reset; a single count is harmless
		// ambiguity, the threshold does the filtering.
		rec.CrashCount++
		if rec.CrashCount >= b.cfg.CrashLoopThreshold {
			log.Printf("boot: %d consecutive incomplete boots, entering recovery", rec.CrashCount)
			rec.CrashCount = 0
			rec.ResetCount = 0
			rec.ResetWindowStart = 0
			b.arm(rec)
			return BootCrashLoop
		}
	} else {
		// Previous boot completed normally: wipe the slate.
		rec.CrashCount = 0
		rec.ResetCount = 0
		rec.ResetWindowStart = 0
	}

	// Counters live in storage that survives arbitrary power events, so
	// never trust them blindly.
	if rec.ResetCount > b.cfg.ResetCountSanity {
		log.Printf("boot: reset_count %d outside sane bounds, zeroing", rec.ResetCount)
		rec.ResetCount = 0
		rec.ResetWindowStart = 0
	}

	now := b.now()
	if rec.ResetWindowStart > 0 {
		elapsed := now.Sub(time.UnixMilli(rec.ResetWindowStart))
		if elapsed >= 0 && elapsed < b.cfg.ResetWindow {
			rec.ResetCount++
			if rec.ResetCount >= b.cfg.ResetThreshold {
				log.Printf("boot: %d resets inside %s, user requested reconfiguration", rec.ResetCount, b.cfg.ResetWindow)
				rec.ResetCount = 0
				rec.CrashCount = 0
				rec.ResetWindowStart = 0
				b.arm(rec)
				return BootRapidReset
			}
			b.arm(rec)
			b.wait(b.cfg.ResetWindow - elapsed)
			return b.closeWindow(rec)
		}
	}

	// First reset of a new window: record it, then give the user the rest
	// of the window to trigger the next one.
	rec.ResetCount = 1
	rec.ResetWindowStart = now.UnixMilli()
	b.arm(rec)
	b.wait(b.cfg.ResetWindow)
	return b.closeWindow(rec)
}

// MarkBootSuccessful is called once steady state is reached (radio + session
// up, or deliberately degraded-but-stable).
func (b *BootCheck) MarkBootSuccessful() error {
	rec := b.store.LoadBootRecord()
	rec.CrashFlag = CrashClean
	rec.CrashCount = 0
	return b.store.SaveBootRecord(rec)
}

// arm persists the record with the crash flag pending, so the next boot can
// tell whether this one ever completed. Persist failures are logged and
// swallowed: a device that cannot write its boot record must still boot.
func (b *BootCheck) arm(rec BootRecord) {
	rec.CrashFlag = CrashPending
	if err := b.store.SaveBootRecord(rec); err != nil {
		log.Printf("boot: unable to persist boot record: %v", err)
	}
}

// closeWindow runs after the wait expired with no further reset.
func (b *BootCheck) closeWindow(rec BootRecord) BootReason {
	rec.ResetCount = 0
	rec.ResetWindowStart = 0
	b.arm(rec)
	return BootNormal
}
