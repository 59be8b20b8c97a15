package internal

import (
	"fmt"
	"log"
	"time"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

// WiFiSupervisor owns the station-link state machine. It never blocks the
// tick loop: each reconnect attempt is bounded by the radio's own attempt
// timeout and progress is polled on later ticks. The fallback AP runs in
// parallel with station retries so the device stays discoverable while it
// keeps trying to rejoin the primary network.
type WiFiSupervisor struct {
	radio Radio
	ap    AccessPoint
	cfg   config.WiFiConfig
	creds NetworkRecord

	state             RadioState
	disconnectedSince time.Time
	lastAttempt       time.Time
	lastStackRestart  time.Time
	attempts          uint32
	everConnected     bool

	events []Event
	now    func() time.Time
}

func NewWiFiSupervisor(radio Radio, ap AccessPoint, creds NetworkRecord, cfg config.WiFiConfig) *WiFiSupervisor {
	return &WiFiSupervisor{
		radio: radio,
		ap:    ap,
		cfg:   cfg,
		creds: creds,
		state: RadioDisconnected,
		now:   time.Now,
	}
}

// Tick services the link once. Invoked every main-loop tick.
func (w *WiFiSupervisor) Tick() {
	now := w.now()

	if w.radio.Connected() {
		if w.state != RadioConnected {
			w.state = RadioConnected
			w.disconnectedSince = time.Time{}
			w.attempts = 0
			if w.everConnected {
				w.queueEvent("wifi_connected", "info", "rejoined primary network")
			} else {
				w.queueEvent("wifi_connected", "info", "joined primary network")
			}
			w.everConnected = true
		}
		// The fallback AP exists only to cover outages; tear it down the
		// moment the primary link is back.
		if w.ap.Active() {
			if err := w.ap.Stop(); err != nil {
				log.Printf("wifi: unable to stop fallback AP: %v", err)
			} else {
				log.Printf("wifi: fallback AP stopped, primary link restored")
			}
		}
		return
	}

	if w.state == RadioConnected || w.disconnectedSince.IsZero() {
		w.state = RadioDisconnected
		w.disconnectedSince = now
	}

	if !w.creds.HasCredentials() {
		return
	}

	down := now.Sub(w.disconnectedSince)

	if down > w.cfg.StaleTimeout && now.Sub(w.lastStackRestart) > w.cfg.StaleTimeout {
		// A plain reconnect cannot clear every vendor-stack state; past
		// the stale threshold, cycle the whole stack.
		w.lastStackRestart = now
		w.queueEvent("wifi_stale_restart", "warning",
			fmt.Sprintf("link down %s, restarting radio stack", down.Round(time.Second)))
		if err := w.radio.Restart(); err != nil {
			log.Printf("wifi: radio stack restart failed: %v", err)
		}
	}

	if down > w.cfg.FallbackTimeout && !w.ap.Active() {
		if err := w.ap.Start(w.cfg.FallbackSSID); err != nil {
			log.Printf("wifi: unable to start fallback AP: %v", err)
		} else {
			w.queueEvent("wifi_fallback_ap", "warning",
				fmt.Sprintf("fallback AP %q up after %s offline", w.cfg.FallbackSSID, down.Round(time.Second)))
		}
	}

	if now.Sub(w.lastAttempt) >= w.cfg.AttemptInterval {
		w.lastAttempt = now
		w.attempts++
		w.state = RadioConnecting
		if w.attempts > 1 {
			w.queueEvent("wifi_reconnect", "info", fmt.Sprintf("reconnect attempt %d", w.attempts))
		}
		if err := w.radio.Connect(w.creds.SSID, w.creds.Passphrase); err != nil {
			log.Printf("wifi: connect attempt %d failed: %v", w.attempts, err)
			w.state = RadioDisconnected
		}
	}
}

// Shutdown disconnects the station link ahead of deep sleep. Leaving the
// association up while the hardware powers off confuses some access points.
func (w *WiFiSupervisor) Shutdown() {
	if w.ap.Active() {
		w.ap.Stop()
	}
	if err := w.radio.Disconnect(); err != nil {
		log.Printf("wifi: disconnect before sleep failed: %v", err)
	}
	w.state = RadioDisconnected
}

func (w *WiFiSupervisor) State() RadioState { return w.state }

func (w *WiFiSupervisor) Connected() bool { return w.state == RadioConnected }

func (w *WiFiSupervisor) FallbackActive() bool { return w.ap.Active() }

func (w *WiFiSupervisor) RSSI() int {
	if w.state != RadioConnected {
		return 0
	}
	return w.radio.RSSI()
}

// DrainEvents returns queued transition events and clears the queue. The
// runner calls this once per tick; events never fire re-entrantly.
func (w *WiFiSupervisor) DrainEvents() []Event {
	ev := w.events
	w.events = nil
	return ev
}

func (w *WiFiSupervisor) queueEvent(name, severity, msg string) {
	w.events = append(w.events, Event{
		Event:     name,
		Severity:  severity,
		Message:   msg,
		Timestamp: w.now().Unix(),
	})
}
