package internal

import "time"

// BootReason is computed once per boot by the reset pattern check and never
// persisted. It is the single value the portal trigger branches on.
type BootReason int

const (
	BootNormal BootReason = iota
	BootRapidReset
	BootCrashLoop
	BootRemoteReset
)

func (r BootReason) String() string {
	switch r {
	case BootNormal:
		return "normal"
	case BootRapidReset:
		return "rapid_reset"
	case BootCrashLoop:
		return "crash_loop"
	case BootRemoteReset:
		return "remote_reset"
	}
	return "unknown"
}

// CrashFlag tracks whether the previous boot reached steady state.
type CrashFlag string

const (
	CrashClean   CrashFlag = "clean"
	CrashPending CrashFlag = "pending"
)

// BootRecord is the durable boot counter record. It must survive power loss,
// not merely a soft reset, so every mutation goes straight through the store.
type BootRecord struct {
	CrashFlag        CrashFlag `json:"crash_flag"`
	CrashCount       uint32    `json:"crash_count"`
	ResetCount       uint32    `json:"reset_count"`
	ResetWindowStart int64     `json:"reset_window_start_ms"` // unix ms, 0 = no window open
}

// NetworkRecord holds the user-provisioned network identity, written by the
// configuration portal and read by the connectivity supervisor.
type NetworkRecord struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
	DeviceName string `json:"device_name"`
}

func (n NetworkRecord) HasCredentials() bool { return n.SSID != "" }

// RadioState is the station-link state owned by the connectivity supervisor.
type RadioState int

const (
	RadioDisconnected RadioState = iota
	RadioConnecting
	RadioConnected
)

func (s RadioState) String() string {
	switch s {
	case RadioConnecting:
		return "connecting"
	case RadioConnected:
		return "connected"
	}
	return "disconnected"
}

// SessionState is the pub/sub session state owned by the session manager.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnected
)

// Event is a non-retained telemetry event. Supervisors queue these and the
// runner drains the queue once per tick.
type Event struct {
	Event     string `json:"event"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// StatusPayload is published retained on <namespace>/<device>/status.
type StatusPayload struct {
	UptimeSeconds    int64      `json:"uptime_seconds"`
	WifiRSSI         int        `json:"wifi_rssi"`
	FreeHeap         uint64     `json:"free_heap"`
	DeepSleepEnabled bool       `json:"deep_sleep_enabled"`
	DeepSleepSeconds uint32     `json:"deep_sleep_seconds"`
	BootReason       string     `json:"boot_reason"`
	CrashCount       uint32     `json:"crash_count"`
	FallbackAPActive bool       `json:"fallback_ap_active"`
	ReportSeconds    uint32     `json:"report_seconds"`
	Reading          *float64   `json:"temperature_c,omitempty"`
	ReadingAt        *time.Time `json:"temperature_at,omitempty"`
}

// Radio is the station-mode radio as the supervisor sees it. Connect begins
// an association attempt and must return within the configured attempt
// timeout; the supervisor polls Connected across ticks.
type Radio interface {
	Connect(ssid, passphrase string) error
	Disconnect() error
	Connected() bool
	RSSI() int
	// Restart tears the whole stack down and brings it back up, for vendor
	// states a plain reconnect cannot clear.
	Restart() error
}

// AccessPoint is the local fallback/setup network.
type AccessPoint interface {
	Start(ssid string) error
	Stop() error
	Active() bool
}

// Sleeper suspends execution; DeepSleep does not return on real hardware.
type Sleeper interface {
	DeepSleep(d time.Duration) error
	// WakeCause reports why this boot started ("timer", "power_on", ...).
	// Diagnostic only, never a state decision.
	WakeCause() string
}

// Restarter reboots the device; Restart does not return on real hardware.
type Restarter interface {
	Restart() error
}

// Sensor is the slice of a device driver the lifecycle core consumes.
type Sensor interface {
	Service() error
	LastReading() (value float64, at time.Time, ok bool)
	Healthy() bool
	ReadyToSleep() bool
}

// NullSensor stands in when no probe is attached. It reports unhealthy once
// (so the condition reaches telemetry) but never blocks sleep.
type NullSensor struct{}

func (NullSensor) Service() error                          { return nil }
func (NullSensor) LastReading() (float64, time.Time, bool) { return 0, time.Time{}, false }
func (NullSensor) Healthy() bool                           { return false }
func (NullSensor) ReadyToSleep() bool                      { return true }
