package hardware

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// RTCSleeper suspends the board with an RTC alarm armed to resume it. On
// this platform rtcwake returns after resume; the caller treats that as
// re-entering boot and exits for the process supervisor to restart it.
type RTCSleeper struct{}

func (RTCSleeper) DeepSleep(d time.Duration) error {
	sec := int64(d / time.Second)
	if sec < 1 {
		sec = 1
	}
	out, err := exec.Command("rtcwake", "-m", "mem", "-s", strconv.FormatInt(sec, 10)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("rtcwake failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WakeCause distinguishes an RTC-timer resume from a cold power-on. Used for
// diagnostic logging only.
func (RTCSleeper) WakeCause() string {
	raw, err := os.ReadFile("/sys/class/rtc/rtc0/wakealarm")
	if err == nil && strings.TrimSpace(string(raw)) != "" {
		return "timer"
	}
	return "power_on"
}

// SystemRestarter reboots the board. Restart does not return on success.
type SystemRestarter struct{}

func (SystemRestarter) Restart() error {
	out, err := exec.Command("systemctl", "reboot").CombinedOutput()
	if err != nil {
		return fmt.Errorf("reboot failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	// The reboot is in flight; block so nothing after the restart request
	// keeps executing.
	select {}
}
