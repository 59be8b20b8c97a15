// Package hardware holds the platform adapters behind the lifecycle core's
// interfaces. Everything here shells out to system tooling or reads sysfs;
// none of it is reachable from tests, which substitute fakes.
package hardware

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// NMRadio drives the station link through NetworkManager. Each call is
// bounded by its own timeout so the tick loop never hangs on a wedged
// nmcli.
type NMRadio struct {
	iface          string
	attemptTimeout time.Duration
}

func NewNMRadio(iface string, attemptTimeout time.Duration) *NMRadio {
	return &NMRadio{iface: iface, attemptTimeout: attemptTimeout}
}

func (r *NMRadio) run(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("nmcli %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (r *NMRadio) Connect(ssid, passphrase string) error {
	args := []string{"dev", "wifi", "connect", ssid, "ifname", r.iface}
	if passphrase != "" {
		args = append(args, "password", passphrase)
	}
	_, err := r.run(r.attemptTimeout, args...)
	return err
}

func (r *NMRadio) Disconnect() error {
	_, err := r.run(2*time.Second, "dev", "disconnect", r.iface)
	return err
}

func (r *NMRadio) Connected() bool {
	out, err := r.run(2*time.Second, "-t", "-f", "DEVICE,STATE", "dev", "status")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(parts) == 2 && parts[0] == r.iface {
			return parts[1] == "connected"
		}
	}
	return false
}

// RSSI reads signal level from /proc/net/wireless; 0 when unavailable.
func (r *NMRadio) RSSI() int {
	f, err := os.Open("/proc/net/wireless")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], r.iface) {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return 0
		}
		return int(level)
	}
	return 0
}

// Restart cycles the whole radio, for supplicant states a reconnect cannot
// clear.
func (r *NMRadio) Restart() error {
	if _, err := r.run(5*time.Second, "radio", "wifi", "off"); err != nil {
		return err
	}
	time.Sleep(time.Second)
	_, err := r.run(5*time.Second, "radio", "wifi", "on")
	return err
}

// NMAccessPoint exposes the local fallback/setup network as a NetworkManager
// hotspot.
type NMAccessPoint struct {
	iface  string
	conn   string
	active bool
}

func NewNMAccessPoint(iface string) *NMAccessPoint {
	return &NMAccessPoint{iface: iface, conn: "sensor-ap"}
}

func (a *NMAccessPoint) Start(ssid string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "nmcli", "dev", "wifi", "hotspot",
		"ifname", a.iface, "con-name", a.conn, "ssid", ssid).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unable to start hotspot: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	a.active = true
	return nil
}

func (a *NMAccessPoint) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "nmcli", "connection", "down", a.conn).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unable to stop hotspot: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	a.active = false
	return nil
}

func (a *NMAccessPoint) Active() bool { return a.active }
