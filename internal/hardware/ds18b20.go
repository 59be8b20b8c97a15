package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	w1Glob          = "/sys/bus/w1/devices/28-*/w1_slave"
	readInterval    = 10 * time.Second
	failureTolerant = 3
)

var ErrNoProbe = errors.New("no DS18B20 probe on the 1-wire bus")

// DS18B20 reads the temperature probe through the kernel w1 driver. The
// lifecycle core only sees the Sensor interface: last reading, health, and
// whether the probe is done for this cycle.
type DS18B20 struct {
	path string

	value    float64
	at       time.Time
	haveRead bool
	failures int
	lastPoll time.Time
}

func NewDS18B20() (*DS18B20, error) {
	matches, err := filepath.Glob(w1Glob)
	if err != nil || len(matches) == 0 {
		return nil, ErrNoProbe
	}
	return &DS18B20{path: matches[0]}, nil
}

// Service polls the probe at most once per read interval. A conversion takes
// the kernel ~750ms, so this is the slowest call in the tick; the interval
// keeps it off most ticks entirely.
func (d *DS18B20) Service() error {
	if time.Since(d.lastPoll) < readInterval && d.haveRead {
		return nil
	}
	d.lastPoll = time.Now()

	v, err := d.read()
	if err != nil {
		d.failures++
		return fmt.Errorf("probe read: %w", err)
	}
	d.failures = 0
	d.value = v
	d.at = time.Now()
	d.haveRead = true
	return nil
}

func (d *DS18B20) LastReading() (float64, time.Time, bool) {
	return d.value, d.at, d.haveRead
}

func (d *DS18B20) Healthy() bool {
	return d.failures < failureTolerant
}

// ReadyToSleep reports whether this cycle has a valid reading to sleep on.
func (d *DS18B20) ReadyToSleep() bool {
	return d.haveRead
}

func (d *DS18B20) read() (float64, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return 0, err
	}
	text := string(raw)
	if !strings.Contains(text, "YES") {
		return 0, errors.New("CRC check failed")
	}
	idx := strings.LastIndex(text, "t=")
	if idx < 0 {
		return 0, errors.New("no temperature in w1_slave output")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(text[idx+2:]))
	if err != nil {
		return 0, fmt.Errorf("bad temperature field: %w", err)
	}
	return float64(milli) / 1000.0, nil
}
