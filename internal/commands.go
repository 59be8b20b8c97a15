package internal

import (
	"log"
	"strconv"

	"github.com/google/shlex"
)

// CommandActions are the runner-side effects a control-channel command can
// trigger. Every handler runs synchronously in the tick that dispatched it.
type CommandActions struct {
	PublishStatus    func()
	RequestRestart   func()
	ResetCredentials func()
	SetSleepSeconds  func(sec uint32)
	// SetParam handles device-specific "<param> <value>" commands, keyed by
	// the parameter name. For this device: "interval" (report interval).
	SetParam map[string]func(value uint32)
}

// Dispatcher parses plaintext commands from the control channel. Unknown or
// malformed commands are logged and ignored, never fatal: the dashboard side
// of the wire is not trusted to be version-matched with the firmware.
type Dispatcher struct {
	actions     CommandActions
	maxSleepSec uint32
	maxParamVal uint32
}

func NewDispatcher(actions CommandActions, maxSleepSec uint32) *Dispatcher {
	return &Dispatcher{
		actions:     actions,
		maxSleepSec: maxSleepSec,
		maxParamVal: 86400,
	}
}

func (d *Dispatcher) Dispatch(line string) {
	fields, err := shlex.Split(line)
	if err != nil || len(fields) == 0 {
		log.Printf("command: ignoring unparseable input %q", line)
		return
	}

	switch fields[0] {
	case "status":
		log.Printf("command: status requested")
		d.actions.PublishStatus()

	case "restart":
		log.Printf("command: restart requested")
		d.actions.RequestRestart()

	case "resetcredentials":
		log.Printf("command: credential reset requested")
		d.actions.ResetCredentials()

	case "deepsleep":
		sec, ok := d.parseSeconds(fields, d.maxSleepSec)
		if !ok {
			return
		}
		if sec == 0 {
			log.Printf("command: deep sleep disabled")
		} else {
			log.Printf("command: deep sleep set to %ds", sec)
		}
		d.actions.SetSleepSeconds(sec)

	default:
		setter, known := d.actions.SetParam[fields[0]]
		if !known {
			log.Printf("command: ignoring unknown command %q", fields[0])
			return
		}
		val, ok := d.parseSeconds(fields, d.maxParamVal)
		if !ok {
			return
		}
		log.Printf("command: %s set to %d", fields[0], val)
		setter(val)
	}
}

func (d *Dispatcher) parseSeconds(fields []string, max uint32) (uint32, bool) {
	if len(fields) != 2 {
		log.Printf("command: %q wants exactly one argument", fields[0])
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil || uint32(v) > max {
		log.Printf("command: %q argument %q out of range 0-%d", fields[0], fields[1], max)
		return 0, false
	}
	return uint32(v), true
}
