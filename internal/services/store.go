package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/internal"
)

const (
	bootFile          = "boot.json"
	sleepFile         = "sleep.json"
	networkFile       = "network.json"
	portalRequestFile = "portal.request"
)

// StateStore is the durable key/value layer under the lifecycle core. Records
// are tiny JSON files replaced atomically (write temp, fsync, rename) so a
// power cut mid-write leaves the previous record intact. Anything that fails
// to decode is treated as corruption and comes back zeroed, never as an
// error the boot path could wedge on.
type StateStore struct {
	dir         string
	maxSleepSec uint32
}

func NewStateStore(dir string, maxSleepSec uint32) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create state dir %s: %w", dir, err)
	}
	return &StateStore{dir: dir, maxSleepSec: maxSleepSec}, nil
}

// LoadBootRecord returns the persisted boot record, or a zeroed clean record
// when the file is missing or does not decode to sane values.
func (s *StateStore) LoadBootRecord() internal.BootRecord {
	zero := internal.BootRecord{CrashFlag: internal.CrashClean}

	raw, err := os.ReadFile(filepath.Join(s.dir, bootFile))
	if err != nil {
		return zero
	}

	var rec internal.BootRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return zero
	}
	if rec.CrashFlag != internal.CrashClean && rec.CrashFlag != internal.CrashPending {
		return zero
	}
	if rec.ResetWindowStart < 0 {
		rec.ResetWindowStart = 0
		rec.ResetCount = 0
	}
	return rec
}

func (s *StateStore) SaveBootRecord(rec internal.BootRecord) error {
	return s.writeFile(bootFile, rec)
}

type sleepRecord struct {
	SleepSeconds uint32 `json:"sleep_seconds"`
}

// LoadSleepSeconds returns the persisted deep-sleep interval, clamped to the
// configured maximum. 0 means sleep is disabled.
func (s *StateStore) LoadSleepSeconds() uint32 {
	raw, err := os.ReadFile(filepath.Join(s.dir, sleepFile))
	if err != nil {
		return 0
	}
	var rec sleepRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0
	}
	if rec.SleepSeconds > s.maxSleepSec {
		return s.maxSleepSec
	}
	return rec.SleepSeconds
}

func (s *StateStore) SaveSleepSeconds(sec uint32) error {
	if sec > s.maxSleepSec {
		sec = s.maxSleepSec
	}
	return s.writeFile(sleepFile, sleepRecord{SleepSeconds: sec})
}

// LoadNetwork returns the provisioned network identity; a missing or corrupt
// file reads back as "no credentials", which routes boot to the portal.
func (s *StateStore) LoadNetwork() internal.NetworkRecord {
	raw, err := os.ReadFile(filepath.Join(s.dir, networkFile))
	if err != nil {
		return internal.NetworkRecord{}
	}
	var rec internal.NetworkRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return internal.NetworkRecord{}
	}
	return rec
}

func (s *StateStore) SaveNetwork(rec internal.NetworkRecord) error {
	return s.writeFile(networkFile, rec)
}

// ClearNetwork drops stored credentials, used by the remote credential-reset
// command before the device restarts into the portal.
func (s *StateStore) ClearNetwork() error {
	err := os.Remove(filepath.Join(s.dir, networkFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to clear network record: %w", err)
	}
	return nil
}

// SetPortalRequest leaves a marker telling the next boot that a remote
// credential reset asked for the configuration portal.
func (s *StateStore) SetPortalRequest() error {
	path := filepath.Join(s.dir, portalRequestFile)
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		return fmt.Errorf("unable to write portal request marker: %w", err)
	}
	return nil
}

// ConsumePortalRequest reports whether the marker is present and clears it.
func (s *StateStore) ConsumePortalRequest() bool {
	path := filepath.Join(s.dir, portalRequestFile)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	os.Remove(path)
	return true
}

func (s *StateStore) writeFile(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp")
	if err != nil {
		return fmt.Errorf("unable to stage %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("unable to replace %s: %w", name, err)
	}
	return nil
}
