package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDeviceName(t *testing.T) {
	assert.Equal(t, "attic-probe", sanitizeDeviceName("attic probe"))
	assert.Equal(t, "attic-probe", sanitizeDeviceName("  attic probe  "))
	assert.Equal(t, "atticprobe", sanitizeDeviceName("attic/probe"))
	assert.Equal(t, "probe", sanitizeDeviceName("+probe#"))
	assert.Equal(t, "a--b", sanitizeDeviceName("a \tb"))
	assert.Equal(t, "", sanitizeDeviceName("   "))
	assert.Equal(t, "", sanitizeDeviceName("/+#"))
}

func TestDeviceNameFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "attic-probe",
		DeviceName(NetworkRecord{DeviceName: "attic probe"}, "ds18b20-sensor"))
	assert.Equal(t, "ds18b20-sensor",
		DeviceName(NetworkRecord{}, "ds18b20-sensor"))
	// A name that sanitizes to nothing is no name at all.
	assert.Equal(t, "ds18b20-sensor",
		DeviceName(NetworkRecord{DeviceName: "/+#"}, "ds18b20-sensor"))
}
