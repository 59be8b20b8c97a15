package internal

import (
	"runtime"
	"strings"
)

// freeHeap approximates the "free heap" figure battery dashboards expect:
// heap bytes held by the runtime but not in use.
func freeHeap() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapIdle
}

// sanitizeDeviceName keeps user-entered display names usable as a topic
// segment: MQTT separators and wildcards are stripped, whitespace becomes a
// dash.
func sanitizeDeviceName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '+' || r == '#':
			// drop
		case r == ' ' || r == '\t':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeviceName resolves the topic-facing name: the provisioned display name if
// one is set and survives sanitizing, otherwise the firmware default.
func DeviceName(rec NetworkRecord, fallback string) string {
	if n := sanitizeDeviceName(rec.DeviceName); n != "" {
		return n
	}
	return fallback
}
