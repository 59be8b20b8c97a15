package internal

import (
	"encoding/json"
	"fmt"
	"log"
)

// Telemetry owns the wire contract with the dashboard: a retained status
// document, a non-retained event stream, and the inbound command topic.
// Publishes are best-effort, at-most-once; a failed publish is retried by
// whatever cycle produces the next one.
type Telemetry struct {
	session    *SessionManager
	namespace  string
	deviceName string
}

func NewTelemetry(session *SessionManager, namespace, deviceName string) *Telemetry {
	return &Telemetry{
		session:    session,
		namespace:  namespace,
		deviceName: deviceName,
	}
}

func CommandTopic(namespace, deviceName string) string {
	return fmt.Sprintf("%s/%s/command", namespace, deviceName)
}

func (t *Telemetry) statusTopic() string {
	return fmt.Sprintf("%s/%s/status", t.namespace, t.deviceName)
}

func (t *Telemetry) eventsTopic() string {
	return fmt.Sprintf("%s/%s/events", t.namespace, t.deviceName)
}

// PublishStatus publishes the retained status document.
func (t *Telemetry) PublishStatus(p StatusPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error encoding status payload: %w", err)
	}
	return t.session.Publish(t.statusTopic(), true, raw)
}

// PublishEvent publishes one event, not retained. Event delivery is never
// allowed to matter: failures are logged and dropped.
func (t *Telemetry) PublishEvent(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("telemetry: error encoding event %q: %v", ev.Event, err)
		return
	}
	if err := t.session.Publish(t.eventsTopic(), false, raw); err != nil {
		log.Printf("telemetry: event %q not delivered: %v", ev.Event, err)
	}
}
