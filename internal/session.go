package internal

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

var ErrSessionDown = errors.New("session not connected")

// PubSub is the transport under the session manager. Implemented by
// services.MqttClient; tests swap in a fake.
type PubSub interface {
	Connect() error
	Disconnect(grace time.Duration)
	IsConnected() bool
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
}

// SessionManager owns the pub/sub session. Reconnection runs at a fixed
// interval, deliberately not exponential backoff: the backoff design this
// replaced accumulated state across enough variables to corrupt after long
// uptimes. The only counter kept is bounded and feeds logging, nothing else.
//
// A session the transport still believes is open can have been silently
// dropped by the broker; if no publish has succeeded within the stale
// timeout the manager forces a clean disconnect so the reconnect path runs
// fresh.
type SessionManager struct {
	client       PubSub
	cfg          config.SessionConfig
	commandTopic string
	dispatch     func(line string)

	state                 SessionState
	lastSuccessfulPublish time.Time
	lastAttempt           time.Time
	consecutiveFailures   uint32

	inbound chan []byte
	now     func() time.Time
}

func NewSessionManager(client PubSub, commandTopic string, dispatch func(string), cfg config.SessionConfig) *SessionManager {
	return &SessionManager{
		client:       client,
		cfg:          cfg,
		commandTopic: commandTopic,
		dispatch:     dispatch,
		state:        SessionDisconnected,
		inbound:      make(chan []byte, 16),
		now:          time.Now,
	}
}

// Tick services the session once per main-loop tick. The radio link is a
// hard precondition: there is no point racing the supervisor for a network
// that is not there.
func (s *SessionManager) Tick(radioConnected bool) {
	now := s.now()

	if !radioConnected {
		if s.state == SessionConnected {
			log.Printf("session: radio link lost, dropping session")
			s.client.Disconnect(s.cfg.DisconnectGrace)
			s.state = SessionDisconnected
		}
		return
	}

	s.ServiceCommands()

	if s.state == SessionConnected && !s.client.IsConnected() {
		log.Printf("session: transport reports disconnect")
		s.state = SessionDisconnected
	}

	if s.state == SessionConnected && !s.lastSuccessfulPublish.IsZero() {
		if now.Sub(s.lastSuccessfulPublish) > s.cfg.StaleTimeout {
			log.Printf("session: no successful publish for %s, forcing reconnect", s.cfg.StaleTimeout)
			s.client.Disconnect(s.cfg.DisconnectGrace)
			s.state = SessionDisconnected
			// Hold the fixed spacing: the fresh connect runs one
			// reconnect interval from now, not this tick.
			s.lastAttempt = now
			return
		}
	}

	if s.state == SessionDisconnected && now.Sub(s.lastAttempt) >= s.cfg.ReconnectInterval {
		s.lastAttempt = now
		if err := s.client.Connect(); err != nil {
			s.countFailure()
			log.Printf("session: connect failed (%d consecutive): %v", s.consecutiveFailures, err)
			return
		}
		if err := s.client.Subscribe(s.commandTopic, s.enqueue); err != nil {
			s.countFailure()
			log.Printf("session: command subscribe failed: %v", err)
			s.client.Disconnect(s.cfg.DisconnectGrace)
			return
		}
		s.state = SessionConnected
		s.consecutiveFailures = 0
		log.Printf("session: connected, commands on %s", s.commandTopic)
	}
}

// Publish sends best-effort, at-most-once telemetry. A failure is transient:
// logged, counted, retried by the caller on a later cycle.
func (s *SessionManager) Publish(topic string, retained bool, payload []byte) error {
	if s.state != SessionConnected {
		return ErrSessionDown
	}
	if err := s.client.Publish(topic, retained, payload); err != nil {
		s.countFailure()
		return err
	}
	s.lastSuccessfulPublish = s.now()
	s.consecutiveFailures = 0
	return nil
}

// ServiceCommands drains queued inbound commands and dispatches each one
// synchronously. Also called by the sleep scheduler during the command
// window so a late "deepsleep 0" is still honored.
func (s *SessionManager) ServiceCommands() {
	for {
		select {
		case raw := <-s.inbound:
			s.dispatch(string(raw))
		default:
			return
		}
	}
}

// Shutdown closes the session gracefully ahead of deep sleep. Leaving it
// unterminated wastes broker resources and makes the staleness path fire
// needlessly on wake.
func (s *SessionManager) Shutdown() {
	if s.state == SessionConnected {
		s.client.Disconnect(s.cfg.DisconnectGrace)
		s.state = SessionDisconnected
	}
}

func (s *SessionManager) Connected() bool { return s.state == SessionConnected }

func (s *SessionManager) ConsecutiveFailures() uint32 { return s.consecutiveFailures }

// enqueue runs on the transport's receive goroutine; it only hands the
// payload to the tick-side queue. A full queue drops the command: commands
// are operator actions, not a stream worth buffering unboundedly.
func (s *SessionManager) enqueue(payload []byte) {
	select {
	case s.inbound <- payload:
	default:
		log.Printf("session: command queue full, dropping %q", payload)
	}
}

func (s *SessionManager) countFailure() {
	if s.consecutiveFailures < math.MaxUint32 {
		s.consecutiveFailures++
	}
}
