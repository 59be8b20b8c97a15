package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

var ErrMqttTimeout = errors.New("mqtt operation timed out")

// MqttClient wraps the paho client with every automatic recovery feature
// switched off. Reconnection policy belongs to the session manager; the
// library's own retry/backoff machinery accumulates state the device cannot
// observe or bound.
type MqttClient struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewMqttClient(cfg config.MQTTConfig, deviceName string) (*MqttClient, error) {
	clientID, err := generateClientID(deviceName)
	if err != nil {
		return nil, fmt.Errorf("error generating client ID: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(5 * time.Second)

	return &MqttClient{
		client:  mqtt.NewClient(opts),
		timeout: 5 * time.Second,
	}, nil
}

func generateClientID(deviceName string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return deviceName + "-" + hex.EncodeToString(b), nil
}

func (c *MqttClient) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return ErrMqttTimeout
	}
	return token.Error()
}

// Disconnect waits up to grace for in-flight work to flush before dropping
// the transport.
func (c *MqttClient) Disconnect(grace time.Duration) {
	c.client.Disconnect(uint(grace.Milliseconds()))
}

func (c *MqttClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MqttClient) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return ErrMqttTimeout
	}
	return token.Error()
}

// Subscribe registers a handler for topic. The handler runs on the paho
// receive goroutine, so callers must hand the payload off to their own tick
// (the session manager queues it) rather than acting on it directly.
func (c *MqttClient) Subscribe(topic string, handler func(payload []byte)) error {
	token := c.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(c.timeout) {
		return ErrMqttTimeout
	}
	return token.Error()
}
