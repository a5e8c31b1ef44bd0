package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"notifrelay/internal/relay"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
}

// MQTT publishes each record as JSON to one topic.
type MQTT struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
}

// NewMQTT connects to the broker. Reconnects are left to paho.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("mqtt: broker and topic are required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "notifrelay"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, token.Error())
	}
	return newMQTT(client, cfg), nil
}

func newMQTT(client mqtt.Client, cfg MQTTConfig) *MQTT {
	return &MQTT{client: client, topic: cfg.Topic, qos: cfg.QoS, retained: cfg.Retained}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Send(ctx context.Context, rec relay.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, m.qos, m.retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
