package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTConfig selects the broker and topic for MQTTSink.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	// Timeout bounds connect and each publish. Zero means 5s.
	Timeout time.Duration
}

// Publisher is the subset of mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes alerts as JSON to <Topic>/<patient_id>.
type MQTTSink struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration
	closeFn func()
}

// DialMQTT connects to cfg.Broker with auto-reconnect enabled.
func DialMQTT(cfg MQTTConfig, log *logrus.Entry) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("glucosesim-%d", time.Now().Unix())
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("sink", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.OnConnect = func(mqtt.Client) { log.WithField("broker", cfg.Broker).Info("connected to MQTT broker") }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { log.WithError(err).Warn("MQTT connection lost") }

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	s := NewMQTTSink(client, cfg)
	s.closeFn = func() { client.Disconnect(250) }
	return s, nil
}

// NewMQTTSink wraps an already connected publisher.
func NewMQTTSink(client Publisher, cfg MQTTConfig) *MQTTSink {
	if cfg.Topic == "" {
		cfg.Topic = "glucose/alerts"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTTSink{client: client, topic: cfg.Topic, qos: cfg.QoS, timeout: cfg.Timeout}
}

func (s *MQTTSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("mqtt: marshal alert: %w", err)
	}
	topic := s.topic + "/" + a.PatientID
	token := s.client.Publish(topic, s.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
