package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/protocol"
)

const mqttTimeout = 10 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTForwarder publishes JSON commands to {topic}/{device_id}.
type MQTTForwarder struct {
	client mqttPublisher
	topic  string
	qos    byte
	log    *slog.Logger
	close  func()
}

// DialMQTT connects to the broker and returns a forwarder on the connection.
func DialMQTT(cfg config.MQTTConfig, log *slog.Logger) (*MQTTForwarder, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		log.Info("connected to MQTT broker", slog.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", slog.String("error", err.Error()))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	f := newMQTTForwarder(client, cfg.Topic, byte(cfg.QoS), log)
	f.close = func() { client.Disconnect(250) }
	return f, nil
}

func newMQTTForwarder(client mqttPublisher, topic string, qos byte, log *slog.Logger) *MQTTForwarder {
	return &MQTTForwarder{client: client, topic: topic, qos: qos, log: log}
}

// Topic returns the MQTT topic commands for deviceID are published on.
func (f *MQTTForwarder) Topic(deviceID string) string {
	return f.topic + "/" + deviceID
}

func (f *MQTTForwarder) Forward(ctx context.Context, cmd protocol.DeviceCommand) error {
	payload, err := encode(cmd)
	if err != nil {
		return err
	}
	token := f.client.Publish(f.Topic(cmd.DeviceID), f.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttTimeout):
		return errors.New("mqtt publish timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (f *MQTTForwarder) Close() error {
	if f.close != nil {
		f.close()
	}
	return nil
}
