// Package actions forwards device commands extracted from assistant device
// actions to the hardware side: the message queue, an MQTT broker or Kafka.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/loqalabs/jarvis/internal/pubsub"
)

// Forwarder delivers a device command somewhere a device can act on it.
type Forwarder interface {
	Forward(ctx context.Context, cmd protocol.DeviceCommand) error
	Close() error
}

// New builds the forwarder selected by cfg.Backend. The pubsub backend
// publishes through publisher, which may be nil for the other backends.
func New(cfg config.ForwarderConfig, publisher pubsub.TopicPublisher, log *slog.Logger) (Forwarder, error) {
	log = log.With(slog.String("component", "forwarder"), slog.String("backend", backendName(cfg.Backend)))
	switch cfg.Backend {
	case "", "none":
		return NewLogForwarder(log), nil
	case "pubsub":
		if publisher == nil {
			return nil, fmt.Errorf("pubsub forwarder requires a bus connection")
		}
		return NewPubSubForwarder(publisher, cfg.Topic, log), nil
	case "mqtt":
		return DialMQTT(cfg.MQTT, log)
	case "kafka":
		return NewKafkaForwarder(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown forwarder backend %q", cfg.Backend)
	}
}

func backendName(b string) string {
	if b == "" {
		return "none"
	}
	return b
}

// LogForwarder only logs commands.
type LogForwarder struct {
	log *slog.Logger
}

func NewLogForwarder(log *slog.Logger) *LogForwarder {
	return &LogForwarder{log: log}
}

func (f *LogForwarder) Forward(_ context.Context, cmd protocol.DeviceCommand) error {
	f.log.Info("device command",
		slog.String("device_id", cmd.DeviceID),
		slog.String("command", cmd.Command),
		slog.Any("params", cmd.Params))
	return nil
}

func (f *LogForwarder) Close() error { return nil }

func encode(cmd protocol.DeviceCommand) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode device command: %w", err)
	}
	return data, nil
}
