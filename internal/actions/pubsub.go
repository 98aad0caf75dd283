package actions

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/loqalabs/jarvis/internal/pubsub"
)

// PubSubForwarder publishes a GPIO message whose attributes carry the
// command, which is what the queue subscriber on the device acts on.
type PubSubForwarder struct {
	publisher pubsub.TopicPublisher
	topic     string
	log       *slog.Logger
}

func NewPubSubForwarder(publisher pubsub.TopicPublisher, topic string, log *slog.Logger) *PubSubForwarder {
	return &PubSubForwarder{publisher: publisher, topic: topic, log: log}
}

func (f *PubSubForwarder) Forward(ctx context.Context, cmd protocol.DeviceCommand) error {
	seq, err := f.publisher.Publish(ctx, f.topic, pubsub.Message{
		Data:       []byte(pubsub.GPIOPayload),
		Attributes: Attributes(cmd),
	})
	if err != nil {
		return err
	}
	f.log.Debug("device command published",
		slog.String("device_id", cmd.DeviceID),
		slog.String("command", cmd.Command),
		slog.Uint64("seq", seq))
	return nil
}

func (f *PubSubForwarder) Close() error { return nil }

// Attributes flattens cmd into message attributes. String params are kept
// as they are; everything else is JSON encoded.
func Attributes(cmd protocol.DeviceCommand) map[string]string {
	attrs := map[string]string{
		"device_id": cmd.DeviceID,
		"command":   cmd.Command,
	}
	for k, v := range cmd.Params {
		if s, ok := v.(string); ok {
			attrs[k] = s
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		attrs[k] = string(data)
	}
	return attrs
}
