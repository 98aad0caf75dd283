package pubsub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// GPIOPayload marks a message whose attributes carry a device command.
const GPIOPayload = "GPIO"

// ReceivedMessage is a delivered message awaiting acknowledgement.
type ReceivedMessage interface {
	Data() []byte
	Attributes() map[string]string
	Ack() error
}

// Handle prints msg, acknowledges it, and for GPIO messages prints every
// attribute value ordered by key.
func Handle(msg ReceivedMessage, out io.Writer) error {
	attrs := msg.Attributes()
	fmt.Fprintf(out, "Received message: %s\n", describe(msg.Data(), attrs))
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	if string(msg.Data()) != GPIOPayload {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(out, attrs[k])
	}
	return nil
}

func describe(data []byte, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return fmt.Sprintf("Message {data: %q, attributes: {%s}}", data, strings.Join(pairs, ", "))
}

// Subscriber receives messages from subscriptions of one project.
type Subscriber struct {
	js      jetstream.JetStream
	project string
	ackWait time.Duration
	log     *slog.Logger
}

func NewSubscriber(js jetstream.JetStream, project string, ackWait time.Duration, log *slog.Logger) *Subscriber {
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	return &Subscriber{
		js:      js,
		project: project,
		ackWait: ackWait,
		log:     log.With(slog.String("component", "subscriber")),
	}
}

// Receive binds subscription to topic and hands every message to Handle
// until ctx is done.
func (s *Subscriber) Receive(ctx context.Context, subscription, topic string, out io.Writer) error {
	stream, err := ensureStream(ctx, s.js, s.project, topic)
	if err != nil {
		return err
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName(s.project, subscription),
		Description:   SubscriptionPath(s.project, subscription),
		FilterSubject: Subject(s.project, topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.ackWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("bind subscription %s: %w", SubscriptionPath(s.project, subscription), err)
	}

	fmt.Fprintf(out, "Listening on %s\n", SubscriptionPath(s.project, subscription))
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := Handle(jetstreamMessage{msg}, out); err != nil {
			s.log.Warn("failed to handle message", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", SubscriptionPath(s.project, subscription), err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return nil
}

type jetstreamMessage struct {
	msg jetstream.Msg
}

func (m jetstreamMessage) Data() []byte { return m.msg.Data() }

func (m jetstreamMessage) Ack() error { return m.msg.Ack() }

func (m jetstreamMessage) Attributes() map[string]string {
	headers := m.msg.Headers()
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for k := range headers {
		attrs[k] = headers.Get(k)
	}
	return attrs
}
