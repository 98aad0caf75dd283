package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Message is an outgoing payload with optional string attributes.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Publisher sends messages to topics of one project.
type Publisher struct {
	js      jetstream.JetStream
	project string
	log     *slog.Logger

	mu      sync.Mutex
	streams map[string]struct{}
}

func NewPublisher(js jetstream.JetStream, project string, log *slog.Logger) *Publisher {
	return &Publisher{
		js:      js,
		project: project,
		log:     log.With(slog.String("component", "publisher")),
		streams: make(map[string]struct{}),
	}
}

// Project returns the project messages are published under.
func (p *Publisher) Project() string {
	return p.project
}

// Publish sends msg to topic and returns its stream sequence.
func (p *Publisher) Publish(ctx context.Context, topic string, msg Message) (uint64, error) {
	if topic == "" {
		return 0, errors.New("topic is required")
	}
	if err := p.ensure(ctx, topic); err != nil {
		return 0, err
	}

	out := nats.NewMsg(Subject(p.project, topic))
	out.Data = msg.Data
	for k, v := range msg.Attributes {
		out.Header.Set(k, v)
	}
	ack, err := p.js.PublishMsg(ctx, out)
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", TopicPath(p.project, topic), err)
	}
	return ack.Sequence, nil
}

// PublishNumbered sends "Message number 1" through "Message number n" in
// order.
func (p *Publisher) PublishNumbered(ctx context.Context, topic string, n int) error {
	for i := 1; i <= n; i++ {
		data := fmt.Sprintf("Message number %d", i)
		if _, err := p.Publish(ctx, topic, Message{Data: []byte(data)}); err != nil {
			return err
		}
	}
	p.log.Info("published numbered messages",
		slog.String("topic", TopicPath(p.project, topic)),
		slog.Int("count", n))
	return nil
}

func (p *Publisher) ensure(ctx context.Context, topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.streams[topic]; ok {
		return nil
	}
	if _, err := ensureStream(ctx, p.js, p.project, topic); err != nil {
		return err
	}
	p.streams[topic] = struct{}{}
	return nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, project, topic string) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName(project, topic),
		Subjects: []string{Subject(project, topic)},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", TopicPath(project, topic), err)
	}
	return stream, nil
}
