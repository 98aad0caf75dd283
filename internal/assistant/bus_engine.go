package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusEngine talks to an assistant bridge over NATS: events arrive on
// assistant.event.<device>, commands leave on assistant.control.<device>.
type BusEngine struct {
	conn     *nats.Conn
	deviceID string
	log      *slog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	events chan Event
	done   chan struct{}
	closed bool
}

func NewBusEngine(conn *nats.Conn, deviceID string, log *slog.Logger) *BusEngine {
	return &BusEngine{
		conn:     conn,
		deviceID: deviceID,
		log:      log.With(slog.String("component", "bus-engine")),
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

func (b *BusEngine) Start(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errEngineClosed
	}
	if b.sub != nil {
		return nil, errors.New("bus engine already started")
	}
	sub, err := b.conn.Subscribe(protocol.AssistantEventSubject(b.deviceID), func(msg *nats.Msg) {
		b.handle(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	b.sub = sub
	return b.events, nil
}

func (b *BusEngine) handle(ctx context.Context, msg *nats.Msg) {
	var wire protocol.AssistantEvent
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		b.log.Warn("failed to decode assistant event", slog.String("error", err.Error()))
		return
	}
	ev, err := Decode(wire)
	if err != nil {
		b.log.Warn("failed to decode assistant event args", slog.String("error", err.Error()))
		return
	}
	select {
	case b.events <- ev:
	case <-b.done:
	case <-ctx.Done():
	}
}

func (b *BusEngine) StartConversation(context.Context) error {
	return b.publish(protocol.CommandStartConversation)
}

func (b *BusEngine) StopConversation(context.Context) error {
	return b.publish(protocol.CommandStopConversation)
}

func (b *BusEngine) publish(command string) error {
	data, err := json.Marshal(protocol.AssistantCommand{Command: command, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.conn.Publish(protocol.AssistantControlSubject(b.deviceID), data)
}

// Close unsubscribes. The event channel is left open; Run exits on its
// context.
func (b *BusEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	if b.sub != nil {
		return b.sub.Unsubscribe()
	}
	return nil
}
