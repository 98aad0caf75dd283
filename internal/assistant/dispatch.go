package assistant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/loqalabs/jarvis/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	textListening = "Listening..."
	textDone      = "Done."
	textGoodbye   = "GoodBye"
)

// Forwarder receives device actions addressed to this device.
type Forwarder interface {
	Forward(ctx context.Context, cmd protocol.DeviceCommand) error
}

// Dispatcher maps events to transcript rows and device actions to the
// forwarder. It is driven from a single goroutine.
type Dispatcher struct {
	sink      transcript.Sink
	forwarder Forwarder
	deviceID  string
	log       *slog.Logger
	clock     func() time.Time
	newID     func() string

	events   metric.Int64Counter
	commands metric.Int64Counter

	mu             sync.Mutex
	conversationID string
}

// NewDispatcher builds a dispatcher. forwarder may be nil, in which case
// device actions are only logged. deviceID empty disables device actions.
func NewDispatcher(sink transcript.Sink, forwarder Forwarder, deviceID string, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		sink:      sink,
		forwarder: forwarder,
		deviceID:  deviceID,
		log:       log.With(slog.String("component", "dispatcher")),
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	meter := otel.Meter("github.com/loqalabs/jarvis/assistant")
	var err error
	if d.events, err = meter.Int64Counter("jarvis.assistant.events", metric.WithDescription("Assistant events dispatched")); err != nil {
		d.log.Warn("failed to create events counter", slog.String("error", err.Error()))
	}
	if d.commands, err = meter.Int64Counter("jarvis.assistant.device_commands", metric.WithDescription("Device commands forwarded")); err != nil {
		d.log.Warn("failed to create commands counter", slog.String("error", err.Error()))
	}
	return d
}

// Dispatch handles one event and reports whether a row was appended.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) bool {
	if d.events != nil {
		d.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ev.Kind().String())))
	}

	switch e := ev.(type) {
	case StartFinished:
		d.append(e.String(), transcript.Left)
	case TurnStarted:
		d.beginConversation()
		d.append(textListening, transcript.Left)
	case SpeechRecognized:
		if e.Text == "" {
			return false
		}
		d.append(e.Text, transcript.Right)
	case RespondingStarted:
		d.append(e.String(), transcript.Left)
	case TurnFinished:
		d.append(textDone, transcript.Left)
	case DeviceAction:
		d.handleDeviceAction(ctx, e)
		return false
	default:
		d.log.Debug("event ignored", slog.String("kind", ev.Kind().String()))
		return false
	}
	return true
}

// Goodbye appends the closing row shown when the window goes away.
func (d *Dispatcher) Goodbye() {
	d.append(textGoodbye, transcript.Left)
}

// ConversationID returns the id of the current turn, or "" before the first.
func (d *Dispatcher) ConversationID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conversationID
}

func (d *Dispatcher) beginConversation() {
	d.mu.Lock()
	d.conversationID = d.newID()
	d.mu.Unlock()
}

func (d *Dispatcher) append(text string, align transcript.Align) {
	d.sink.Append(transcript.Exchange{
		ConversationID: d.ConversationID(),
		Text:           text,
		Align:          align,
		At:             d.clock().UTC(),
	})
}

func (d *Dispatcher) handleDeviceAction(ctx context.Context, e DeviceAction) {
	if d.deviceID == "" {
		d.log.Warn("device action received but no device id configured")
		return
	}
	for _, cmd := range e.Request.Commands(d.deviceID) {
		d.log.Info("device action",
			slog.String("device_id", d.deviceID),
			slog.String("command", cmd.Name),
			slog.Any("params", cmd.Params))
		if d.forwarder == nil {
			continue
		}
		msg := protocol.DeviceCommand{
			DeviceID:  d.deviceID,
			Command:   cmd.Name,
			Params:    cmd.Params,
			Timestamp: d.clock().UTC(),
		}
		if err := d.forwarder.Forward(ctx, msg); err != nil {
			d.log.Warn("failed to forward device action", slog.String("command", cmd.Name), slog.String("error", err.Error()))
			continue
		}
		if d.commands != nil {
			d.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", cmd.Name)))
		}
	}
}
