package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/loqalabs/jarvis/internal/pubsub"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var onOff = protocol.DeviceCommand{
	DeviceID:  "kitchen",
	Command:   "action.devices.commands.OnOff",
	Params:    map[string]any{"on": true, "color": "red"},
	Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
}

type stubPublisher struct {
	topic string
	msg   pubsub.Message
	err   error
}

func (s *stubPublisher) Publish(_ context.Context, topic string, msg pubsub.Message) (uint64, error) {
	s.topic = topic
	s.msg = msg
	return 7, s.err
}

func TestPubSubForwarderPublishesGPIO(t *testing.T) {
	pub := &stubPublisher{}
	f := NewPubSubForwarder(pub, "rpi", discardLogger())
	require.NoError(t, f.Forward(context.Background(), onOff))

	assert.Equal(t, "rpi", pub.topic)
	assert.Equal(t, "GPIO", string(pub.msg.Data))
	assert.Equal(t, map[string]string{
		"device_id": "kitchen",
		"command":   "action.devices.commands.OnOff",
		"on":        "true",
		"color":     "red",
	}, pub.msg.Attributes)
}

func TestPubSubForwarderError(t *testing.T) {
	f := NewPubSubForwarder(&stubPublisher{err: errors.New("down")}, "rpi", discardLogger())
	assert.Error(t, f.Forward(context.Background(), onOff))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (c *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.qos = qos
	c.payload = payload.([]byte)
	return newFakeToken(c.err)
}

func TestMQTTForwarderTopicAndPayload(t *testing.T) {
	client := &fakeMQTT{}
	f := newMQTTForwarder(client, "jarvis/devices", 1, discardLogger())
	require.NoError(t, f.Forward(context.Background(), onOff))

	assert.Equal(t, "jarvis/devices/kitchen", client.topic)
	assert.Equal(t, byte(1), client.qos)
	var got protocol.DeviceCommand
	require.NoError(t, json.Unmarshal(client.payload, &got))
	assert.Equal(t, onOff.Command, got.Command)
	assert.Equal(t, true, got.Params["on"])
}

func TestMQTTForwarderPublishError(t *testing.T) {
	f := newMQTTForwarder(&fakeMQTT{err: errors.New("not connected")}, "jarvis/devices", 0, discardLogger())
	assert.ErrorContains(t, f.Forward(context.Background(), onOff), "not connected")
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaForwarderKeysByDevice(t *testing.T) {
	w := &fakeWriter{}
	f := &KafkaForwarder{writer: w, log: discardLogger()}
	require.NoError(t, f.Forward(context.Background(), onOff))
	require.NoError(t, f.Close())

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "kitchen", string(w.msgs[0].Key))
	assert.Equal(t, "command", w.msgs[0].Headers[0].Key)
	assert.True(t, w.closed)
}

func TestParseKafkaSettings(t *testing.T) {
	assert.Equal(t, kafka.RequireAll, parseAcks("ALL"))
	assert.Equal(t, kafka.RequireNone, parseAcks("none"))
	assert.Equal(t, kafka.RequireOne, parseAcks(""))
	assert.Equal(t, kafka.Compression(0), parseCompression("off"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Snappy, parseCompression("brotli"))
}

func TestNewSelectsBackend(t *testing.T) {
	f, err := New(config.ForwarderConfig{}, nil, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &LogForwarder{}, f)
	assert.NoError(t, f.Forward(context.Background(), onOff))

	f, err = New(config.ForwarderConfig{Backend: "pubsub", Topic: "rpi"}, &stubPublisher{}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &PubSubForwarder{}, f)

	_, err = New(config.ForwarderConfig{Backend: "pubsub"}, nil, discardLogger())
	assert.Error(t, err)

	_, err = New(config.ForwarderConfig{Backend: "gpio"}, nil, discardLogger())
	assert.Error(t, err)
}
