package pubsub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/jarvis/internal/natsserver"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	data  string
	attrs map[string]string
	acks  int
	err   error
}

func (m *fakeMessage) Data() []byte                  { return []byte(m.data) }
func (m *fakeMessage) Attributes() map[string]string { return m.attrs }
func (m *fakeMessage) Ack() error {
	m.acks++
	return m.err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleGPIOPrintsAttributes(t *testing.T) {
	msg := &fakeMessage{data: "GPIO", attrs: map[string]string{"pin": "17", "command": "OnOff", "device_id": "kitchen"}}
	var out bytes.Buffer
	require.NoError(t, Handle(msg, &out))

	assert.Equal(t, 1, msg.acks)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Received message: "))
	assert.Equal(t, []string{"OnOff", "kitchen", "17"}, lines[1:])
}

func TestHandleOtherPayloadPrintsNoAttributes(t *testing.T) {
	msg := &fakeMessage{data: "gpio", attrs: map[string]string{"pin": "17"}}
	var out bytes.Buffer
	require.NoError(t, Handle(msg, &out))

	assert.Equal(t, 1, msg.acks)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 1)
}

func TestHandleAckFailure(t *testing.T) {
	msg := &fakeMessage{data: "GPIO", attrs: map[string]string{"pin": "17"}, err: errors.New("gone")}
	var out bytes.Buffer
	assert.Error(t, Handle(msg, &out))
	assert.Equal(t, 1, msg.acks)
	assert.NotContains(t, out.String(), "17\n")
}

func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()
	srv, err := natsserver.StartLocal(t.TempDir(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := jetstream.New(conn)
	require.NoError(t, err)
	return js
}

func TestPublishNumberedThenReceive(t *testing.T) {
	js := startJetStream(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := NewPublisher(js, "ok-jarvis", discardLogger())
	require.NoError(t, pub.PublishNumbered(ctx, "rpi", 9))

	stream, err := js.Stream(ctx, StreamName("ok-jarvis", "rpi"))
	require.NoError(t, err)
	streamInfo, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), streamInfo.State.Msgs)

	sub := NewSubscriber(js, "ok-jarvis", time.Second, discardLogger())
	out := &syncBuffer{}
	recvCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sub.Receive(recvCtx, "pavilion", "rpi", out) }()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "Received message: ") == 9
	}, 5*time.Second, 20*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Listening on projects/ok-jarvis/subscriptions/pavilion\n"))
	last := -1
	for i := 1; i <= 9; i++ {
		idx := strings.Index(text, `"Message number `+string(rune('0'+i))+`"`)
		require.Greater(t, idx, last, "message %d out of order", i)
		last = idx
	}

	consumer, err := js.Consumer(ctx, StreamName("ok-jarvis", "rpi"), ConsumerName("ok-jarvis", "pavilion"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ci, err := consumer.Info(ctx)
		return err == nil && ci.NumAckPending == 0 && ci.AckFloor.Stream == 9
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReceiveGPIOAttributes(t *testing.T) {
	js := startJetStream(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := NewPublisher(js, "ok-jarvis", discardLogger())
	seq, err := pub.Publish(ctx, "rpi", Message{
		Data:       []byte(GPIOPayload),
		Attributes: map[string]string{"device_id": "kitchen", "command": "OnOff"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	sub := NewSubscriber(js, "ok-jarvis", time.Second, discardLogger())
	out := &syncBuffer{}
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = sub.Receive(recvCtx, "pavilion", "rpi", out) }()

	require.Eventually(t, func() bool {
		return strings.HasSuffix(out.String(), "OnOff\nkitchen\n")
	}, 5*time.Second, 20*time.Millisecond)
}
