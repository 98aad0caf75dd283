package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/loqalabs/jarvis/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	rows []transcript.Exchange
}

func (r *recordingSink) Append(ex transcript.Exchange) { r.rows = append(r.rows, ex) }

type recordingForwarder struct {
	got []protocol.DeviceCommand
	err error
}

func (f *recordingForwarder) Forward(_ context.Context, cmd protocol.DeviceCommand) error {
	f.got = append(f.got, cmd)
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(fwd Forwarder) (*Dispatcher, *recordingSink) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, fwd, "kitchen", discardLogger())
	d.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	ids := 0
	d.newID = func() string {
		ids++
		return "conv-" + string(rune('0'+ids))
	}
	return d, sink
}

func TestDispatchHandledKinds(t *testing.T) {
	cases := []struct {
		ev    Event
		text  string
		align transcript.Align
	}{
		{StartFinished{}, "ON_START_FINISHED", transcript.Left},
		{TurnStarted{}, "Listening...", transcript.Left},
		{SpeechRecognized{Text: "what time is it"}, "what time is it", transcript.Right},
		{RespondingStarted{}, RespondingStarted{}.String(), transcript.Left},
		{TurnFinished{}, "Done.", transcript.Left},
	}
	for _, tc := range cases {
		t.Run(tc.ev.Kind().String(), func(t *testing.T) {
			d, sink := newTestDispatcher(nil)
			assert.True(t, d.Dispatch(context.Background(), tc.ev))
			require.Len(t, sink.rows, 1)
			assert.Equal(t, tc.text, sink.rows[0].Text)
			assert.Equal(t, tc.align, sink.rows[0].Align)
		})
	}
}

func TestDispatchUnhandledKindsAppendNothing(t *testing.T) {
	d, sink := newTestDispatcher(nil)
	for _, ev := range []Event{
		EndOfUtterance{},
		RespondingFinished{},
		TurnTimeout{},
		MutedChanged{IsMuted: true},
		AlertStarted{AlertType: "ALARM"},
		AlertFinished{},
		AssistantError{},
		Unknown{Name: "ON_SOMETHING_NEW"},
		SpeechRecognized{},
	} {
		assert.False(t, d.Dispatch(context.Background(), ev), ev.Kind().String())
	}
	assert.Empty(t, sink.rows)
}

func TestDispatchTagsRowsWithConversation(t *testing.T) {
	d, sink := newTestDispatcher(nil)
	ctx := context.Background()
	d.Dispatch(ctx, StartFinished{})
	d.Dispatch(ctx, TurnStarted{})
	d.Dispatch(ctx, TurnFinished{})
	d.Dispatch(ctx, TurnStarted{})

	require.Len(t, sink.rows, 4)
	assert.Equal(t, "", sink.rows[0].ConversationID)
	assert.Equal(t, "conv-1", sink.rows[1].ConversationID)
	assert.Equal(t, "conv-1", sink.rows[2].ConversationID)
	assert.Equal(t, "conv-2", sink.rows[3].ConversationID)
}

func TestDispatchDeviceActionForwardsCommands(t *testing.T) {
	fwd := &recordingForwarder{}
	d, sink := newTestDispatcher(fwd)

	var req DeviceActionRequest
	require.NoError(t, json.Unmarshal([]byte(twoCommands), &req))

	assert.False(t, d.Dispatch(context.Background(), DeviceAction{Request: req}))
	assert.Empty(t, sink.rows)
	require.Len(t, fwd.got, 2)
	assert.Equal(t, "kitchen", fwd.got[0].DeviceID)
	assert.Equal(t, "action.devices.commands.OnOff", fwd.got[0].Command)
	assert.Equal(t, map[string]any{"on": true}, fwd.got[0].Params)
	assert.Equal(t, "com.example.commands.BlinkLight", fwd.got[1].Command)
	assert.Nil(t, fwd.got[1].Params)
}

func TestDispatchDeviceActionForwardErrorContinues(t *testing.T) {
	fwd := &recordingForwarder{err: errors.New("broker down")}
	d, _ := newTestDispatcher(fwd)

	var req DeviceActionRequest
	require.NoError(t, json.Unmarshal([]byte(twoCommands), &req))
	d.Dispatch(context.Background(), DeviceAction{Request: req})
	assert.Len(t, fwd.got, 2)
}

func TestGoodbye(t *testing.T) {
	d, sink := newTestDispatcher(nil)
	d.Goodbye()
	require.Len(t, sink.rows, 1)
	assert.Equal(t, "GoodBye", sink.rows[0].Text)
}
