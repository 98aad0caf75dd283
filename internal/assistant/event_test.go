package assistant

import (
	"encoding/json"
	"testing"

	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wire(name, args string) protocol.AssistantEvent {
	ev := protocol.AssistantEvent{Type: name}
	if args != "" {
		ev.Args = json.RawMessage(args)
	}
	return ev
}

func TestDecodeTypedEvents(t *testing.T) {
	cases := []struct {
		in   protocol.AssistantEvent
		want Event
	}{
		{wire("ON_START_FINISHED", ""), StartFinished{}},
		{wire("ON_CONVERSATION_TURN_STARTED", ""), TurnStarted{}},
		{wire("ON_RECOGNIZING_SPEECH_FINISHED", `{"text":"turn on the lamp"}`), SpeechRecognized{Text: "turn on the lamp"}},
		{wire("ON_RESPONDING_STARTED", `{"is_error_response":true}`), RespondingStarted{IsErrorResponse: true}},
		{wire("ON_CONVERSATION_TURN_FINISHED", `{"with_follow_on_turn":true}`), TurnFinished{WithFollowOnTurn: true}},
		{wire("ON_MUTED_CHANGED", `{"is_muted":true}`), MutedChanged{IsMuted: true}},
		{wire("ON_ASSISTANT_ERROR", `{"is_fatal":true}`), AssistantError{IsFatal: true}},
		{wire("ON_CONVERSATION_TURN_TIMEOUT", "null"), TurnTimeout{}},
	}
	for _, tc := range cases {
		t.Run(tc.in.Type, func(t *testing.T) {
			got, err := Decode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.in.Type, got.Kind().String())
		})
	}
}

func TestDecodeUnknownName(t *testing.T) {
	got, err := Decode(wire("ON_RENDER_RESPONSE", `{"type":0}`))
	require.NoError(t, err)
	unknown, ok := got.(Unknown)
	require.True(t, ok)
	assert.Equal(t, KindUnknown, unknown.Kind())
	assert.Equal(t, "ON_RENDER_RESPONSE", unknown.Name)
}

func TestDecodeMalformedArgs(t *testing.T) {
	_, err := Decode(wire("ON_RECOGNIZING_SPEECH_FINISHED", `{"text":42}`))
	assert.Error(t, err)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "ON_START_FINISHED", StartFinished{}.String())
	assert.Equal(t, "ON_RESPONDING_STARTED:\n{\n    \"is_error_response\": false\n}", RespondingStarted{}.String())
	assert.Equal(t, "ON_RECOGNIZING_SPEECH_FINISHED:\n{\n    \"text\": \"hi\"\n}", SpeechRecognized{Text: "hi"}.String())
	assert.Equal(t, "ON_X", Unknown{Name: "ON_X"}.String())
	assert.Equal(t, "ON_X:\n{\n    \"a\": 1\n}", Unknown{Name: "ON_X", Args: json.RawMessage(`{"a":1}`)}.String())
}
