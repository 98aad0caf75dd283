package assistant

import (
	"encoding/json"
	"fmt"

	"github.com/loqalabs/jarvis/internal/protocol"
)

// Kind identifies a lifecycle moment of a conversation.
type Kind int

const (
	KindUnknown Kind = iota
	KindStartFinished
	KindTurnStarted
	KindEndOfUtterance
	KindSpeechRecognized
	KindRespondingStarted
	KindRespondingFinished
	KindTurnFinished
	KindTurnTimeout
	KindDeviceAction
	KindMutedChanged
	KindAlertStarted
	KindAlertFinished
	KindAssistantError
)

var kindNames = map[Kind]string{
	KindStartFinished:      "ON_START_FINISHED",
	KindTurnStarted:        "ON_CONVERSATION_TURN_STARTED",
	KindEndOfUtterance:     "ON_END_OF_UTTERANCE",
	KindSpeechRecognized:   "ON_RECOGNIZING_SPEECH_FINISHED",
	KindRespondingStarted:  "ON_RESPONDING_STARTED",
	KindRespondingFinished: "ON_RESPONDING_FINISHED",
	KindTurnFinished:       "ON_CONVERSATION_TURN_FINISHED",
	KindTurnTimeout:        "ON_CONVERSATION_TURN_TIMEOUT",
	KindDeviceAction:       "ON_DEVICE_ACTION",
	KindMutedChanged:       "ON_MUTED_CHANGED",
	KindAlertStarted:       "ON_ALERT_STARTED",
	KindAlertFinished:      "ON_ALERT_FINISHED",
	KindAssistantError:     "ON_ASSISTANT_ERROR",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Event is one of the concrete event types below.
type Event interface {
	Kind() Kind
	String() string
}

type StartFinished struct{}

type TurnStarted struct{}

type EndOfUtterance struct{}

type SpeechRecognized struct {
	Text string `json:"text"`
}

type RespondingStarted struct {
	IsErrorResponse bool `json:"is_error_response"`
}

type RespondingFinished struct{}

type TurnFinished struct {
	WithFollowOnTurn bool `json:"with_follow_on_turn"`
}

type TurnTimeout struct{}

type DeviceAction struct {
	Request DeviceActionRequest
}

type MutedChanged struct {
	IsMuted bool `json:"is_muted"`
}

type AlertStarted struct {
	AlertType string `json:"alert_type"`
}

type AlertFinished struct {
	AlertType string `json:"alert_type"`
}

type AssistantError struct {
	IsFatal bool `json:"is_fatal"`
}

// Unknown carries any event name this package does not model.
type Unknown struct {
	Name string
	Args json.RawMessage
}

func (StartFinished) Kind() Kind      { return KindStartFinished }
func (TurnStarted) Kind() Kind        { return KindTurnStarted }
func (EndOfUtterance) Kind() Kind     { return KindEndOfUtterance }
func (SpeechRecognized) Kind() Kind   { return KindSpeechRecognized }
func (RespondingStarted) Kind() Kind  { return KindRespondingStarted }
func (RespondingFinished) Kind() Kind { return KindRespondingFinished }
func (TurnFinished) Kind() Kind       { return KindTurnFinished }
func (TurnTimeout) Kind() Kind        { return KindTurnTimeout }
func (DeviceAction) Kind() Kind       { return KindDeviceAction }
func (MutedChanged) Kind() Kind       { return KindMutedChanged }
func (AlertStarted) Kind() Kind       { return KindAlertStarted }
func (AlertFinished) Kind() Kind      { return KindAlertFinished }
func (AssistantError) Kind() Kind     { return KindAssistantError }
func (Unknown) Kind() Kind            { return KindUnknown }

func (e StartFinished) String() string      { return render(e.Kind(), nil) }
func (e TurnStarted) String() string        { return render(e.Kind(), nil) }
func (e EndOfUtterance) String() string     { return render(e.Kind(), nil) }
func (e SpeechRecognized) String() string   { return render(e.Kind(), e) }
func (e RespondingStarted) String() string  { return render(e.Kind(), e) }
func (e RespondingFinished) String() string { return render(e.Kind(), nil) }
func (e TurnFinished) String() string       { return render(e.Kind(), e) }
func (e TurnTimeout) String() string        { return render(e.Kind(), nil) }
func (e DeviceAction) String() string       { return render(e.Kind(), e.Request) }
func (e MutedChanged) String() string       { return render(e.Kind(), e) }
func (e AlertStarted) String() string       { return render(e.Kind(), e) }
func (e AlertFinished) String() string      { return render(e.Kind(), e) }
func (e AssistantError) String() string     { return render(e.Kind(), e) }

func (e Unknown) String() string {
	if len(e.Args) == 0 {
		return e.Name
	}
	var args any
	if err := json.Unmarshal(e.Args, &args); err != nil {
		return e.Name + ":\n" + string(e.Args)
	}
	return renderName(e.Name, args)
}

func render(k Kind, args any) string {
	return renderName(k.String(), args)
}

// renderName prints NAME, or NAME followed by the args as indented JSON.
func renderName(name string, args any) string {
	if args == nil {
		return name
	}
	body, err := json.MarshalIndent(args, "", "    ")
	if err != nil {
		return name
	}
	return name + ":\n" + string(body)
}

// Decode turns a wire event into its typed form. Names that are not
// modelled decode to Unknown; malformed args for a modelled name are an error.
func Decode(wire protocol.AssistantEvent) (Event, error) {
	kind, ok := kindsByName[wire.Type]
	if !ok {
		return Unknown{Name: wire.Type, Args: wire.Args}, nil
	}

	var ev Event
	var err error
	switch kind {
	case KindStartFinished:
		ev = StartFinished{}
	case KindTurnStarted:
		ev = TurnStarted{}
	case KindEndOfUtterance:
		ev = EndOfUtterance{}
	case KindSpeechRecognized:
		var e SpeechRecognized
		err = decodeArgs(wire.Args, &e)
		ev = e
	case KindRespondingStarted:
		var e RespondingStarted
		err = decodeArgs(wire.Args, &e)
		ev = e
	case KindRespondingFinished:
		ev = RespondingFinished{}
	case KindTurnFinished:
		var e TurnFinished
		err = decodeArgs(wire.Args, &e)
		ev = e
	case KindTurnTimeout:
		ev = TurnTimeout{}
	case KindDeviceAction:
		var e DeviceAction
		err = decodeArgs(wire.Args, &e.Request)
		ev = e
	case KindMutedChanged:
		var e MutedChanged
		err = decodeArgs(wire.Args, &e)
		ev = e
	case KindAlertStarted:
		var e AlertStarted
		err = decodeArgs(wire.Args, &e)
		ev = e
	case KindAlertFinished:
		var e AlertFinished
		err = decodeArgs(wire.Args, &e)
		ev = e
	case KindAssistantError:
		var e AssistantError
		err = decodeArgs(wire.Args, &e)
		ev = e
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s args: %w", wire.Type, err)
	}
	return ev, nil
}

func decodeArgs(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, target)
}
