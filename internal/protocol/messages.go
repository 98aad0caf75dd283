package protocol

import (
	"encoding/json"
	"time"
)

// AssistantEvent is the wire form of a lifecycle event emitted by an
// assistant engine bridge.
type AssistantEvent struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// AssistantCommand asks an engine bridge to act on the conversation.
type AssistantCommand struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange is a transcript row as it is published to feeds.
type Exchange struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text"`
	Align          string    `json:"align"`
	Timestamp      time.Time `json:"timestamp"`
}

// DeviceCommand is a forwarded device action.
type DeviceCommand struct {
	DeviceID  string         `json:"device_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	CommandStartConversation = "start_conversation"
	CommandStopConversation  = "stop_conversation"
)

const (
	SubjectAssistantEventPrefix   = "assistant.event"
	SubjectAssistantControlPrefix = "assistant.control"
	SubjectDeviceAnnounce         = "ctrl.device.announce"
	SubjectDeviceHeartbeatPrefix  = "ctrl.device.heartbeat"
)

// AssistantEventSubject is where a bridge publishes events for deviceID.
func AssistantEventSubject(deviceID string) string {
	return SubjectAssistantEventPrefix + "." + deviceID
}

// AssistantControlSubject is where commands for deviceID are published.
func AssistantControlSubject(deviceID string) string {
	return SubjectAssistantControlPrefix + "." + deviceID
}
