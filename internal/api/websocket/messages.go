package websocket

import (
	"time"

	"github.com/ferralab/prepcore/internal/telemetry"
	"github.com/ferralab/prepcore/internal/workflow"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Job lifecycle messages
	MessageTypeJobTransition MessageType = "job_transition"

	// Process data messages
	MessageTypeTelemetry MessageType = "telemetry"

	// Machine state messages
	MessageTypeMachineState MessageType = "machine_state"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewJobTransitionMessage(event workflow.Event) Message {
	return NewMessage(MessageTypeJobTransition, event)
}

func NewTelemetryMessage(sample telemetry.Sample) Message {
	return NewMessage(MessageTypeTelemetry, sample)
}

func NewMachineStateMessage(snapshot workflow.Snapshot) Message {
	return NewMessage(MessageTypeMachineState, snapshot)
}
