// Package bus provides the in-process event bus shared by the stores and
// the process supervisor.
package bus

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Interaction log events
	EventInteractionCreated EventType = "interaction:created"
	EventInteractionUpdated EventType = "interaction:updated"

	// Message log events
	EventMessageAdded   EventType = "message:added"
	EventMessageUpdated EventType = "message:updated"

	// Process lifecycle events
	EventProcessStarted   EventType = "process:started"
	EventProcessExited    EventType = "process:exited"
	EventProcessRestarted EventType = "process:restarted"
	EventProcessFailed    EventType = "process:failed"
	EventProcessUnhealthy EventType = "process:unhealthy"
	EventProcessHealthy   EventType = "process:healthy"
)

// Event represents a bus event.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"` // component name
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent creates a new event with the payload marshaled to JSON.
func NewEvent(eventType EventType, source string, data any) (*Event, error) {
	var dataBytes json.RawMessage
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	return &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      dataBytes,
	}, nil
}

// ParseData unmarshals the event data into the given struct.
func (e *Event) ParseData(v any) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ============================================================================
// Process Event Data Types
// ============================================================================

// ProcessStartedData is the payload of process:started.
type ProcessStartedData struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

// ProcessExitedData is the payload of process:exited.
type ProcessExitedData struct {
	ID          string `json:"id"`
	ExitCode    int    `json:"exit_code"`
	WillRestart bool   `json:"will_restart"`
}

// ProcessRestartedData is the payload of process:restarted.
type ProcessRestartedData struct {
	ID           string `json:"id"`
	PID          int    `json:"pid"`
	RestartCount int    `json:"restart_count"`
}

// ProcessFailedData is the payload of process:failed.
type ProcessFailedData struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ReasonMaxRestartsExceeded marks a process removed after exhausting its
// restart budget.
const ReasonMaxRestartsExceeded = "max_restarts_exceeded"

// ProcessHealthData is the payload of process:unhealthy and process:healthy.
type ProcessHealthData struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

var eventCounter atomic.Int64

// generateEventID generates a unique event ID.
func generateEventID() string {
	n := eventCounter.Add(1)
	return fmt.Sprintf("evt-%d-%d", time.Now().UnixMilli(), n)
}
