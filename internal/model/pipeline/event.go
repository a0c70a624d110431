package pipeline

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates pipeline events on the wire.
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one notification of a pipeline run. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType

	// progress
	Step      string
	Completed int
	Total     int

	// result / error
	Stage string
	Data  any

	// error / complete
	Message string

	// Terminal marks the event that closes a run: complete, or a fatal error.
	Terminal bool
}

// Progress announces that step is about to run.
func Progress(step string, completed, total int) Event {
	return Event{Type: EventProgress, Step: step, Completed: completed, Total: total}
}

// Result carries the payload of a finished stage.
func Result(stage string, data any) Event {
	return Event{Type: EventResult, Stage: stage, Data: data}
}

// StageError reports a recovered stage failure; the run continues.
func StageError(stage, message string) Event {
	return Event{Type: EventError, Stage: stage, Message: message}
}

// Fatal reports an unrecoverable failure and terminates the run.
func Fatal(message string) Event {
	return Event{Type: EventError, Message: message, Terminal: true}
}

// Complete terminates a successful run. data may be nil.
func Complete(message string, data any) Event {
	return Event{Type: EventComplete, Message: message, Data: data, Terminal: true}
}

type progressWire struct {
	Type     EventType `json:"type"`
	Step     string    `json:"step"`
	Progress int       `json:"progress"`
	Total    int       `json:"total"`
}

type resultWire struct {
	Type         EventType `json:"type"`
	AnalysisType string    `json:"analysis_type"`
	Data         any       `json:"data"`
}

type messageWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// MarshalJSON renders the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventProgress:
		return json.Marshal(progressWire{Type: e.Type, Step: e.Step, Progress: e.Completed, Total: e.Total})
	case EventResult:
		data := e.Data
		if data == nil {
			data = struct{}{}
		}
		return json.Marshal(resultWire{Type: e.Type, AnalysisType: e.Stage, Data: data})
	case EventError:
		return json.Marshal(messageWire{Type: e.Type, Message: e.Message})
	case EventComplete:
		return json.Marshal(messageWire{Type: e.Type, Message: e.Message, Data: e.Data})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
