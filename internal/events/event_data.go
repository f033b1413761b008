package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID     string `json:"run_id"`
	Strategy  string `json:"strategy"`
	Assets    int    `json:"assets"`
	NumTrials int    `json:"num_trials"`
	Source    string `json:"source"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType {
	return RunStarted
}

// TrialCompletedData contains data for TrialCompleted events
type TrialCompletedData struct {
	Strategy   string  `json:"strategy"`
	Trial      int     `json:"trial"`
	Converged  bool    `json:"converged"`
	Value      float64 `json:"value,omitempty"`
	Status     string  `json:"status"`
	Iterations int     `json:"iterations"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// EventType returns the event type for TrialCompletedData
func (d *TrialCompletedData) EventType() EventType {
	return TrialCompleted
}

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID      string             `json:"run_id"`
	Strategy   string             `json:"strategy"`
	Value      float64            `json:"value"`
	Converged  int                `json:"converged"`
	Failed     int                `json:"failed"`
	Allocation map[string]float64 `json:"allocation,omitempty"`
	DurationMs float64            `json:"duration_ms"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	return RunCompleted
}

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID    string `json:"run_id"`
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// EventType returns the event type for RunFailedData
func (d *RunFailedData) EventType() EventType {
	return RunFailed
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobType   string    `json:"job_type"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData
// The event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// Event is a published event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// UnmarshalJSON decodes Data into the struct matching Type
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		e.Data = nil
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case RunStarted:
		eventData = &RunStartedData{}
	case TrialCompleted:
		eventData = &TrialCompletedData{}
	case RunCompleted:
		eventData = &RunCompletedData{}
	case RunFailed:
		eventData = &RunFailedData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	case JobStarted, JobCompleted, JobFailed:
		eventData = &JobStatusData{}
	default:
		generic := &GenericEventData{Type: aux.Type}
		if err := json.Unmarshal(aux.Data, &generic.Data); err != nil {
			return err
		}
		e.Data = generic
		return nil
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON serializes the raw map
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}
