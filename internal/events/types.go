// Package events provides event management functionality.
package events

// EventType identifies an event
type EventType string

const (
	// RunStarted is emitted when an optimization run begins
	RunStarted EventType = "RUN_STARTED"
	// TrialCompleted is emitted once per finished multi-start trial
	TrialCompleted EventType = "TRIAL_COMPLETED"
	// RunCompleted is emitted when a run produced an allocation
	RunCompleted EventType = "RUN_COMPLETED"
	// RunFailed is emitted when a run ended without an allocation
	RunFailed EventType = "RUN_FAILED"

	// JobStarted is emitted when a scheduled job starts
	JobStarted EventType = "JOB_STARTED"
	// JobCompleted is emitted when a scheduled job finishes
	JobCompleted EventType = "JOB_COMPLETED"
	// JobFailed is emitted when a scheduled job returns an error
	JobFailed EventType = "JOB_FAILED"

	// ErrorOccurred is emitted for errors outside a run
	ErrorOccurred EventType = "ERROR_OCCURRED"
)
