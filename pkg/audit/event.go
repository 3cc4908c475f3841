// Package audit records every ring plan that was executed against devices.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Change is one dispatched action and its outcome.
type Change struct {
	Device string `json:"device"`
	Port   string `json:"port,omitempty"`
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Event represents an auditable ring operation
type Event struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	User        string        `json:"user"`
	Ring        string        `json:"ring"`
	Operation   string        `json:"operation"`
	State       string        `json:"state,omitempty"`
	Changes     []Change      `json:"changes,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	ExecuteMode bool          `json:"execute_mode"` // true if -x was used
	DryRun      bool          `json:"dry_run"`
	Duration    time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	Ring        string
	Device      string // matches events with at least one change on the device
	User        string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, ring, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Ring:      ring,
		Operation: operation,
	}
}

// WithState records the classified ring state the plan came from.
func (e *Event) WithState(state string) *Event {
	e.State = state
	return e
}

// WithChanges sets the changes
func (e *Event) WithChanges(changes []Change) *Event {
	e.Changes = changes
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithExecuteMode marks if execute mode was used
func (e *Event) WithExecuteMode(execute bool) *Event {
	e.ExecuteMode = execute
	e.DryRun = !execute
	return e
}

// touches reports whether any change targets the device.
func (e *Event) touches(device string) bool {
	for _, c := range e.Changes {
		if c.Device == device {
			return true
		}
	}
	return false
}
