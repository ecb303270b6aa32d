// Package scheduler implements the persistent, recurring task
// scheduler (C7): it persists scheduled events, computes next fire
// times for one-shot/interval/cron triggers, fires due events with
// bounded concurrency, and records every execution.
package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// TriggerKind is the closed set of ways an event can be scheduled to
// fire. Exactly one kind's fields are populated on a ScheduledEvent.
type TriggerKind string

const (
	TriggerOnce     TriggerKind = "ONCE"
	TriggerInterval TriggerKind = "INTERVAL"
	TriggerCron     TriggerKind = "CRON"
)

// IntervalUnit is the unit an INTERVAL trigger's amount is expressed
// in.
type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
	UnitWeeks   IntervalUnit = "weeks"
	UnitMonths  IntervalUnit = "months"
)

// Status is a ScheduledEvent's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusPaused    Status = "PAUSED"
	StatusCancelled Status = "CANCELLED"
)

// Outcome is how one Execution ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeTimeout   Outcome = "TIMEOUT"
	OutcomeCancelled Outcome = "CANCELLED"
)

// ScheduledEvent is the persisted record of one scheduled task.
type ScheduledEvent struct {
	ID             string
	Name           string
	Description    string
	FunctionName   string
	ModuleID       string
	Parameters     json.RawMessage
	TriggerKind    TriggerKind
	IntervalUnit   IntervalUnit
	IntervalAmount int
	CronExpression string
	NextFireAt     *time.Time
	CreatedAt      time.Time
	LastFiredAt    *time.Time
	Status         Status
	Recurring      bool
	TimeoutSeconds int // 0 means "use the scheduler default"
}

// Execution is one append-only record of a single fire of an event.
type Execution struct {
	ID            string
	EventID       string
	StartedAt     time.Time
	EndedAt       *time.Time
	Outcome       Outcome
	ResultSummary json.RawMessage
	ErrorKind     string
	ErrorMessage  string
}

// EventSpec is the input to Schedule: everything the caller supplies
// to create a new ScheduledEvent.
type EventSpec struct {
	Name           string
	Description    string
	FunctionName   string
	ModuleID       string
	Parameters     json.RawMessage
	TriggerKind    TriggerKind
	IntervalUnit   IntervalUnit
	IntervalAmount int
	CronExpression string
	// NextExecution is required for ONCE, optional for INTERVAL (defaults
	// to now+interval when zero). Ignored for CRON, whose first fire is
	// always computed from the cron expression.
	NextExecution  time.Time
	Recurring      bool
	TimeoutSeconds int
}

// UpdateFields names the editable subset of a ScheduledEvent. Nil
// pointers/empty values leave the existing field untouched.
type UpdateFields struct {
	Description    *string
	Parameters     json.RawMessage
	TriggerKind    TriggerKind
	IntervalUnit   IntervalUnit
	IntervalAmount int
	CronExpression string
	TimeoutSeconds int
}

// Function is a registered task body. params is the event's
// Parameters verbatim; the return value becomes the Execution's
// ResultSummary. Implementations must respect ctx cancellation
// cooperatively: the loop cancels ctx when the event's timeout
// expires, but does not forcibly stop the goroutine running Function.
type Function func(ctx context.Context, params json.RawMessage) (map[string]interface{}, error)
