package domain

import (
	"encoding/json"
	"time"
)

// Status is the stored discriminator of an Outcome.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// FailureReason is the machine-usable cause of a failed probe.
type FailureReason string

const (
	ReasonProcessFailed   FailureReason = "process_failed"
	ReasonTimeout         FailureReason = "timeout"
	ReasonBinaryNotFound  FailureReason = "binary_not_found"
	ReasonMalformedOutput FailureReason = "malformed_output"
	ReasonUnexpected      FailureReason = "unexpected"
)

// Transient reports whether a failure with this reason is worth retrying.
func (r FailureReason) Transient() bool {
	return r == ReasonProcessFailed || r == ReasonTimeout
}

// Outcome is Pending, Success(metrics) or Failure(reason, message).
type Outcome struct {
	Status  Status
	Metrics json.RawMessage
	Reason  FailureReason
	Message string
}

func Pending() Outcome { return Outcome{Status: StatusPending} }

func Success(metrics json.RawMessage) Outcome {
	return Outcome{Status: StatusSuccess, Metrics: metrics}
}

func Failure(reason FailureReason, message string) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason, Message: message}
}

func (o Outcome) IsPending() bool { return o.Status == "" || o.Status == StatusPending }
func (o Outcome) IsSuccess() bool { return o.Status == StatusSuccess }

// CheckEvent records one scheduled execution.
type CheckEvent struct {
	ID          string
	Kind        Kind
	ItemID      int64
	Target      Target
	CreatedAt   time.Time
	CompletedAt *time.Time
	Outcome     Outcome
	Payload     json.RawMessage

	Reviewed   bool
	NoProblem  bool
	ReviewedAt *time.Time

	Seen   bool
	SeenAt *time.Time
}

// WorkUnit is one due item paired with the event created for it.
type WorkUnit struct {
	Item  CheckItem
	Event CheckEvent
}

// UnitResult reports how a dispatched unit ended.
type UnitResult struct {
	EventID  string
	ItemID   int64
	TargetID int64
	Kind     Kind
	Attempts int
	Outcome  Outcome
	Err      error
}
