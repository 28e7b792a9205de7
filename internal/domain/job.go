package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic processing may happen.
// FAILED is terminal for workers but can be re-driven via manual retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// JobType represents the delivery channel of a job.
type JobType string

const (
	TypeEmail   JobType = "EMAIL"
	TypeWebhook JobType = "WEBHOOK"
)

func (t JobType) String() string { return string(t) }

func (t JobType) IsValid() bool {
	switch t {
	case TypeEmail, TypeWebhook:
		return true
	}
	return false
}

func ParseJobTypeFromString(s string) (JobType, error) {
	jt := JobType(strings.ToUpper(strings.TrimSpace(s)))
	if !jt.IsValid() {
		return "", fmt.Errorf("%w: invalid job type %q", ErrValidation, s)
	}
	return jt, nil
}

// Priority represents the dequeue weight of a job. HIGH is dequeued first.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// DefaultMaxAttempts is the delivery attempt ceiling for new jobs.
const DefaultMaxAttempts = 3

// Job is the core domain entity: one customer-submitted delivery request.
// Jobs are never deleted; terminal states preserve the audit trail.
type Job struct {
	ID             string
	CustomerID     string
	Type           JobType
	Status         Status
	Priority       Priority
	Payload        json.RawMessage
	IdempotencyKey *string
	Attempts       int
	MaxAttempts    int
	ErrorMessage   *string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	if !j.Type.IsValid() {
		return fmt.Errorf("%w: invalid job type %q", ErrValidation, j.Type)
	}
	if !j.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, j.Priority)
	}
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}

	switch j.Type {
	case TypeEmail:
		payload, err := ParseEmailPayload(j.Payload)
		if err != nil {
			return err
		}
		return payload.Validate()
	case TypeWebhook:
		payload, err := ParseWebhookPayload(j.Payload)
		if err != nil {
			return err
		}
		return payload.Validate()
	}

	return nil
}
