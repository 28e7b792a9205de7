package domain

import "time"

// AttemptStatus represents the outcome of a single delivery attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "SUCCESS"
	AttemptFailed  AttemptStatus = "FAILED"
)

func (s AttemptStatus) String() string { return string(s) }

// DeliveryLog records one delivery attempt for a job. Rows are append-only;
// attempt numbers per job are strictly increasing and contiguous from 1.
type DeliveryLog struct {
	ID           string
	JobID        string
	Attempt      int
	Status       AttemptStatus
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
	CreatedAt    time.Time
}
