package queue

import (
	"fmt"
	"strings"

	"github.com/notifyco/notify-engine/internal/domain"
)

// JobMessage is the broker payload for job processing. IsRetry marks a
// manual re-queue that bypasses any stale redelivery delay.
type JobMessage struct {
	JobID      string          `json:"jobId"`
	CustomerID string          `json:"customerId,omitempty"`
	Type       domain.JobType  `json:"type"`
	Priority   domain.Priority `json:"priority"`
	IsRetry    bool            `json:"isRetry,omitempty"`
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid job type %q", m.Type)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
