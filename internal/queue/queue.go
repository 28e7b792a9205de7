package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/notifyco/notify-engine/internal/domain"
)

// Publisher publishes job messages to a work queue. MoveToDeadLetter is the
// terminal sink for jobs that must not be retried further; dead-letter
// queues have no consumer in this service.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobMessage) error
	MoveToDeadLetter(ctx context.Context, jobType domain.JobType, msg JobMessage, reason string) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedTypes = []domain.JobType{
	domain.TypeEmail,
	domain.TypeWebhook,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 3
)

// SupportedTypes returns the job types with a dedicated work queue.
func SupportedTypes() []domain.JobType {
	types := make([]domain.JobType, len(supportedTypes))
	copy(types, supportedTypes)
	return types
}

// QueueName returns the per-type work queue name, e.g. email.
func QueueName(jobType domain.JobType) string {
	return strings.ToLower(jobType.String())
}

// DLQName returns the dead-letter queue name for a job type, e.g. dlq.email.
func DLQName(jobType domain.JobType) string {
	return fmt.Sprintf("dlq.%s", QueueName(jobType))
}

// WorkQueueNames returns all per-type work queues (2 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedTypes))
	for _, jobType := range supportedTypes {
		queues = append(queues, QueueName(jobType))
	}
	return queues
}

// DLQNames returns all dead-letter queues (2 total).
func DLQNames() []string {
	queues := make([]string, 0, len(supportedTypes))
	for _, jobType := range supportedTypes {
		queues = append(queues, DLQName(jobType))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
// Higher broker values are dequeued first; FIFO applies within a value.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
