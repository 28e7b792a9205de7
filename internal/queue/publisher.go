package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/notifyco/notify-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const deadReasonHeader = "x-dead-reason"

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg JobMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid job message: %w", err)
	}

	return p.publish(ctx, queue, msg, nil)
}

// MoveToDeadLetter publishes the message to the type's dead-letter queue
// with the failure reason attached. Dead-lettered messages are terminal.
func (p *RabbitMQPublisher) MoveToDeadLetter(ctx context.Context, jobType domain.JobType, msg JobMessage, reason string) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if !jobType.IsValid() {
		return fmt.Errorf("invalid job type %q", jobType)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid job message: %w", err)
	}

	headers := amqp.Table{}
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		headers[deadReasonHeader] = trimmed
	}

	return p.publish(ctx, DLQName(jobType), msg, headers)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue string, msg JobMessage, headers amqp.Table) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    msg.JobID,
		Priority:     PriorityValue(msg.Priority),
		Headers:      headers,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
