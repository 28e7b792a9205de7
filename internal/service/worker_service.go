package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/observability"
	"github.com/notifyco/notify-engine/internal/provider"
	"github.com/notifyco/notify-engine/internal/queue"
	"github.com/notifyco/notify-engine/internal/ratelimit"
	"github.com/notifyco/notify-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	baseRetryDelay       = 2 * time.Second
	maxRetryDelay        = 60 * time.Second
	maxRetryJitterMillis = 250
)

// WorkerService runs one bounded consumer pool per job type. Each worker
// executes a single delivery attempt per message, classifies the outcome,
// and completes, schedules a redelivery, or dead-letters the job.
type WorkerService struct {
	jobs        repository.JobRepository
	logs        repository.DeliveryLogRepository
	customers   repository.CustomerRepository
	consumer    queue.Consumer
	publisher   queue.Publisher
	providers   map[domain.JobType]provider.Provider
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewWorkerService(
	jobs repository.JobRepository,
	logs repository.DeliveryLogRepository,
	customers repository.CustomerRepository,
	consumer queue.Consumer,
	publisher queue.Publisher,
	providers map[domain.JobType]provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	return &WorkerService{
		jobs:        jobs,
		logs:        logs,
		customers:   customers,
		consumer:    consumer,
		publisher:   publisher,
		providers:   providers,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes every type's work queue with the configured concurrency
// until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, jobType := range queue.SupportedTypes() {
		queueName := queue.QueueName(jobType)

		for i := 0; i < s.concurrency; i++ {
			workerID := i + 1

			g.Go(func() error {
				s.logger.Info("worker started",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
				)

				err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
				if err != nil {
					s.logger.Error("worker stopped with error",
						zap.Int("workerId", workerID),
						zap.String("queue", queueName),
						zap.Error(err),
					)
					return err
				}

				s.logger.Info("worker stopped",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
				)
				return nil
			})
		}
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.JobMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.JobID)
	logger := observability.WithContextLogger(s.logger, ctx)

	prov, ok := s.providers[msg.Type]
	if !ok {
		return fmt.Errorf("no provider configured for job type %q", msg.Type)
	}

	typeName := strings.ToLower(msg.Type.String())

	// Throttling happens before the claim. A limiter outage then requeues
	// the delivery with the job still PENDING instead of burning an attempt
	// it never made.
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, typeName); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	job, err := s.jobs.ClaimForProcessing(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job row missing for a queued message: infrastructure
			// inconsistency, logged and left for reconciliation.
			logger.Warn("job not found during claim, skipping")
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	// Nil means terminal or already in-flight; ack and skip.
	if job == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(typeName)
		defer s.metrics.DecWorkerInFlight(typeName)
	}

	// Routing is resolved per attempt so plan or domain-verification
	// changes made after submission are honored.
	routing, err := s.resolveRouting(ctx, job)
	if err != nil {
		// The claim counted an attempt that never reached the provider.
		// Roll it back so the requeued delivery can claim again and the
		// audit trail stays contiguous.
		s.releaseClaim(ctx, job.ID)
		return err
	}

	sendStart := s.now()
	resp, sendErr := prov.Send(ctx, *job, routing)
	if s.metrics != nil {
		s.metrics.ObserveDeliveryDuration(typeName, s.now().Sub(sendStart))
	}

	// The audit row is written before any state transition decision so the
	// trail stays complete even if classification or requeue fails later.
	if err := s.recordAttempt(ctx, job, resp, sendErr); err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	if sendErr == nil {
		if err := s.jobs.MarkCompleted(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to mark job completed: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncJobCompleted(typeName)
		}
		return nil
	}

	return s.handleFailure(ctx, job, msg, sendErr)
}

func (s *WorkerService) resolveRouting(ctx context.Context, job *domain.Job) (*domain.CustomerRouting, error) {
	if job.Type != domain.TypeEmail || s.customers == nil {
		return nil, nil
	}

	routing, err := s.customers.GetRouting(ctx, job.CustomerID)
	if errors.Is(err, domain.ErrNotFound) {
		// Missing owner is a pre-flight condition the mail provider turns
		// into a permanent failure via nil routing.
		s.logger.Warn("customer routing not found",
			zap.String("jobId", job.ID),
			zap.String("customerId", job.CustomerID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer routing: %w", err)
	}
	return routing, nil
}

func (s *WorkerService) releaseClaim(ctx context.Context, jobID string) {
	if err := s.jobs.ReleaseClaim(ctx, jobID); err != nil {
		s.logger.Error("failed to release claim",
			zap.String("jobId", jobID),
			zap.Error(err),
		)
	}
}

func (s *WorkerService) handleFailure(ctx context.Context, job *domain.Job, msg queue.JobMessage, sendErr error) error {
	typeName := strings.ToLower(job.Type.String())
	failureMsg := provider.FailureMessage(sendErr)
	isTransient := provider.IsTransient(sendErr)

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	if isTransient && job.Attempts < maxAttempts {
		nextRetryAt := s.now().Add(s.computeRetryDelay(job.Attempts))
		if err := s.jobs.ScheduleRetry(ctx, job.ID, nextRetryAt); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(typeName)
		}
		return nil
	}

	dlqMsg := queue.JobMessage{
		JobID:      job.ID,
		CustomerID: job.CustomerID,
		Type:       job.Type,
		Priority:   job.Priority,
		IsRetry:    msg.IsRetry,
	}
	if s.publisher != nil {
		if err := s.publisher.MoveToDeadLetter(ctx, job.Type, dlqMsg, failureMsg); err != nil {
			s.logger.Error("failed to publish to dead-letter queue",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		} else if s.metrics != nil {
			s.metrics.IncDeadLettered(typeName)
		}
	}

	if err := s.jobs.MarkFailed(ctx, job.ID, failureMsg); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if s.metrics != nil {
		reason := "permanent_error"
		if isTransient {
			reason = "retry_exhausted"
		}
		s.metrics.IncJobFailed(typeName, reason)
	}

	return nil
}

// computeRetryDelay grows the backoff as base * 2^(attempt-1): 2s, 4s, 8s.
func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	job *domain.Job,
	resp *provider.ProviderResponse,
	sendErr error,
) error {
	var statusCode *int
	var responseBody *string
	var errorMessage *string

	status := domain.AttemptSuccess
	if sendErr != nil {
		status = domain.AttemptFailed
		value := provider.FailureMessage(sendErr)
		errorMessage = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) {
			if providerErr.StatusCode > 0 {
				code := providerErr.StatusCode
				statusCode = &code
			}
			if body := strings.TrimSpace(providerErr.Body); body != "" {
				responseBody = &body
			}
		}
	}

	if resp != nil {
		if resp.StatusCode > 0 {
			code := resp.StatusCode
			statusCode = &code
		}
		if body := strings.TrimSpace(resp.Body); body != "" {
			value := resp.Body
			responseBody = &value
		}
	}

	log := &domain.DeliveryLog{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		Attempt:      job.Attempts,
		Status:       status,
		StatusCode:   statusCode,
		ResponseBody: responseBody,
		ErrorMessage: errorMessage,
		CreatedAt:    s.now().UTC(),
	}

	return s.logs.Create(ctx, log)
}
