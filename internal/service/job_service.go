package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/observability"
	"github.com/notifyco/notify-engine/internal/queue"
	"github.com/notifyco/notify-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type JobService struct {
	jobs      repository.JobRepository
	logs      repository.DeliveryLogRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

type SubmitParams struct {
	CustomerID     string
	Type           domain.JobType
	Payload        json.RawMessage
	Priority       domain.Priority
	IdempotencyKey *string
}

type ListResult struct {
	Jobs       []domain.Job
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

func NewJobService(
	jobs repository.JobRepository,
	logs repository.DeliveryLogRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*JobService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JobService{
		jobs:      jobs,
		logs:      logs,
		publisher: publisher,
		logger:    logger,
	}, nil
}

func (s *JobService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit persists a new PENDING job and enqueues it. The store write always
// precedes the enqueue; a publish failure leaves the job PENDING and visible
// through the query endpoints, to be reconciled out of band.
func (s *JobService) Submit(ctx context.Context, params SubmitParams) (*domain.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	job, err := s.prepareJob(params)
	if err != nil {
		return nil, err
	}

	if job.IdempotencyKey != nil {
		existing, err := s.jobs.GetByIdempotencyKey(ctx, job.CustomerID, *job.IdempotencyKey)
		if err == nil {
			return nil, &domain.DuplicateError{ExistingJobID: existing.ID}
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		// Two concurrent submissions with the same key race past the
		// pre-check; the uniqueness constraint decides the winner and the
		// loser must surface the duplicate response.
		existing, resolved, resolveErr := s.resolveIdempotencyConflict(ctx, err, job)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return nil, &domain.DuplicateError{ExistingJobID: existing.ID}
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncJobSubmitted(job.Type.String())
	}

	msg := queue.JobMessage{
		JobID:      job.ID,
		CustomerID: job.CustomerID,
		Type:       job.Type,
		Priority:   job.Priority,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(job.Type), msg); err != nil {
		s.logger.Error("job persisted but enqueue failed, leaving PENDING for reconciliation",
			zap.String("jobId", job.ID),
			zap.String("type", string(job.Type)),
			zap.Error(err),
		)
		return job, nil
	}

	return job, nil
}

// GetStatus returns the job scoped to the owning customer. Jobs owned by
// another customer report ErrNotFound, never a permission error.
func (s *JobService) GetStatus(ctx context.Context, customerID, jobID string) (*domain.Job, error) {
	customerID = strings.TrimSpace(customerID)
	jobID = strings.TrimSpace(jobID)
	if customerID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: customer id and job id are required", domain.ErrValidation)
	}

	return s.jobs.GetForCustomer(ctx, customerID, jobID)
}

// GetDeliveryLogs returns the attempt history for a customer's job.
func (s *JobService) GetDeliveryLogs(ctx context.Context, customerID, jobID string) ([]domain.DeliveryLog, error) {
	if _, err := s.GetStatus(ctx, customerID, jobID); err != nil {
		return nil, err
	}
	if s.logs == nil {
		return nil, nil
	}
	return s.logs.GetByJobID(ctx, jobID)
}

func (s *JobService) List(ctx context.Context, params repository.ListParams) (*ListResult, error) {
	if strings.TrimSpace(params.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}

	params.Page = max(params.Page, 1)
	if params.Limit < 1 {
		params.Limit = 20
	}
	params.Limit = min(params.Limit, 100)

	jobs, total, err := s.jobs.List(ctx, params)
	if err != nil {
		return nil, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(params.Limit) - 1) / int64(params.Limit))
	}

	return &ListResult{
		Jobs:       jobs,
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// Retry re-queues a FAILED job at its original priority. The attempt
// counter resets to 0 and the error clears; prior delivery logs are kept.
// Jobs in any other state are not eligible and report ErrNotFound.
func (s *JobService) Retry(ctx context.Context, customerID, jobID string) (*domain.Job, error) {
	customerID = strings.TrimSpace(customerID)
	jobID = strings.TrimSpace(jobID)
	if customerID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: customer id and job id are required", domain.ErrValidation)
	}

	job, err := s.jobs.ResetForRetry(ctx, customerID, jobID)
	if err != nil {
		return nil, err
	}

	msg := queue.JobMessage{
		JobID:      job.ID,
		CustomerID: job.CustomerID,
		Type:       job.Type,
		Priority:   job.Priority,
		IsRetry:    true,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(job.Type), msg); err != nil {
		s.logger.Error("retried job reset but enqueue failed, leaving PENDING for reconciliation",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}

	return job, nil
}

func (s *JobService) prepareJob(params SubmitParams) (*domain.Job, error) {
	priority := params.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		CustomerID:     strings.TrimSpace(params.CustomerID),
		Type:           params.Type,
		Status:         domain.StatusPending,
		Priority:       priority,
		Payload:        params.Payload,
		IdempotencyKey: normalizeOptionalString(params.IdempotencyKey),
		Attempts:       0,
		MaxAttempts:    domain.DefaultMaxAttempts,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

func (s *JobService) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	job *domain.Job,
) (*domain.Job, bool, error) {
	if job.IdempotencyKey == nil {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := s.jobs.GetByIdempotencyKey(ctx, job.CustomerID, *job.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing job after idempotency conflict: %w", err)
	}
	s.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("customerId", job.CustomerID),
	)
	return existing, true, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
