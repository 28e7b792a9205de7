package repository

import (
	"context"
	"errors"
	"time"

	"github.com/notifyco/notify-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	CustomerID string
	Type       *domain.JobType
	Status     *domain.Status
	Page       int
	Limit      int
}

type JobRepository interface {
	Create(ctx context.Context, j *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetForCustomer(ctx context.Context, customerID, id string) (*domain.Job, error)
	GetByIdempotencyKey(ctx context.Context, customerID, idempotencyKey string) (*domain.Job, error)
	List(ctx context.Context, params ListParams) ([]domain.Job, int64, error)
	ClaimForProcessing(ctx context.Context, id string) (*domain.Job, error)
	ReleaseClaim(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time) error
	ResetForRetry(ctx context.Context, customerID, id string) (*domain.Job, error)
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Job, error)
	ClearNextRetryAt(ctx context.Context, id string) error
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, j *domain.Job) error {
	model := jobModelFromDomain(j)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if j != nil {
		*j = *jobModelToDomain(model)
	}
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) GetForCustomer(ctx context.Context, customerID, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", id, customerID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) GetByIdempotencyKey(ctx context.Context, customerID, idempotencyKey string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND idempotency_key = ?", customerID, idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) List(ctx context.Context, params ListParams) ([]domain.Job, int64, error) {
	query := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("customer_id = ?", params.CustomerID)

	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	limit := params.Limit
	if limit < 1 {
		limit = 20
	}
	limit = min(limit, 100)

	var models []JobModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, total, nil
}

// ClaimForProcessing transitions a PENDING job to PROCESSING and increments
// its attempt counter. It is the per-job serialization point: a nil result
// with nil error means the job is already in-flight or terminal and the
// queue delivery should be acked without work.
func (r *GormJobRepo) ClaimForProcessing(ctx context.Context, id string) (*domain.Job, error) {
	var claimed *domain.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if model.Status != domain.StatusPending {
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":   domain.StatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		}
		if model.StartedAt == nil {
			updates["started_at"] = now
		}

		if err := tx.Model(&model).Updates(updates).Error; err != nil {
			return err
		}

		model.Status = domain.StatusProcessing
		model.Attempts++
		if model.StartedAt == nil {
			model.StartedAt = &now
		}
		claimed = jobModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// ReleaseClaim undoes a claim whose attempt never reached the provider:
// status back to PENDING, attempt counter rolled back. Delivery log rows
// only ever record attempts that actually ran, so the numbering stays
// contiguous across the rollback.
func (r *GormJobRepo) ReleaseClaim(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":   domain.StatusPending,
			"attempts": gorm.Expr("GREATEST(attempts - 1, 0)"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) MarkCompleted(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusCompleted,
			"completed_at":  time.Now().UTC(),
			"error_message": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ScheduleRetry flips the job back to PENDING with a redelivery timestamp.
// The attempt counter is not touched here; it was incremented at claim time.
func (r *GormJobRepo) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusPending,
			"next_retry_at": nextRetryAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetForRetry re-arms a FAILED job for manual retry: attempts back to 0,
// error cleared, any stale redelivery delay dropped. Jobs in any other
// state are not eligible and report ErrNotFound.
func (r *GormJobRepo) ResetForRetry(ctx context.Context, customerID, id string) (*domain.Job, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND customer_id = ? AND status = ?", id, customerID, domain.StatusFailed).
		Updates(map[string]any{
			"status":        domain.StatusPending,
			"attempts":      0,
			"error_message": nil,
			"next_retry_at": nil,
			"completed_at":  nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}

	return r.GetForCustomer(ctx, customerID, id)
}

func (r *GormJobRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.StatusPending, time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

func (r *GormJobRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Update("next_retry_at", nil).Error
}
