package repository

import (
	"context"

	"github.com/notifyco/notify-engine/internal/domain"
	"gorm.io/gorm"
)

type DeliveryLogRepository interface {
	Create(ctx context.Context, l *domain.DeliveryLog) error
	GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryLog, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, l *domain.DeliveryLog) error {
	model := deliveryLogModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *deliveryLogModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryLogRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		logs = append(logs, *deliveryLogModelToDomain(&models[i]))
	}

	return logs, nil
}
