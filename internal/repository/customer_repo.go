package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/notifyco/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// CustomerRepository reads customer routing attributes. Routing is resolved
// at attempt time so plan changes made after submission are honored.
type CustomerRepository interface {
	GetRouting(ctx context.Context, customerID string) (*domain.CustomerRouting, error)
	ResolveAPIKey(ctx context.Context, apiKey string) (string, error)
}

type GormCustomerRepo struct {
	db *gorm.DB
}

func NewGormCustomerRepo(db *gorm.DB) *GormCustomerRepo {
	return &GormCustomerRepo{db: db}
}

func (r *GormCustomerRepo) GetRouting(ctx context.Context, customerID string) (*domain.CustomerRouting, error) {
	var model CustomerModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return customerModelToRouting(&model), nil
}

// ResolveAPIKey returns the owning customer id for an API key. This backs
// the admission middleware; key issuance itself lives in the account
// subsystem.
func (r *GormCustomerRepo) ResolveAPIKey(ctx context.Context, apiKey string) (string, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return "", domain.ErrNotFound
	}

	var model CustomerModel
	err := r.db.WithContext(ctx).
		Select("id").
		Where("api_key = ?", trimmed).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	return model.ID, nil
}
