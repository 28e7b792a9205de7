package repository

import (
	"encoding/json"
	"time"

	"github.com/notifyco/notify-engine/internal/domain"
)

// JobModel is the persistence model for the jobs table.
type JobModel struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	CustomerID     string          `gorm:"type:uuid;not null;index"`
	Type           domain.JobType  `gorm:"type:varchar(10);not null"`
	Status         domain.Status   `gorm:"type:varchar(20);not null"`
	Priority       domain.Priority `gorm:"type:varchar(10);not null"`
	Payload        json.RawMessage `gorm:"type:jsonb;not null"`
	IdempotencyKey *string         `gorm:"type:varchar(255)"`
	Attempts       int             `gorm:"not null;default:0"`
	MaxAttempts    int             `gorm:"not null;default:3"`
	ErrorMessage   *string         `gorm:"type:text"`
	NextRetryAt    *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

func (JobModel) TableName() string {
	return "jobs"
}

// DeliveryLogModel is the persistence model for delivery_logs.
type DeliveryLogModel struct {
	ID           string               `gorm:"type:uuid;primaryKey"`
	JobID        string               `gorm:"type:uuid;not null"`
	Attempt      int                  `gorm:"not null"`
	Status       domain.AttemptStatus `gorm:"type:varchar(10);not null"`
	StatusCode   *int                 `gorm:"type:int"`
	ResponseBody *string              `gorm:"type:text"`
	ErrorMessage *string              `gorm:"type:text"`
	CreatedAt    time.Time
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

// CustomerModel is the persistence model for customers. The table is owned
// by the account subsystem; this service reads routing attributes from it.
type CustomerModel struct {
	ID                    string  `gorm:"type:uuid;primaryKey"`
	APIKey                string  `gorm:"type:varchar(64);not null;uniqueIndex"`
	Plan                  string  `gorm:"type:varchar(20);not null;default:'free'"`
	SendingDomainVerified bool    `gorm:"not null;default:false"`
	MailAPIKey            *string `gorm:"type:varchar(255)"`
	RateLimitPerSec       int     `gorm:"not null;default:10"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (CustomerModel) TableName() string {
	return "customers"
}

func jobModelFromDomain(j *domain.Job) *JobModel {
	if j == nil {
		return nil
	}

	return &JobModel{
		ID:             j.ID,
		CustomerID:     j.CustomerID,
		Type:           j.Type,
		Status:         j.Status,
		Priority:       j.Priority,
		Payload:        j.Payload,
		IdempotencyKey: j.IdempotencyKey,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		ErrorMessage:   j.ErrorMessage,
		NextRetryAt:    j.NextRetryAt,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func jobModelToDomain(m *JobModel) *domain.Job {
	if m == nil {
		return nil
	}

	return &domain.Job{
		ID:             m.ID,
		CustomerID:     m.CustomerID,
		Type:           m.Type,
		Status:         m.Status,
		Priority:       m.Priority,
		Payload:        m.Payload,
		IdempotencyKey: m.IdempotencyKey,
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		ErrorMessage:   m.ErrorMessage,
		NextRetryAt:    m.NextRetryAt,
		CreatedAt:      m.CreatedAt,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}
}

func deliveryLogModelFromDomain(l *domain.DeliveryLog) *DeliveryLogModel {
	if l == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:           l.ID,
		JobID:        l.JobID,
		Attempt:      l.Attempt,
		Status:       l.Status,
		StatusCode:   l.StatusCode,
		ResponseBody: l.ResponseBody,
		ErrorMessage: l.ErrorMessage,
		CreatedAt:    l.CreatedAt,
	}
}

func deliveryLogModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:           m.ID,
		JobID:        m.JobID,
		Attempt:      m.Attempt,
		Status:       m.Status,
		StatusCode:   m.StatusCode,
		ResponseBody: m.ResponseBody,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}

func customerModelToRouting(m *CustomerModel) *domain.CustomerRouting {
	if m == nil {
		return nil
	}

	return &domain.CustomerRouting{
		CustomerID:            m.ID,
		Plan:                  m.Plan,
		SendingDomainVerified: m.SendingDomainVerified,
		MailAPIKey:            m.MailAPIKey,
		RateLimitPerSec:       m.RateLimitPerSec,
	}
}
