package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"cashflow-suite/settings/internal/models"
)

type VerificationHistoryRepo struct {
	db *gorm.DB
}

func NewVerificationHistoryRepo(db *gorm.DB) *VerificationHistoryRepo {
	return &VerificationHistoryRepo{db: db}
}

// Save appends one verification run.
func (r *VerificationHistoryRepo) Save(ctx context.Context, record *models.ProviderVerification) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save verification history: %w", err)
	}
	return nil
}

// ListByConfig returns the most recent runs for a configuration, newest first.
func (r *VerificationHistoryRepo) ListByConfig(ctx context.Context, configID string, limit int) ([]models.ProviderVerification, error) {
	var records []models.ProviderVerification

	err := r.db.WithContext(ctx).
		Where("config_id = ?", configID).
		Order("verified_at DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list verification history: %w", err)
	}

	return records, nil
}
