package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cashflow-suite/settings/internal/models"
)

var (
	// ErrDuplicateConfiguration is returned when another writer created the
	// same (family, provider, owner) row first.
	ErrDuplicateConfiguration = errors.New("configuration already exists")
	// ErrStaleVersion is returned when the row changed since it was read.
	ErrStaleVersion = errors.New("configuration version is stale")
)

type ProviderConfigRepo struct {
	db *gorm.DB
}

func NewProviderConfigRepo(db *gorm.DB) *ProviderConfigRepo {
	return &ProviderConfigRepo{db: db}
}

// Get fetches the configuration for one key. It returns nil, nil when no row exists.
func (r *ProviderConfigRepo) Get(ctx context.Context, family, providerID, ownerScope string) (*models.ProviderConfiguration, error) {
	var config models.ProviderConfiguration

	err := r.db.WithContext(ctx).
		Where("family = ? AND provider_id = ? AND owner_scope = ?", family, providerID, ownerScope).
		First(&config).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}

	return &config, nil
}

// Create inserts a new configuration.
func (r *ProviderConfigRepo) Create(ctx context.Context, config *models.ProviderConfiguration) error {
	err := r.db.WithContext(ctx).Create(config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateConfiguration
		}
		return fmt.Errorf("failed to create provider config: %w", err)
	}
	return nil
}

// UpdateVersioned writes config only if the stored config_version still equals
// expectedVersion. config.ConfigVersion must already hold the new version.
func (r *ProviderConfigRepo) UpdateVersioned(ctx context.Context, config *models.ProviderConfiguration, expectedVersion int) error {
	result := r.db.WithContext(ctx).
		Model(&models.ProviderConfiguration{}).
		Where("id = ? AND config_version = ?", config.ID, expectedVersion).
		Updates(map[string]interface{}{
			"field_values":     config.FieldValues,
			"config_version":   config.ConfigVersion,
			"state":            config.State,
			"last_verified_at": config.LastVerifiedAt,
			"last_error":       config.LastError,
			"updated_at":       config.UpdatedAt,
			"updated_by":       config.UpdatedBy,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update provider config: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrStaleVersion
	}

	return nil
}

// Delete removes a configuration and its verification history. It reports
// whether a row was deleted.
func (r *ProviderConfigRepo) Delete(ctx context.Context, configID string) (bool, error) {
	var deleted bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("config_id = ?", configID).Delete(&models.ProviderVerification{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", configID).Delete(&models.ProviderConfiguration{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})

	if err != nil {
		return false, fmt.Errorf("failed to delete provider config: %w", err)
	}

	return deleted, nil
}
