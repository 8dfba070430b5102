package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/models/entities"
)

// StatusQueryRepo serves the read-only projections that never touch field values.
type StatusQueryRepo struct {
	db *sqlx.DB
}

func NewStatusQueryRepo(db *sqlx.DB) *StatusQueryRepo {
	return &StatusQueryRepo{db: db}
}

// ListStatuses returns state columns for every stored configuration of a family and owner.
func (r *StatusQueryRepo) ListStatuses(ctx context.Context, family, ownerScope string) ([]entities.ProviderStatusRow, error) {
	rows := []entities.ProviderStatusRow{}

	query := r.db.Rebind(constants.ListProviderStatuses)
	if err := r.db.SelectContext(ctx, &rows, query, family, ownerScope); err != nil {
		return nil, fmt.Errorf("failed to list provider statuses: %w", err)
	}

	return rows, nil
}

// ListKeysByState returns the keys of every configuration in the given state.
func (r *StatusQueryRepo) ListKeysByState(ctx context.Context, state string) ([]entities.ConfigurationKeyRow, error) {
	rows := []entities.ConfigurationKeyRow{}

	query := r.db.Rebind(constants.ListConfigurationKeysByState)
	if err := r.db.SelectContext(ctx, &rows, query, state); err != nil {
		return nil, fmt.Errorf("failed to list configuration keys: %w", err)
	}

	return rows, nil
}

// Ping checks the underlying connection.
func (r *StatusQueryRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
