package entities

import "time"

// ProviderStatusRow is the secret-free projection of provider_configurations
// read through sqlx for status aggregation.
type ProviderStatusRow struct {
	ProviderID     string     `db:"provider_id"`
	State          string     `db:"state"`
	LastError      *string    `db:"last_error"`
	LastVerifiedAt *time.Time `db:"last_verified_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// ConfigurationKeyRow identifies one stored configuration.
type ConfigurationKeyRow struct {
	Family     string `db:"family"`
	ProviderID string `db:"provider_id"`
	OwnerScope string `db:"owner_scope"`
}
