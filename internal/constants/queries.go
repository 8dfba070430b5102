package constants

// Queries run through sqlx. Placeholders are written as ? and rebound per driver.
const (
	ListProviderStatuses = `
	SELECT provider_id, state, last_error, last_verified_at, updated_at
	FROM provider_configurations
	WHERE family = ? AND owner_scope = ?
	`

	ListConfigurationKeysByState = `
	SELECT family, provider_id, owner_scope
	FROM provider_configurations
	WHERE state = ?
	ORDER BY family, provider_id, owner_scope
	`
)
