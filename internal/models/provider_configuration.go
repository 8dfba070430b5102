package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ConfigState is the lifecycle state of a provider configuration.
type ConfigState string

const (
	ConfigStateUnconfigured ConfigState = "unconfigured"
	ConfigStateConfigured   ConfigState = "configured"
	ConfigStateVerified     ConfigState = "verified"
	ConfigStateActive       ConfigState = "active"
	ConfigStateError        ConfigState = "error"
)

// Scan implements the sql.Scanner interface for ConfigState
func (s *ConfigState) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = ConfigStateUnconfigured
	case string:
		*s = ConfigState(v)
	case []byte:
		*s = ConfigState(v)
	default:
		return fmt.Errorf("cannot scan %T into ConfigState", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ConfigState
func (s ConfigState) Value() (driver.Value, error) {
	return string(s), nil
}

// Valid reports whether s is one of the known states.
func (s ConfigState) Valid() bool {
	switch s {
	case ConfigStateUnconfigured, ConfigStateConfigured, ConfigStateVerified, ConfigStateActive, ConfigStateError:
		return true
	}
	return false
}

// FieldValues maps a provider field name to its stored value. Secret fields
// hold ciphertext.
type FieldValues map[string]string

// Scan implements the sql.Scanner interface for FieldValues
func (f *FieldValues) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*f = FieldValues{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FieldValues", value)
	}

	result := FieldValues{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
	}
	*f = result
	return nil
}

// Value implements the driver.Valuer interface for FieldValues
func (f FieldValues) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Clone returns an independent copy.
func (f FieldValues) Clone() FieldValues {
	out := make(FieldValues, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ProviderConfiguration represents the GORM model for provider_configurations.
// Timestamps are managed by the store, never by GORM, so that updated_at can
// serve as an optimistic-concurrency token.
type ProviderConfiguration struct {
	ID             string      `gorm:"column:id;primaryKey;type:varchar(36)"`
	Family         string      `gorm:"column:family;type:varchar(32);not null;uniqueIndex:idx_provider_config_key,priority:1"`
	ProviderID     string      `gorm:"column:provider_id;type:varchar(64);not null;uniqueIndex:idx_provider_config_key,priority:2"`
	OwnerScope     string      `gorm:"column:owner_scope;type:varchar(64);not null;default:'';uniqueIndex:idx_provider_config_key,priority:3"`
	FieldValues    FieldValues `gorm:"column:field_values;type:text;not null"`
	ConfigVersion  int         `gorm:"column:config_version;not null;default:1"`
	State          ConfigState `gorm:"column:state;type:varchar(16);not null;index"`
	LastVerifiedAt *time.Time  `gorm:"column:last_verified_at"`
	LastError      *string     `gorm:"column:last_error;type:text"`
	CreatedAt      time.Time   `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;autoUpdateTime:false"`
	CreatedBy      *string     `gorm:"column:created_by;type:varchar(64)"`
	UpdatedBy      *string     `gorm:"column:updated_by;type:varchar(64)"`
}

func (ProviderConfiguration) TableName() string {
	return "provider_configurations"
}

// ProviderVerification represents the GORM model for provider_verification_history
type ProviderVerification struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	ConfigID    string    `gorm:"column:config_id;type:varchar(36);not null;index"`
	Family      string    `gorm:"column:family;type:varchar(32);not null"`
	ProviderID  string    `gorm:"column:provider_id;type:varchar(64);not null"`
	OwnerScope  string    `gorm:"column:owner_scope;type:varchar(64);not null;default:''"`
	Success     bool      `gorm:"column:success;not null"`
	Detail      string    `gorm:"column:detail;type:text"`
	DurationMs  int64     `gorm:"column:duration_ms"`
	TriggeredBy string    `gorm:"column:triggered_by;type:varchar(32);not null"`
	VerifiedAt  time.Time `gorm:"column:verified_at;autoCreateTime:false;index"`
}

func (ProviderVerification) TableName() string {
	return "provider_verification_history"
}

// AllModels lists every model owned by this service, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&ProviderConfiguration{},
		&ProviderVerification{},
	}
}
