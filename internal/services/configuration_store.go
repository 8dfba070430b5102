package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/db/repositories"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
	"cashflow-suite/settings/internal/models"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/models/entities"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/secrets"
)

// ConfigKey identifies one provider configuration.
type ConfigKey struct {
	Family     registry.Family
	ProviderID string
	// OwnerScope is the company id; empty means the global configuration.
	OwnerScope string
}

func (k ConfigKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Family, k.ProviderID, k.OwnerScope)
}

// ConfigRepository persists provider configurations with a version guard.
type ConfigRepository interface {
	Get(ctx context.Context, family, providerID, ownerScope string) (*models.ProviderConfiguration, error)
	Create(ctx context.Context, config *models.ProviderConfiguration) error
	UpdateVersioned(ctx context.Context, config *models.ProviderConfiguration, expectedVersion int) error
	Delete(ctx context.Context, configID string) (bool, error)
}

// StatusRepository serves state-only projections.
type StatusRepository interface {
	ListStatuses(ctx context.Context, family, ownerScope string) ([]entities.ProviderStatusRow, error)
	ListKeysByState(ctx context.Context, state string) ([]entities.ConfigurationKeyRow, error)
}

var (
	_ ConfigRepository = (*repositories.ProviderConfigRepo)(nil)
	_ StatusRepository = (*repositories.StatusQueryRepo)(nil)
)

// UpsertInput carries one save request.
type UpsertInput struct {
	FieldValues map[string]string
	// Partial keeps stored values for fields that are absent or blank.
	Partial bool
	// ExpectedUpdatedAt, when set, must equal the stored updated_at.
	ExpectedUpdatedAt *time.Time
	Actor             string
}

// ResolvedConfiguration is a stored configuration with secrets decrypted.
// It never leaves the process.
type ResolvedConfiguration struct {
	ID             string
	Key            ConfigKey
	State          models.ConfigState
	ConfigVersion  int
	Values         map[string]string
	LastVerifiedAt *time.Time
	UpdatedAt      time.Time
}

// Candidate is a set of submitted values with sentinels and partial blanks
// resolved against what is stored.
type Candidate struct {
	Values map[string]string
	// Missing lists required fields that are still empty, in catalog order.
	Missing []string
}

// ConfigurationStore owns persisted provider configurations. Mutations of
// one key are serialized in-process and guarded by config_version in the
// database; every mutation publishes an invalidation event.
type ConfigurationStore struct {
	registry *registry.Registry
	configs  ConfigRepository
	statuses StatusRepository
	cipher   secrets.Cipher
	bus      common.InvalidationBus
	locks    *common.KeyedMutex
	metrics  *metrics.MetricsRegistry
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewConfigurationStore(
	reg *registry.Registry,
	configs ConfigRepository,
	statuses StatusRepository,
	cipher secrets.Cipher,
	bus common.InvalidationBus,
	m *metrics.MetricsRegistry,
) *ConfigurationStore {
	return &ConfigurationStore{
		registry: reg,
		configs:  configs,
		statuses: statuses,
		cipher:   cipher,
		bus:      bus,
		locks:    common.NewKeyedMutex(),
		metrics:  m,
		log:      logging.ForComponent("configuration_store"),
		now:      common.NowUTC,
	}
}

// describe resolves the registry descriptor for key.
func describe(reg *registry.Registry, key ConfigKey) (registry.ProviderDescriptor, error) {
	if _, err := registry.ParseFamily(string(key.Family)); err != nil {
		return registry.ProviderDescriptor{}, newSettingsError(constants.ErrCodeUnknownFamily, err)
	}
	desc, err := reg.Get(key.Family, key.ProviderID)
	if err != nil {
		return registry.ProviderDescriptor{}, newSettingsError(constants.ErrCodeUnknownProvider, err)
	}
	return desc, nil
}

// Get returns the masked configuration, or an unconfigured placeholder when
// nothing is stored.
func (s *ConfigurationStore) Get(ctx context.Context, key ConfigKey) (*dtos.ConfigurationResponse, error) {
	desc, err := describe(s.registry, key)
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &dtos.ConfigurationResponse{
			Family:      string(key.Family),
			ProviderID:  key.ProviderID,
			OwnerScope:  key.OwnerScope,
			State:       string(models.ConfigStateUnconfigured),
			FieldValues: map[string]string{},
		}, nil
	}
	plain, err := s.decrypt(desc, rec.FieldValues)
	if err != nil {
		return nil, err
	}
	return maskedResponse(desc, rec, plain), nil
}

// Resolve returns the stored configuration with secrets decrypted. It is meant
// for verification and runtime use, never for API responses.
func (s *ConfigurationStore) Resolve(ctx context.Context, key ConfigKey) (*ResolvedConfiguration, error) {
	desc, err := describe(s.registry, key)
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newSettingsError(constants.ErrCodeConfigNotFound, nil)
	}
	plain, err := s.decrypt(desc, rec.FieldValues)
	if err != nil {
		return nil, err
	}
	return &ResolvedConfiguration{
		ID:             rec.ID,
		Key:            key,
		State:          rec.State,
		ConfigVersion:  rec.ConfigVersion,
		Values:         plain,
		LastVerifiedAt: rec.LastVerifiedAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

// ResolveCandidate merges submitted values with what is stored, without
// persisting anything. Unknown field names fail with a validation error;
// missing required fields are reported in Candidate.Missing.
func (s *ConfigurationStore) ResolveCandidate(ctx context.Context, key ConfigKey, submitted map[string]string, partial bool) (*Candidate, error) {
	desc, err := describe(s.registry, key)
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	var stored map[string]string
	if rec != nil {
		if stored, err = s.decrypt(desc, rec.FieldValues); err != nil {
			return nil, err
		}
	}

	merged, problems := mergeFieldValues(desc, stored, submitted, partial)
	if len(problems) > 0 {
		return nil, validationError(problems)
	}
	return &Candidate{Values: merged, Missing: missingRequired(desc, merged)}, nil
}

// Upsert validates and saves a configuration.
func (s *ConfigurationStore) Upsert(ctx context.Context, key ConfigKey, in UpsertInput) (*dtos.ConfigurationResponse, error) {
	desc, err := describe(s.registry, key)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	existing, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	if in.ExpectedUpdatedAt != nil {
		if existing == nil || !sameInstant(existing.UpdatedAt, *in.ExpectedUpdatedAt) {
			s.countConflict("upsert")
			return nil, newSettingsError(constants.ErrCodeConfigConflict, nil)
		}
	}

	var stored map[string]string
	if existing != nil {
		if stored, err = s.decrypt(desc, existing.FieldValues); err != nil {
			return nil, err
		}
	}

	merged, problems := mergeFieldValues(desc, stored, in.FieldValues, in.Partial)
	for _, name := range missingRequired(desc, merged) {
		problems[name] = "required"
	}
	if len(problems) > 0 {
		return nil, validationError(problems)
	}

	encrypted, err := s.encrypt(desc, merged)
	if err != nil {
		return nil, err
	}

	now := s.now()
	actor := optionalString(in.Actor)

	var saved models.ProviderConfiguration
	if existing == nil {
		saved = models.ProviderConfiguration{
			ID:            uuid.NewString(),
			Family:        string(key.Family),
			ProviderID:    key.ProviderID,
			OwnerScope:    key.OwnerScope,
			FieldValues:   encrypted,
			ConfigVersion: 1,
			State:         models.ConfigStateConfigured,
			CreatedAt:     now,
			UpdatedAt:     now,
			CreatedBy:     actor,
			UpdatedBy:     actor,
		}
		if err := s.configs.Create(ctx, &saved); err != nil {
			return nil, s.writeError("upsert", err)
		}
	} else {
		saved = *existing
		saved.FieldValues = encrypted
		saved.ConfigVersion = existing.ConfigVersion + 1
		saved.UpdatedAt = nextTimestamp(now, existing.UpdatedAt)
		saved.UpdatedBy = actor

		switch {
		case !equalValues(stored, merged):
			saved.State = models.ConfigStateConfigured
			saved.LastVerifiedAt = nil
			saved.LastError = nil
		case existing.State == models.ConfigStateError, existing.State == models.ConfigStateUnconfigured:
			saved.State = models.ConfigStateConfigured
			saved.LastError = nil
		}

		if err := s.configs.UpdateVersioned(ctx, &saved, existing.ConfigVersion); err != nil {
			return nil, s.writeError("upsert", err)
		}
	}

	s.log.Infow("Configuration saved",
		"family", key.Family,
		"provider_id", key.ProviderID,
		"owner_scope", key.OwnerScope,
		"state", saved.State,
		"config_version", saved.ConfigVersion,
	)
	s.published(ctx, key, "upsert")
	return maskedResponse(desc, &saved, merged), nil
}

// Delete removes a configuration and its verification history.
func (s *ConfigurationStore) Delete(ctx context.Context, key ConfigKey) error {
	if _, err := describe(s.registry, key); err != nil {
		return err
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	rec, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return newSettingsError(constants.ErrCodeConfigNotFound, nil)
	}

	deleted, err := s.configs.Delete(ctx, rec.ID)
	if err != nil {
		return newSettingsError(constants.ErrCodeStoreUnavailable, err)
	}
	if !deleted {
		return newSettingsError(constants.ErrCodeConfigNotFound, nil)
	}

	s.log.Infow("Configuration deleted", "family", key.Family, "provider_id", key.ProviderID, "owner_scope", key.OwnerScope)
	s.published(ctx, key, "delete")
	return nil
}

// MarkVerified records a successful test of the stored values. When
// expectedVersion is positive the stored values must not have changed since
// they were tested. An active configuration stays active.
func (s *ConfigurationStore) MarkVerified(ctx context.Context, key ConfigKey, expectedVersion int) (*dtos.ConfigurationResponse, error) {
	return s.mutate(ctx, key, "mark_verified", func(rec *models.ProviderConfiguration, _ registry.ProviderDescriptor, now time.Time) error {
		if expectedVersion > 0 && rec.ConfigVersion != expectedVersion {
			return newSettingsError(constants.ErrCodeConfigConflict, nil)
		}
		if rec.State != models.ConfigStateActive {
			rec.State = models.ConfigStateVerified
		}
		rec.LastVerifiedAt = &now
		rec.LastError = nil
		return nil
	})
}

// MarkError moves the configuration to the error state.
func (s *ConfigurationStore) MarkError(ctx context.Context, key ConfigKey, message string) (*dtos.ConfigurationResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, validationError(map[string]string{"message": "required"})
	}
	message = common.TruncateUTF8(message, maxErrorMessage)

	return s.mutate(ctx, key, "mark_error", func(rec *models.ProviderConfiguration, _ registry.ProviderDescriptor, _ time.Time) error {
		rec.State = models.ConfigStateError
		rec.LastError = &message
		return nil
	})
}

// Activate moves a verified configuration to active.
func (s *ConfigurationStore) Activate(ctx context.Context, key ConfigKey) (*dtos.ConfigurationResponse, error) {
	return s.mutate(ctx, key, "activate", func(rec *models.ProviderConfiguration, desc registry.ProviderDescriptor, _ time.Time) error {
		if rec.State != models.ConfigStateVerified {
			return newSettingsError(constants.ErrCodeConfigNotVerified, nil)
		}
		if missing := missingRequired(desc, rec.FieldValues); len(missing) > 0 {
			return newSettingsError(constants.ErrCodeConfigNotVerified, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
		}
		rec.State = models.ConfigStateActive
		return nil
	})
}

// ListStatuses returns the state columns of every stored configuration of a
// family for one owner.
func (s *ConfigurationStore) ListStatuses(ctx context.Context, family registry.Family, ownerScope string) ([]entities.ProviderStatusRow, error) {
	rows, err := s.statuses.ListStatuses(ctx, string(family), ownerScope)
	if err != nil {
		return nil, newSettingsError(constants.ErrCodeStoreUnavailable, err)
	}
	return rows, nil
}

// ListKeysByState returns the key of every configuration in state.
func (s *ConfigurationStore) ListKeysByState(ctx context.Context, state models.ConfigState) ([]ConfigKey, error) {
	rows, err := s.statuses.ListKeysByState(ctx, string(state))
	if err != nil {
		return nil, newSettingsError(constants.ErrCodeStoreUnavailable, err)
	}
	keys := make([]ConfigKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, ConfigKey{Family: registry.Family(r.Family), ProviderID: r.ProviderID, OwnerScope: r.OwnerScope})
	}
	return keys, nil
}

type mutation func(rec *models.ProviderConfiguration, desc registry.ProviderDescriptor, now time.Time) error

// mutate applies fn to the stored record under the key lock and writes it back
// with a version check.
func (s *ConfigurationStore) mutate(ctx context.Context, key ConfigKey, op string, fn mutation) (*dtos.ConfigurationResponse, error) {
	desc, err := describe(s.registry, key)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	existing, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, newSettingsError(constants.ErrCodeConfigNotFound, nil)
	}

	now := nextTimestamp(s.now(), existing.UpdatedAt)
	rec := *existing
	if err := fn(&rec, desc, now); err != nil {
		if errors.Is(err, ErrConflict) {
			s.countConflict(op)
		}
		return nil, err
	}
	rec.ConfigVersion = existing.ConfigVersion + 1
	rec.UpdatedAt = now

	if err := s.configs.UpdateVersioned(ctx, &rec, existing.ConfigVersion); err != nil {
		return nil, s.writeError(op, err)
	}

	plain, err := s.decrypt(desc, rec.FieldValues)
	if err != nil {
		return nil, err
	}

	s.log.Infow("Configuration state changed",
		"operation", op,
		"family", key.Family,
		"provider_id", key.ProviderID,
		"owner_scope", key.OwnerScope,
		"state", rec.State,
	)
	s.published(ctx, key, op)
	return maskedResponse(desc, &rec, plain), nil
}

func (s *ConfigurationStore) load(ctx context.Context, key ConfigKey) (*models.ProviderConfiguration, error) {
	rec, err := s.configs.Get(ctx, string(key.Family), key.ProviderID, key.OwnerScope)
	if err != nil {
		return nil, newSettingsError(constants.ErrCodeStoreUnavailable, err)
	}
	return rec, nil
}

func (s *ConfigurationStore) writeError(op string, err error) error {
	if errors.Is(err, repositories.ErrDuplicateConfiguration) || errors.Is(err, repositories.ErrStaleVersion) {
		s.countConflict(op)
		return newSettingsError(constants.ErrCodeConfigConflict, err)
	}
	return newSettingsError(constants.ErrCodeStoreUnavailable, err)
}

func (s *ConfigurationStore) countConflict(op string) {
	if s.metrics != nil {
		s.metrics.StoreConflictsTotal.WithLabelValues(op).Inc()
	}
}

// published counts the mutation and tells dependent caches about it. A bus
// failure is logged; the write already happened.
func (s *ConfigurationStore) published(ctx context.Context, key ConfigKey, op string) {
	if s.metrics != nil {
		s.metrics.StoreMutationsTotal.WithLabelValues(op).Inc()
		s.metrics.InvalidationsTotal.WithLabelValues("local").Inc()
	}
	event := common.InvalidationEvent{
		Family:     string(key.Family),
		ProviderID: key.ProviderID,
		OwnerScope: key.OwnerScope,
		Operation:  op,
		At:         s.now(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warnw("Failed to broadcast invalidation", "operation", op, "key", key.String(), "error", err)
	}
}

func (s *ConfigurationStore) decrypt(desc registry.ProviderDescriptor, stored models.FieldValues) (map[string]string, error) {
	out := make(map[string]string, len(stored))
	for name, value := range stored {
		if value != "" && desc.IsSecret(name) {
			plain, err := s.cipher.Decrypt(value)
			if err != nil {
				return nil, newSettingsError(constants.ErrCodeSecretsFailure, fmt.Errorf("field %s: %w", name, err))
			}
			value = plain
		}
		out[name] = value
	}
	return out, nil
}

func (s *ConfigurationStore) encrypt(desc registry.ProviderDescriptor, plain map[string]string) (models.FieldValues, error) {
	out := make(models.FieldValues, len(plain))
	for name, value := range plain {
		if desc.IsSecret(name) {
			sealed, err := s.cipher.Encrypt(value)
			if err != nil {
				return nil, newSettingsError(constants.ErrCodeSecretsFailure, fmt.Errorf("field %s: %w", name, err))
			}
			value = sealed
		}
		out[name] = value
	}
	return out, nil
}

const maxErrorMessage = 2000

// mergeFieldValues applies the save rules: a masking sentinel keeps the stored
// value, and with partial set absent or blank fields keep theirs too. Without
// partial the result holds exactly the submitted fields.
func mergeFieldValues(desc registry.ProviderDescriptor, stored, submitted map[string]string, partial bool) (map[string]string, map[string]string) {
	problems := map[string]string{}
	merged := map[string]string{}
	if partial {
		for name, value := range stored {
			if _, known := desc.Field(name); known && value != "" {
				merged[name] = value
			}
		}
	}

	for name, value := range submitted {
		if _, known := desc.Field(name); !known {
			problems[name] = "unknown field"
			continue
		}
		switch {
		case secrets.IsMasked(value):
			if prev := stored[name]; prev != "" {
				merged[name] = prev
			} else {
				delete(merged, name)
			}
		case strings.TrimSpace(value) == "":
			if !partial {
				delete(merged, name)
			}
		default:
			merged[name] = value
		}
	}
	return merged, problems
}

func missingRequired[M ~map[string]string](desc registry.ProviderDescriptor, values M) []string {
	var missing []string
	for _, f := range desc.RequiredFields() {
		if strings.TrimSpace(values[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func equalValues(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if other, ok := b[k]; !ok || other != v {
			return false
		}
	}
	return true
}

func maskedResponse(desc registry.ProviderDescriptor, rec *models.ProviderConfiguration, plain map[string]string) *dtos.ConfigurationResponse {
	created, updated := rec.CreatedAt, rec.UpdatedAt
	resp := &dtos.ConfigurationResponse{
		ID:             rec.ID,
		Family:         rec.Family,
		ProviderID:     rec.ProviderID,
		OwnerScope:     rec.OwnerScope,
		State:          string(rec.State),
		FieldValues:    secrets.RedactValues(plain, desc.IsSecret),
		ConfigVersion:  rec.ConfigVersion,
		LastVerifiedAt: rec.LastVerifiedAt,
		CreatedAt:      &created,
		UpdatedAt:      &updated,
	}
	if rec.LastError != nil {
		resp.LastError = *rec.LastError
	}
	if rec.UpdatedBy != nil {
		resp.UpdatedBy = *rec.UpdatedBy
	}
	return resp
}

// nextTimestamp keeps updated_at strictly increasing per record.
func nextTimestamp(now, previous time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Microsecond)
}

func sameInstant(a, b time.Time) bool {
	return a.UTC().Truncate(time.Microsecond).Equal(b.UTC().Truncate(time.Microsecond))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
