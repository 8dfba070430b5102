package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/db/repositories"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/models"
	"cashflow-suite/settings/internal/models/dtos"
)

// HistoryRepository stores verification runs.
type HistoryRepository interface {
	Save(ctx context.Context, record *models.ProviderVerification) error
	ListByConfig(ctx context.Context, configID string, limit int) ([]models.ProviderVerification, error)
}

var _ HistoryRepository = (*repositories.VerificationHistoryRepo)(nil)

// ApplyOptions tune ApplyConfiguration.
type ApplyOptions struct {
	// TestFirst runs a connectivity test on the resolved candidate and saves
	// only if it passes.
	TestFirst         bool
	Partial           bool
	ExpectedUpdatedAt *time.Time
	Actor             string
}

// SettingsGateway is the only entry point through which callers change
// provider configurations. It guarantees that nothing becomes verified
// without passing a connectivity test on the stored values.
type SettingsGateway struct {
	store   *ConfigurationStore
	tester  *ConnectivityTester
	history HistoryRepository
	log     *zap.SugaredLogger
}

func NewSettingsGateway(store *ConfigurationStore, tester *ConnectivityTester, history HistoryRepository) *SettingsGateway {
	return &SettingsGateway{
		store:   store,
		tester:  tester,
		history: history,
		log:     logging.ForComponent("settings_gateway"),
	}
}

// Get returns the masked configuration.
func (g *SettingsGateway) Get(ctx context.Context, key ConfigKey) (*dtos.ConfigurationResponse, error) {
	return g.store.Get(ctx, key)
}

// ApplyConfiguration saves field values, optionally testing them first. A
// failed test returns a TestFailed error and changes nothing.
func (g *SettingsGateway) ApplyConfiguration(ctx context.Context, key ConfigKey, values map[string]string, opts ApplyOptions) (*dtos.ConfigurationResponse, error) {
	if opts.TestFirst {
		candidate, err := g.store.ResolveCandidate(ctx, key, values, opts.Partial)
		if err != nil {
			return nil, err
		}
		if len(candidate.Missing) > 0 {
			fields := make(map[string]string, len(candidate.Missing))
			for _, name := range candidate.Missing {
				fields[name] = "required"
			}
			return nil, validationError(fields)
		}

		result := g.tester.Test(ctx, key.Family, key.ProviderID, candidate.Values)
		if !result.Success {
			g.log.Infow("Save rejected by connectivity test", "key", key.String(), "detail", result.Detail)
			return nil, testFailedError(result.Detail)
		}
	}

	return g.store.Upsert(ctx, key, UpsertInput{
		FieldValues:       values,
		Partial:           opts.Partial,
		ExpectedUpdatedAt: opts.ExpectedUpdatedAt,
		Actor:             opts.Actor,
	})
}

// TestCandidate tests submitted values without saving them. Masked or blank
// fields fall back to the stored values.
func (g *SettingsGateway) TestCandidate(ctx context.Context, key ConfigKey, values map[string]string) (*dtos.TestResult, error) {
	candidate, err := g.store.ResolveCandidate(ctx, key, values, true)
	if err != nil {
		return nil, err
	}
	result := g.tester.Test(ctx, key.Family, key.ProviderID, candidate.Values)
	return &result, nil
}

// Verify tests the stored values and records the run. On success the
// configuration becomes verified; on failure its state is left alone and a
// TestFailed error is returned together with the result.
func (g *SettingsGateway) Verify(ctx context.Context, key ConfigKey, trigger constants.VerifyTrigger) (*dtos.VerifyResponse, error) {
	resolved, err := g.store.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	result := g.tester.Test(ctx, key.Family, key.ProviderID, resolved.Values)
	g.record(ctx, resolved, result, trigger)

	if !result.Success {
		current, err := g.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return &dtos.VerifyResponse{Result: result, Configuration: *current}, testFailedError(result.Detail)
	}

	updated, err := g.store.MarkVerified(ctx, key, resolved.ConfigVersion)
	if err != nil {
		return nil, err
	}
	return &dtos.VerifyResponse{Result: result, Configuration: *updated}, nil
}

func (g *SettingsGateway) record(ctx context.Context, resolved *ResolvedConfiguration, result dtos.TestResult, trigger constants.VerifyTrigger) {
	if g.history == nil {
		return
	}
	entry := &models.ProviderVerification{
		ID:          uuid.NewString(),
		ConfigID:    resolved.ID,
		Family:      string(resolved.Key.Family),
		ProviderID:  resolved.Key.ProviderID,
		OwnerScope:  resolved.Key.OwnerScope,
		Success:     result.Success,
		Detail:      result.Detail,
		DurationMs:  result.DurationMs,
		TriggeredBy: string(trigger),
		VerifiedAt:  result.TestedAt.UTC().Truncate(time.Microsecond),
	}
	if err := g.history.Save(ctx, entry); err != nil {
		g.log.Warnw("Failed to record verification", "key", resolved.Key.String(), "error", err)
	}
}

// Activate moves a verified configuration to active.
func (g *SettingsGateway) Activate(ctx context.Context, key ConfigKey) (*dtos.ConfigurationResponse, error) {
	return g.store.Activate(ctx, key)
}

// ReportRuntimeFailure moves a configuration to the error state after a real
// operation (backup, send, sync) failed against the provider.
func (g *SettingsGateway) ReportRuntimeFailure(ctx context.Context, key ConfigKey, message string) (*dtos.ConfigurationResponse, error) {
	return g.store.MarkError(ctx, key, message)
}

// Delete removes a configuration.
func (g *SettingsGateway) Delete(ctx context.Context, key ConfigKey) error {
	return g.store.Delete(ctx, key)
}

// History lists recent verification runs, newest first.
func (g *SettingsGateway) History(ctx context.Context, key ConfigKey, limit int) ([]dtos.VerificationRecord, error) {
	switch {
	case limit <= 0:
		limit = constants.DefaultHistoryLimit
	case limit > constants.MaxHistoryLimit:
		limit = constants.MaxHistoryLimit
	}

	current, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.ID == "" {
		return nil, newSettingsError(constants.ErrCodeConfigNotFound, nil)
	}
	if g.history == nil {
		return []dtos.VerificationRecord{}, nil
	}

	rows, err := g.history.ListByConfig(ctx, current.ID, limit)
	if err != nil {
		return nil, newSettingsError(constants.ErrCodeStoreUnavailable, err)
	}
	out := make([]dtos.VerificationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, dtos.VerificationRecord{
			ID:          r.ID,
			Success:     r.Success,
			Detail:      r.Detail,
			DurationMs:  r.DurationMs,
			TriggeredBy: r.TriggeredBy,
			VerifiedAt:  r.VerifiedAt,
		})
	}
	return out, nil
}

// IsClientError reports whether err is caused by the request rather than by
// the service.
func IsClientError(err error) bool {
	var sErr *SettingsError
	if !errors.As(err, &sErr) {
		return false
	}
	switch sErr.Code {
	case constants.ErrCodeStoreUnavailable, constants.ErrCodeAggregationFailed, constants.ErrCodeSecretsFailure:
		return false
	}
	return true
}
