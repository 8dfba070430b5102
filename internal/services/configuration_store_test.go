package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/db/repositories"
	"cashflow-suite/settings/internal/models"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/secrets"
)

func TestStore_GetUnconfigured(t *testing.T) {
	h := newHarness(t)

	got, err := h.store.Get(context.Background(), s3Key)
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateUnconfigured), got.State)
	assert.Empty(t, got.ID)
	assert.Empty(t, got.FieldValues)
}

func TestStore_UnknownProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Get(ctx, ConfigKey{Family: "crm", ProviderID: "s3"})
	assert.ErrorIs(t, err, ErrUnknownFamily)

	_, err = h.store.Get(ctx, ConfigKey{Family: registry.FamilyBackupStorage, ProviderID: "dropbox"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestStore_UpsertMissingRequiredFields(t *testing.T) {
	h := newHarness(t)

	_, err := h.store.Upsert(context.Background(), s3Key, UpsertInput{
		FieldValues: map[string]string{"AWS_ACCESS_KEY_ID": testAccessKey},
	})
	require.ErrorIs(t, err, ErrValidation)

	var sErr *SettingsError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, map[string]string{
		"AWS_SECRET_ACCESS_KEY": "required",
		"AWS_REGION":            "required",
		"S3_BUCKET_NAME":        "required",
	}, sErr.Fields)
	assert.Zero(t, h.countRows(t))
}

func TestStore_UpsertRejectsUnknownFields(t *testing.T) {
	h := newHarness(t)

	values := s3Values()
	values["AWS_SESSION_TOKEN"] = "x"
	_, err := h.store.Upsert(context.Background(), s3Key, UpsertInput{FieldValues: values})
	require.ErrorIs(t, err, ErrValidation)

	var sErr *SettingsError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "unknown field", sErr.Fields["AWS_SESSION_TOKEN"])
	assert.Zero(t, h.countRows(t))
}

func TestStore_SecretsAreMaskedAndEncrypted(t *testing.T) {
	h := newHarness(t)
	h.save(t, s3Values())

	got, err := h.store.Get(context.Background(), s3Key)
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateConfigured), got.State)
	assert.Equal(t, testAccessKey, got.FieldValues["AWS_ACCESS_KEY_ID"])
	assert.NotEqual(t, testSecretKey, got.FieldValues["AWS_SECRET_ACCESS_KEY"])
	assert.True(t, secrets.IsMasked(got.FieldValues["AWS_SECRET_ACCESS_KEY"]))
	assert.Equal(t, "tester", got.UpdatedBy)

	raw := h.raw(t, s3Key)
	assert.NotEqual(t, testSecretKey, raw.FieldValues["AWS_SECRET_ACCESS_KEY"])
	assert.NotContains(t, raw.FieldValues["AWS_SECRET_ACCESS_KEY"], "EXAMPLEKEY")

	resolved, err := h.store.Resolve(context.Background(), s3Key)
	require.NoError(t, err)
	assert.Equal(t, testSecretKey, resolved.Values["AWS_SECRET_ACCESS_KEY"])
}

func TestStore_MaskedSentinelKeepsStoredSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())

	shown, err := h.store.Get(ctx, s3Key)
	require.NoError(t, err)

	resubmit := shown.FieldValues
	saved, err := h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: resubmit})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.ConfigVersion)

	resolved, err := h.store.Resolve(ctx, s3Key)
	require.NoError(t, err)
	assert.Equal(t, testSecretKey, resolved.Values["AWS_SECRET_ACCESS_KEY"])

	// Any sentinel form counts, not only the exact mask that was shown.
	resubmit["AWS_SECRET_ACCESS_KEY"] = secrets.MaskPrefix
	_, err = h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: resubmit})
	require.NoError(t, err)
	resolved, err = h.store.Resolve(ctx, s3Key)
	require.NoError(t, err)
	assert.Equal(t, testSecretKey, resolved.Values["AWS_SECRET_ACCESS_KEY"])
}

func TestStore_SentinelWithoutStoredValueIsMissing(t *testing.T) {
	h := newHarness(t)

	values := s3Values()
	values["AWS_SECRET_ACCESS_KEY"] = secrets.Mask(testSecretKey)
	_, err := h.store.Upsert(context.Background(), s3Key, UpsertInput{FieldValues: values})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStore_PartialKeepsBlankAndAbsentFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	values := s3Values()
	values["S3_ENDPOINT"] = "https://s3.wasabisys.com"
	h.save(t, values)

	_, err := h.store.Upsert(ctx, s3Key, UpsertInput{
		Partial: true,
		FieldValues: map[string]string{
			"AWS_SECRET_ACCESS_KEY": "",
			"S3_BUCKET_NAME":        "acme-archive",
		},
	})
	require.NoError(t, err)

	resolved, err := h.store.Resolve(ctx, s3Key)
	require.NoError(t, err)
	assert.Equal(t, testSecretKey, resolved.Values["AWS_SECRET_ACCESS_KEY"])
	assert.Equal(t, "acme-archive", resolved.Values["S3_BUCKET_NAME"])
	assert.Equal(t, "https://s3.wasabisys.com", resolved.Values["S3_ENDPOINT"])

	// Without partial, leaving the optional endpoint out removes it.
	full := s3Values()
	full["AWS_SECRET_ACCESS_KEY"] = secrets.MaskPrefix
	_, err = h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: full})
	require.NoError(t, err)
	resolved, err = h.store.Resolve(ctx, s3Key)
	require.NoError(t, err)
	_, hasEndpoint := resolved.Values["S3_ENDPOINT"]
	assert.False(t, hasEndpoint)
}

func TestStore_UpsertStateTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())

	_, err := h.store.MarkVerified(ctx, s3Key, 0)
	require.NoError(t, err)

	// Identical values keep a verified configuration verified.
	same, err := h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: s3Values()})
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateVerified), same.State)
	assert.NotNil(t, same.LastVerifiedAt)

	// Changed values need a new verification.
	changed := s3Values()
	changed["AWS_REGION"] = "eu-west-1"
	got, err := h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: changed})
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateConfigured), got.State)
	assert.Nil(t, got.LastVerifiedAt)

	// A runtime failure is cleared by re-saving, even with identical values.
	failed, err := h.store.MarkError(ctx, s3Key, "AccessDenied on PutObject")
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateError), failed.State)
	assert.Equal(t, "AccessDenied on PutObject", failed.LastError)

	recovered, err := h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: changed})
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateConfigured), recovered.State)
	assert.Empty(t, recovered.LastError)
}

func TestStore_ExpectedUpdatedAtMismatchConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())

	current, err := h.store.Get(ctx, s3Key)
	require.NoError(t, err)

	stale := current.UpdatedAt.Add(-time.Second)
	_, err = h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: s3Values(), ExpectedUpdatedAt: &stale})
	assert.ErrorIs(t, err, ErrConflict)

	fresh := *current.UpdatedAt
	_, err = h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: s3Values(), ExpectedUpdatedAt: &fresh})
	assert.NoError(t, err)

	// A token for a record that does not exist cannot match.
	other := ConfigKey{Family: registry.FamilyBackupStorage, ProviderID: "s3", OwnerScope: "globex"}
	_, err = h.store.Upsert(ctx, other, UpsertInput{FieldValues: s3Values(), ExpectedUpdatedAt: &fresh})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_ConcurrentUpsertsWithSameTokenOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())

	current, err := h.store.Get(ctx, s3Key)
	require.NoError(t, err)
	token := *current.UpdatedAt

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values := s3Values()
			values["S3_BUCKET_NAME"] = []string{"bucket-a", "bucket-b"}[i]
			_, errs[i] = h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: values, ExpectedUpdatedAt: &token})
		}()
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 2, h.raw(t, s3Key).ConfigVersion)
}

func TestStore_StaleVersionFromAnotherWriterConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())

	// Simulate another process bumping the version behind our back.
	require.NoError(t, h.db.Model(&models.ProviderConfiguration{}).
		Where("owner_scope = ?", "acme").
		Update("config_version", 7).Error)

	rec := h.raw(t, s3Key)
	rec.ConfigVersion = 2
	err := h.store.configs.UpdateVersioned(ctx, rec, 1)
	require.ErrorIs(t, err, repositories.ErrStaleVersion)
	assert.ErrorIs(t, h.store.writeError("upsert", err), ErrConflict)
}

func TestStore_UpdatedAtStrictlyIncreases(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.store.now = func() time.Time { return fixed }

	h.save(t, s3Values())
	first := h.raw(t, s3Key).UpdatedAt
	h.save(t, s3Values())
	second := h.raw(t, s3Key).UpdatedAt

	assert.True(t, second.After(first), "%s should be after %s", second, first)
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.store.Delete(ctx, s3Key), ErrNotFound)
	_, err := h.store.MarkVerified(ctx, s3Key, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.store.Resolve(ctx, s3Key)
	assert.ErrorIs(t, err, ErrNotFound)

	h.save(t, s3Values())
	require.NoError(t, h.store.Delete(ctx, s3Key))
	assert.Nil(t, h.raw(t, s3Key))
}

func TestStore_MarkErrorRequiresMessage(t *testing.T) {
	h := newHarness(t)
	h.save(t, s3Values())

	_, err := h.store.MarkError(context.Background(), s3Key, "   ")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, models.ConfigStateConfigured, h.raw(t, s3Key).State)
}

func TestStore_MarkErrorTruncatesOnRuneBoundary(t *testing.T) {
	h := newHarness(t)
	h.save(t, s3Values())

	// 1 ASCII byte then 2-byte runes: a byte cut at maxErrorMessage lands mid-rune.
	resp, err := h.store.MarkError(context.Background(), s3Key, "x"+strings.Repeat("è", 1500))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(resp.LastError))
	assert.LessOrEqual(t, len(resp.LastError), maxErrorMessage)
	assert.Equal(t, maxErrorMessage-1, len(resp.LastError))

	stored := h.raw(t, s3Key)
	require.NotNil(t, stored.LastError)
	assert.True(t, utf8.ValidString(*stored.LastError))
}

func TestStore_EveryMutationPublishesInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ops []string
	unsubscribe := h.bus.Subscribe(func(ev common.InvalidationEvent) {
		assert.Equal(t, "backup_storage", ev.Family)
		assert.Equal(t, "s3", ev.ProviderID)
		assert.Equal(t, "acme", ev.OwnerScope)
		ops = append(ops, ev.Operation)
	})
	defer unsubscribe()

	h.save(t, s3Values())
	_, err := h.store.MarkVerified(ctx, s3Key, 0)
	require.NoError(t, err)
	_, err = h.store.Activate(ctx, s3Key)
	require.NoError(t, err)
	_, err = h.store.MarkError(ctx, s3Key, "quota exceeded")
	require.NoError(t, err)
	require.NoError(t, h.store.Delete(ctx, s3Key))

	assert.Equal(t, []string{"upsert", "mark_verified", "activate", "mark_error", "delete"}, ops)

	// Failed mutations publish nothing.
	_, err = h.store.Upsert(ctx, s3Key, UpsertInput{FieldValues: map[string]string{}})
	require.Error(t, err)
	assert.Len(t, ops, 5)
}

func TestStore_ActivateOnlyFromVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Activate(ctx, s3Key)
	assert.ErrorIs(t, err, ErrNotFound)

	h.save(t, s3Values())
	_, err = h.store.Activate(ctx, s3Key)
	assert.ErrorIs(t, err, ErrNotVerified)

	_, err = h.store.MarkError(ctx, s3Key, "down")
	require.NoError(t, err)
	_, err = h.store.Activate(ctx, s3Key)
	assert.ErrorIs(t, err, ErrNotVerified)

	_, err = h.store.MarkVerified(ctx, s3Key, 0)
	require.NoError(t, err)
	got, err := h.store.Activate(ctx, s3Key)
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateActive), got.State)

	_, err = h.store.Activate(ctx, s3Key)
	assert.ErrorIs(t, err, ErrNotVerified)
}

func TestStore_MarkVerifiedRejectsChangedValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())

	resolved, err := h.store.Resolve(ctx, s3Key)
	require.NoError(t, err)

	changed := s3Values()
	changed["S3_BUCKET_NAME"] = "other"
	h.save(t, changed)

	_, err = h.store.MarkVerified(ctx, s3Key, resolved.ConfigVersion)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.ConfigStateConfigured, h.raw(t, s3Key).State)
}

func TestStore_ListKeysByState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, s3Values())
	_, err := h.store.MarkVerified(ctx, s3Key, 0)
	require.NoError(t, err)
	_, err = h.store.Activate(ctx, s3Key)
	require.NoError(t, err)

	keys, err := h.store.ListKeysByState(ctx, models.ConfigStateActive)
	require.NoError(t, err)
	assert.Equal(t, []ConfigKey{s3Key}, keys)

	keys, err = h.store.ListKeysByState(ctx, models.ConfigStateError)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMergeFieldValues(t *testing.T) {
	reg, err := registry.NewDefault()
	require.NoError(t, err)
	desc, err := reg.Get(registry.FamilyNotificationChannel, "webhook")
	require.NoError(t, err)

	stored := map[string]string{"url": "https://hooks.acme.it/in", "signing_secret": "whsec_1234567890"}

	merged, problems := mergeFieldValues(desc, stored, map[string]string{"url": "https://new.acme.it", "signing_secret": secrets.Mask("whsec_1234567890")}, false)
	assert.Empty(t, problems)
	assert.Equal(t, map[string]string{"url": "https://new.acme.it", "signing_secret": "whsec_1234567890"}, merged)

	merged, problems = mergeFieldValues(desc, stored, map[string]string{"signing_secret": "  "}, true)
	assert.Empty(t, problems)
	assert.Equal(t, stored, merged)

	merged, _ = mergeFieldValues(desc, stored, map[string]string{"url": "https://x"}, false)
	assert.Equal(t, []string{"signing_secret"}, missingRequired(desc, merged))
}
