package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/models"
	"cashflow-suite/settings/internal/providers"
	"cashflow-suite/settings/internal/registry"
)

const (
	googleClientSecret = "GOCSPX-very-secret-value"
	goodCode           = "4/0Ab-good-code"
	goodRefreshToken   = "1//rt-good-refresh-token"
)

var googleKey = ConfigKey{Family: registry.FamilyCalendar, ProviderID: "google", OwnerScope: "acme"}

// fakeConnector plays the calendar provider: it issues a refresh token for
// goodCode and accepts only that token in tests.
type fakeConnector struct {
	exchanges int
}

func (f *fakeConnector) Test(_ context.Context, values map[string]string) error {
	if values["refresh_token"] != goodRefreshToken {
		return &providers.ProviderError{Code: constants.ErrCodeInvalidCredentials, Message: constants.GetErrorMessage(constants.ErrCodeInvalidCredentials)}
	}
	return nil
}

func (f *fakeConnector) ConnectFields() []string {
	return []string{"client_id", "client_secret"}
}

func (f *fakeConnector) AuthCodeURL(values map[string]string, redirectURL, state string) (string, error) {
	for _, name := range f.ConnectFields() {
		if values[name] == "" {
			return "", &providers.ProviderError{Code: constants.ErrCodeMissingField, Message: constants.GetErrorMessage(constants.ErrCodeMissingField), Details: name}
		}
	}
	q := url.Values{"client_id": {values["client_id"]}, "redirect_uri": {redirectURL}, "state": {state}}
	return "https://consent.example.com/auth?" + q.Encode(), nil
}

func (f *fakeConnector) Exchange(_ context.Context, values map[string]string, _, code string) (*oauth2.Token, error) {
	f.exchanges++
	if code != goodCode {
		return nil, fmt.Errorf("invalid_grant for client secret %s", values["client_secret"])
	}
	return &oauth2.Token{AccessToken: "ya29.access", RefreshToken: goodRefreshToken}, nil
}

func newConnectService(t *testing.T, h *harness, redirectURL string) (*CalendarConnectService, *fakeConnector) {
	t.Helper()
	connector := &fakeConnector{}
	h.testers.Register(registry.FamilyCalendar, "google", connector)
	svc := NewCalendarConnectService(h.registry, h.store, h.gateway, h.testers, common.NewStateSigner([]byte("state-secret")), redirectURL)
	t.Cleanup(svc.Close)
	return svc, connector
}

func startGoogle(t *testing.T, svc *CalendarConnectService) string {
	t.Helper()
	resp, err := svc.StartConnect(context.Background(), googleKey, map[string]string{
		"client_id":     "123.apps.googleusercontent.com",
		"client_secret": googleClientSecret,
	}, "anna")
	require.NoError(t, err)

	u, err := url.Parse(resp.AuthorizationURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	assert.False(t, resp.ExpiresAt.IsZero())
	return state
}

func TestCalendarConnect_StartAndComplete(t *testing.T) {
	h := newHarness(t)
	svc, connector := newConnectService(t, h, "https://app.acme.it/oauth/callback")
	ctx := context.Background()

	state := startGoogle(t, svc)
	assert.Equal(t, 1, svc.Pending())
	assert.Zero(t, h.countRows(t))

	resp, err := svc.CompleteConnect(ctx, goodCode, state)
	require.NoError(t, err)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, string(models.ConfigStateVerified), resp.Configuration.State)
	assert.Equal(t, 1, connector.exchanges)
	assert.Zero(t, svc.Pending())

	resolved, err := h.store.Resolve(ctx, googleKey)
	require.NoError(t, err)
	assert.Equal(t, goodRefreshToken, resolved.Values["refresh_token"])
	assert.Equal(t, googleClientSecret, resolved.Values["client_secret"])

	history, err := h.gateway.History(ctx, googleKey, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, string(constants.VerifyTriggerOAuth), history[0].TriggeredBy)
}

func TestCalendarConnect_StateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	svc, connector := newConnectService(t, h, "https://app.acme.it/oauth/callback")

	state := startGoogle(t, svc)
	_, err := svc.CompleteConnect(context.Background(), goodCode, state)
	require.NoError(t, err)

	_, err = svc.CompleteConnect(context.Background(), goodCode, state)
	assert.ErrorIs(t, err, ErrOAuthState)
	assert.Equal(t, 1, connector.exchanges)
}

func TestCalendarConnect_RejectsForgedState(t *testing.T) {
	h := newHarness(t)
	svc, _ := newConnectService(t, h, "https://app.acme.it/oauth/callback")
	startGoogle(t, svc)

	other := common.NewStateSigner([]byte("another-secret"))
	forged, _, err := other.Generate("calendar", "google", "acme", constants.OAuthStateTTL)
	require.NoError(t, err)

	_, err = svc.CompleteConnect(context.Background(), goodCode, forged)
	assert.ErrorIs(t, err, ErrOAuthState)
	_, err = svc.CompleteConnect(context.Background(), goodCode, "not-a-token")
	assert.ErrorIs(t, err, ErrOAuthState)
	assert.Equal(t, 1, svc.Pending())
}

func TestCalendarConnect_ExchangeFailureIsScrubbed(t *testing.T) {
	h := newHarness(t)
	svc, _ := newConnectService(t, h, "https://app.acme.it/oauth/callback")

	state := startGoogle(t, svc)
	_, err := svc.CompleteConnect(context.Background(), "expired-code", state)
	require.ErrorIs(t, err, ErrOAuthExchange)

	var sErr *SettingsError
	require.True(t, errors.As(err, &sErr))
	assert.Contains(t, sErr.Detail, "invalid_grant")
	assert.NotContains(t, sErr.Detail, googleClientSecret)
	assert.Zero(t, h.countRows(t))
}

func TestCalendarConnect_MissingCode(t *testing.T) {
	h := newHarness(t)
	svc, connector := newConnectService(t, h, "https://app.acme.it/oauth/callback")

	state := startGoogle(t, svc)
	_, err := svc.CompleteConnect(context.Background(), " ", state)
	assert.ErrorIs(t, err, ErrOAuthExchange)
	assert.Zero(t, connector.exchanges)

	// The connect survives the rejected callback and can still complete.
	assert.Equal(t, 1, svc.Pending())
	resp, err := svc.CompleteConnect(context.Background(), goodCode, state)
	require.NoError(t, err)
	assert.True(t, resp.Result.Success)
	assert.Zero(t, svc.Pending())
}

func TestCalendarConnect_StartValidation(t *testing.T) {
	h := newHarness(t)
	svc, _ := newConnectService(t, h, "https://app.acme.it/oauth/callback")
	ctx := context.Background()

	_, err := svc.StartConnect(ctx, googleKey, map[string]string{"client_id": "123.apps.googleusercontent.com"}, "anna")
	require.ErrorIs(t, err, ErrValidation)
	var sErr *SettingsError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "required", sErr.Fields["client_secret"])

	_, err = svc.StartConnect(ctx, s3Key, s3Values(), "anna")
	assert.ErrorIs(t, err, ErrOAuthUnsupported)

	_, err = svc.StartConnect(ctx, ConfigKey{Family: registry.FamilyCalendar, ProviderID: "caldav"}, nil, "anna")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Zero(t, svc.Pending())
}

func TestCalendarConnect_RequiresRedirectURL(t *testing.T) {
	h := newHarness(t)
	svc, _ := newConnectService(t, h, "")

	_, err := svc.StartConnect(context.Background(), googleKey, map[string]string{
		"client_id":     "123.apps.googleusercontent.com",
		"client_secret": googleClientSecret,
	}, "anna")
	assert.ErrorIs(t, err, ErrOAuthUnsupported)
}

func TestCalendarConnect_ReusesStoredClientSecret(t *testing.T) {
	h := newHarness(t)
	svc, _ := newConnectService(t, h, "https://app.acme.it/oauth/callback")
	ctx := context.Background()

	_, err := h.store.Upsert(ctx, googleKey, UpsertInput{FieldValues: map[string]string{
		"client_id":     "123.apps.googleusercontent.com",
		"client_secret": googleClientSecret,
		"refresh_token": "1//revoked-token",
	}})
	require.NoError(t, err)

	shown, err := h.store.Get(ctx, googleKey)
	require.NoError(t, err)
	resp, err := svc.StartConnect(ctx, googleKey, map[string]string{
		"client_id":     shown.FieldValues["client_id"],
		"client_secret": shown.FieldValues["client_secret"],
	}, "anna")
	require.NoError(t, err)

	u, err := url.Parse(resp.AuthorizationURL)
	require.NoError(t, err)
	done, err := svc.CompleteConnect(ctx, goodCode, u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, string(models.ConfigStateVerified), done.Configuration.State)
}
