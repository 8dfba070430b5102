package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/providers"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/secrets"
)

const capabilityOAuth = "oauth"

// pendingConnect is what StartConnect remembers until the user comes back.
type pendingConnect struct {
	Key         ConfigKey
	Values      map[string]string
	Actor       string
	RedirectURL string
}

// CalendarConnectService drives the browser consent flow that obtains a
// refresh token for OAuth providers. Pending connects live in memory, are
// single use and expire after the state TTL.
type CalendarConnectService struct {
	registry    *registry.Registry
	store       *ConfigurationStore
	gateway     *SettingsGateway
	testers     *providers.TesterSet
	signer      *common.StateSigner
	redirectURL string
	ttl         time.Duration
	pending     *ttlcache.Cache[string, pendingConnect]
	log         *zap.SugaredLogger
}

func NewCalendarConnectService(
	reg *registry.Registry,
	store *ConfigurationStore,
	gateway *SettingsGateway,
	testers *providers.TesterSet,
	signer *common.StateSigner,
	redirectURL string,
) *CalendarConnectService {
	ttl := constants.OAuthStateTTL
	pending := ttlcache.New[string, pendingConnect](
		ttlcache.WithTTL[string, pendingConnect](ttl),
		ttlcache.WithDisableTouchOnHit[string, pendingConnect](),
	)
	go pending.Start()

	return &CalendarConnectService{
		registry:    reg,
		store:       store,
		gateway:     gateway,
		testers:     testers,
		signer:      signer,
		redirectURL: redirectURL,
		ttl:         ttl,
		pending:     pending,
		log:         logging.ForComponent("calendar_connect"),
	}
}

// Close stops the expiry loop of the pending cache.
func (s *CalendarConnectService) Close() {
	s.pending.Stop()
}

// Pending reports how many connects are waiting for their callback.
func (s *CalendarConnectService) Pending() int {
	return s.pending.Len()
}

func (s *CalendarConnectService) connector(key ConfigKey) (providers.OAuthConnector, error) {
	desc, err := describe(s.registry, key)
	if err != nil {
		return nil, err
	}
	if !desc.HasCapability(capabilityOAuth) {
		return nil, newSettingsError(constants.ErrCodeOAuthNotSupported, nil)
	}
	tester, ok := s.testers.Get(key.Family, key.ProviderID)
	if !ok {
		return nil, newSettingsError(constants.ErrCodeOAuthNotSupported, nil)
	}
	connector, ok := tester.(providers.OAuthConnector)
	if !ok {
		return nil, newSettingsError(constants.ErrCodeOAuthNotSupported, nil)
	}
	return connector, nil
}

// StartConnect remembers the client credentials and returns the provider
// consent URL. Masked or blank credentials fall back to the stored ones.
func (s *CalendarConnectService) StartConnect(ctx context.Context, key ConfigKey, values map[string]string, actor string) (*dtos.OAuthStartResponse, error) {
	connector, err := s.connector(key)
	if err != nil {
		return nil, err
	}
	if s.redirectURL == "" {
		return nil, newSettingsError(constants.ErrCodeOAuthNotSupported, errors.New("no OAuth redirect URL configured"))
	}

	candidate, err := s.store.ResolveCandidate(ctx, key, values, true)
	if err != nil {
		return nil, err
	}

	token, state, err := s.signer.Generate(string(key.Family), key.ProviderID, key.OwnerScope, s.ttl)
	if err != nil {
		return nil, newSettingsError(constants.ErrCodeOAuthStateInvalid, err)
	}

	authURL, err := connector.AuthCodeURL(candidate.Values, s.redirectURL, token)
	if err != nil {
		var pErr *providers.ProviderError
		if errors.As(err, &pErr) && pErr.Code == constants.ErrCodeMissingField {
			return nil, validationError(map[string]string{pErr.Details: "required"})
		}
		return nil, newSettingsError(constants.ErrCodeOAuthNotSupported, err)
	}

	s.pending.Set(state.TokenID, pendingConnect{
		Key:         key,
		Values:      candidate.Values,
		Actor:       actor,
		RedirectURL: s.redirectURL,
	}, ttlcache.DefaultTTL)

	s.log.Infow("OAuth connect started", "key", key.String(), "expires_at", state.ExpiresAt)
	return &dtos.OAuthStartResponse{AuthorizationURL: authURL, ExpiresAt: state.ExpiresAt}, nil
}

// CompleteConnect exchanges the authorization code, saves the refresh token
// after a successful test and verifies the result. A state can be used once.
func (s *CalendarConnectService) CompleteConnect(ctx context.Context, code, stateToken string) (*dtos.OAuthCallbackResponse, error) {
	state, err := s.signer.Validate(stateToken)
	if err != nil {
		return nil, newSettingsError(constants.ErrCodeOAuthStateInvalid, err)
	}

	// Rejected callbacks leave the pending connect in place; only a callback
	// that reaches the exchange consumes it.
	if strings.TrimSpace(code) == "" {
		return nil, newSettingsError(constants.ErrCodeOAuthExchangeError, errors.New("missing authorization code"))
	}
	key := ConfigKey{Family: registry.Family(state.Family), ProviderID: state.ProviderID, OwnerScope: state.OwnerScope}
	if item := s.pending.Get(state.TokenID); item != nil && item.Value().Key != key {
		return nil, newSettingsError(constants.ErrCodeOAuthStateInvalid, errors.New("state does not match the pending connect"))
	}

	item, ok := s.pending.GetAndDelete(state.TokenID)
	if !ok {
		return nil, newSettingsError(constants.ErrCodeOAuthStateInvalid, errors.New("connect already completed or expired"))
	}
	p := item.Value()

	connector, err := s.connector(key)
	if err != nil {
		return nil, err
	}

	token, err := connector.Exchange(ctx, p.Values, p.RedirectURL, code)
	if err != nil {
		e := newSettingsError(constants.ErrCodeOAuthExchangeError, nil)
		e.Detail = secrets.Scrub(describeFailure(err), p.Values["client_secret"], code)
		return nil, e
	}

	values := make(map[string]string, len(p.Values)+1)
	for k, v := range p.Values {
		values[k] = v
	}
	values["refresh_token"] = token.RefreshToken

	if _, err := s.gateway.ApplyConfiguration(ctx, key, values, ApplyOptions{
		TestFirst: true,
		Partial:   true,
		Actor:     p.Actor,
	}); err != nil {
		return nil, err
	}

	verified, err := s.gateway.Verify(ctx, key, constants.VerifyTriggerOAuth)
	if verified == nil {
		return nil, err
	}
	s.log.Infow("OAuth connect completed", "key", key.String(), "verified", err == nil)
	return &dtos.OAuthCallbackResponse{Configuration: verified.Configuration, Result: verified.Result}, err
}
