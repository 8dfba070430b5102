package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"cashflow-suite/settings/internal/constants"
)

// OAuthConnector is implemented by testers of providers that support the
// browser consent flow.
type OAuthConnector interface {
	// ConnectFields lists the fields the user must supply before consent.
	ConnectFields() []string
	AuthCodeURL(values map[string]string, redirectURL, state string) (string, error)
	Exchange(ctx context.Context, values map[string]string, redirectURL, code string) (*oauth2.Token, error)
}

// CalendarOAuth tests calendar credentials with a refresh-token exchange and
// drives the consent flow that obtains the refresh token.
type CalendarOAuth struct {
	Client   *http.Client
	Scopes   []string
	Required []string
	// TokenURL and AuthURL override the provider endpoints when set.
	TokenURL string
	AuthURL  string

	endpoint  func(values map[string]string) oauth2.Endpoint
	authFlags []oauth2.AuthCodeOption
}

var (
	_ Tester         = (*CalendarOAuth)(nil)
	_ OAuthConnector = (*CalendarOAuth)(nil)
)

func NewGoogleCalendarTester(client *http.Client, tokenURL string) *CalendarOAuth {
	return &CalendarOAuth{
		Client:   client,
		Scopes:   []string{"https://www.googleapis.com/auth/calendar"},
		Required: []string{"client_id", "client_secret"},
		TokenURL: tokenURL,
		endpoint: func(map[string]string) oauth2.Endpoint { return google.Endpoint },
		// Google only returns a refresh token on forced, offline consent.
		authFlags: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
	}
}

func NewOutlookCalendarTester(client *http.Client, tokenURL string) *CalendarOAuth {
	return &CalendarOAuth{
		Client:   client,
		Scopes:   []string{"offline_access", "https://graph.microsoft.com/Calendars.ReadWrite"},
		Required: []string{"client_id", "client_secret", "tenant_id"},
		TokenURL: tokenURL,
		endpoint: func(values map[string]string) oauth2.Endpoint {
			return microsoft.AzureADEndpoint(values["tenant_id"])
		},
	}
}

func (c *CalendarOAuth) ConnectFields() []string {
	return append([]string(nil), c.Required...)
}

func (c *CalendarOAuth) config(values map[string]string, redirectURL string) *oauth2.Config {
	endpoint := c.endpoint(values)
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	if c.AuthURL != "" {
		endpoint.AuthURL = c.AuthURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &oauth2.Config{
		ClientID:     values["client_id"],
		ClientSecret: values["client_secret"],
		RedirectURL:  redirectURL,
		Scopes:       c.Scopes,
		Endpoint:     endpoint,
	}
}

func (c *CalendarOAuth) withClient(ctx context.Context) context.Context {
	if c.Client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.Client)
}

// Test exchanges the stored refresh token for an access token.
func (c *CalendarOAuth) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, append(c.ConnectFields(), "refresh_token")...); err != nil {
		return err
	}

	src := c.config(values, "").TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: values["refresh_token"]})
	token, err := src.Token()
	if err != nil {
		return mapOAuthError(ctx, err)
	}
	if token.AccessToken == "" {
		return newProviderError(constants.ErrCodeUnexpectedResponse, "token endpoint returned no access token", nil)
	}
	return nil
}

func (c *CalendarOAuth) AuthCodeURL(values map[string]string, redirectURL, state string) (string, error) {
	if err := requireValues(values, c.ConnectFields()...); err != nil {
		return "", err
	}
	return c.config(values, redirectURL).AuthCodeURL(state, c.authFlags...), nil
}

func (c *CalendarOAuth) Exchange(ctx context.Context, values map[string]string, redirectURL, code string) (*oauth2.Token, error) {
	if err := requireValues(values, c.ConnectFields()...); err != nil {
		return nil, err
	}
	token, err := c.config(values, redirectURL).Exchange(c.withClient(ctx), code)
	if err != nil {
		return nil, mapOAuthError(ctx, err)
	}
	if token.RefreshToken == "" {
		return nil, newProviderError(constants.ErrCodeUnexpectedResponse, "authorization did not grant offline access", nil)
	}
	return token, nil
}

func mapOAuthError(ctx context.Context, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		details := rErr.ErrorCode
		if rErr.ErrorDescription != "" {
			details = fmt.Sprintf("%s: %s", rErr.ErrorCode, rErr.ErrorDescription)
		}
		switch rErr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return newProviderError(constants.ErrCodeInvalidCredentials, details, nil)
		}
		if rErr.Response != nil && rErr.Response.StatusCode == http.StatusTooManyRequests {
			return newProviderError(constants.ErrCodeProviderRateLimit, details, nil)
		}
		return newProviderError(constants.ErrCodeUnexpectedResponse, details, nil)
	}
	return networkError(ctx, err)
}
