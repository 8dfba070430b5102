package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cashflow-suite/settings/internal/constants"
)

const (
	acubeProductionURL = "https://common.api.acubeapi.com"
	acubeSandboxURL    = "https://common-sandbox.api.acubeapi.com"
)

// ACubeTester logs in to A-Cube and checks the returned token is usable.
type ACubeTester struct {
	Client         *http.Client
	BaseURL        string
	SandboxBaseURL string
	now            func() time.Time
}

type acubeLoginResponse struct {
	Token string `json:"token"`
}

func (t *ACubeTester) baseURL(environment string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "", "production":
		if t.BaseURL != "" {
			return t.BaseURL, nil
		}
		return acubeProductionURL, nil
	case "sandbox":
		if t.SandboxBaseURL != "" {
			return t.SandboxBaseURL, nil
		}
		return acubeSandboxURL, nil
	}
	return "", newProviderError(constants.ErrCodeInvalidField, "environment must be production or sandbox", nil)
}

func (t *ACubeTester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "email", "password"); err != nil {
		return err
	}
	base, err := t.baseURL(values["environment"])
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{
		"email":    values["email"],
		"password": values["password"],
	})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(base, "/")+"/login", bytes.NewReader(payload))
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "base url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := do(ctx, t.Client, req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	var body acubeLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return newProviderError(constants.ErrCodeUnexpectedResponse, "login response carried no token", err)
	}
	return t.checkToken(body.Token)
}

// checkToken reads the expiry of the returned JWT. The signature belongs to
// A-Cube and is not verified here.
func (t *ACubeTester) checkToken(token string) error {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return newProviderError(constants.ErrCodeUnexpectedResponse, "login token is not a JWT", err)
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	if !claims.ExpiresAt.After(now()) {
		return newProviderError(constants.ErrCodeInvalidCredentials, fmt.Sprintf("token expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339)), nil)
	}
	return nil
}
