package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"cashflow-suite/settings/internal/constants"
)

const twilioAPI = "https://api.twilio.com"

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// TwilioTester fetches the account resource with basic auth. SMS and WhatsApp
// share the account; WhatsApp senders use the whatsapp: prefix.
type TwilioTester struct {
	Client   *http.Client
	BaseURL  string
	WhatsApp bool
}

type twilioAccount struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (t *TwilioTester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "account_sid", "auth_token", "from_number"); err != nil {
		return err
	}
	sid := strings.TrimSpace(values["account_sid"])
	if !strings.HasPrefix(sid, "AC") {
		return newProviderError(constants.ErrCodeInvalidField, "account_sid must start with AC", nil)
	}
	from := strings.TrimPrefix(strings.TrimSpace(values["from_number"]), "whatsapp:")
	if !e164.MatchString(from) {
		return newProviderError(constants.ErrCodeInvalidField, "from_number must be in E.164 format", nil)
	}

	base := t.BaseURL
	if base == "" {
		base = twilioAPI
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", strings.TrimRight(base, "/"), url.PathEscape(sid))

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "base url", err)
	}
	req.SetBasicAuth(sid, values["auth_token"])
	req.Header.Set("Accept", "application/json")

	resp, err := do(ctx, t.Client, req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	var account twilioAccount
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return newProviderError(constants.ErrCodeUnexpectedResponse, "account payload", err)
	}
	if account.Status != "" && account.Status != "active" {
		return newProviderError(constants.ErrCodeAccessDenied, "account is "+account.Status, nil)
	}
	return nil
}
