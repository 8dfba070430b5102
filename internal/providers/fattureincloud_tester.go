package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"cashflow-suite/settings/internal/constants"
)

const fattureInCloudAPI = "https://api-v2.fattureincloud.it"

// FattureInCloudTester checks that the token can see the configured company.
type FattureInCloudTester struct {
	Client  *http.Client
	BaseURL string
}

type ficCompaniesResponse struct {
	Data struct {
		Companies []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"companies"`
	} `json:"data"`
}

func (t *FattureInCloudTester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "access_token", "company_id"); err != nil {
		return err
	}
	companyID, err := strconv.ParseInt(strings.TrimSpace(values["company_id"]), 10, 64)
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "company_id must be numeric", nil)
	}

	base := t.BaseURL
	if base == "" {
		base = fattureInCloudAPI
	}

	// The oauth2 transport injects the bearer token on top of our client.
	if t.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, t.Client)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: values["access_token"],
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+"/user/companies", nil)
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "base url", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := do(ctx, client, req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	var body ficCompaniesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return newProviderError(constants.ErrCodeUnexpectedResponse, "companies payload", err)
	}
	for _, c := range body.Data.Companies {
		if c.ID == companyID {
			return nil
		}
	}
	return newProviderError(constants.ErrCodeResourceNotFound, fmt.Sprintf("company %d is not accessible with this token", companyID), nil)
}
