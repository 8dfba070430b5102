package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cashflow-suite/settings/internal/constants"
)

// AzureBlobTester lists at most one blob of the container with the SAS token.
type AzureBlobTester struct {
	Client *http.Client
	// BaseURL replaces https://{account}.blob.core.windows.net when set.
	BaseURL string
}

func (t *AzureBlobTester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_SAS_TOKEN", "AZURE_CONTAINER_NAME"); err != nil {
		return err
	}

	base := t.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.blob.core.windows.net", url.PathEscape(values["AZURE_STORAGE_ACCOUNT"]))
	}

	sas, err := url.ParseQuery(strings.TrimPrefix(values["AZURE_STORAGE_SAS_TOKEN"], "?"))
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "AZURE_STORAGE_SAS_TOKEN", err)
	}
	sas.Set("restype", "container")
	sas.Set("comp", "list")
	sas.Set("maxresults", "1")

	endpoint := fmt.Sprintf("%s/%s?%s", strings.TrimRight(base, "/"), url.PathEscape(values["AZURE_CONTAINER_NAME"]), sas.Encode())
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "AZURE_STORAGE_ACCOUNT", err)
	}
	req.Header.Set("x-ms-version", "2021-08-06")

	resp, err := do(ctx, t.Client, req)
	if err != nil {
		return err
	}
	drainAndClose(resp)
	return nil
}
