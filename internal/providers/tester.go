package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/registry"
)

// Tester performs one side-effect-free round trip against an external
// provider using the given field values. A nil error means the provider
// accepted the credentials.
type Tester interface {
	Test(ctx context.Context, values map[string]string) error
}

// TesterFunc adapts a function to the Tester interface.
type TesterFunc func(ctx context.Context, values map[string]string) error

func (f TesterFunc) Test(ctx context.Context, values map[string]string) error {
	return f(ctx, values)
}

// TesterSet maps (family, provider) to its connectivity tester.
type TesterSet struct {
	testers map[string]Tester
}

func NewTesterSet() *TesterSet {
	return &TesterSet{testers: map[string]Tester{}}
}

func testerKey(family registry.Family, providerID string) string {
	return string(family) + "/" + providerID
}

// Register adds or replaces the tester for one provider.
func (s *TesterSet) Register(family registry.Family, providerID string, t Tester) {
	s.testers[testerKey(family, providerID)] = t
}

// Get returns the tester for one provider.
func (s *TesterSet) Get(family registry.Family, providerID string) (Tester, bool) {
	t, ok := s.testers[testerKey(family, providerID)]
	return t, ok
}

// Options tune the default testers. Zero values select production endpoints.
type Options struct {
	HTTPClient *http.Client

	S3Endpoint            string
	AzureBlobBaseURL      string
	GoogleTokenURL        string
	MicrosoftTokenURL     string
	FattureInCloudBaseURL string
	ACubeBaseURL          string
	ACubeSandboxBaseURL   string
	TwilioBaseURL         string
	WebhookUserAgent      string
	SMTPRequireTLS        bool
}

// NewDefaultTesterSet registers a tester for every provider in the built-in catalog.
func NewDefaultTesterSet(opts Options) *TesterSet {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: constants.MaxTestTimeout}
	}

	set := NewTesterSet()
	set.Register(registry.FamilyBackupStorage, "s3", &S3Tester{HTTPClient: client, Endpoint: opts.S3Endpoint})
	set.Register(registry.FamilyBackupStorage, "azure", &AzureBlobTester{Client: client, BaseURL: opts.AzureBlobBaseURL})
	set.Register(registry.FamilyCalendar, "google", NewGoogleCalendarTester(client, opts.GoogleTokenURL))
	set.Register(registry.FamilyCalendar, "outlook", NewOutlookCalendarTester(client, opts.MicrosoftTokenURL))
	set.Register(registry.FamilyInvoicing, "fattureincloud", &FattureInCloudTester{Client: client, BaseURL: opts.FattureInCloudBaseURL})
	set.Register(registry.FamilyInvoicing, "acube", &ACubeTester{Client: client, BaseURL: opts.ACubeBaseURL, SandboxBaseURL: opts.ACubeSandboxBaseURL})
	set.Register(registry.FamilyNotificationChannel, "email", &SMTPTester{RequireTLS: opts.SMTPRequireTLS})
	set.Register(registry.FamilyNotificationChannel, "sms", &TwilioTester{Client: client, BaseURL: opts.TwilioBaseURL})
	set.Register(registry.FamilyNotificationChannel, "whatsapp", &TwilioTester{Client: client, BaseURL: opts.TwilioBaseURL, WhatsApp: true})
	set.Register(registry.FamilyNotificationChannel, "webhook", &WebhookTester{Client: client, UserAgent: opts.WebhookUserAgent})
	return set
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(code, details string, err error) *ProviderError {
	return &ProviderError{
		Code:    code,
		Message: constants.GetErrorMessage(code),
		Details: details,
		Err:     err,
	}
}

// requireValues fails with the first empty field, in argument order.
func requireValues(values map[string]string, names ...string) error {
	for _, n := range names {
		if strings.TrimSpace(values[n]) == "" {
			return newProviderError(constants.ErrCodeMissingField, n, nil)
		}
	}
	return nil
}

const maxErrorBody = 512

// handleHTTPError maps a non-2xx response to a ProviderError.
func handleHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	details := fmt.Sprintf("HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return newProviderError(constants.ErrCodeInvalidCredentials, details, nil)
	case http.StatusForbidden:
		return newProviderError(constants.ErrCodeAccessDenied, details, nil)
	case http.StatusNotFound:
		return newProviderError(constants.ErrCodeResourceNotFound, details, nil)
	case http.StatusTooManyRequests:
		return newProviderError(constants.ErrCodeProviderRateLimit, details, nil)
	default:
		return newProviderError(constants.ErrCodeUnexpectedResponse, details, nil)
	}
}

// networkError wraps a transport failure, telling timeouts apart.
func networkError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return newProviderError(constants.ErrCodeProviderTimeout, "", ctx.Err())
	}
	return newProviderError(constants.ErrCodeNetworkError, "", err)
}

// do sends req and maps transport and status errors. The caller closes the
// body of a successful response.
func do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, networkError(ctx, err)
	}
	if err := handleHTTPError(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func deadlineOr(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}
