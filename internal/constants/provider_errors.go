package constants

// Provider call error codes.
// These describe why a round trip against an external provider failed.
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	ErrCodeProviderRateLimit  = "PROVIDER_RATE_LIMITED"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeProviderTimeout    = "PROVIDER_TIMEOUT"
	ErrCodeUnexpectedResponse = "UNEXPECTED_RESPONSE"
	ErrCodeMissingField       = "MISSING_FIELD"
	ErrCodeInvalidField       = "INVALID_FIELD"
	ErrCodeTesterPanicked     = "TESTER_PANICKED"
	ErrCodeNoTester           = "NO_TESTER"
)

// ProviderErrorMessages holds the human-readable message for each provider code.
var ProviderErrorMessages = map[string]string{
	ErrCodeInvalidCredentials: "The provider rejected the credentials",
	ErrCodeAccessDenied:       "The credentials are valid but lack the required permissions",
	ErrCodeResourceNotFound:   "The configured resource does not exist at the provider",
	ErrCodeProviderRateLimit:  "The provider is rate limiting requests. Please try again later",
	ErrCodeNetworkError:       "Unable to reach the provider. Please check the address and your network",
	ErrCodeProviderTimeout:    "The provider did not answer in time",
	ErrCodeUnexpectedResponse: "The provider answered with an unexpected response",
	ErrCodeMissingField:       "A required field is empty",
	ErrCodeInvalidField:       "A field has an invalid value",
	ErrCodeTesterPanicked:     "The connectivity test crashed",
	ErrCodeNoTester:           "No connectivity test exists for this provider",
}

func init() {
	for code, msg := range ProviderErrorMessages {
		SettingsErrorMessages[code] = msg
	}
}
