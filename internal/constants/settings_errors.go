package constants

// Settings error codes.
// These constants define the error scenarios of the provider settings API.

// Request and validation errors
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnknownFamily    = "UNKNOWN_FAMILY"
	ErrCodeUnknownProvider  = "UNKNOWN_PROVIDER"
	ErrCodeMalformedRequest = "MALFORMED_REQUEST"
)

// Lifecycle errors
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigConflict    = "CONFIG_CONFLICT"
	ErrCodeConfigNotVerified = "CONFIG_NOT_VERIFIED"
	ErrCodeTestFailed        = "CONNECTIVITY_TEST_FAILED"
)

// Infrastructure errors
const (
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeAggregationFailed = "AGGREGATION_FAILED"
	ErrCodeSecretsFailure    = "SECRETS_FAILURE"
	ErrCodeTooManyTests      = "TOO_MANY_TESTS"
)

// OAuth connect errors
const (
	ErrCodeOAuthStateInvalid  = "OAUTH_STATE_INVALID"
	ErrCodeOAuthNotSupported  = "OAUTH_NOT_SUPPORTED"
	ErrCodeOAuthExchangeError = "OAUTH_EXCHANGE_FAILED"
)

// SettingsErrorMessages holds the human-readable message for each code.
var SettingsErrorMessages = map[string]string{
	ErrCodeValidationFailed: "The configuration is missing required fields or contains unknown ones",
	ErrCodeUnknownFamily:    "The provider family does not exist",
	ErrCodeUnknownProvider:  "The provider is not available in this family",
	ErrCodeMalformedRequest: "The request body could not be parsed",

	ErrCodeConfigNotFound:    "No configuration exists for this provider",
	ErrCodeConfigConflict:    "The configuration was changed by someone else. Reload it and try again",
	ErrCodeConfigNotVerified: "The configuration must pass a connectivity test before it can be activated",
	ErrCodeTestFailed:        "The connectivity test did not pass",

	ErrCodeStoreUnavailable:  "The settings store is temporarily unavailable",
	ErrCodeAggregationFailed: "Provider status could not be computed",
	ErrCodeSecretsFailure:    "Stored credentials could not be decrypted",
	ErrCodeTooManyTests:      "Too many connectivity tests. Please wait a moment",

	ErrCodeOAuthStateInvalid:  "The authorization link is invalid, expired or was already used",
	ErrCodeOAuthNotSupported:  "This provider does not support OAuth connect",
	ErrCodeOAuthExchangeError: "The provider rejected the authorization code",
}

// GetErrorMessage returns the human-readable message for an error code
func GetErrorMessage(code string) string {
	if msg, exists := SettingsErrorMessages[code]; exists {
		return msg
	}
	return "An unknown error occurred"
}
