package dtos

import "time"

// SaveConfigurationRequest is the body of POST /{family}/{providerID}.
type SaveConfigurationRequest struct {
	FieldValues       map[string]string `json:"field_values"`
	Partial           bool              `json:"partial"`
	TestFirst         bool              `json:"test_first"`
	ExpectedUpdatedAt *time.Time        `json:"expected_updated_at,omitempty"`
}

// TestConfigurationRequest is the body of POST /{family}/{providerID}/test.
// Omitted or masked fields fall back to the stored values.
type TestConfigurationRequest struct {
	FieldValues map[string]string `json:"field_values"`
}

// RuntimeFailureRequest is reported by subsystems that use a configuration.
type RuntimeFailureRequest struct {
	Message string `json:"message"`
}

// OAuthStartRequest carries the OAuth client registration for a calendar connect.
type OAuthStartRequest struct {
	FieldValues map[string]string `json:"field_values"`
}
