package dtos

import "time"

type APIResponse struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	ResponseTime string            `json:"response_time"`
	Fields       map[string]string `json:"fields,omitempty"`
	Data         any               `json:"data,omitempty"`
}

// ConfigurationResponse is the read-path view of a provider configuration.
// Secret field values are always masked.
type ConfigurationResponse struct {
	ID             string            `json:"id,omitempty"`
	Family         string            `json:"family"`
	ProviderID     string            `json:"provider_id"`
	OwnerScope     string            `json:"owner_scope"`
	State          string            `json:"state"`
	FieldValues    map[string]string `json:"field_values"`
	ConfigVersion  int               `json:"config_version,omitempty"`
	LastVerifiedAt *time.Time        `json:"last_verified_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      *time.Time        `json:"created_at,omitempty"`
	UpdatedAt      *time.Time        `json:"updated_at,omitempty"`
	UpdatedBy      string            `json:"updated_by,omitempty"`
}

// TestResult is the verdict of one connectivity test.
type TestResult struct {
	Success    bool      `json:"success"`
	Detail     string    `json:"detail"`
	DurationMs int64     `json:"duration_ms"`
	TestedAt   time.Time `json:"tested_at"`
}

// ProviderStatus is one provider's row in a status summary.
type ProviderStatus struct {
	ProviderID     string     `json:"provider_id"`
	DisplayName    string     `json:"display_name"`
	State          string     `json:"state"`
	Configured     bool       `json:"configured"`
	Verified       bool       `json:"verified"`
	Active         bool       `json:"active"`
	LastError      string     `json:"last_error,omitempty"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
}

// StatusCounts aggregates provider states.
type StatusCounts struct {
	Total      int `json:"total"`
	Configured int `json:"configured"`
	Verified   int `json:"verified"`
	Active     int `json:"active"`
	Error      int `json:"error"`
}

// Add accumulates other into c.
func (c *StatusCounts) Add(other StatusCounts) {
	c.Total += other.Total
	c.Configured += other.Configured
	c.Verified += other.Verified
	c.Active += other.Active
	c.Error += other.Error
}

// StatusSummary is the derived status of one family for one owner.
type StatusSummary struct {
	Family      string           `json:"family"`
	OwnerScope  string           `json:"owner_scope"`
	Providers   []ProviderStatus `json:"providers"`
	Counts      StatusCounts     `json:"counts"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Provider returns the entry for providerID, if present.
func (s *StatusSummary) Provider(providerID string) (ProviderStatus, bool) {
	for _, p := range s.Providers {
		if p.ProviderID == providerID {
			return p, true
		}
	}
	return ProviderStatus{}, false
}

// GlobalStatusSummary holds every family's summary plus global totals.
type GlobalStatusSummary struct {
	OwnerScope string          `json:"owner_scope"`
	Families   []StatusSummary `json:"families"`
	Totals     StatusCounts    `json:"totals"`
}

// VerificationRecord is one entry of a configuration's verification history.
type VerificationRecord struct {
	ID          string    `json:"id"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail"`
	DurationMs  int64     `json:"duration_ms"`
	TriggeredBy string    `json:"triggered_by"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// VerifyResponse reports a verification run together with the resulting configuration.
type VerifyResponse struct {
	Result        TestResult            `json:"result"`
	Configuration ConfigurationResponse `json:"configuration"`
}

// OAuthStartResponse carries the provider consent URL for a calendar connect.
type OAuthStartResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// OAuthCallbackResponse reports the outcome of a completed calendar connect.
type OAuthCallbackResponse struct {
	Configuration ConfigurationResponse `json:"configuration"`
	Result        TestResult            `json:"result"`
}

// ProviderListResponse lists registry descriptors of one or all families.
type ProviderListResponse struct {
	Families map[string][]ProviderDescriptorResponse `json:"families"`
}

// ProviderDescriptorResponse is the public view of a registry entry.
type ProviderDescriptorResponse struct {
	ID           string          `json:"id"`
	DisplayName  string          `json:"display_name"`
	Capabilities []string        `json:"capabilities"`
	Fields       []FieldResponse `json:"fields"`
}

type FieldResponse struct {
	Name     string `json:"name"`
	Secret   bool   `json:"secret"`
	Required bool   `json:"required"`
}
