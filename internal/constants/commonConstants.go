package constants

import "time"

type (
	APIStatus     string
	CachePrefix   string
	VerifyTrigger string
)

const (
	APIStatusOk    APIStatus = "ok"
	APIStatusError APIStatus = "error"

	CachePrefixStatusSummary CachePrefix = "SETTINGS_STATUS_"

	VerifyTriggerUser      VerifyTrigger = "user"
	VerifyTriggerScheduler VerifyTrigger = "scheduler"
	VerifyTriggerOAuth     VerifyTrigger = "oauth_callback"
)

const (
	// Bounds for a single connectivity test round trip.
	MinTestTimeout     = 10 * time.Second
	MaxTestTimeout     = 30 * time.Second
	DefaultTestTimeout = 15 * time.Second

	DefaultStatusCacheTTL = 30 * time.Second

	// Pending OAuth connects expire if the user does not come back.
	OAuthStateTTL = 10 * time.Minute

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100

	InvalidationChannel = "settings:invalidate"
)

// OwnerQueryParam carries the owner scope (e.g. company id) on every settings route.
const OwnerQueryParam = "owner"
