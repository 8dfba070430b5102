package constants

// Response messages used by the settings handlers.
const (
	MsgProvidersListed       = "Providers listed"
	MsgStatusSummarized      = "Status summarized"
	MsgConfigurationFetched  = "Configuration fetched"
	MsgConfigurationSaved    = "Configuration saved"
	MsgConfigurationDeleted  = "Configuration deleted"
	MsgConfigurationActive   = "Configuration activated"
	MsgTestPassed            = "Connectivity test passed"
	MsgVerificationPassed    = "Configuration verified"
	MsgRuntimeFailureLogged  = "Runtime failure recorded"
	MsgHistoryFetched        = "Verification history fetched"
	MsgOAuthStarted          = "Authorization started"
	MsgOAuthCompleted        = "Calendar connected"
	MsgOAuthCompletedPending = "Calendar connected but verification failed"
)
