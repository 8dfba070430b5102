package services

import (
	"fmt"
	"strings"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
)

// SettingsError is returned by every settings service operation. Two
// SettingsErrors match under errors.Is when their codes are equal, so callers
// compare against the sentinels below.
type SettingsError struct {
	Code    string
	Message string
	// Fields maps a field name to what is wrong with it (validation only).
	Fields map[string]string
	// Detail carries the sanitized connectivity test detail.
	Detail string
	Err    error
}

func (e *SettingsError) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(common.GetKeysStringMap(e.Fields), ", "))
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SettingsError) Unwrap() error {
	return e.Err
}

func (e *SettingsError) Is(target error) bool {
	t, ok := target.(*SettingsError)
	return ok && t.Code == e.Code
}

var (
	ErrValidation       = &SettingsError{Code: constants.ErrCodeValidationFailed}
	ErrUnknownFamily    = &SettingsError{Code: constants.ErrCodeUnknownFamily}
	ErrUnknownProvider  = &SettingsError{Code: constants.ErrCodeUnknownProvider}
	ErrNotFound         = &SettingsError{Code: constants.ErrCodeConfigNotFound}
	ErrConflict         = &SettingsError{Code: constants.ErrCodeConfigConflict}
	ErrTestFailed       = &SettingsError{Code: constants.ErrCodeTestFailed}
	ErrNotVerified      = &SettingsError{Code: constants.ErrCodeConfigNotVerified}
	ErrAggregation      = &SettingsError{Code: constants.ErrCodeAggregationFailed}
	ErrStoreUnavailable = &SettingsError{Code: constants.ErrCodeStoreUnavailable}
	ErrSecrets          = &SettingsError{Code: constants.ErrCodeSecretsFailure}
	ErrOAuthState       = &SettingsError{Code: constants.ErrCodeOAuthStateInvalid}
	ErrOAuthUnsupported = &SettingsError{Code: constants.ErrCodeOAuthNotSupported}
	ErrOAuthExchange    = &SettingsError{Code: constants.ErrCodeOAuthExchangeError}
)

func newSettingsError(code string, err error) *SettingsError {
	return &SettingsError{
		Code:    code,
		Message: constants.GetErrorMessage(code),
		Err:     err,
	}
}

func validationError(fields map[string]string) *SettingsError {
	e := newSettingsError(constants.ErrCodeValidationFailed, nil)
	e.Fields = fields
	return e
}

func testFailedError(detail string) *SettingsError {
	e := newSettingsError(constants.ErrCodeTestFailed, nil)
	e.Detail = detail
	return e
}
