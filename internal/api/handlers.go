package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/middleware"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/services"
)

const (
	// HeaderActor names the user or subsystem performing a change. It is
	// recorded as created_by/updated_by.
	HeaderActor = "X-Actor"

	maxBodyBytes = 1 << 20
)

// keyFromRequest builds the configuration key from the route and the owner
// query parameter.
func keyFromRequest(r *http.Request) services.ConfigKey {
	return services.ConfigKey{
		Family:     registry.Family(chi.URLParam(r, "family")),
		ProviderID: chi.URLParam(r, "providerID"),
		OwnerScope: ownerFromRequest(r),
	}
}

func ownerFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(constants.OwnerQueryParam))
}

func actorFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderActor))
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondMalformed(w http.ResponseWriter, initTime time.Time, err error) {
	common.RespondError(w, initTime, err, constants.GetErrorMessage(constants.ErrCodeMalformedRequest), http.StatusBadRequest)
}

// statusForCode maps a settings error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case constants.ErrCodeValidationFailed, constants.ErrCodeConfigNotVerified,
		constants.ErrCodeOAuthStateInvalid, constants.ErrCodeOAuthNotSupported,
		constants.ErrCodeMalformedRequest:
		return http.StatusBadRequest
	case constants.ErrCodeUnknownFamily, constants.ErrCodeUnknownProvider, constants.ErrCodeConfigNotFound:
		return http.StatusNotFound
	case constants.ErrCodeConfigConflict:
		return http.StatusConflict
	case constants.ErrCodeTestFailed, constants.ErrCodeOAuthExchangeError:
		return http.StatusUnprocessableEntity
	case constants.ErrCodeTooManyTests:
		return http.StatusTooManyRequests
	case constants.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleSettingsError maps service errors to HTTP responses. data, when not
// nil, is sent along (the verification result of a failed verify).
func handleSettingsError(w http.ResponseWriter, r *http.Request, initTime time.Time, err error, data any) {
	var sErr *services.SettingsError
	if !errors.As(err, &sErr) {
		logging.Error("Unexpected handler error",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		common.RespondError(w, initTime, err, "An unexpected error occurred", http.StatusInternalServerError)
		return
	}

	status := statusForCode(sErr.Code)
	if status >= http.StatusInternalServerError {
		logging.Error("Settings operation failed",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"code", sErr.Code,
			"error", err,
		)
	}

	message := sErr.Message
	if sErr.Detail != "" {
		message = message + ": " + sErr.Detail
	}
	common.RespondErrorWithDetails(w, initTime, message, sErr.Fields, data, status)
}
