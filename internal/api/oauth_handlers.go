package api

import (
	"errors"
	"net/http"
	"time"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/services"
)

// OAuthStartHandler handles POST /api/v1/settings/{family}/{providerID}/oauth/start?owner=
//
// Only providers advertising the oauth capability can be connected this way.
func OAuthStartHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.OAuthStartRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			respondMalformed(w, initTime, err)
			return
		}

		resp, err := deps.Services.Connect.StartConnect(r.Context(), keyFromRequest(r), req.FieldValues, actorFromRequest(r))
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgOAuthStarted, resp)
	}
}

// OAuthCallbackHandler handles GET /api/v1/settings/oauth/callback?code=&state=
//
// A connect whose credentials were saved but whose verification failed is
// reported with 422 and the saved configuration.
func OAuthCallbackHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		q := r.URL.Query()

		if providerErr := q.Get("error"); providerErr != "" {
			common.RespondError(w, initTime, errors.New(providerErr),
				constants.GetErrorMessage(constants.ErrCodeOAuthExchangeError)+": "+providerErr,
				http.StatusBadRequest)
			return
		}

		resp, err := deps.Services.Connect.CompleteConnect(r.Context(), q.Get("code"), q.Get("state"))
		if err != nil {
			var data any
			if resp != nil {
				data = resp
			}
			if errors.Is(err, services.ErrTestFailed) && resp != nil {
				common.RespondErrorWithDetails(w, initTime, constants.MsgOAuthCompletedPending, nil, data, http.StatusUnprocessableEntity)
				return
			}
			handleSettingsError(w, r, initTime, err, data)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgOAuthCompleted, resp)
	}
}
