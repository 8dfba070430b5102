package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/services"
)

// ListProvidersHandler handles GET /api/v1/settings/providers?family=
func ListProvidersHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		reg := deps.Services.Registry

		families := reg.Families()
		if f := strings.TrimSpace(r.URL.Query().Get("family")); f != "" {
			family, err := registry.ParseFamily(f)
			if err != nil {
				common.RespondError(w, initTime, err, constants.GetErrorMessage(constants.ErrCodeUnknownFamily), http.StatusNotFound)
				return
			}
			families = []registry.Family{family}
		}

		resp := dtos.ProviderListResponse{Families: make(map[string][]dtos.ProviderDescriptorResponse, len(families))}
		for _, family := range families {
			descriptors := reg.List(family)
			list := make([]dtos.ProviderDescriptorResponse, 0, len(descriptors))
			for _, d := range descriptors {
				fields := make([]dtos.FieldResponse, 0, len(d.Fields))
				for _, f := range d.Fields {
					fields = append(fields, dtos.FieldResponse{Name: f.Name, Secret: f.Secret, Required: f.Required})
				}
				list = append(list, dtos.ProviderDescriptorResponse{
					ID:           d.ID,
					DisplayName:  d.DisplayName,
					Capabilities: append([]string{}, d.Capabilities...),
					Fields:       fields,
				})
			}
			resp.Families[string(family)] = list
		}

		common.RespondSuccess(w, initTime, constants.MsgProvidersListed, resp)
	}
}

// GetStatusHandler handles GET /api/v1/settings/status?owner=
func GetStatusHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		summary, err := deps.Services.Aggregator.SummarizeAll(r.Context(), ownerFromRequest(r))
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgStatusSummarized, summary)
	}
}

// GetFamilyStatusHandler handles GET /api/v1/settings/{family}/status?owner=
func GetFamilyStatusHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		key := keyFromRequest(r)

		summary, err := deps.Services.Aggregator.Summarize(r.Context(), key.Family, key.OwnerScope)
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgStatusSummarized, summary)
	}
}

// GetConfigurationHandler handles GET /api/v1/settings/{family}/{providerID}?owner=
func GetConfigurationHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		resp, err := deps.Services.Gateway.Get(r.Context(), keyFromRequest(r))
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgConfigurationFetched, resp)
	}
}

// SaveConfigurationHandler handles POST /api/v1/settings/{family}/{providerID}?owner=
func SaveConfigurationHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.SaveConfigurationRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			respondMalformed(w, initTime, err)
			return
		}

		resp, err := deps.Services.Gateway.ApplyConfiguration(r.Context(), keyFromRequest(r), req.FieldValues, services.ApplyOptions{
			TestFirst:         req.TestFirst,
			Partial:           req.Partial,
			ExpectedUpdatedAt: req.ExpectedUpdatedAt,
			Actor:             actorFromRequest(r),
		})
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgConfigurationSaved, resp)
	}
}

// TestConfigurationHandler handles POST /api/v1/settings/{family}/{providerID}/test?owner=
//
// The test result is returned with 200 whether or not the provider accepted
// the values; nothing is saved.
func TestConfigurationHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.TestConfigurationRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			respondMalformed(w, initTime, err)
			return
		}

		result, err := deps.Services.Gateway.TestCandidate(r.Context(), keyFromRequest(r), req.FieldValues)
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}

		message := constants.MsgTestPassed
		if !result.Success {
			message = constants.GetErrorMessage(constants.ErrCodeTestFailed)
		}
		common.RespondSuccess(w, initTime, message, result)
	}
}

// VerifyConfigurationHandler handles POST /api/v1/settings/{family}/{providerID}/verify?owner=
func VerifyConfigurationHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		resp, err := deps.Services.Gateway.Verify(r.Context(), keyFromRequest(r), constants.VerifyTriggerUser)
		if err != nil {
			var data any
			if resp != nil {
				data = resp
			}
			handleSettingsError(w, r, initTime, err, data)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgVerificationPassed, resp)
	}
}

// ActivateConfigurationHandler handles POST /api/v1/settings/{family}/{providerID}/activate?owner=
func ActivateConfigurationHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		resp, err := deps.Services.Gateway.Activate(r.Context(), keyFromRequest(r))
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgConfigurationActive, resp)
	}
}

// ReportFailureHandler handles POST /api/v1/settings/{family}/{providerID}/failure?owner=
func ReportFailureHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.RuntimeFailureRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			respondMalformed(w, initTime, err)
			return
		}

		resp, err := deps.Services.Gateway.ReportRuntimeFailure(r.Context(), keyFromRequest(r), req.Message)
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgRuntimeFailureLogged, resp)
	}
}

// DeleteConfigurationHandler handles DELETE /api/v1/settings/{family}/{providerID}?owner=
func DeleteConfigurationHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		if err := deps.Services.Gateway.Delete(r.Context(), keyFromRequest(r)); err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgConfigurationDeleted, nil)
	}
}

// HistoryHandler handles GET /api/v1/settings/{family}/{providerID}/history?owner=&limit=
func HistoryHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				respondMalformed(w, initTime, err)
				return
			}
			limit = n
		}

		records, err := deps.Services.Gateway.History(r.Context(), keyFromRequest(r), limit)
		if err != nil {
			handleSettingsError(w, r, initTime, err, nil)
			return
		}
		common.RespondSuccess(w, initTime, constants.MsgHistoryFetched, records)
	}
}
