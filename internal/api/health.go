package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cashflow-suite/settings/internal/models/entities"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheckHandler handles GET /healthCheck
//
// Reports postgres and, when configured, redis reachability. Answers 503 when
// any backing service is down.
func HealthCheckHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		services := make(map[string]entities.ServiceStatus)

		pgStatus := "ok"
		pgDetails := "Postgres Connected"
		if err := deps.SQL.PingContext(ctx); err != nil {
			pgStatus = "down"
			pgDetails = err.Error()
		}
		services["postgres"] = entities.ServiceStatus{Status: pgStatus, Details: pgDetails}

		if deps.Redis != nil {
			redisStatus := "ok"
			redisDetails := "Redis Connected"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				redisStatus = "down"
				redisDetails = err.Error()
			}
			services["redis"] = entities.ServiceStatus{Status: redisStatus, Details: redisDetails}
		}

		overallStatus := "ok"
		for _, svc := range services {
			if svc.Status != "ok" {
				overallStatus = "down"
				break
			}
		}

		resp := entities.HealthCheckResponse{
			Services: services,
			Status:   overallStatus,
			UpSince:  deps.UpSince,
			Uptime:   time.Since(deps.UpSince).Round(time.Second).String(),
		}
		if deps.Config != nil {
			resp.Version = deps.Config.Version
		}

		code := http.StatusOK
		if overallStatus != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
