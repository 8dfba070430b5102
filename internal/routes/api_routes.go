package routes

import (
	"github.com/go-chi/chi/v5"

	"cashflow-suite/settings/internal/api"
	"cashflow-suite/settings/internal/middleware"
)

// testBurst is the number of tests a client may fire back to back before the
// per-minute budget applies.
const testBurst = 3

// RegisterAPIRoutes registers the settings API under /api/v1/settings.
func RegisterAPIRoutes(r chi.Router, deps *api.Dependencies) {
	limiter := middleware.NewRateLimiter(deps.Config.Settings.TestRatePerMin, testBurst,
		deps.Config.Settings.TestRateWhitelist...)

	r.Route("/api/v1/settings", func(s chi.Router) {
		s.Get("/providers", api.ListProvidersHandler(deps))
		s.Get("/status", api.GetStatusHandler(deps))
		s.Get("/oauth/callback", api.OAuthCallbackHandler(deps))

		s.Route("/{family}", func(f chi.Router) {
			f.Get("/status", api.GetFamilyStatusHandler(deps))

			f.Route("/{providerID}", func(p chi.Router) {
				p.Get("/", api.GetConfigurationHandler(deps))
				p.Post("/", api.SaveConfigurationHandler(deps))
				p.Delete("/", api.DeleteConfigurationHandler(deps))
				p.Post("/activate", api.ActivateConfigurationHandler(deps))
				p.Post("/failure", api.ReportFailureHandler(deps))
				p.Get("/history", api.HistoryHandler(deps))

				// Calls that reach the provider are rate limited per client.
				p.Group(func(limited chi.Router) {
					limited.Use(limiter.Middleware)
					limited.Post("/test", api.TestConfigurationHandler(deps))
					limited.Post("/verify", api.VerifyConfigurationHandler(deps))
					limited.Post("/oauth/start", api.OAuthStartHandler(deps))
				})
			})
		})
	})
}
