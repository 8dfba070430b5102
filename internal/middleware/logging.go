package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/logging"
)

// Logging logs the start of each request at debug level and turns a handler
// panic into a logged 500. Headers and bodies are never logged.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := RequestIDFromContext(r.Context())

		logging.Debug("HTTP request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"content_length", r.ContentLength,
		)

		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.Error("Handler panicked",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				common.RespondError(w, start, nil, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
